// 包 store：记录集导出到 PostgreSQL
package store

import (
	"context"
	"database/sql"
	"fmt"

	"crime-etl/internal/logger"
	"crime-etl/internal/record"

	"github.com/lib/pq"
)

// Store：数据库访问入口，持有连接池
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

// Close：关闭数据库连接
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

var columns = []string{
	"seq", "crime_id", "month", "reported_by", "falls_within", "longitude", "latitude",
	"location", "lsoa_code", "lsoa_name", "crime_type", "last_outcome", "context",
	"ward_name", "ward_status", "postcode_district", "postcode_status", "run_id",
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func fieldValue(f record.Field) any {
	if f.Status == record.NotApplicable {
		return nil
	}
	return f.String()
}

// Row：一条记录的 COPY 参数（顺序与 columns 一致）
func Row(seq int, r record.Record, runID string) []any {
	var lon, lat any
	if r.Coord.Valid {
		lon, lat = r.Coord.Lon, r.Coord.Lat
	}
	code, name := r.Area.Columns()
	return []any{
		int64(seq), nullable(r.CrimeID), r.Month, r.ReportedBy, r.FallsWithin, lon, lat,
		r.Location, code, name, r.CrimeType, nullable(r.LastOutcome), nullable(r.Context),
		fieldValue(r.Ward), r.Ward.Status.String(), fieldValue(r.Postcode), r.Postcode.Status.String(), runID,
	}
}

// 文档注释：全量替换导出
// 背景：看板读取的是流水线的最终数据集；每次导出在单个事务内清空并 COPY 全部记录，重复导出结果一致。
// 约束：任一步失败整体回滚，库内保持上一次成功导出的内容；seq 为记录在数据集中的位置。
func (s *Store) ReplaceAll(ctx context.Context, rs []record.Record, runID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM crime_records`); err != nil {
		return 0, fmt.Errorf("clear crime_records: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("crime_records", columns...))
	if err != nil {
		return 0, fmt.Errorf("prepare copy: %w", err)
	}
	for i, r := range rs {
		if _, err := stmt.ExecContext(ctx, Row(i, r, runID)...); err != nil {
			stmt.Close()
			return 0, fmt.Errorf("copy row %d: %w", i, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return 0, fmt.Errorf("flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO crime_export_runs(run_id, records) VALUES($1, $2)`, runID, len(rs)); err != nil {
		return 0, fmt.Errorf("record run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	logger.L().Info("export_done", "records", len(rs), "run_id", runID)
	return len(rs), nil
}
