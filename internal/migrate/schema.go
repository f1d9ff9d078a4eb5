// 包 migrate：导出目标库的表结构
package migrate

import (
	"context"
	"database/sql"

	"crime-etl/internal/logger"
)

// 背景：首次导出自动创建所需表与索引，供看板与即席查询使用
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；crime_id 可空且不唯一（无自然键的记录按多重性保留）
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS crime_records (
            seq BIGINT NOT NULL,
            crime_id TEXT,
            month TEXT NOT NULL,
            reported_by TEXT NOT NULL DEFAULT '',
            falls_within TEXT NOT NULL DEFAULT '',
            longitude DOUBLE PRECISION,
            latitude DOUBLE PRECISION,
            location TEXT NOT NULL DEFAULT '',
            lsoa_code TEXT NOT NULL DEFAULT '',
            lsoa_name TEXT NOT NULL DEFAULT '',
            crime_type TEXT NOT NULL DEFAULT '',
            last_outcome TEXT,
            context TEXT,
            ward_name TEXT,
            ward_status TEXT NOT NULL,
            postcode_district TEXT,
            postcode_status TEXT NOT NULL,
            run_id UUID NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_crime_records_month ON crime_records(month)`,
		`CREATE INDEX IF NOT EXISTS idx_crime_records_crime_id ON crime_records(crime_id)`,
		`CREATE INDEX IF NOT EXISTS idx_crime_records_ward ON crime_records(ward_name)`,
		`CREATE TABLE IF NOT EXISTS crime_export_runs (
            run_id UUID PRIMARY KEY,
            records BIGINT NOT NULL,
            exported_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
