package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"crime-etl/internal/logger"
	"crime-etl/internal/record"
	"crime-etl/internal/utils"
)

// 归档合并输出文件名
const (
	StreetArchiveFile  = "leeds_street_archive.csv"
	OutcomesFile       = "leeds_outcomes_combined.csv"
	StopAndSearchFile  = "leeds_stop_and_search_combined.csv"
	ArchiveForce       = "west-yorkshire"
	archiveAreaKeyword = "leeds"
)

// RowFilter：按列名判定是否保留一行
type RowFilter func(col func(name string) string) bool

// LSOAContains：LSOA name 列包含关键字（不区分大小写）
func LSOAContains(keyword string) RowFilter {
	kw := strings.ToLower(keyword)
	return func(col func(string) string) bool {
		return strings.Contains(strings.ToLower(col(record.ColLSOAName)), kw)
	}
}

// WithinGrid：经纬度列在包围盒内（闭区间）；缺失或非法坐标不保留
func WithinGrid(g Grid) RowFilter {
	return func(col func(string) string) bool {
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(col(record.ColLatitude)), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(col(record.ColLongitude)), 64)
		if err1 != nil || err2 != nil {
			return false
		}
		return g.Contains(lat, lon)
	}
}

// 文档注释：按表头合并并筛选多个 CSV
// 背景：归档文件的列集合随年份略有变化；以第一个存在的文件表头为准，后续文件按列名对齐，缺失列留空。
// 约束：不存在的输入跳过；没有任何保留行时不写出文件并返回 0；写出为原子替换。
func CombineCSV(out string, inputs []string, keep RowFilter) (int, error) {
	var header []string
	var rows [][]string
	for _, in := range inputs {
		h, rs, err := filterFile(in, keep)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			logger.L().Warn("archive_file_error", "path", in, "err", err)
			continue
		}
		if header == nil {
			header = h
		}
		rows = append(rows, align(header, h, rs)...)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	err := utils.WriteFileAtomic(out, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		if err := cw.WriteAll(rows); err != nil {
			return err
		}
		return cw.Error()
	})
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", out, err)
	}
	return len(rows), nil
}

func filterFile(path string, keep RowFilter) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	cr := record.NewCSVReader(f)
	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil, record.ErrNoHeader
		}
		return nil, nil, err
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	var out [][]string
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		col := func(name string) string {
			if i, ok := idx[name]; ok && i < len(row) {
				return row[i]
			}
			return ""
		}
		if keep(col) {
			out = append(out, row)
		}
	}
	return header, out, nil
}

func align(dst, src []string, rows [][]string) [][]string {
	if equalHeader(dst, src) {
		return rows
	}
	pos := make(map[string]int, len(src))
	for i, h := range src {
		pos[h] = i
	}
	out := make([][]string, len(rows))
	for r, row := range rows {
		nr := make([]string, len(dst))
		for i, h := range dst {
			if j, ok := pos[h]; ok && j < len(row) {
				nr[i] = row[j]
			}
		}
		out[r] = nr
	}
	return out
}

func equalHeader(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CombineResult：归档合并计数
type CombineResult struct {
	Months        int
	MissingMonths int
	Street        int
	Outcomes      int
	StopAndSearch int
}

// 文档注释：合并归档月份目录中的区域数据
// 背景：归档按月解压到 {archiveDir}/{YYYY-MM}/，每月含 street/outcomes/stop-and-search 三类文件。
// 约束：street 与 outcomes 按 LSOA name 含 "leeds" 筛选；stop-and-search 按网格包围盒筛选；缺失的月份目录只告警。
func CombineArchive(archiveDir, outDir string, months []string, g Grid) (CombineResult, error) {
	res := CombineResult{Months: len(months)}
	var street, outcomes, stops []string
	for _, m := range months {
		dir := filepath.Join(archiveDir, m)
		if !utils.DirExists(dir) {
			res.MissingMonths++
			logger.L().Warn("archive_month_missing", "month", m, "dir", dir)
			continue
		}
		prefix := filepath.Join(dir, m+"-"+ArchiveForce)
		street = append(street, prefix+"-street.csv")
		outcomes = append(outcomes, prefix+"-outcomes.csv")
		stops = append(stops, prefix+"-stop-and-search.csv")
	}
	var err error
	if res.Street, err = CombineCSV(filepath.Join(outDir, StreetArchiveFile), street, LSOAContains(archiveAreaKeyword)); err != nil {
		return res, err
	}
	if res.Outcomes, err = CombineCSV(filepath.Join(outDir, OutcomesFile), outcomes, LSOAContains(archiveAreaKeyword)); err != nil {
		return res, err
	}
	if res.StopAndSearch, err = CombineCSV(filepath.Join(outDir, StopAndSearchFile), stops, WithinGrid(g)); err != nil {
		return res, err
	}
	logger.L().Info("archive_combine_done",
		"months", res.Months, "missing_months", res.MissingMonths,
		"street", res.Street, "outcomes", res.Outcomes, "stop_and_search", res.StopAndSearch)
	return res, nil
}
