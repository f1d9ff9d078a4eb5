package record

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"crime-etl/internal/utils"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	ColCrimeID     = "Crime ID"
	ColMonth       = "Month"
	ColReportedBy  = "Reported by"
	ColFallsWithin = "Falls within"
	ColLongitude   = "Longitude"
	ColLatitude    = "Latitude"
	ColLocation    = "Location"
	ColLSOACode    = "LSOA code"
	ColLSOAName    = "LSOA name"
	ColCrimeType   = "Crime type"
	ColLastOutcome = "Last outcome category"
	ColContext     = "Context"
	ColWard        = "Ward Name"
	ColPostcode    = "Postcode District"
)

// Header：持久化记录文件的列顺序
var Header = []string{
	ColCrimeID, ColMonth, ColReportedBy, ColFallsWithin, ColLongitude, ColLatitude,
	ColLocation, ColLSOACode, ColLSOAName, ColCrimeType, ColLastOutcome, ColContext,
	ColWard, ColPostcode,
}

var ErrNoHeader = errors.New("record file has no header row")

// FormatFloat：坐标的最短精确十进制表示，写出再读回位模式不变
func FormatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// ParseCoordinate：由文本列解析坐标；任一列为空或非法时为缺失，原始文本保留以便写回
func ParseCoordinate(latText, lonText string) Coordinate {
	latText = strings.TrimSpace(latText)
	lonText = strings.TrimSpace(lonText)
	missing := Coordinate{latText: latText, lonText: lonText}
	if latText == "" || lonText == "" {
		return missing
	}
	lat, err := strconv.ParseFloat(latText, 64)
	if err != nil {
		return missing
	}
	lon, err := strconv.ParseFloat(lonText, 64)
	if err != nil {
		return missing
	}
	c := NewCoordinate(lat, lon)
	if !c.Valid {
		return missing
	}
	return c
}

// Row：按 Header 顺序展开一条记录
func (r Record) Row() []string {
	lat, lon := r.Coord.latText, r.Coord.lonText
	if r.Coord.Valid {
		lat, lon = FormatFloat(r.Coord.Lat), FormatFloat(r.Coord.Lon)
	}
	code, name := r.Area.Columns()
	return []string{
		r.CrimeID, r.Month, r.ReportedBy, r.FallsWithin, lon, lat,
		r.Location, code, name, r.CrimeType, r.LastOutcome, r.Context,
		r.Ward.String(), r.Postcode.String(),
	}
}

// Write：写出表头与全部记录
func Write(w io.Writer, rs []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for i := range rs {
		if err := cw.Write(rs[i].Row()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile：原子写出记录文件
func WriteFile(path string, rs []Record) error {
	return utils.WriteFileAtomic(path, func(w io.Writer) error { return Write(w, rs) })
}

// NewCSVReader：容忍 UTF-8 BOM 的 CSV 读取器，列数不强制一致
func NewCSVReader(r io.Reader) *csv.Reader {
	dec := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	cr := csv.NewReader(dec)
	cr.FieldsPerRecord = -1
	return cr
}

// 文档注释：读取记录文件
// 背景：各阶段输入既有本系统写出的文件，也有上游归档 CSV；按列名映射，缺失的富化列视为从未尝试。
// 约束：首行必须为表头；空文件返回 ErrNoHeader。
func Read(r io.Reader) ([]Record, error) {
	cr := NewCSVReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	get := func(row []string, name string) string {
		if i, ok := col[name]; ok && i < len(row) {
			return row[i]
		}
		return ""
	}
	var out []Record
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		out = append(out, Record{
			CrimeID:     get(row, ColCrimeID),
			Month:       get(row, ColMonth),
			ReportedBy:  get(row, ColReportedBy),
			FallsWithin: get(row, ColFallsWithin),
			Coord:       ParseCoordinate(get(row, ColLatitude), get(row, ColLongitude)),
			Location:    get(row, ColLocation),
			Area:        ParseArea(get(row, ColLSOACode), get(row, ColLSOAName)),
			CrimeType:   get(row, ColCrimeType),
			LastOutcome: get(row, ColLastOutcome),
			Context:     get(row, ColContext),
			Ward:        ParseField(get(row, ColWard)),
			Postcode:    ParseField(get(row, ColPostcode)),
		})
	}
	return out, nil
}

// ReadFile：读取记录文件
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rs, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}
