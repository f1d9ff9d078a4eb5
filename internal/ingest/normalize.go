package ingest

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	"crime-etl/internal/logger"
	"crime-etl/internal/record"
)

// 文档注释：公开接口返回的案件对象
// 约束：经纬度为字符串；outcome_status 可为 null；persistent_id 可为空串。
type Crime struct {
	Category     string `json:"category"`
	LocationType string `json:"location_type"`
	Context      string `json:"context"`
	PersistentID string `json:"persistent_id"`
	ID           int64  `json:"id"`
	Month        string `json:"month"`
	Location     *struct {
		Latitude  string `json:"latitude"`
		Longitude string `json:"longitude"`
		Street    struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"street"`
	} `json:"location"`
	OutcomeStatus *struct {
		Category string `json:"category"`
		Date     string `json:"date"`
	} `json:"outcome_status"`
}

// categoryLabels：接口类别 slug 到归档文件类别名
var categoryLabels = map[string]string{
	"anti-social-behaviour": "Anti-social behaviour",
	"burglary":              "Burglary",
	"criminal-damage-arson": "Criminal damage and arson",
	"drugs":                 "Drugs",
	"other-theft":           "Other theft",
	"possession-of-weapons": "Possession of weapons",
	"public-order":          "Public order",
	"robbery":               "Robbery",
	"shoplifting":           "Shoplifting",
	"theft-from-the-person": "Theft from the person",
	"vehicle-crime":         "Vehicle crime",
	"violent-crime":         "Violence and sexual offences",
	"bicycle-theft":         "Bicycle theft",
	"other-crime":           "Other crime",
}

// CategoryLabel：未知 slug 原样保留
func CategoryLabel(slug string) string {
	if l, ok := categoryLabels[slug]; ok {
		return l
	}
	return slug
}

// 文档注释：接口案件对象 -> 记录
// 约束：Crime ID 取 persistent_id，为空时回退到数值 id；子区域状态为 Unspecified，待边界过滤与归属。
func Normalize(c Crime) record.Record {
	r := record.Record{
		Month:       c.Month,
		ReportedBy:  record.ReportingForce,
		FallsWithin: record.ReportingForce,
		Area:        record.Area{Status: record.AreaUnspecified},
		CrimeType:   CategoryLabel(c.Category),
		Context:     c.Context,
	}
	switch {
	case c.PersistentID != "":
		r.CrimeID = c.PersistentID
	case c.ID != 0:
		r.CrimeID = strconv.FormatInt(c.ID, 10)
	}
	if c.Location != nil {
		r.Coord = record.ParseCoordinate(c.Location.Latitude, c.Location.Longitude)
		r.Location = c.Location.Street.Name
	}
	if c.OutcomeStatus != nil {
		r.LastOutcome = c.OutcomeStatus.Category
	}
	return r
}

// LoadRawDir 读取目录下全部月份原始文件并规范化（按文件名排序）
func LoadRawDir(dir string) ([]record.Record, error) {
	files, err := filepath.Glob(filepath.Join(dir, "leeds_crime_*.jsonl"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	var out []record.Record
	for _, f := range files {
		crimes, err := ReadRaw(f)
		if err != nil {
			return nil, fmt.Errorf("read raw %s: %w", f, err)
		}
		for _, c := range crimes {
			out = append(out, Normalize(c))
		}
	}
	logger.L().Info("raw_loaded", "files", len(files), "records", len(out))
	return out, nil
}
