// 包 quality：合并数据集的质量检查（外部验收，不参与流水线）
package quality

import (
	"fmt"

	"crime-etl/internal/record"
)

// Bounds：外包框判定
type Bounds interface {
	Contains(lat, lon float64) bool
}

type Thresholds struct {
	MaxUnknownRate float64
	MinInsideRate  float64
}

// Report：检查结果；Breaches 为空表示通过
type Report struct {
	Total           int
	UnknownWard     int
	UnknownPostcode int
	WithCoord       int
	Inside          int
	Breaches        []string
}

func rate(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func (r Report) WardUnknownRate() float64     { return rate(r.UnknownWard, r.Total) }
func (r Report) PostcodeUnknownRate() float64 { return rate(r.UnknownPostcode, r.Total) }

// InsideRate：无坐标记录时视为 1
func (r Report) InsideRate() float64 {
	if r.WithCoord == 0 {
		return 1
	}
	return rate(r.Inside, r.WithCoord)
}

func (r Report) OK() bool { return len(r.Breaches) == 0 }

// 文档注释：计算未解析比例与外包框内比例
// 约束：未解析指状态为 Unresolved 或从未尝试；外包框比例只统计带坐标的记录。
func Check(rs []record.Record, b Bounds, th Thresholds) Report {
	rep := Report{Total: len(rs)}
	for _, r := range rs {
		if !r.Ward.IsResolved() {
			rep.UnknownWard++
		}
		if !r.Postcode.IsResolved() {
			rep.UnknownPostcode++
		}
		if r.Coord.Valid {
			rep.WithCoord++
			if b.Contains(r.Coord.Lat, r.Coord.Lon) {
				rep.Inside++
			}
		}
	}
	if v := rep.WardUnknownRate(); v > th.MaxUnknownRate {
		rep.Breaches = append(rep.Breaches, fmt.Sprintf("unknown ward rate %.2f%% exceeds %.2f%%", v*100, th.MaxUnknownRate*100))
	}
	if v := rep.PostcodeUnknownRate(); v > th.MaxUnknownRate {
		rep.Breaches = append(rep.Breaches, fmt.Sprintf("unknown postcode rate %.2f%% exceeds %.2f%%", v*100, th.MaxUnknownRate*100))
	}
	if v := rep.InsideRate(); v < th.MinInsideRate {
		rep.Breaches = append(rep.Breaches, fmt.Sprintf("inside bbox rate %.2f%% below %.2f%%", v*100, th.MinInsideRate*100))
	}
	return rep
}
