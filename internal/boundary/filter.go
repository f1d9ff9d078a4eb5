// 包 boundary：行政边界过滤、子区域编码归属与边界数据源
package boundary

import (
	"crime-etl/internal/geo"
	"crime-etl/internal/logger"
	"crime-etl/internal/metrics"
	"crime-etl/internal/record"
)

// Container：单一行政边界的包含判定
type Container interface {
	Contains(lat, lon float64) bool
}

// Locator：带标签多边形集合的首个命中判定
type Locator interface {
	Classify(lat, lon float64) (geo.Label, bool)
}

// 文档注释：过滤选项
// 背景：处理阶段对全部记录过滤；核验阶段只针对尚未核验（Unspecified/Imputed）的记录，并将保留者标记为 Verified。
// 约束：Select 为空时所有记录参与过滤；未被选中的记录原样保留，位置不变。
type FilterOptions struct {
	Select  func(record.Record) bool
	Relabel bool
}

// FilterResult：过滤结果与计数
type FilterResult struct {
	Kept    []record.Record
	Dropped int
	Checked int
	Unique  int
	Inside  int
}

// 文档注释：按行政边界保留或丢弃记录
// 背景：先对唯一坐标判定一次，再按坐标键回填到每条记录；判定成本远高于映射，大量记录共享同一坐标。
// 约束：缺失坐标一律视为不在边界内；对已核验的数据重复执行不产生变化。
func Filter(rs []record.Record, b Container, opt FilterOptions) FilterResult {
	res := FilterResult{Kept: make([]record.Record, 0, len(rs))}
	inside := make(map[record.CoordKey]bool)
	for _, r := range rs {
		if opt.Select != nil && !opt.Select(r) {
			res.Kept = append(res.Kept, r)
			continue
		}
		res.Checked++
		k, ok := r.Coord.Key()
		if !ok {
			res.Dropped++
			continue
		}
		in, seen := inside[k]
		if !seen {
			in = b.Contains(r.Coord.Lat, r.Coord.Lon)
			inside[k] = in
			res.Unique++
			if in {
				res.Inside++
			}
		}
		if !in {
			res.Dropped++
			continue
		}
		if opt.Relabel {
			r.Area = record.Area{Status: record.AreaVerified, Code: r.Area.Code}
		}
		res.Kept = append(res.Kept, r)
	}
	metrics.BoundaryKeptTotal.Add(float64(res.Checked - res.Dropped))
	metrics.BoundaryDroppedTotal.Add(float64(res.Dropped))
	logger.L().Info("boundary_filter_done",
		"records", len(rs), "checked", res.Checked, "unique_coords", res.Unique,
		"inside_coords", res.Inside, "kept", len(res.Kept), "dropped", res.Dropped)
	return res
}
