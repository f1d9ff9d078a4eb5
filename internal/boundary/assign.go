package boundary

import (
	"crime-etl/internal/logger"
	"crime-etl/internal/metrics"
	"crime-etl/internal/record"
)

// AssignResult：归属计数
type AssignResult struct {
	Assigned  int
	Unique    int
	Unmatched int
}

// 文档注释：为记录归属子区域编码与名称（原地修改）
// 背景：与过滤相同的唯一坐标优先策略；每个唯一坐标对完整多边形集合判定一次。
// 约束：未命中（含缺失坐标）写入稳定哨兵 E01000000 / "Leeds (Unmatched)"，不是错误；select 为空时处理全部记录。
func Assign(rs []record.Record, l Locator, sel func(record.Record) bool) AssignResult {
	var res AssignResult
	areas := make(map[record.CoordKey]record.Area)
	for i := range rs {
		if sel != nil && !sel(rs[i]) {
			continue
		}
		res.Assigned++
		k, ok := rs[i].Coord.Key()
		if !ok {
			rs[i].Area = record.UnmatchedArea()
			continue
		}
		a, seen := areas[k]
		if !seen {
			res.Unique++
			if lb, hit := l.Classify(rs[i].Coord.Lat, rs[i].Coord.Lon); hit {
				a = record.MatchedArea(lb.Code, lb.Name)
			} else {
				a = record.UnmatchedArea()
				res.Unmatched++
				metrics.AreaUnmatchedTotal.Inc()
			}
			areas[k] = a
		}
		rs[i].Area = a
	}
	logger.L().Info("area_assign_done", "records", res.Assigned, "unique_coords", res.Unique, "unmatched_coords", res.Unmatched)
	return res
}
