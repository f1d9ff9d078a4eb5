// 包 merge：多数据集合并与按自然键去重
package merge

import (
	"sort"

	"crime-etl/internal/logger"
	"crime-etl/internal/record"
)

// Stats：合并计数
type Stats struct {
	Input      int
	WithID     int
	WithoutID  int
	Duplicates int
}

// 文档注释：合并多个记录集
// 背景：按输入顺序拼接；后出现的数据源视为更新、更权威，同一 Crime ID 保留最后一次出现。
// 约束：
// - 有 ID 的子集按最后一次出现的位置保序输出；
// - 无 ID 的记录从不去重，按原顺序追加在有 ID 子集之后；
// - 对合并结果再次自合并，有 ID 子集不增长。
func Merge(datasets ...[]record.Record) ([]record.Record, Stats) {
	var st Stats
	last := make(map[string]int)
	pos := 0
	for _, ds := range datasets {
		for _, r := range ds {
			if r.HasID() {
				last[r.CrimeID] = pos
			}
			pos++
		}
	}
	st.Input = pos

	out := make([]record.Record, 0, len(last))
	var noID []record.Record
	pos = 0
	for _, ds := range datasets {
		for _, r := range ds {
			switch {
			case !r.HasID():
				noID = append(noID, r)
			case last[r.CrimeID] == pos:
				out = append(out, r)
			}
			pos++
		}
	}
	st.WithID = len(out)
	st.WithoutID = len(noID)
	st.Duplicates = st.Input - st.WithID - st.WithoutID
	out = append(out, noID...)
	logger.L().Info("merge_done", "input", st.Input, "with_id", st.WithID, "without_id", st.WithoutID, "duplicates", st.Duplicates)
	return out, st
}

// SortByMonth 按月份稳定排序（YYYY-MM 文本序即时间序）
func SortByMonth(rs []record.Record) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Month < rs[j].Month })
}
