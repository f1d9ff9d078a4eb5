// 包 ingest：原始数据采集（公开接口网格扫描、归档月度文件筛选）与规范化
package ingest

import (
	"fmt"
	"time"
)

const monthLayout = "2006-01"

// ParseMonth 解析 YYYY-MM
func ParseMonth(s string) (time.Time, error) {
	t, err := time.Parse(monthLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad month %q: %w", s, err)
	}
	return t, nil
}

// 文档注释：闭区间月份序列
// 约束：from 晚于 to 时返回空序列；格式非法返回错误。
func Months(from, to string) ([]string, error) {
	a, err := ParseMonth(from)
	if err != nil {
		return nil, err
	}
	b, err := ParseMonth(to)
	if err != nil {
		return nil, err
	}
	var out []string
	for t := a; !t.After(b); t = t.AddDate(0, 1, 0) {
		out = append(out, t.Format(monthLayout))
	}
	return out, nil
}
