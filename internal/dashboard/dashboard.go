// 包 dashboard：将合并后的记录聚合为看板使用的紧凑网格数据
package dashboard

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"sort"
	"strconv"

	"crime-etl/internal/logger"
	"crime-etl/internal/record"
	"crime-etl/internal/utils"
)

const (
	DefaultGridSize = 80
	CityCentreWard  = "Little London & Woodhouse"
)

// Center：数据范围中心
type Center struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Point：网格单元聚合，序列化为 [lat, lon, type, year, month, count, cc]
type Point struct {
	Lat        float64
	Lon        float64
	Type       int
	Year       int
	Month      int
	Count      int
	CityCentre bool
}

func (p Point) MarshalJSON() ([]byte, error) {
	cc := 0
	if p.CityCentre {
		cc = 1
	}
	return marshalPlain([]any{p.Lat, p.Lon, p.Type, p.Year, p.Month, p.Count, cc})
}

// WardPoint：区级聚合，序列化为 [ward, type, year, month, count]
type WardPoint struct {
	Ward  string
	Type  int
	Year  int
	Month int
	Count int
}

func (w WardPoint) MarshalJSON() ([]byte, error) {
	return marshalPlain([]any{w.Ward, w.Type, w.Year, w.Month, w.Count})
}

// marshalPlain：不转义 HTML 字符（区名含 "&"）
func marshalPlain(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Data：看板数据文件
type Data struct {
	Types      []string    `json:"t"`
	Years      []int       `json:"y"`
	Wards      []string    `json:"w"`
	CityCentre string      `json:"cc"`
	Center     Center      `json:"c"`
	Points     []Point     `json:"p"`
	WardPoints []WardPoint `json:"wd"`
}

type row struct {
	lat, lon    float64
	ctype, ward string
	year, month int
}

func usable(r record.Record) (row, bool) {
	if !r.Coord.Valid || r.CrimeType == "" || !r.Ward.IsResolved() || len(r.Month) < 7 {
		return row{}, false
	}
	y, err1 := strconv.Atoi(r.Month[:4])
	m, err2 := strconv.Atoi(r.Month[5:7])
	if err1 != nil || err2 != nil {
		return row{}, false
	}
	return row{lat: r.Coord.Lat, lon: r.Coord.Lon, ctype: r.CrimeType, ward: r.Ward.Value, year: y, month: m}, true
}

// linspace：[lo, hi] 上 n+1 个等距边界，末端精确为 hi
func linspace(lo, hi float64, n int) []float64 {
	b := make([]float64, n+1)
	step := (hi - lo) / float64(n)
	for i := range b {
		b[i] = lo + float64(i)*step
	}
	b[n] = hi
	return b
}

// bin：值所在的区间下标；边界值归右侧区间，最大值归最后一格
func bin(edges []float64, v float64) int {
	i := sort.Search(len(edges), func(i int) bool { return edges[i] > v }) - 1
	n := len(edges) - 1
	if i < 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }

type cellKey struct {
	latIdx, lonIdx int
	ctype          string
	year, month    int
	cc             bool
}

type wardKey struct {
	ward        string
	ctype       string
	year, month int
}

// 文档注释：构建看板数据
// 背景：按数据外包框划分 grid×grid 网格，按（单元、类型、年、月、市中心标记）计数；另按（区、类型、年、月）计数。
// 约束：仅使用带坐标、月份、犯罪类型且区名已解析的记录；输出中各数组按键有序，结果与输入顺序无关。
func Build(rs []record.Record, grid int) Data {
	if grid <= 0 {
		grid = DefaultGridSize
	}
	rows := make([]row, 0, len(rs))
	minLat, maxLat := math.Inf(1), math.Inf(-1)
	minLon, maxLon := math.Inf(1), math.Inf(-1)
	for _, r := range rs {
		x, ok := usable(r)
		if !ok {
			continue
		}
		rows = append(rows, x)
		minLat, maxLat = math.Min(minLat, x.lat), math.Max(maxLat, x.lat)
		minLon, maxLon = math.Min(minLon, x.lon), math.Max(maxLon, x.lon)
	}
	d := Data{CityCentre: CityCentreWard, Types: []string{}, Years: []int{}, Wards: []string{}, Points: []Point{}, WardPoints: []WardPoint{}}
	if len(rows) == 0 {
		return d
	}
	latEdges := linspace(minLat, maxLat, grid)
	lonEdges := linspace(minLon, maxLon, grid)

	types := map[string]struct{}{}
	years := map[int]struct{}{}
	wards := map[string]struct{}{}
	cells := map[cellKey]int{}
	wardCounts := map[wardKey]int{}
	for _, x := range rows {
		types[x.ctype] = struct{}{}
		years[x.year] = struct{}{}
		wards[x.ward] = struct{}{}
		cells[cellKey{bin(latEdges, x.lat), bin(lonEdges, x.lon), x.ctype, x.year, x.month, x.ward == CityCentreWard}]++
		wardCounts[wardKey{x.ward, x.ctype, x.year, x.month}]++
	}
	d.Types = sortedKeys(types)
	d.Wards = sortedKeys(wards)
	for y := range years {
		d.Years = append(d.Years, y)
	}
	sort.Ints(d.Years)
	typeIdx := make(map[string]int, len(d.Types))
	for i, t := range d.Types {
		typeIdx[t] = i
	}
	d.Center = Center{Lat: round4((minLat + maxLat) / 2), Lon: round4((minLon + maxLon) / 2)}

	keys := make([]cellKey, 0, len(cells))
	for k := range cells {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		switch {
		case a.latIdx != b.latIdx:
			return a.latIdx < b.latIdx
		case a.lonIdx != b.lonIdx:
			return a.lonIdx < b.lonIdx
		case a.ctype != b.ctype:
			return a.ctype < b.ctype
		case a.year != b.year:
			return a.year < b.year
		case a.month != b.month:
			return a.month < b.month
		}
		return !a.cc && b.cc
	})
	for _, k := range keys {
		d.Points = append(d.Points, Point{
			Lat:        round4((latEdges[k.latIdx] + latEdges[k.latIdx+1]) / 2),
			Lon:        round4((lonEdges[k.lonIdx] + lonEdges[k.lonIdx+1]) / 2),
			Type:       typeIdx[k.ctype],
			Year:       k.year,
			Month:      k.month,
			Count:      cells[k],
			CityCentre: k.cc,
		})
	}

	wkeys := make([]wardKey, 0, len(wardCounts))
	for k := range wardCounts {
		wkeys = append(wkeys, k)
	}
	sort.Slice(wkeys, func(i, j int) bool {
		a, b := wkeys[i], wkeys[j]
		switch {
		case a.ward != b.ward:
			return a.ward < b.ward
		case a.ctype != b.ctype:
			return a.ctype < b.ctype
		case a.year != b.year:
			return a.year < b.year
		}
		return a.month < b.month
	})
	for _, k := range wkeys {
		d.WardPoints = append(d.WardPoints, WardPoint{Ward: k.ward, Type: typeIdx[k.ctype], Year: k.year, Month: k.month, Count: wardCounts[k]})
	}
	logger.L().Info("dashboard_built", "records", len(rows), "points", len(d.Points), "ward_points", len(d.WardPoints), "types", len(d.Types))
	return d
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Write：紧凑 JSON 原子写入
func Write(path string, d Data) error {
	return utils.WriteFileAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		return enc.Encode(d)
	})
}
