package ingest

import "math"

// 文档注释：经纬度扫描网格
// 背景：公开接口按点查询周边一英里内的案件，以固定步长铺满目标区域的包围盒。
// 约束：半开区间 [Min, Max)，与按步长生成的点序列一致；Contains 使用闭区间，用于按包围盒筛选。
type Grid struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
	Step   float64
}

// LeedsGrid：目标区域包围盒与 0.02° 步长
var LeedsGrid = Grid{MinLat: 53.69, MaxLat: 53.96, MinLon: -1.80, MaxLon: -1.29, Step: 0.02}

// GridPoint：网格点
type GridPoint struct {
	Lat float64
	Lon float64
}

func axis(lo, hi, step float64) []float64 {
	if step <= 0 || hi <= lo {
		return nil
	}
	n := int(math.Ceil((hi-lo)/step - 1e-9))
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	return out
}

// Points 按纬度优先、经度其次的顺序生成网格点
func (g Grid) Points() []GridPoint {
	lats := axis(g.MinLat, g.MaxLat, g.Step)
	lons := axis(g.MinLon, g.MaxLon, g.Step)
	out := make([]GridPoint, 0, len(lats)*len(lons))
	for _, lat := range lats {
		for _, lon := range lons {
			out = append(out, GridPoint{Lat: lat, Lon: lon})
		}
	}
	return out
}

func (g Grid) Contains(lat, lon float64) bool {
	return lat >= g.MinLat && lat <= g.MaxLat && lon >= g.MinLon && lon <= g.MaxLon
}
