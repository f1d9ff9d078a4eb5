package geo

import (
	"math"

	"crime-etl/internal/logger"

	"github.com/paulmach/orb"
)

// 文档注释：点归属分类器
// 背景：对每个坐标返回第一个包含它的多边形标签；按输入顺序首个命中即返回，与多边形来源文件顺序一致。
// 约束：构建后只读，可被多个 goroutine 并发调用；非法多边形在构建时记录告警并永不命中。
type Classifier struct {
	polys   []prepared
	index   gridIndex
	invalid int
}

// NewClassifier 预处理多边形并构建网格索引
func NewClassifier(polys []LabeledPolygon) *Classifier {
	c := &Classifier{polys: make([]prepared, len(polys))}
	for i, lp := range polys {
		c.polys[i] = prepare(lp)
		if !c.polys[i].ok {
			c.invalid++
			logger.L().Warn("polygon_invalid", "index", i, "code", lp.Code, "name", lp.Name)
		}
	}
	c.index = buildGrid(c.polys)
	return c
}

// Len 参与判定的多边形数（含非法）
func (c *Classifier) Len() int { return len(c.polys) }

// Invalid 被跳过的非法多边形数
func (c *Classifier) Invalid() int { return c.invalid }

// Classify 返回首个包含 (lat, lon) 的多边形标签
func (c *Classifier) Classify(lat, lon float64) (Label, bool) {
	if !finite(lat) || !finite(lon) {
		return Label{}, false
	}
	pt := orb.Point{lon, lat}
	for _, i := range c.index.candidates(pt) {
		if c.polys[i].contains(pt) {
			return c.polys[i].label, true
		}
	}
	return Label{}, false
}

// Contains 是否有任一多边形包含该点
func (c *Classifier) Contains(lat, lon float64) bool {
	_, ok := c.Classify(lat, lon)
	return ok
}

// 文档注释：均匀网格索引
// 背景：替代逐个包围盒扫描；每个格子保存与其相交的多边形下标。
// 约束：格内下标升序，保证候选遍历顺序与输入顺序一致，首个命中语义不变。
type gridIndex struct {
	bound  orb.Bound
	nx, ny int
	cells  [][]int
	empty  bool
}

func buildGrid(polys []prepared) gridIndex {
	g := gridIndex{empty: true}
	for _, p := range polys {
		if !p.ok {
			continue
		}
		if g.empty {
			g.bound = p.bound
			g.empty = false
			continue
		}
		g.bound = g.bound.Union(p.bound)
	}
	if g.empty {
		return g
	}
	side := int(math.Ceil(math.Sqrt(float64(len(polys))))) * 2
	side = max(1, min(side, 256))
	g.nx, g.ny = side, side
	if g.bound.Max[0] == g.bound.Min[0] {
		g.nx = 1
	}
	if g.bound.Max[1] == g.bound.Min[1] {
		g.ny = 1
	}
	g.cells = make([][]int, g.nx*g.ny)
	for i, p := range polys {
		if !p.ok {
			continue
		}
		x0, y0 := g.cell(p.bound.Min)
		x1, y1 := g.cell(p.bound.Max)
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				k := y*g.nx + x
				g.cells[k] = append(g.cells[k], i)
			}
		}
	}
	return g
}

func (g *gridIndex) cell(pt orb.Point) (int, int) {
	return axisCell(pt[0], g.bound.Min[0], g.bound.Max[0], g.nx),
		axisCell(pt[1], g.bound.Min[1], g.bound.Max[1], g.ny)
}

func axisCell(v, lo, hi float64, n int) int {
	if n <= 1 || hi <= lo {
		return 0
	}
	i := int((v - lo) / (hi - lo) * float64(n))
	return max(0, min(i, n-1))
}

func (g *gridIndex) candidates(pt orb.Point) []int {
	if g.empty || !g.bound.Contains(pt) {
		return nil
	}
	x, y := g.cell(pt)
	return g.cells[y*g.nx+x]
}
