package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// maxCheckedVertices：超过该顶点数的环只做结构校验，不做自交检测
const maxCheckedVertices = 20000

// 文档注释：预处理后的多边形
// 背景：每次运行构建一次，摊薄数万坐标对数百多边形的判定成本；包围盒用于快速排除与网格索引。
// 约束：ok=false 表示几何非法（空、环不足、非有限坐标、自交），判定时一律视为不包含。
type prepared struct {
	label Label
	mp    orb.MultiPolygon
	bound orb.Bound
	ok    bool
}

func prepare(lp LabeledPolygon) prepared {
	p := prepared{label: Label{Code: lp.Code, Name: lp.Name}}
	mp, ok := toMultiPolygon(lp.Geometry)
	if !ok || len(mp) == 0 {
		return p
	}
	mp = mp.Clone()
	for i := range mp {
		if len(mp[i]) == 0 {
			return p
		}
		for j := range mp[i] {
			r := mp[i][j]
			if len(r) > 0 && !r.Closed() {
				r = append(r, r[0])
			}
			if !validRing(r) {
				return p
			}
			mp[i][j] = r
		}
	}
	p.mp = mp
	p.bound = mp.Bound()
	p.ok = true
	return p
}

// contains：点严格位于多边形内部（边界上的点不算包含）
func (p *prepared) contains(pt orb.Point) bool {
	if !p.ok || !p.bound.Contains(pt) {
		return false
	}
	if !planar.MultiPolygonContains(p.mp, pt) {
		return false
	}
	return !onBoundary(p.mp, pt)
}

func toMultiPolygon(g orb.Geometry) (orb.MultiPolygon, bool) {
	switch v := g.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{v}, true
	case orb.MultiPolygon:
		return v, true
	case orb.Collection:
		var out orb.MultiPolygon
		for _, c := range v {
			mp, ok := toMultiPolygon(c)
			if !ok {
				continue
			}
			out = append(out, mp...)
		}
		return out, len(out) > 0
	}
	return nil, false
}

func validRing(r orb.Ring) bool {
	if len(r) < 4 {
		return false
	}
	for _, pt := range r {
		if !finite(pt[0]) || !finite(pt[1]) {
			return false
		}
	}
	c := compact(r)
	if len(c) < 4 {
		return false
	}
	if len(c) <= maxCheckedVertices && selfIntersects(c) {
		return false
	}
	return true
}

// compact：去除连续重复顶点
func compact(r orb.Ring) orb.Ring {
	out := make(orb.Ring, 0, len(r))
	for i, pt := range r {
		if i > 0 && pt == out[len(out)-1] {
			continue
		}
		out = append(out, pt)
	}
	return out
}

// selfIntersects：闭合环内任意两条不相邻的边相交
func selfIntersects(r orb.Ring) bool {
	n := len(r) - 1
	for i := 0; i < n; i++ {
		a, b := r[i], r[i+1]
		for j := i + 2; j < n; j++ {
			if i == 0 && j == n-1 {
				continue
			}
			c, d := r[j], r[j+1]
			if math.Max(a[0], b[0]) < math.Min(c[0], d[0]) || math.Max(c[0], d[0]) < math.Min(a[0], b[0]) {
				continue
			}
			if segmentsIntersect(a, b, c, d) {
				return true
			}
		}
	}
	return false
}

func orient(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func withinSpan(a, b, p orb.Point) bool {
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}

func segmentsIntersect(p1, p2, p3, p4 orb.Point) bool {
	d1 := orient(p3, p4, p1)
	d2 := orient(p3, p4, p2)
	d3 := orient(p1, p2, p3)
	d4 := orient(p1, p2, p4)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && withinSpan(p3, p4, p1):
		return true
	case d2 == 0 && withinSpan(p3, p4, p2):
		return true
	case d3 == 0 && withinSpan(p1, p2, p3):
		return true
	case d4 == 0 && withinSpan(p1, p2, p4):
		return true
	}
	return false
}

func onBoundary(mp orb.MultiPolygon, pt orb.Point) bool {
	for _, poly := range mp {
		for _, r := range poly {
			for i := 0; i+1 < len(r); i++ {
				if orient(r[i], r[i+1], pt) == 0 && withinSpan(r[i], r[i+1], pt) {
					return true
				}
			}
		}
	}
	return false
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
