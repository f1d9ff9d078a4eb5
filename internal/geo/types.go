// 包 geo：行政边界与子区域多边形的点入面判定
package geo

import "github.com/paulmach/orb"

// 文档注释：带标签的多边形
// 背景：子区域数据集每个要素携带编码、名称与几何；每次运行加载一次，判定期只读。
// 约束：几何支持 Polygon/MultiPolygon（GeometryCollection 取其中的面）；其余类型视为非法，判定时跳过。
type LabeledPolygon struct {
	Code     string
	Name     string
	Geometry orb.Geometry
}

// Label：判定命中结果
type Label struct {
	Code string
	Name string
}
