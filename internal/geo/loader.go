package geo

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var (
	ErrNoFeatures = errors.New("feature collection has no features")
	ErrNoGeometry = errors.New("no geometry found")
)

// 文档注释：解析 GeoJSON FeatureCollection 为带标签多边形
// 背景：编码与名称属性名由调用方给出（如 LSOA11CD/LSOA11NM）；保持要素原始顺序，作为首个命中的判定顺序。
// 约束：几何为空的要素仍保留（判定时视为不包含）；要素为零时返回 ErrNoFeatures。
func ParseFeatureCollection(data []byte, codeProp, nameProp string) ([]LabeledPolygon, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}
	if len(fc.Features) == 0 {
		return nil, ErrNoFeatures
	}
	out := make([]LabeledPolygon, 0, len(fc.Features))
	for _, f := range fc.Features {
		out = append(out, LabeledPolygon{
			Code:     propString(f.Properties, codeProp),
			Name:     propString(f.Properties, nameProp),
			Geometry: f.Geometry,
		})
	}
	return out, nil
}

// ParseGeometry：解析单个 GeoJSON 几何对象（Polygon/MultiPolygon）
func ParseGeometry(data []byte) (orb.Geometry, error) {
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("decode geometry: %w", err)
	}
	if g == nil || g.Geometry() == nil {
		return nil, ErrNoGeometry
	}
	return g.Geometry(), nil
}

func propString(p geojson.Properties, key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
