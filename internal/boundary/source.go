package boundary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"crime-etl/internal/geo"
	"crime-etl/internal/logger"
	"crime-etl/internal/utils"

	"github.com/paulmach/orb"
)

// 文档注释：HTTP 数据源（可选磁盘缓存）
// 背景：边界与子区域数据只读且很少变化；首次抓取后落盘，后续运行直接复用。
// 约束：CachePath 为空时每次运行抓取一次；Force=true 时忽略已有缓存并覆盖；抓取失败返回错误，不写缓存。
type Source struct {
	Client    *http.Client
	URL       string
	UserAgent string
	CachePath string
	Force     bool
}

// Bytes 返回数据源内容，优先读取磁盘缓存
func (s Source) Bytes(ctx context.Context) ([]byte, error) {
	if s.CachePath != "" && !s.Force {
		b, err := os.ReadFile(s.CachePath)
		if err == nil {
			logger.L().Info("boundary_cache_hit", "path", s.CachePath, "bytes", len(b))
			return b, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read cache %s: %w", s.CachePath, err)
		}
	}
	b, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if s.CachePath != "" {
		if err := utils.WriteFileAtomic(s.CachePath, func(w io.Writer) error {
			_, err := w.Write(b)
			return err
		}); err != nil {
			return nil, fmt.Errorf("write cache: %w", err)
		}
		logger.L().Info("boundary_cache_saved", "path", s.CachePath, "bytes", len(b))
	}
	return b, nil
}

func (s Source) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}
	client := s.Client
	if client == nil {
		client = logger.NewClient(30 * time.Second)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL.Redacted(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", req.URL.Redacted(), resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}

type place struct {
	Type    string          `json:"type"`
	GeoJSON json.RawMessage `json:"geojson"`
}

// 文档注释：从地名检索结果中选取行政边界几何
// 约束：优先第一个带 geojson 且 type=="administrative" 的条目，否则取第一个条目的 geojson；都没有时返回 geo.ErrNoGeometry。
func PickAdministrative(data []byte) (orb.Geometry, error) {
	var places []place
	if err := json.Unmarshal(data, &places); err != nil {
		return nil, fmt.Errorf("decode places: %w", err)
	}
	for _, p := range places {
		if hasGeometry(p.GeoJSON) && p.Type == "administrative" {
			return geo.ParseGeometry(p.GeoJSON)
		}
	}
	if len(places) > 0 && hasGeometry(places[0].GeoJSON) {
		return geo.ParseGeometry(places[0].GeoJSON)
	}
	return nil, geo.ErrNoGeometry
}

func hasGeometry(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && !bytes.Equal(t, []byte("null"))
}

// LoadBoundary 抓取行政边界并构建分类器
func LoadBoundary(ctx context.Context, s Source) (*geo.Classifier, error) {
	data, err := s.Bytes(ctx)
	if err != nil {
		return nil, fmt.Errorf("boundary source: %w", err)
	}
	g, err := PickAdministrative(data)
	if err != nil {
		return nil, fmt.Errorf("boundary source: %w", err)
	}
	c := geo.NewClassifier([]geo.LabeledPolygon{{Name: "boundary", Geometry: g}})
	if c.Invalid() > 0 {
		return nil, fmt.Errorf("boundary source: %w", geo.ErrNoGeometry)
	}
	logger.L().Info("boundary_loaded", "type", g.GeoJSONType())
	return c, nil
}

// LoadAreas 加载子区域多边形集合并构建分类器；codeProp/nameProp 为要素属性名
func LoadAreas(ctx context.Context, s Source, codeProp, nameProp string) (*geo.Classifier, error) {
	data, err := s.Bytes(ctx)
	if err != nil {
		return nil, fmt.Errorf("area source: %w", err)
	}
	polys, err := geo.ParseFeatureCollection(data, codeProp, nameProp)
	if err != nil {
		return nil, fmt.Errorf("area source: %w", err)
	}
	c := geo.NewClassifier(polys)
	logger.L().Info("areas_loaded", "polygons", c.Len(), "invalid", c.Invalid())
	return c, nil
}
