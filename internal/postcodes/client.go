// 包 postcodes：邮编反查服务的批量客户端
package postcodes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"crime-etl/internal/logger"
	"crime-etl/internal/metrics"
)

// DefaultEndpoint：批量反查地址
const DefaultEndpoint = "https://api.postcodes.io/postcodes"

// MaxBatch：批量接口单次最多接受的坐标数
const MaxBatch = 100

var ErrBatchTooLarge = errors.New("batch exceeds bulk endpoint limit")

// Point：查询坐标
type Point struct {
	Lat float64
	Lon float64
}

// 文档注释：最近邮编条目
// 背景：对齐批量反查接口的返回字段，仅解析区名、邮编与所属行政区。
type Place struct {
	Postcode      string  `json:"postcode"`
	AdminWard     string  `json:"admin_ward"`
	Ward          string  `json:"ward"`
	AdminDistrict string  `json:"admin_district"`
	Distance      float64 `json:"distance"`
}

type geolocation struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Limit     int     `json:"limit"`
	Radius    int     `json:"radius"`
}

type bulkRequest struct {
	Geolocations []geolocation `json:"geolocations"`
}

type bulkResponse struct {
	Status int `json:"status"`
	Result []struct {
		Result []Place `json:"result"`
	} `json:"result"`
}

// Client：批量反查客户端；HTTP 为空时使用 20s 超时的默认客户端
type Client struct {
	HTTP     *http.Client
	Endpoint string
}

// 文档注释：批量反查坐标的最近邮编
// 参数：
// - ctx：请求上下文，控制单批超时；
// - pts：查询坐标，不超过 MaxBatch；
// - radius：搜索半径（米）。
// 返回：与 pts 下标一一对应的结果；无匹配或响应缺项的位置为 nil。
// 约束：非 200、网络错误与解码失败均返回错误，由上层将整批视为空结果。
func (c *Client) Reverse(ctx context.Context, pts []Point, radius int) ([]*Place, error) {
	if len(pts) > MaxBatch {
		return nil, ErrBatchTooLarge
	}
	body := bulkRequest{Geolocations: make([]geolocation, len(pts))}
	for i, p := range pts {
		body.Geolocations[i] = geolocation{Longitude: p.Lon, Latitude: p.Lat, Limit: 1, Radius: radius}
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	client := c.HTTP
	if client == nil {
		client = logger.NewClient(20 * time.Second)
	}
	t0 := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("postcodes request: %w", err)
	}
	defer resp.Body.Close()
	metrics.GeocodeDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("postcodes status %d", resp.StatusCode)
	}
	var r bulkResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("postcodes decode: %w", err)
	}
	out := make([]*Place, len(pts))
	for i := range r.Result {
		if i >= len(out) {
			break
		}
		if len(r.Result[i].Result) > 0 {
			p := r.Result[i].Result[0]
			out[i] = &p
		}
	}
	logger.L().Debug("postcodes_resp", "points", len(pts), "results", len(r.Result), "radius", radius, "duration_ms", time.Since(t0).Milliseconds())
	return out, nil
}
