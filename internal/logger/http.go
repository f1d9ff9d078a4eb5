// 包 logger：出站 HTTP 调用日志，统一记录外部数据源访问的关键维度（方法、地址、状态、耗时、字节数）
package logger

import (
	"net/http"
	"time"
)

// Transport：包装 RoundTripper 以记录每次出站请求
// 约束：不读取请求体与响应体；字节数取自 Content-Length，未知时为 -1
type Transport struct {
	Base http.RoundTripper
}

// RoundTrip：透传请求并在 debug 级别输出访问日志；网络错误以 warn 级别输出
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	start := time.Now()
	resp, err := base.RoundTrip(r)
	dur := time.Since(start)
	if err != nil {
		L().Warn("http_client_error",
			"method", r.Method,
			"url", r.URL.Redacted(),
			"duration_ms", dur.Milliseconds(),
			"err", err,
		)
		return nil, err
	}
	L().Debug("http_client_access",
		"method", r.Method,
		"url", r.URL.Redacted(),
		"status", resp.StatusCode,
		"bytes", resp.ContentLength,
		"duration_ms", dur.Milliseconds(),
	)
	return resp, nil
}

// NewClient：构造带访问日志与超时的 HTTP 客户端
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: &Transport{}}
}
