package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"crime-etl/internal/logger"
	"crime-etl/internal/metrics"
	"crime-etl/internal/utils"

	"golang.org/x/time/rate"
)

// DefaultPoliceBase：公开接口根地址
const DefaultPoliceBase = "https://data.police.uk/api"

var errRateLimited = errors.New("rate limited")

// 文档注释：按月网格扫描抓取器
// 背景：对每个月遍历网格点调用 crimes-street/all-crime；请求由令牌桶限速，429 时退避后重试一次。
// 约束：
// - 单点非 200 或网络错误只记录并跳过该点，不中止整月；
// - 月份文件已存在时跳过（可重入）；同月内按接口 id 去重；
// - 输出为每行一个原始 JSON 对象，原子写入。
type Fetcher struct {
	Client  *http.Client
	BaseURL string
	Grid    Grid
	Limiter *rate.Limiter
	Backoff time.Duration
	OutDir  string
}

// MonthResult：单月抓取统计
type MonthResult struct {
	Month   string
	Path    string
	Skipped bool
	Fetched int
	Unique  int
	Failed  int
}

// RawPath：月份原始文件路径
func RawPath(dir, month string) string {
	return filepath.Join(dir, "leeds_crime_"+strings.ReplaceAll(month, "-", "_")+".jsonl")
}

// FetchMonths 依次抓取各月；只有 ctx 取消或写盘失败会中止
func (f *Fetcher) FetchMonths(ctx context.Context, months []string) ([]MonthResult, error) {
	out := make([]MonthResult, 0, len(months))
	for _, m := range months {
		res, err := f.FetchMonth(ctx, m)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// FetchMonth 抓取单月全部网格点
func (f *Fetcher) FetchMonth(ctx context.Context, month string) (MonthResult, error) {
	res := MonthResult{Month: month, Path: RawPath(f.OutDir, month)}
	if utils.FileExists(res.Path) {
		res.Skipped = true
		logger.L().Info("police_month_skip", "month", month, "path", res.Path)
		return res, nil
	}
	pts := f.Grid.Points()
	logger.L().Info("police_month_start", "month", month, "points", len(pts))
	seen := make(map[int64]struct{})
	var lines []json.RawMessage
	for i, pt := range pts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		crimes, err := f.fetchPoint(ctx, pt, month)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			logger.L().Warn("police_point_error", "month", month, "lat", pt.Lat, "lon", pt.Lon, "err", err)
			continue
		}
		res.Fetched += len(crimes)
		for _, raw := range crimes {
			var head struct {
				ID int64 `json:"id"`
			}
			if err := json.Unmarshal(raw, &head); err == nil && head.ID != 0 {
				if _, dup := seen[head.ID]; dup {
					continue
				}
				seen[head.ID] = struct{}{}
			}
			var buf bytes.Buffer
			if err := json.Compact(&buf, raw); err != nil {
				continue
			}
			lines = append(lines, buf.Bytes())
		}
		if (i+1)%50 == 0 {
			logger.L().Debug("police_month_progress", "month", month, "done", i+1, "points", len(pts))
		}
	}
	res.Unique = len(lines)
	if len(lines) == 0 {
		logger.L().Warn("police_month_empty", "month", month)
		return res, nil
	}
	err := utils.WriteFileAtomic(res.Path, func(w io.Writer) error {
		for _, l := range lines {
			if _, err := w.Write(l); err != nil {
				return err
			}
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("write %s: %w", res.Path, err)
	}
	logger.L().Info("police_month_done", "month", month, "fetched", res.Fetched, "unique", res.Unique, "failed_points", res.Failed)
	return res, nil
}

func (f *Fetcher) fetchPoint(ctx context.Context, pt GridPoint, month string) ([]json.RawMessage, error) {
	crimes, err := f.get(ctx, pt, month)
	if !errors.Is(err, errRateLimited) {
		return crimes, err
	}
	backoff := f.Backoff
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	logger.L().Warn("police_rate_limited", "month", month, "wait_ms", backoff.Milliseconds())
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(backoff):
	}
	return f.get(ctx, pt, month)
}

func (f *Fetcher) get(ctx context.Context, pt GridPoint, month string) ([]json.RawMessage, error) {
	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	base := f.BaseURL
	if base == "" {
		base = DefaultPoliceBase
	}
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(pt.Lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(pt.Lon, 'f', -1, 64))
	q.Set("date", month)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/crimes-street/all-crime?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	client := f.Client
	if client == nil {
		client = logger.NewClient(10 * time.Second)
	}
	resp, err := client.Do(req)
	if err != nil {
		metrics.PoliceRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		metrics.PoliceRequestsTotal.WithLabelValues("rate_limited").Inc()
		return nil, errRateLimited
	default:
		metrics.PoliceRequestsTotal.WithLabelValues("error").Inc()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	metrics.PoliceRequestsTotal.WithLabelValues("ok").Inc()
	var crimes []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&crimes); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return crimes, nil
}

// ReadRaw 读取月份原始文件
func ReadRaw(path string) ([]Crime, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []Crime
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}
		var c Crime
		if err := json.Unmarshal(b, &c); err != nil {
			logger.L().Warn("raw_line_decode_error", "path", path, "line", line, "err", err)
			continue
		}
		out = append(out, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return out, nil
}
