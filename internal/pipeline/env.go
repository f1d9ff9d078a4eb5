package pipeline

import (
	"io"
	"net/http"

	"crime-etl/internal/config"
	"crime-etl/internal/enrich"
	"crime-etl/internal/geocache"
	"crime-etl/internal/ingest"
	"crime-etl/internal/logger"
	"crime-etl/internal/postcodes"
	"crime-etl/internal/utils"
)

// 文档注释：步骤共享的运行环境
// 背景：富化缓存需要在步骤 5 与 6 之间复用，数据源客户端按需创建。
// 约束：Geocoder 为空时使用 postcodes.io 客户端；Close 释放运行期间打开的外部连接。
type Env struct {
	Cfg      config.Config
	RunID    string
	HTTP     *http.Client
	Geocoder enrich.Geocoder

	cache   geocache.Cache
	closers []io.Closer
}

// NewEnv：按配置构造运行环境
func NewEnv(cfg config.Config, runID string) *Env {
	return &Env{Cfg: cfg, RunID: runID, HTTP: logger.NewClient(cfg.FetchTimeout)}
}

func (e *Env) Close() error {
	for _, c := range e.closers {
		_ = c.Close()
	}
	e.closers = nil
	return nil
}

func (e *Env) geocoder() enrich.Geocoder {
	if e.Geocoder == nil {
		e.Geocoder = &postcodes.Client{HTTP: logger.NewClient(e.Cfg.Geocode.BatchTimeout), Endpoint: e.Cfg.Geocode.Endpoint}
	}
	return e.Geocoder
}

// geocodeCache：none 不缓存；memory 为进程内 LRU；redis 在 LRU 之后再挂一层共享缓存
func (e *Env) geocodeCache() geocache.Cache {
	if e.cache != nil {
		return e.cache
	}
	g := e.Cfg.Geocode
	switch g.Cache {
	case "none":
		return nil
	case "redis":
		rc := utils.OpenRedisFromEnv()
		e.closers = append(e.closers, rc)
		e.cache = geocache.NewChain(geocache.NewLRU(g.CacheSize, g.CacheTTL), &geocache.Redis{Client: rc, Prefix: geocache.DefaultPrefix, TTL: g.CacheTTL})
		logger.L().Info("geocode_cache", "mode", "redis", "addr", utils.RedisAddrFromEnv())
	default:
		e.cache = geocache.NewLRU(g.CacheSize, g.CacheTTL)
		logger.L().Info("geocode_cache", "mode", "memory", "size", g.CacheSize)
	}
	return e.cache
}

func (e *Env) engine() *enrich.Engine {
	g := e.Cfg.Geocode
	return &enrich.Engine{
		Geocoder:     e.geocoder(),
		Cache:        e.geocodeCache(),
		BatchSize:    g.BatchSize,
		Workers:      g.Workers,
		BatchTimeout: g.BatchTimeout,
	}
}

// passes：步骤 5 执行 initial（缺省取第一轮），步骤 6 执行其余各轮
func (e *Env) passes() (enrich.Pass, []enrich.Pass) {
	ps := e.Cfg.Geocode.Passes
	first, ok := e.Cfg.PassByName(enrich.Initial.Name)
	if !ok && len(ps) > 0 {
		first = ps[0]
	}
	var rest []enrich.Pass
	for _, p := range ps {
		if p != first {
			rest = append(rest, enrich.Pass{Name: p.Name, Radius: p.Radius})
		}
	}
	return enrich.Pass{Name: first.Name, Radius: first.Radius}, rest
}

func (e *Env) grid() ingest.Grid {
	g := e.Cfg.Police.Grid
	return ingest.Grid{MinLat: g.MinLat, MaxLat: g.MaxLat, MinLon: g.MinLon, MaxLon: g.MaxLon, Step: g.Step}
}
