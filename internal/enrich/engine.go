// 包 enrich：批量并发反查富化区名与邮编区，按半径递增的多轮检索补齐未解析坐标
package enrich

import (
	"context"
	"strings"
	"sync"
	"time"

	"crime-etl/internal/geocache"
	"crime-etl/internal/logger"
	"crime-etl/internal/metrics"
	"crime-etl/internal/postcodes"
	"crime-etl/internal/record"
)

const (
	DefaultBatchSize    = 100
	DefaultWorkers      = 10
	DefaultBatchTimeout = 20 * time.Second
)

// Pass：一轮检索（名称与搜索半径，米）
type Pass struct {
	Name   string
	Radius int
}

// 常用轮次：首轮 200m，补丁轮 2000m
var (
	Initial = Pass{Name: "initial", Radius: 200}
	Patch   = Pass{Name: "patch", Radius: 2000}
)

// Geocoder：批量反查；返回与输入下标对应的结果，无匹配为 nil
type Geocoder interface {
	Reverse(ctx context.Context, pts []postcodes.Point, radius int) ([]*postcodes.Place, error)
}

// 文档注释：富化引擎
// 背景：唯一坐标去重后分批，每批一次批量请求，由固定大小的 worker 池并发执行；结果按坐标键回填到所有共享该坐标的记录。
// 约束：单批失败只使该批结果为空，不中止其他批次，也不在本轮重试；更大半径的后续轮次才是重试机制。
type Engine struct {
	Geocoder     Geocoder
	Cache        geocache.Cache
	BatchSize    int
	Workers      int
	BatchTimeout time.Duration
}

// PassStats：单轮统计
type PassStats struct {
	Pass      Pass
	Targets   int
	CacheHits int
	Batches   int
	Failed    int
	Resolved  int
	Patched   int
}

type target struct {
	key record.CoordKey
	pt  postcodes.Point
}

type batchResult struct {
	targets []target
	entries []geocache.Entry
	err     error
}

// 文档注释：按顺序执行各轮富化（原地修改记录）
// 背景：每轮只针对区名或邮编区尚未解析的坐标；一轮结束后再计算下一轮目标。
// 约束：
// - 已解析字段永不降级；部分解析（仅区名或仅邮编区）同样写入；
// - 被检索但仍未解析的坐标，其从未尝试过的字段记为 Unknown；
// - ctx 取消时返回 ctx.Err()，已回填的结果保留在 rs 中。
func (e *Engine) Run(ctx context.Context, rs []record.Record, passes []Pass) ([]PassStats, error) {
	stats := make([]PassStats, 0, len(passes))
	for _, p := range passes {
		st := e.runPass(ctx, rs, p)
		stats = append(stats, st)
		logger.L().Info("enrich_pass_done",
			"pass", p.Name, "radius", p.Radius, "targets", st.Targets, "cache_hits", st.CacheHits,
			"batches", st.Batches, "failed_batches", st.Failed, "resolved", st.Resolved, "patched_records", st.Patched)
		if err := ctx.Err(); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (e *Engine) runPass(ctx context.Context, rs []record.Record, p Pass) PassStats {
	st := PassStats{Pass: p}
	targets, noCoord := collectTargets(rs)
	st.Targets = len(targets)

	results := make(map[record.CoordKey]geocache.Entry, len(targets))
	prior := make(map[record.CoordKey]geocache.Entry)
	var pending []target
	for _, t := range targets {
		if e.Cache != nil {
			if ce, ok := e.Cache.Get(ctx, t.key); ok {
				if ce.Serves(p.Radius) {
					results[t.key] = ce
					st.CacheHits++
					metrics.CacheHitsTotal.Inc()
					continue
				}
				prior[t.key] = ce
			}
			metrics.CacheMissesTotal.Inc()
		}
		pending = append(pending, t)
	}

	batches := Chunk(pending, e.batchSize())
	st.Batches = len(batches)
	for br := range e.dispatch(ctx, batches, p) {
		if br.err != nil {
			st.Failed++
			metrics.GeocodeBatchFailTotal.WithLabelValues(p.Name).Inc()
			logger.L().Warn("enrich_batch_error", "pass", p.Name, "size", len(br.targets), "err", br.err)
			for _, t := range br.targets {
				if pe, ok := prior[t.key]; ok && pe.Resolved() {
					results[t.key] = pe
				}
			}
			continue
		}
		for i, t := range br.targets {
			ent := br.entries[i]
			if pe, ok := prior[t.key]; ok {
				ent = geocache.Entry{Ward: pe.Ward.Improve(ent.Ward), Postcode: pe.Postcode.Improve(ent.Postcode), Radius: p.Radius}
			}
			if !ent.Resolved() {
				continue
			}
			results[t.key] = ent
			if e.Cache != nil {
				e.Cache.Set(ctx, t.key, ent)
			}
		}
	}
	for _, ent := range results {
		if ent.Resolved() {
			st.Resolved++
		}
	}
	metrics.GeocodeResolvedTotal.WithLabelValues(p.Name).Add(float64(st.Resolved))

	miss := geocache.Entry{Ward: record.UnresolvedField(), Postcode: record.UnresolvedField()}
	for i := range rs {
		r := &rs[i]
		if !r.NeedsGeocode() {
			continue
		}
		ent := miss
		if k, ok := r.Coord.Key(); ok {
			if hit, found := results[k]; found {
				ent = hit
			}
		}
		before := *r
		r.Ward = r.Ward.Improve(ent.Ward)
		r.Postcode = r.Postcode.Improve(ent.Postcode)
		if (r.Ward.IsResolved() && !before.Ward.IsResolved()) || (r.Postcode.IsResolved() && !before.Postcode.IsResolved()) {
			st.Patched++
		}
	}
	if noCoord > 0 {
		logger.L().Debug("enrich_missing_coordinates", "pass", p.Name, "records", noCoord)
	}
	return st
}

func (e *Engine) batchSize() int {
	if e.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return e.BatchSize
}

// collectTargets：需要富化的唯一坐标（按首次出现顺序）与缺失坐标的记录数
func collectTargets(rs []record.Record) ([]target, int) {
	seen := make(map[record.CoordKey]struct{})
	var out []target
	noCoord := 0
	for _, r := range rs {
		if !r.NeedsGeocode() {
			continue
		}
		k, ok := r.Coord.Key()
		if !ok {
			noCoord++
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, target{key: k, pt: postcodes.Point{Lat: r.Coord.Lat, Lon: r.Coord.Lon}})
	}
	return out, noCoord
}

// Chunk 将切片按 size 切分，最后一批可能不足 size
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]T
	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		out = append(out, items[i:end])
	}
	return out
}

// dispatch：worker 池并发执行各批；返回的通道在全部批次完成后关闭，只由调用方单协程消费
func (e *Engine) dispatch(ctx context.Context, batches [][]target, p Pass) <-chan batchResult {
	workers := e.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	jobs := make(chan []target, workers*4)
	out := make(chan batchResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range jobs {
				out <- e.lookup(ctx, b, p)
			}
		}()
	}
	go func() {
		for _, b := range batches {
			jobs <- b
		}
		close(jobs)
		wg.Wait()
		close(out)
	}()
	return out
}

func (e *Engine) lookup(ctx context.Context, b []target, p Pass) batchResult {
	metrics.GeocodeBatchesTotal.WithLabelValues(p.Name).Inc()
	timeout := e.BatchTimeout
	if timeout <= 0 {
		timeout = DefaultBatchTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	pts := make([]postcodes.Point, len(b))
	for i, t := range b {
		pts[i] = t.pt
	}
	places, err := e.Geocoder.Reverse(cctx, pts, p.Radius)
	if err != nil {
		return batchResult{targets: b, err: err}
	}
	entries := make([]geocache.Entry, len(b))
	for i := range b {
		var pl *postcodes.Place
		if i < len(places) {
			pl = places[i]
		}
		entries[i] = FromPlace(pl, p.Radius)
	}
	return batchResult{targets: b, entries: entries}
}

// 文档注释：由最近邮编条目派生富化结果
// 约束：区名取 admin_ward，其次 ward，都没有为 Unknown；邮编区取完整邮编的首个空白分隔片段。
func FromPlace(pl *postcodes.Place, radius int) geocache.Entry {
	ent := geocache.Entry{Ward: record.UnresolvedField(), Postcode: record.UnresolvedField(), Radius: radius}
	if pl == nil {
		return ent
	}
	switch {
	case strings.TrimSpace(pl.AdminWard) != "":
		ent.Ward = record.ResolvedField(pl.AdminWard)
	case strings.TrimSpace(pl.Ward) != "":
		ent.Ward = record.ResolvedField(pl.Ward)
	}
	if f := strings.Fields(pl.Postcode); len(f) > 0 {
		ent.Postcode = record.ResolvedField(f[0])
	}
	return ent
}
