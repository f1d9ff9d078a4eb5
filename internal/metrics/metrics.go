package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	GeocodeBatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crimeetl_geocode_batches_total",
		Help: "Total bulk reverse-geocode batches dispatched",
	}, []string{"pass"})
	GeocodeBatchFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crimeetl_geocode_batch_fail_total",
		Help: "Total bulk reverse-geocode batches that yielded no result",
	}, []string{"pass"})
	GeocodeDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "crimeetl_geocode_duration_ms",
		Help:    "Bulk reverse-geocode call duration in milliseconds",
		Buckets: []float64{50, 100, 200, 500, 1000, 2000, 5000, 10000, 20000},
	})
	GeocodeResolvedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crimeetl_geocode_resolved_total",
		Help: "Coordinates resolved (at least one of ward/postcode) per pass",
	}, []string{"pass"})
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crimeetl_geocode_cache_hits_total",
		Help: "Total coordinate cache hits",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crimeetl_geocode_cache_misses_total",
		Help: "Total coordinate cache misses",
	})
	BoundaryKeptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crimeetl_boundary_kept_total",
		Help: "Records kept by the boundary filter",
	})
	BoundaryDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crimeetl_boundary_dropped_total",
		Help: "Records dropped by the boundary filter",
	})
	AreaUnmatchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crimeetl_area_unmatched_total",
		Help: "Unique coordinates with no enclosing sub-area polygon",
	})
	PoliceRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crimeetl_police_requests_total",
		Help: "Police API grid requests by outcome",
	}, []string{"status"})
	StepDurationSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crimeetl_step_duration_seconds",
		Help: "Wall time of the last run of each pipeline step",
	}, []string{"step", "result"})
)

func init() {
	prometheus.MustRegister(GeocodeBatchesTotal)
	prometheus.MustRegister(GeocodeBatchFailTotal)
	prometheus.MustRegister(GeocodeDurationMs)
	prometheus.MustRegister(GeocodeResolvedTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(BoundaryKeptTotal)
	prometheus.MustRegister(BoundaryDroppedTotal)
	prometheus.MustRegister(AreaUnmatchedTotal)
	prometheus.MustRegister(PoliceRequestsTotal)
	prometheus.MustRegister(StepDurationSeconds)
}

// 文档注释：将已注册指标写入文本文件
// 背景：批处理作业没有常驻抓取端点，运行结束时落盘为 node_exporter textfile 格式。
// 约束：path 为空时不写；写入采用临时文件改名，由 client_golang 保证。
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
