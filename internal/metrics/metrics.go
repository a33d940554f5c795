// Package metrics はゲートウェイのPrometheusメトリクスを提供する。
// グローバルレジストリには登録せず、呼び出し側が所有するレジストリに登録する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 上流呼び出しの結果ラベル。
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics はゲートウェイが記録するメトリクスの集合。
type Metrics struct {
	// Registry はメトリクスの登録先。
	Registry *prometheus.Registry
	// UpstreamRequests は上流APIへのリクエスト数。
	UpstreamRequests *prometheus.CounterVec
	// UpstreamSeconds は上流APIへのリクエスト所要時間。
	UpstreamSeconds *prometheus.HistogramVec
	// RouteFailures は駅カタログ構築時の路線ごとの失敗数。
	RouteFailures *prometheus.CounterVec
	// CatalogStations は直近に構築した駅カタログの駅数。
	CatalogStations prometheus.Gauge
}

// New は新しいレジストリにメトリクスを登録して返す。
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		Registry: registry,
		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptv_upstream_requests_total",
				Help: "Number of requests sent to the PTV Timetable API",
			},
			[]string{"endpoint", "outcome"},
		),
		UpstreamSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ptv_upstream_request_seconds",
				Help:    "Time spent waiting for the PTV Timetable API",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		RouteFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptv_catalog_route_failures_total",
				Help: "Route stop listings that contributed nothing to the station catalog",
			},
			[]string{"route"},
		),
		CatalogStations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptv_catalog_stations",
			Help: "Number of stations in the most recently built catalog",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.UpstreamRequests,
		m.UpstreamSeconds,
		m.RouteFailures,
		m.CatalogStations,
	)

	return m
}

// ObserveUpstream は上流呼び出し1回分の結果を記録する。
func (m *Metrics) ObserveUpstream(endpoint string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	m.UpstreamRequests.WithLabelValues(endpoint, outcome).Inc()
	m.UpstreamSeconds.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
}

// RouteFailed は駅カタログ構築時の路線失敗を記録する。
func (m *Metrics) RouteFailed(routeID int) {
	if m == nil {
		return
	}
	m.RouteFailures.WithLabelValues(strconv.Itoa(routeID)).Inc()
}

// CatalogBuilt は構築した駅カタログの駅数を記録する。
func (m *Metrics) CatalogBuilt(stations int) {
	if m == nil {
		return
	}
	m.CatalogStations.Set(float64(stations))
}

// Handler はレジストリの内容を公開するHTTPハンドラを返す。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
