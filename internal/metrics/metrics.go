// Package metrics 提供校对服务的Prometheus指标
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 汇总服务的所有指标
// 所有方法在接收者为nil时什么都不做，组件可以不带指标运行
type Metrics struct {
	gatherer prometheus.Gatherer

	// HTTP请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 页面图片指标
	PageResolvesTotal   *prometheus.CounterVec
	PageResolveDuration *prometheus.HistogramVec
	CacheLookupsTotal   *prometheus.CounterVec

	// OCR指标
	OCRRequestsTotal   *prometheus.CounterVec
	OCRRequestDuration *prometheus.HistogramVec
	OCRStaleResults    prometheus.Counter

	// 浏览指标
	CurrentPage prometheus.Gauge
	SlicesTotal prometheus.Counter
}

// New 创建并注册所有指标
// reg 为nil时使用默认注册表
func New(reg prometheus.Registerer) *Metrics {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)

	m := &Metrics{gatherer: gatherer}

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proofreader_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proofreader_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	m.PageResolvesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proofreader_page_resolves_total",
			Help: "Total number of page image lookups",
		},
		[]string{"source", "status"},
	)

	m.PageResolveDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proofreader_page_resolve_duration_seconds",
			Help:    "Duration of page image lookups in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"source"},
	)

	m.CacheLookupsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proofreader_page_cache_lookups_total",
			Help: "Total number of page cache lookups",
		},
		[]string{"result"},
	)

	m.OCRRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proofreader_ocr_requests_total",
			Help: "Total number of OCR recognitions",
		},
		[]string{"engine", "status"},
	)

	m.OCRRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proofreader_ocr_request_duration_seconds",
			Help:    "Duration of OCR recognitions in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"engine"},
	)

	m.OCRStaleResults = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "proofreader_ocr_stale_results_total",
			Help: "OCR results that arrived after the page changed",
		},
	)

	m.CurrentPage = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "proofreader_current_page",
			Help: "Logical page currently shown",
		},
	)

	m.SlicesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "proofreader_slices_exported_total",
			Help: "Total number of exported OCR line slices",
		},
	)

	return m
}

// Handler 返回 /metrics 的HTTP处理器
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordHTTPRequest 记录一次HTTP请求
func (m *Metrics) RecordHTTPRequest(route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordPageResolve 记录一次页面图片查找
func (m *Metrics) RecordPageResolve(source string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.PageResolvesTotal.WithLabelValues(source, statusOf(err)).Inc()
	m.PageResolveDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordCacheLookup 记录缓存命中情况
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordOCR 记录一次OCR识别
func (m *Metrics) RecordOCR(engine string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.OCRRequestsTotal.WithLabelValues(engine, statusOf(err)).Inc()
	m.OCRRequestDuration.WithLabelValues(engine).Observe(duration.Seconds())
}

// RecordStaleOCR 记录一次过期的OCR结果
func (m *Metrics) RecordStaleOCR() {
	if m == nil {
		return
	}
	m.OCRStaleResults.Inc()
}

// SetCurrentPage 更新当前页
func (m *Metrics) SetCurrentPage(page int) {
	if m == nil {
		return
	}
	m.CurrentPage.Set(float64(page))
}

// AddSlices 累加导出的切图数量
func (m *Metrics) AddSlices(n int) {
	if m == nil {
		return
	}
	m.SlicesTotal.Add(float64(n))
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
