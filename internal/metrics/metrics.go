// Package metrics содержит Prometheus-метрики сервиса.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LinksCreated созданные ссылки по типу кода (generated, custom)
	LinksCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortener_links_created_total",
			Help: "Number of short links created",
		},
		[]string{"kind"},
	)

	// CodeCollisions коллизии при генерации кода (проверка или вставка)
	CodeCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shortener_code_collisions_total",
			Help: "Number of generated short code collisions",
		},
	)

	// CodeLength текущая длина генерируемого кода
	CodeLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shortener_code_length",
			Help: "Current length of generated short codes",
		},
	)

	Redirects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortener_redirects_total",
			Help: "Redirect requests by outcome",
		},
		[]string{"outcome"},
	)

	LookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shortener_lookup_duration_seconds",
			Help:    "Hot path link lookup latency",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
		},
		[]string{"source"},
	)

	// Clicks результат обработки событий клика (recorded, dropped, failed)
	Clicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortener_click_events_total",
			Help: "Click events by processing result",
		},
		[]string{"result"},
	)

	ClickQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shortener_click_queue_depth",
			Help: "Click events waiting in the worker queue",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shortener_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortener_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shortener_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// RateLimited отклонённые лимитером запросы
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortener_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"limiter"},
	)
)
