// Package metrics собирает счётчики Prometheus сервиса.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "groupbuy"

// Metrics хранит собственный реестр и коллекторы. Методы безопасны для nil-получателя,
// поэтому компоненты можно собирать без метрик.
type Metrics struct {
	registry *prometheus.Registry

	groupTransitions *prometheus.CounterVec
	bids             *prometheus.CounterVec
	creditOps        *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New создаёт реестр и регистрирует в нём коллекторы.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		groupTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_transitions_total",
			Help:      "Group status transitions by target status.",
		}, []string{"status"}),
		bids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_total",
			Help:      "Bid lifecycle events by outcome.",
		}, []string{"outcome"}),
		creditOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_operations_total",
			Help:      "Credit ledger operations by type.",
		}, []string{"type"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Published notifications by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.groupTransitions,
		m.bids,
		m.creditOps,
		m.notifications,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// Handler отдаёт метрики в формате Prometheus. Сжатие выключено: ответ сжимает
// общий gzip middleware роутера.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry, DisableCompression: true})
}

func (m *Metrics) GroupTransition(status string) {
	if m == nil {
		return
	}
	m.groupTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) Bid(outcome string) {
	if m == nil {
		return
	}
	m.bids.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CreditOperation(kind string) {
	if m == nil {
		return
	}
	m.creditOps.WithLabelValues(kind).Inc()
}

func (m *Metrics) Notification(ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.notifications.WithLabelValues(result).Inc()
}

// ObserveHTTP учитывает обработанный запрос.
func (m *Metrics) ObserveHTTP(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
