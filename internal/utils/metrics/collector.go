// internal/utils/metrics/collector.go
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector управляет набором метрик одного процесса или сессии.
// Методы безопасны для nil-получателя: компоненты могут работать без метрик.
type Collector struct {
	registry *prometheus.Registry

	writeCounter    *prometheus.CounterVec
	writeDuration   *prometheus.HistogramVec
	refreshCounter  *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	rpcLatency      *prometheus.HistogramVec
	notifications   *prometheus.CounterVec
	cachedTokens    *prometheus.GaugeVec
	websocketConns  *prometheus.GaugeVec
}

// NewCollector создает коллектор со своим реестром
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		writeCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agro_ledger",
			Name:      "writes_total",
			Help:      "Ledger writes by kind and final status",
		}, []string{"kind", "status"}),
		writeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agro_ledger",
			Name:      "write_duration_seconds",
			Help:      "Time from submission to settlement",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"kind"}),
		refreshCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agro_ledger",
			Name:      "refresh_total",
			Help:      "Synchronizer refreshes by result",
		}, []string{"result"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agro_ledger",
			Name:      "refresh_duration_seconds",
			Help:      "Synchronizer refresh duration",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 10),
		}),
		rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agro_ledger",
			Name:      "rpc_latency_seconds",
			Help:      "Ledger RPC latency by method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agro_ledger",
			Name:      "notifications_total",
			Help:      "Ledger change notifications received",
		}, []string{"kind"}),
		cachedTokens: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "agro_ledger",
			Name:      "cached_tokens",
			Help:      "Tokens in the synchronizer view by collection",
		}, []string{"collection"}),
		websocketConns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "agro_ledger",
			Name:      "websocket_connections",
			Help:      "Notification stream connections by status",
		}, []string{"status"}),
	}

	c.registry.MustRegister(
		c.writeCounter,
		c.writeDuration,
		c.refreshCounter,
		c.refreshDuration,
		c.rpcLatency,
		c.notifications,
		c.cachedTokens,
		c.websocketConns,
	)
	return c
}

// Registry возвращает реестр для экспорта или тестов
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordWrite записывает итог записи в леджер
func (c *Collector) RecordWrite(kind, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.writeCounter.WithLabelValues(kind, status).Inc()
	if duration > 0 {
		c.writeDuration.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// RecordRefresh записывает результат обновления кэша
func (c *Collector) RecordRefresh(err error, duration time.Duration) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failed"
	}
	c.refreshCounter.WithLabelValues(result).Inc()
	c.refreshDuration.Observe(duration.Seconds())
}

// RecordRPCLatency записывает метрики RPC-запроса
func (c *Collector) RecordRPCLatency(method, endpoint string, duration time.Duration) {
	if c == nil {
		return
	}
	c.rpcLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordNotification считает уведомления леджера
func (c *Collector) RecordNotification(kind string) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(kind).Inc()
}

// SetCachedTokens обновляет размер коллекции в кэше
func (c *Collector) SetCachedTokens(collection string, n int) {
	if c == nil {
		return
	}
	c.cachedTokens.WithLabelValues(collection).Set(float64(n))
}

// UpdateWebsocketConnections обновляет метрики веб-сокет соединений
func (c *Collector) UpdateWebsocketConnections(active int, status string) {
	if c == nil {
		return
	}
	c.websocketConns.WithLabelValues(status).Set(float64(active))
}

// Reset сбрасывает все метрики (полезно для тестирования)
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.writeCounter.Reset()
	c.writeDuration.Reset()
	c.refreshCounter.Reset()
	c.rpcLatency.Reset()
	c.notifications.Reset()
	c.cachedTokens.Reset()
	c.websocketConns.Reset()
}

// Serve отдаёт /metrics до отмены контекста
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
