// metrics.go — Prometheus HTTP метрики.
// Регистрирует метрики: mr_http_requests_total, mr_http_request_duration_seconds.
// Нормализация путей предотвращает взрывной рост кардинальности.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mr_http_requests_total",
			Help: "Общее количество HTTP-запросов",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mr_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет идентификаторы в пути на плейсхолдеры.
// /api/v1/records/42 → /api/v1/records/{record_id}
// /api/v1/records/42/tx → /api/v1/records/{record_id}/tx
// /api/v1/records/cid/bafy... → /api/v1/records/cid/{cid}
// /api/v1/records/patient/0xabc... → /api/v1/records/patient/{address}
func normalizePath(path string) string {
	// Статические пути — возвращаем как есть
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/records/upload", "/api/v1/records/download", "/api/v1/records/sync",
		"/api/v1/encrypt", "/api/v1/decrypt", "/api/v1/verify":
		return path
	}

	const recordsPrefix = "/api/v1/records/"
	rest, ok := strings.CutPrefix(path, recordsPrefix)
	if !ok || rest == "" {
		return "other"
	}

	segments := strings.Split(rest, "/")
	switch {
	case segments[0] == "cid" && len(segments) == 2:
		return recordsPrefix + "cid/{cid}"
	case segments[0] == "patient" && len(segments) == 2:
		return recordsPrefix + "patient/{address}"
	case len(segments) == 1:
		return recordsPrefix + "{record_id}"
	case len(segments) == 2 && segments[1] == "tx":
		return recordsPrefix + "{record_id}/tx"
	}
	return "other"
}
