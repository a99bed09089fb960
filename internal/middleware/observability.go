// Package middleware holds the HTTP middleware of the admin server.
package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"whatskeeper/internal/httputil"
	"whatskeeper/internal/metrics"
	"whatskeeper/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Observability wraps a handler with a span, a request log line and
// the API request counter.
func Observability(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.StartSpan(r.Context(), "http_request")
			defer span.End()

			span.SetAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", r.URL.Path),
				attribute.String("client.address", httputil.ClientIP(r)),
			)

			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(wrapper, r.WithContext(ctx))

			duration := time.Since(start)
			status := strconv.Itoa(wrapper.statusCode)

			span.SetAttributes(attribute.Int("http.response.status_code", wrapper.statusCode))
			if wrapper.statusCode >= 400 {
				span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", wrapper.statusCode))
			}

			metrics.APIRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()

			level := logrus.InfoLevel
			if wrapper.statusCode >= 500 {
				level = logrus.ErrorLevel
			} else if wrapper.statusCode >= 400 {
				level = logrus.WarnLevel
			}
			logger.WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapper.statusCode,
				"duration_ms": duration.Milliseconds(),
				"remote_ip":   httputil.ClientIP(r),
			}).Log(level, "HTTP request completed")
		})
	}
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}
