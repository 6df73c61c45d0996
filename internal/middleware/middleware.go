// Package middleware carries the cross-cutting HTTP plumbing: request ids,
// access logging and the language preference resolution.
package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/batisoft/batifact/internal/i18n"
	"github.com/batisoft/batifact/internal/logging"
)

const requestIDHeader = "X-Request-Id"

// RequestID assigns a request id (honoring an inbound one) and attaches a
// request-scoped logger carrying it.
func RequestID(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)
			reqLog := log.With(zap.String("request_id", id))
			next.ServeHTTP(w, r.WithContext(logging.WithContext(r.Context(), reqLog)))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// AccessLog logs one line per request with method, path, status and latency.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.FromContext(r.Context()).Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// Lang resolves the request language: explicit ?lang= wins, then the lang
// cookie, then Accept-Language. French is the default.
func Lang(r *http.Request) string {
	if l := r.URL.Query().Get("lang"); l == "fr" || l == "en" {
		return l
	}
	if c, err := r.Cookie("lang"); err == nil && (c.Value == "fr" || c.Value == "en") {
		return c.Value
	}
	return i18n.DetectLanguage(r.Header.Get("Accept-Language"))
}
