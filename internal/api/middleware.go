package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/openbridge/openbridge/internal/ids"
	"github.com/openbridge/openbridge/internal/logging"
	"github.com/openbridge/openbridge/internal/metrics"
)

// statusWriter records the response status for the log and metrics
// middleware. Flush is forwarded so SSE handlers keep working through the
// wrapper.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// requestIDMiddleware echoes the client's X-Request-Id or mints one, reflects
// it in the response and hangs it on the context for log correlation.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = ids.New("req")
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

// recoverMiddleware turns handler panics into plain 500s.
func recoverMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panic",
						zap.Any("panic", rec),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.String("request_id", logging.RequestID(r.Context())),
						zap.Stack("stack"))
					respondError(w, apiError(http.StatusInternalServerError, "internal server error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// accessLogMiddleware writes one line per handled request.
func accessLogMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.Info("request handled",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", logging.RequestID(r.Context())))
		})
	}
}

// metricsMiddleware observes request counts and latency.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		path := routePattern(r)
		metrics.RequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(sw.status)).Inc()
		metrics.RequestLatency.WithLabelValues(path, r.Method).Observe(time.Since(start).Seconds())
	})
}

// routePattern labels metrics with the route template rather than the raw
// URL, keeping label cardinality bounded.
func routePattern(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// authMiddleware guards a subrouter with the optional static client key. An
// empty key disables the check.
func authMiddleware(key string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := clientToken(r)
			if !ok {
				respondError(w, apiError(http.StatusUnauthorized, "Missing client API key"))
				return
			}
			if !tokenMatches(token, key) {
				respondError(w, apiError(http.StatusUnauthorized, "Invalid client API key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientToken pulls the presented credential from Authorization (with or
// without a Bearer prefix) or X-API-Key.
func clientToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		header = r.Header.Get("X-API-Key")
	}
	if header == "" {
		return "", false
	}
	if rest, ok := cutBearer(header); ok {
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(header), true
}

func cutBearer(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) >= len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):], true
	}
	return "", false
}

// tokenMatches compares digests so comparison time does not depend on how
// much of the key matched.
func tokenMatches(token, key string) bool {
	a := sha256.Sum256([]byte(token))
	b := sha256.Sum256([]byte(key))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
