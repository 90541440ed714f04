package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// ObserveRequest records one outgoing backend call. status is 0 when the
// request never got a response.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	m := Global()
	if m == nil {
		return
	}

	path = NormalizePath(path)
	label := "transport_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}

	m.APIRequestsTotal.WithLabelValues(method, path, label).Inc()
	m.APIRequestDurationSeconds.WithLabelValues(method, path).Observe(duration.Seconds())

	if status == 0 {
		m.APIErrorsTotal.WithLabelValues("transport").Inc()
	} else if status >= 400 {
		m.APIErrorsTotal.WithLabelValues(categorizeStatus(status)).Inc()
	}
}

// HTTPMiddleware records requests served by the mock backend
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := Global()
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}

		wrapped := wrapResponseWriter(w)
		next.ServeHTTP(wrapped, r)

		m.MockRequestsTotal.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(wrapped.status)).Inc()
	})
}

// routePattern extracts route pattern from chi router to avoid high cardinality
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return NormalizePath(r.URL.Path)
}

// NormalizePath strips the query and replaces numeric path segments
// with {id}.
func NormalizePath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if isNumeric(part) {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// categorizeStatus categorizes HTTP status codes into error types
func categorizeStatus(status int) string {
	switch {
	case status >= 500:
		return "server_error"
	case status == 429:
		return "rate_limited"
	case status == 401 || status == 403:
		return "auth_error"
	case status == 404:
		return "not_found"
	case status == 400 || status == 422:
		return "bad_request"
	case status >= 400:
		return "client_error"
	default:
		return "unknown"
	}
}
