package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// statusText holds pre-rendered status code strings so the middleware does
// not call strconv.Itoa per request. Codes outside the table fall back to
// Itoa; chi never produces them, but a handler could.
var statusText [600]string

func init() {
	for i := range statusText {
		statusText[i] = strconv.Itoa(i)
	}
}

func statusLabel(code int) string {
	if code >= 0 && code < len(statusText) {
		return statusText[code]
	}
	return strconv.Itoa(code)
}

// instrument records per-route request counts, latency and the in-flight
// gauge. Routes are labeled by chi pattern, not raw path, to keep
// cardinality bounded under arbitrary session ids.
func (s *server) instrument(next http.Handler) http.Handler {
	m := s.deps.Metrics
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.ActiveRequests.Inc()
		defer m.ActiveRequests.Dec()

		sw := statusWriterPool.Get().(*statusWriter)
		sw.ResponseWriter = w
		sw.status = http.StatusOK
		sw.wroteHeader = false

		start := time.Now()
		next.ServeHTTP(sw, r)
		elapsed := time.Since(start).Seconds()

		status := sw.status
		sw.ResponseWriter = nil
		statusWriterPool.Put(sw)

		route := routePattern(r)
		m.RequestsTotal.WithLabelValues(r.Method, route, statusLabel(status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(elapsed)
	})
}

// routePattern resolves the chi pattern after routing; unmatched requests
// keep their raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
