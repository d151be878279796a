package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/josh-kwaku/servicehub/internal/metrics"
)

// Metrics records request latency by route pattern. It must wrap the mux
// directly: the mux stores the matched pattern on the request it was handed.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTP(r.Method, route, strconv.Itoa(rec.status), time.Since(start).Seconds())
	})
}
