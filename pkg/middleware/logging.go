package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/docker/model-gateway/pkg/logging"
)

// LogContext accumulates the fields of one access-log entry. Handlers enrich
// it as the request progresses; the entry is emitted once the handler
// returns.
type LogContext struct {
	mu             sync.Mutex
	fields         map[string]any
	statusOverride int
}

// Update merges fields into the pending entry.
func (c *LogContext) Update(fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range fields {
		c.fields[k] = v
	}
}

// OverrideStatus replaces the logged status code. It is used for streams
// that were truncated after a 200 status line had already been written.
func (c *LogContext) OverrideStatus(status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusOverride = status
}

func (c *LogContext) snapshot(status int, latency time.Duration) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statusOverride != 0 {
		status = c.statusOverride
	}
	entry := make(map[string]any, len(c.fields)+2)
	for k, v := range c.fields {
		entry[k] = v
	}
	entry["status"] = status
	entry["latency_ms"] = latency.Milliseconds()
	return entry
}

type logContextKey struct{}

// LogContextFromRequest returns the request's LogContext, or nil when the
// access-log middleware is not installed.
func LogContextFromRequest(r *http.Request) *LogContext {
	c, _ := r.Context().Value(logContextKey{}).(*LogContext)
	return c
}

// AccessLog emits one structured entry per request. The entry always carries
// remote_ip, route, request_id, status and latency_ms; handlers add
// token_label, model, backend, stream and prompt_chars through the
// LogContext.
func AccessLog(log logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		c := &LogContext{fields: map[string]any{
			"remote_ip":  RemoteIP(r),
			"route":      r.URL.Path,
			"request_id": RequestIDFromContext(r.Context()),
		}}
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r.WithContext(context.WithValue(r.Context(), logContextKey{}, c)))
		log.WithFields(c.snapshot(recorder.status, time.Since(start))).Info("request handled")
	})
}

// RemoteIP returns the first X-Forwarded-For entry, falling back on the peer
// address.
func RemoteIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return host
}

// statusRecorder captures the status code while preserving the Flusher the
// streaming handlers rely on.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(p)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
