package router

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-attendance/internal/analytics"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/attendance"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/event"
	"github.com/ovaphlow/pitchfork/service-attendance/pkg/utilities"
)

// Prefix is the path prefix of every route.
const Prefix = "/attendance-api"

type ctxKey struct{}

// RequestID returns the id assigned by RequestIDMiddleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// RequestIDMiddleware propagates X-Request-ID or assigns a new uuid.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
		})
	}
}

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware logs every request at debug level.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				utilities.FieldRequestID, RequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware sets the headers a JSON-only API needs.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			// scan and analytics answers change with every scan
			h.Set("Cache-Control", "no-store")
			if h.Get("Content-Security-Policy") == "" {
				h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			}
			if r.TLS != nil {
				h.Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Handlers are the endpoint groups mounted by RegisterRoutes. Operator guards
// the scan, lifecycle and scan-log routes.
type Handlers struct {
	Scan      *attendance.Handler
	Event     *event.Handler
	Analytics *analytics.Handler
	Operator  func(http.Handler) http.Handler
}

// RegisterRoutes mounts the attendance API on a standard library ServeMux.
func RegisterRoutes(logger *zap.SugaredLogger, h Handlers) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+Prefix+"/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	guard := h.Operator
	if guard == nil {
		guard = func(next http.Handler) http.Handler { return next }
	}
	guarded := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, guard(fn))
	}

	guarded("POST "+Prefix+"/scan", h.Scan.Scan)
	guarded("PATCH "+Prefix+"/scan-logs/{id}/erroneous", h.Scan.FlagErroneous)

	guarded("PATCH "+Prefix+"/event/{id}/start", h.Event.Start)
	guarded("PATCH "+Prefix+"/event/{id}/end", h.Event.End)
	guarded("PATCH "+Prefix+"/event/{id}/restart", h.Event.Restart)

	mux.HandleFunc("GET "+Prefix+"/analytics/top-participants", h.Analytics.TopParticipants)
	mux.HandleFunc("GET "+Prefix+"/analytics/department-stats", h.Analytics.DepartmentStats)
	mux.HandleFunc("GET "+Prefix+"/analytics/live", h.Analytics.Live)

	return RequestIDMiddleware()(LoggingMiddleware(logger)(SecurityHeadersMiddleware()(mux)))
}
