package middleware

import (
	"net/http"
	"time"

	"github.com/scoopsociety/creamery-backend/pkg/logger"
)

// responseMeter captures what the handler wrote so the completion line can
// report it.
type responseMeter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (m *responseMeter) WriteHeader(status int) {
	if m.status == 0 {
		m.status = status
	}
	m.ResponseWriter.WriteHeader(status)
}

func (m *responseMeter) Write(p []byte) (int, error) {
	if m.status == 0 {
		m.status = http.StatusOK
	}
	n, err := m.ResponseWriter.Write(p)
	m.bytes += n
	return n, err
}

// Logging emits one completion line per request with status, size and
// duration. The start line sits at debug level to keep production logs at a
// single entry per request.
func Logging(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if logg == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := logg.WithFields(r.Context(), map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
			})
			logg.Debug(ctx, "request.start")

			meter := &responseMeter{ResponseWriter: w}
			start := time.Now()

			next.ServeHTTP(meter, r.WithContext(ctx))

			if meter.status == 0 {
				meter.status = http.StatusOK
			}

			ctx = logg.WithFields(ctx, map[string]any{
				"status":      meter.status,
				"bytes":       meter.bytes,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			logg.Info(ctx, "request.complete")
		})
	}
}
