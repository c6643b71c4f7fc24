package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/scoopsociety/creamery-backend/pkg/logger"
)

const requestIDHeader = "X-Request-Id"

// Inbound ids longer than this are treated as garbage and replaced.
const maxRequestIDLen = 64

// RequestID honors a caller-supplied X-Request-Id when it looks sane and
// mints a fresh uuid otherwise. The id is echoed on the response and attached
// to the request-scoped logger.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(requestIDHeader)
			if reqID == "" || len(reqID) > maxRequestIDLen {
				reqID = uuid.NewString()
			}

			w.Header().Set(requestIDHeader, reqID)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
