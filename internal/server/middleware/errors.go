package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/crmpulse/crmpulse/internal/metrics"
	"github.com/crmpulse/crmpulse/internal/observability"
)

// panicResponse mirrors the error body written by the errors package, which
// cannot be imported here without a cycle.
type panicResponse struct {
	Error panicDetail `json:"error"`
}

type panicDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Recovery turns handler panics into a 500 error body. The stack trace is
// logged, never returned to the client. http.ErrAbortHandler is re-raised so
// net/http can abort the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			requestID := GetRequestID(r.Context())
			metrics.RecordPanic()
			if logger := observability.ServerLogger; logger != nil {
				logger.Error("Recovered from handler panic",
					zap.String("path", r.URL.Path),
					zap.String("request_id", requestID),
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()))
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(panicResponse{Error: panicDetail{
				Code:      "INTERNAL_ERROR",
				Message:   "internal server error",
				RequestID: requestID,
			}})
		}()

		next.ServeHTTP(w, r)
	})
}
