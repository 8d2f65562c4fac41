package handlers

import (
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/crmpulse/crmpulse/internal/errors"
	"github.com/crmpulse/crmpulse/internal/observability"
	"github.com/crmpulse/crmpulse/internal/server/middleware"
)

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}

// logHandlerWarning records a failure that did not abort the request.
func logHandlerWarning(r *http.Request, msg string, err error) {
	logger := observability.ServerLogger
	if logger == nil {
		return
	}
	logger.Warn(msg,
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.Error(err))
}
