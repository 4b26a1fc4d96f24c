package handlers

import (
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/apptengine/libs/httpx"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/apperr"
)

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindInvalidWindow:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindInvalidTransition:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeErr maps err to a status and JSON body. Errors without a kind are
// logged and reported generically.
func writeErr(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"err", err,
		)
	}
	httpx.WriteError(w, status, string(kind), apperr.Message(err))
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	httpx.WriteError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
}
