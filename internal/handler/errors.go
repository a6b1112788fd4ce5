package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/msomdec/daily-report/internal/domain"
)

// writeServiceError maps an auth error to its HTTP status. Unexpected errors
// are logged and reported as 500 without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrDuplicateIdentity):
		writeError(w, http.StatusConflict, "Email is already registered")
	case errors.Is(err, domain.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
	case errors.Is(err, domain.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, domain.ErrTokenInvalid), errors.Is(err, domain.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "Invalid or expired token")
	default:
		slog.ErrorContext(r.Context(), op, "error", err)
		writeError(w, http.StatusInternalServerError, "An unexpected error occurred. Please try again.")
	}
}
