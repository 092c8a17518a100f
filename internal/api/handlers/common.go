package handlers

import (
	"encoding/json"
	"net/http"

	"golang.org/x/xerrors"

	"minder/internal/ledger"
)

// JSON sends a JSON response
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response in the shared envelope shape
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// ErrorDetails sends a JSON error response with extra details
func ErrorDetails(w http.ResponseWriter, status int, message, details string) {
	JSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
		"details": details,
	})
}

// ParseJSON decodes JSON from request body
func ParseJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// ServiceError maps ledger/unlock sentinel errors to HTTP statuses.
func ServiceError(w http.ResponseWriter, err error) {
	switch {
	case xerrors.Is(err, ledger.ErrNotFound):
		Error(w, http.StatusNotFound, "user not found")
	case xerrors.Is(err, ledger.ErrValidation):
		Error(w, http.StatusBadRequest, err.Error())
	case xerrors.Is(err, ledger.ErrPrecondition):
		Error(w, http.StatusPreconditionFailed, err.Error())
	case xerrors.Is(err, ledger.ErrForbidden):
		Error(w, http.StatusForbidden, err.Error())
	default:
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
