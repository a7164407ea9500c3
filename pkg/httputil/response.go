package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Error is a request refusal carrying the HTTP status code to answer with
// and the human-readable status string for the response body.
type Error struct {
	Code   int
	Status string
}

func (e *Error) Error() string { return e.Status }

// BadRequest builds a 400 refusal.
func BadRequest(status string) *Error {
	return &Error{Code: http.StatusBadRequest, Status: status}
}

// Unauthorized builds a 401 refusal.
func Unauthorized(status string) *Error {
	return &Error{Code: http.StatusUnauthorized, Status: status}
}

// Forbidden builds a 403 refusal.
func Forbidden(status string) *Error {
	return &Error{Code: http.StatusForbidden, Status: status}
}

// NotFound builds a 404 refusal.
func NotFound(status string) *Error {
	return &Error{Code: http.StatusNotFound, Status: status}
}

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteStatus writes the conventional {"status": message} body.
func WriteStatus(w http.ResponseWriter, code int, message string) {
	WriteJSON(w, code, map[string]string{"status": message})
}

// WriteRequestError answers a failed request. Typed refusals keep their
// code and status string; anything else is logged and answered as an
// opaque 500 so internal details never leak to clients.
func WriteRequestError(w http.ResponseWriter, logger *logrus.Logger, r *http.Request, err error) {
	var herr *Error
	if errors.As(err, &herr) {
		WriteStatus(w, herr.Code, herr.Status)
		return
	}
	logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"error":  err,
	}).Error("request failed")
	WriteStatus(w, http.StatusInternalServerError, "An internal server error occurred.")
}
