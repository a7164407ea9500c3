package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteStatus(rec, http.StatusForbidden, "Permission denied.")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"Permission denied."}`, rec.Body.String())
}

func TestWriteRequestErrorTyped(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat/create", nil)

	WriteRequestError(rec, logger, req, BadRequest("Missing request parameter(s)."))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"status":"Missing request parameter(s)."}`, rec.Body.String())
}

func TestWriteRequestErrorWrapped(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat/create", nil)

	wrapped := errors.Join(Forbidden("Access denied."))
	WriteRequestError(rec, logger, req, wrapped)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWriteRequestErrorOpaque(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/video/token", nil)

	WriteRequestError(rec, logger, req, errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "connection refused")
	assert.JSONEq(t, `{"status":"An internal server error occurred."}`, rec.Body.String())
}
