package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/chat/create", strings.NewReader(`{"title":"Hallway Track"}`))
	var body struct {
		Title string `json:"title"`
	}
	require.NoError(t, ParseJSON(req, &body))
	assert.Equal(t, "Hallway Track", body.Title)
}

func TestParseJSONMalformed(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/chat/create", strings.NewReader(`{"title":`))
	var body map[string]interface{}
	err := ParseJSON(req, &body)
	require.Error(t, err)
	var herr *Error
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, http.StatusBadRequest, herr.Code)
}
