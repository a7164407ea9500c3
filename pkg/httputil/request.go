package httputil

import (
	"encoding/json"
	"net/http"
)

// maxBodyBytes caps request bodies; chat payloads are small and webhook
// bodies smaller still.
const maxBodyBytes = 1 << 20

// ParseJSON decodes the request body into dest. Failures come back as a
// typed 400 refusal ready to write.
func ParseJSON(r *http.Request, dest interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return BadRequest("Invalid request body.")
	}
	return nil
}
