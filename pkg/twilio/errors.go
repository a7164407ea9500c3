package twilio

import (
	"errors"
	"fmt"
)

// Provider error codes greenroom reacts to. Anything else is surfaced
// unchanged.
const (
	CodeNotFound         = 20404
	CodeRateLimited      = 20429
	CodeChannelNameTaken = 50307
	CodeRoomNameTaken    = 53113
)

// Error is a typed provider error carrying the provider's numeric code and
// the HTTP status it arrived with.
type Error struct {
	Code     int    `json:"code"`
	Status   int    `json:"status"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("twilio: %s (code %d, status %d)", e.Message, e.Code, e.Status)
}

// IsRateLimited reports whether err is the provider's rate-limit error.
// This is the only error class the retry helper will retry.
func IsRateLimited(err error) bool {
	return hasCode(err, CodeRateLimited)
}

// IsNotFound reports whether err is a provider not-found error.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsNameTaken reports whether err indicates a unique-name collision on
// channel or room creation. Callers resolve these races by fetching the
// resource that now exists instead of propagating the error.
func IsNameTaken(err error) bool {
	return hasCode(err, CodeChannelNameTaken) || hasCode(err, CodeRoomNameTaken)
}

func hasCode(err error, code int) bool {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Code == code
	}
	return false
}
