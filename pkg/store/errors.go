package store

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist or is
	// scoped to a different conference.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateName is returned when a create collides with an existing
	// record carrying the same unique name. Callers that create by
	// deterministic name treat this as "somebody else won the race" and
	// re-fetch instead of failing.
	ErrDuplicateName = errors.New("name already in use")
)

// IsNotFound reports whether err indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateName reports whether err indicates a unique-name collision.
func IsDuplicateName(err error) bool {
	return errors.Is(err, ErrDuplicateName)
}
