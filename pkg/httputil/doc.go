// Package httputil provides the HTTP plumbing shared by every handler:
// JSON encoding, the "status" error payload convention, request decoding,
// and typed request errors that carry their HTTP status code.
package httputil
