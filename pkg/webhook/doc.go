// Package webhook implements the provider event state machines: chat
// membership/role routing and the video room lifecycle.
//
// Both machines are decision logic over store state. The HTTP layer
// decodes the provider's form payload, resolves the conference named in
// the callback URL and hands the event over; a returned request error
// means reject (the provider honors 403 on pre-event hooks), nil means
// accept. Events arrive at-least-once and unordered, so every transition
// is written to be idempotent.
package webhook
