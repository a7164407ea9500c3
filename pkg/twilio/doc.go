// Package twilio defines the surface greenroom needs from the Twilio
// Programmable Chat and Video APIs: a narrow set of interfaces, a REST
// implementation over net/http, typed provider errors, the rate-limit retry
// helper, and access-token minting.
//
// The interfaces are deliberately small so the rest of the codebase can be
// exercised against the in-memory fake in the twiliotest subpackage.
package twilio
