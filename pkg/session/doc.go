// Package session resolves the per-request context every chat and video
// operation starts from: the caller's session token plus a conference id
// become a warmed conference, its configuration and provider client, and
// the caller's conference profile. Banned profiles never get past this
// step.
package session
