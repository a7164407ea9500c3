package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/greenroom-live/greenroom/pkg/conference"
	"github.com/greenroom-live/greenroom/pkg/store"
	"github.com/greenroom-live/greenroom/pkg/twilio"
)

// Sentinel errors for the three refusal classes. The HTTP layer maps them
// to 401, 400 and 403 with their canonical status strings.
var (
	ErrInvalidSession    = errors.New("Invalid session token.")
	ErrInvalidConference = errors.New("Invalid conference.")
	ErrPermissionDenied  = errors.New("Permission denied.")
)

// IsInvalidSession reports whether err is a session-token refusal.
func IsInvalidSession(err error) bool { return errors.Is(err, ErrInvalidSession) }

// IsInvalidConference reports whether err is a conference refusal.
func IsInvalidConference(err error) bool { return errors.Is(err, ErrInvalidConference) }

// IsPermissionDenied reports whether err is a profile-level refusal.
func IsPermissionDenied(err error) bool { return errors.Is(err, ErrPermissionDenied) }

// Context is a resolved request context. Everything a chat or video
// operation needs is here; handlers never reach back to the stores for
// identity data.
type Context struct {
	Session    *store.Session
	User       *store.User
	Conference *store.Conference
	Config     *conference.Config
	Client     twilio.Client
	Profile    *store.Profile
}

// Resolver turns (session token, conference id) pairs into request
// contexts.
type Resolver struct {
	store       store.Store
	conferences *conference.Resolver
	now         func() time.Time
}

// NewResolver builds a Resolver.
func NewResolver(st store.Store, conferences *conference.Resolver) *Resolver {
	return &Resolver{store: st, conferences: conferences, now: time.Now}
}

// Resolve authenticates the session token, warms the conference, and loads
// the caller's profile. A missing or expired session yields
// ErrInvalidSession; an unknown or misconfigured conference yields
// ErrInvalidConference; a missing or banned profile yields
// ErrPermissionDenied.
func (r *Resolver) Resolve(ctx context.Context, sessionToken, conferenceID string) (*Context, error) {
	if sessionToken == "" {
		return nil, ErrInvalidSession
	}
	sess, err := r.store.FindSessionByToken(ctx, sessionToken)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, ErrInvalidSession
		}
		return nil, fmt.Errorf("look up session: %w", err)
	}
	if !sess.ExpiresAt.IsZero() && sess.ExpiresAt.Before(r.now()) {
		return nil, ErrInvalidSession
	}

	if conferenceID == "" {
		return nil, ErrInvalidConference
	}
	resolved, err := r.conferences.Resolve(ctx, conferenceID)
	if err != nil {
		if store.IsNotFound(err) || conference.IsMissingConfig(err) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidConference, conferenceID)
		}
		return nil, fmt.Errorf("resolve conference %s: %w", conferenceID, err)
	}

	user, err := r.store.GetUser(ctx, sess.UserID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, ErrInvalidSession
		}
		return nil, fmt.Errorf("look up user %s: %w", sess.UserID, err)
	}

	profile, err := r.store.FindProfileByUser(ctx, conferenceID, user.ID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, ErrPermissionDenied
		}
		return nil, fmt.Errorf("look up profile for user %s: %w", user.ID, err)
	}
	if profile.IsBanned {
		return nil, ErrPermissionDenied
	}

	return &Context{
		Session:    sess,
		User:       user,
		Conference: resolved.Conference,
		Config:     resolved.Config,
		Client:     resolved.Client,
		Profile:    profile,
	}, nil
}
