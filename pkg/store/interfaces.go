package store

import "context"

// ConferenceRepo reads conference records. Conferences are created by an
// onboarding flow outside this service and never deleted in-process.
type ConferenceRepo interface {
	GetConference(ctx context.Context, id string) (*Conference, error)
	ListConferences(ctx context.Context) ([]*Conference, error)
}

// ConfigRepo reads and writes per-conference configuration rows.
type ConfigRepo interface {
	ListConfig(ctx context.Context, conferenceID string) ([]ConfigEntry, error)
	SetConfig(ctx context.Context, entry ConfigEntry) error
}

// RoleRepo manages conference-scoped roles and their membership.
type RoleRepo interface {
	// FindRoleByName returns ErrNotFound when no role carries the name.
	FindRoleByName(ctx context.Context, conferenceID, name string) (*Role, error)
	// CreateRole returns ErrDuplicateName when the deterministic name is
	// already taken by a concurrent creator.
	CreateRole(ctx context.Context, role *Role) error
	UpdateRole(ctx context.Context, role *Role) error
	// RolesForUser returns every role in the conference that lists the user
	// as a direct member. Always a fresh read; authorization decisions must
	// not see stale membership.
	RolesForUser(ctx context.Context, conferenceID, userID string) ([]*Role, error)
}

// UserRepo reads global user records.
type UserRepo interface {
	GetUser(ctx context.Context, id string) (*User, error)
	UpdateUser(ctx context.Context, user *User) error
}

// ProfileRepo manages conference-scoped user profiles.
type ProfileRepo interface {
	GetProfile(ctx context.Context, conferenceID, id string) (*Profile, error)
	FindProfileByUser(ctx context.Context, conferenceID, userID string) (*Profile, error)
	UpdateProfile(ctx context.Context, profile *Profile) error
}

// SessionRepo looks up sessions by their opaque token.
type SessionRepo interface {
	FindSessionByToken(ctx context.Context, token string) (*Session, error)
}

// RoomRepo manages conference-scoped video room records.
type RoomRepo interface {
	GetRoom(ctx context.Context, conferenceID, id string) (*Room, error)
	FindRoomByTwilioID(ctx context.Context, twilioRoomID string) (*Room, error)
	ListRooms(ctx context.Context, conferenceID string) ([]*Room, error)
	CreateRoom(ctx context.Context, room *Room) error
	UpdateRoom(ctx context.Context, room *Room) error
	DeleteRoom(ctx context.Context, conferenceID, id string) error
}

// Store aggregates every repository the service needs.
type Store interface {
	ConferenceRepo
	ConfigRepo
	RoleRepo
	UserRepo
	ProfileRepo
	SessionRepo
	RoomRepo
}
