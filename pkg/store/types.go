package store

import (
	"time"
)

// Persistence controls a room's lifecycle once its remote session ends.
type Persistence string

const (
	// PersistenceEphemeral rooms are destroyed when the remote room ends.
	PersistenceEphemeral Persistence = "ephemeral"
	// PersistencePersistent rooms detach from the ended remote room and can
	// be recreated on the next token request.
	PersistencePersistent Persistence = "persistent"
)

// Conference is one isolated conference instance, the top-level scoping unit
// for roles, rooms, channels and configuration.
type Conference struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	OwnerAccountID string    `json:"owner_account_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ConfigEntry is one key/value configuration row scoped to a conference.
type ConfigEntry struct {
	ConferenceID string `json:"conference_id"`
	Key          string `json:"key"`
	Value        string `json:"value"`
}

// Role is a named, conference-scoped capability grouping. Role names follow
// the deterministic "{conferenceID}-{suffix}" convention; uniqueness is
// enforced by that naming, not a separate index.
type Role struct {
	ID           string    `json:"id"`
	ConferenceID string    `json:"conference_id"`
	Name         string    `json:"name"`
	UserIDs      []string  `json:"user_ids"`
	// GrantedRoleIDs are roles whose members inherit this role's privileges.
	GrantedRoleIDs []string  `json:"granted_role_ids"`
	ACL            ACL       `json:"acl"`
	CreatedAt      time.Time `json:"created_at"`
}

// HasUser reports whether the user is a direct member of the role.
func (r *Role) HasUser(userID string) bool {
	for _, id := range r.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// User is a global user identity. Chat and video never see this id directly;
// the provider-facing identity is always a Profile id.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	ACL         ACL       `json:"acl"`
	CreatedAt   time.Time `json:"created_at"`
}

// Profile is the conference-scoped projection of a User. At most one Profile
// exists per (user, conference) pair.
type Profile struct {
	ID           string    `json:"id"`
	ConferenceID string    `json:"conference_id"`
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	IsBanned     bool      `json:"is_banned"`
	ACL          ACL       `json:"acl"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Session is an authenticated user session, looked up by its opaque token.
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Room is a conference-scoped video room. TwilioRoomID is empty until the
// room is first used, and is cleared again when the remote room ends (for
// persistent rooms). MemberProfileIDs mirrors the provider's participant
// list and is maintained by webhook events, not polling.
type Room struct {
	ID               string      `json:"id"`
	ConferenceID     string      `json:"conference_id"`
	Title            string      `json:"title"`
	TwilioRoomID     string      `json:"twilio_room_id,omitempty"`
	TwilioChatID     string      `json:"twilio_chat_id,omitempty"`
	Capacity         int         `json:"capacity"`
	Persistence      Persistence `json:"persistence"`
	IsPrivate        bool        `json:"is_private"`
	MemberProfileIDs []string    `json:"member_profile_ids"`
	ACL              ACL         `json:"acl"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// HasMember reports whether the profile id is in the room's member list.
func (r *Room) HasMember(profileID string) bool {
	for _, id := range r.MemberProfileIDs {
		if id == profileID {
			return true
		}
	}
	return false
}

// AddMember appends the profile id if not already present and reports
// whether the list changed.
func (r *Room) AddMember(profileID string) bool {
	if r.HasMember(profileID) {
		return false
	}
	r.MemberProfileIDs = append(r.MemberProfileIDs, profileID)
	return true
}

// RemoveMember removes the profile id if present and reports whether the
// list changed.
func (r *Room) RemoveMember(profileID string) bool {
	for i, id := range r.MemberProfileIDs {
		if id == profileID {
			r.MemberProfileIDs = append(r.MemberProfileIDs[:i], r.MemberProfileIDs[i+1:]...)
			return true
		}
	}
	return false
}
