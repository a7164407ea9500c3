package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs local
// development and the test suites; semantics (scoping, ErrNotFound,
// duplicate-name detection) match the PostgreSQL implementation.
type MemoryStore struct {
	mu          sync.RWMutex
	conferences map[string]*Conference
	config      map[string]map[string]string // conferenceID -> key -> value
	roles       map[string]*Role             // by role id
	users       map[string]*User
	profiles    map[string]*Profile
	sessions    map[string]*Session // by token
	rooms       map[string]*Room
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conferences: make(map[string]*Conference),
		config:      make(map[string]map[string]string),
		roles:       make(map[string]*Role),
		users:       make(map[string]*User),
		profiles:    make(map[string]*Profile),
		sessions:    make(map[string]*Session),
		rooms:       make(map[string]*Room),
	}
}

func newID() string {
	return uuid.NewString()
}

// PutConference inserts or replaces a conference record.
func (s *MemoryStore) PutConference(conf *Conference) *Conference {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conf.ID == "" {
		conf.ID = newID()
	}
	c := *conf
	s.conferences[c.ID] = &c
	return conf
}

// PutUser inserts or replaces a user record.
func (s *MemoryStore) PutUser(user *User) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == "" {
		user.ID = newID()
	}
	u := *user
	s.users[u.ID] = &u
	return user
}

// PutProfile inserts or replaces a profile record.
func (s *MemoryStore) PutProfile(profile *Profile) *Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if profile.ID == "" {
		profile.ID = newID()
	}
	p := *profile
	s.profiles[p.ID] = &p
	return profile
}

// PutSession inserts or replaces a session record.
func (s *MemoryStore) PutSession(sess *Session) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = newID()
	}
	c := *sess
	s.sessions[c.Token] = &c
	return sess
}

// PutRole inserts or replaces a role record without duplicate checking.
func (s *MemoryStore) PutRole(role *Role) *Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role.ID == "" {
		role.ID = newID()
	}
	r := cloneRole(role)
	s.roles[r.ID] = r
	return role
}

func (s *MemoryStore) GetConference(ctx context.Context, id string) (*Conference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conf, ok := s.conferences[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *conf
	return &c, nil
}

func (s *MemoryStore) ListConferences(ctx context.Context) ([]*Conference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Conference, 0, len(s.conferences))
	for _, conf := range s.conferences {
		c := *conf
		out = append(out, &c)
	}
	return out, nil
}

func (s *MemoryStore) ListConfig(ctx context.Context, conferenceID string) ([]ConfigEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]ConfigEntry, 0, len(s.config[conferenceID]))
	for k, v := range s.config[conferenceID] {
		entries = append(entries, ConfigEntry{ConferenceID: conferenceID, Key: k, Value: v})
	}
	return entries, nil
}

func (s *MemoryStore) SetConfig(ctx context.Context, entry ConfigEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config[entry.ConferenceID] == nil {
		s.config[entry.ConferenceID] = make(map[string]string)
	}
	s.config[entry.ConferenceID][entry.Key] = entry.Value
	return nil
}

func (s *MemoryStore) FindRoleByName(ctx context.Context, conferenceID, name string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, role := range s.roles {
		if role.ConferenceID == conferenceID && role.Name == name {
			return cloneRole(role), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) CreateRole(ctx context.Context, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.roles {
		if existing.ConferenceID == role.ConferenceID && existing.Name == role.Name {
			return ErrDuplicateName
		}
	}
	if role.ID == "" {
		role.ID = newID()
	}
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now()
	}
	s.roles[role.ID] = cloneRole(role)
	return nil
}

func (s *MemoryStore) UpdateRole(ctx context.Context, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role.ID]; !ok {
		return ErrNotFound
	}
	s.roles[role.ID] = cloneRole(role)
	return nil
}

func (s *MemoryStore) RolesForUser(ctx context.Context, conferenceID, userID string) ([]*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Role
	for _, role := range s.roles {
		if role.ConferenceID == conferenceID && role.HasUser(userID) {
			out = append(out, cloneRole(role))
		}
	}
	return out, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	u := *user
	return &u, nil
}

func (s *MemoryStore) UpdateUser(ctx context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return ErrNotFound
	}
	u := *user
	s.users[u.ID] = &u
	return nil
}

func (s *MemoryStore) GetProfile(ctx context.Context, conferenceID, id string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[id]
	if !ok || profile.ConferenceID != conferenceID {
		return nil, ErrNotFound
	}
	p := *profile
	return &p, nil
}

func (s *MemoryStore) FindProfileByUser(ctx context.Context, conferenceID, userID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, profile := range s.profiles {
		if profile.ConferenceID == conferenceID && profile.UserID == userID {
			p := *profile
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpdateProfile(ctx context.Context, profile *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[profile.ID]; !ok {
		return ErrNotFound
	}
	profile.UpdatedAt = time.Now()
	p := *profile
	s.profiles[p.ID] = &p
	return nil
}

func (s *MemoryStore) FindSessionByToken(ctx context.Context, token string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	if !ok {
		return nil, ErrNotFound
	}
	c := *sess
	return &c, nil
}

func (s *MemoryStore) GetRoom(ctx context.Context, conferenceID, id string) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	if !ok || room.ConferenceID != conferenceID {
		return nil, ErrNotFound
	}
	return cloneRoom(room), nil
}

func (s *MemoryStore) FindRoomByTwilioID(ctx context.Context, twilioRoomID string) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, room := range s.rooms {
		if room.TwilioRoomID != "" && room.TwilioRoomID == twilioRoomID {
			return cloneRoom(room), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListRooms(ctx context.Context, conferenceID string) ([]*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Room
	for _, room := range s.rooms {
		if room.ConferenceID == conferenceID {
			out = append(out, cloneRoom(room))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateRoom(ctx context.Context, room *Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room.ID == "" {
		room.ID = newID()
	}
	now := time.Now()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	room.UpdatedAt = now
	s.rooms[room.ID] = cloneRoom(room)
	return nil
}

func (s *MemoryStore) UpdateRoom(ctx context.Context, room *Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.ID]; !ok {
		return ErrNotFound
	}
	room.UpdatedAt = time.Now()
	s.rooms[room.ID] = cloneRoom(room)
	return nil
}

func (s *MemoryStore) DeleteRoom(ctx context.Context, conferenceID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok || room.ConferenceID != conferenceID {
		return ErrNotFound
	}
	delete(s.rooms, id)
	return nil
}

func cloneRole(role *Role) *Role {
	r := *role
	r.UserIDs = append([]string(nil), role.UserIDs...)
	r.GrantedRoleIDs = append([]string(nil), role.GrantedRoleIDs...)
	r.ACL = cloneACL(role.ACL)
	return &r
}

func cloneRoom(room *Room) *Room {
	r := *room
	r.MemberProfileIDs = append([]string(nil), room.MemberProfileIDs...)
	r.ACL = cloneACL(room.ACL)
	return &r
}

func cloneACL(acl ACL) ACL {
	out := ACL{PublicRead: acl.PublicRead}
	if acl.RoleRead != nil {
		out.RoleRead = make(map[string]bool, len(acl.RoleRead))
		for k, v := range acl.RoleRead {
			out.RoleRead[k] = v
		}
	}
	if acl.UserRead != nil {
		out.UserRead = make(map[string]bool, len(acl.UserRead))
		for k, v := range acl.UserRead {
			out.UserRead[k] = v
		}
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
