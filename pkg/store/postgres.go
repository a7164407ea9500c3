package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store on top of database/sql with the lib/pq
// driver. ACLs are stored as JSONB; membership lists as text arrays.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == uniqueViolation
	}
	return false
}

func marshalACL(acl ACL) ([]byte, error) {
	data, err := json.Marshal(acl)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal acl: %w", err)
	}
	return data, nil
}

func unmarshalACL(data []byte, acl *ACL) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, acl); err != nil {
		return fmt.Errorf("failed to unmarshal acl: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConference(ctx context.Context, id string) (*Conference, error) {
	query := `
		SELECT id, name, owner_account_id, created_at, updated_at
		FROM conferences
		WHERE id = $1
	`
	conf := &Conference{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conf.ID, &conf.Name, &conf.OwnerAccountID, &conf.CreatedAt, &conf.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conference: %w", err)
	}
	return conf, nil
}

func (s *PostgresStore) ListConferences(ctx context.Context) ([]*Conference, error) {
	query := `
		SELECT id, name, owner_account_id, created_at, updated_at
		FROM conferences
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list conferences: %w", err)
	}
	defer rows.Close()

	var out []*Conference
	for rows.Next() {
		conf := &Conference{}
		if err := rows.Scan(&conf.ID, &conf.Name, &conf.OwnerAccountID, &conf.CreatedAt, &conf.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conference: %w", err)
		}
		out = append(out, conf)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListConfig(ctx context.Context, conferenceID string) ([]ConfigEntry, error) {
	query := `SELECT conference_id, key, value FROM conference_config WHERE conference_id = $1`
	rows, err := s.db.QueryContext(ctx, query, conferenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list config: %w", err)
	}
	defer rows.Close()

	var entries []ConfigEntry
	for rows.Next() {
		var e ConfigEntry
		if err := rows.Scan(&e.ConferenceID, &e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("failed to scan config entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) SetConfig(ctx context.Context, entry ConfigEntry) error {
	query := `
		INSERT INTO conference_config (conference_id, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (conference_id, key) DO UPDATE SET value = EXCLUDED.value
	`
	if _, err := s.db.ExecContext(ctx, query, entry.ConferenceID, entry.Key, entry.Value); err != nil {
		return fmt.Errorf("failed to set config: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindRoleByName(ctx context.Context, conferenceID, name string) (*Role, error) {
	query := `
		SELECT id, conference_id, name, user_ids, granted_role_ids, acl, created_at
		FROM roles
		WHERE conference_id = $1 AND name = $2
	`
	return s.scanRole(s.db.QueryRowContext(ctx, query, conferenceID, name))
}

func (s *PostgresStore) scanRole(row *sql.Row) (*Role, error) {
	role := &Role{}
	var aclJSON []byte
	err := row.Scan(
		&role.ID, &role.ConferenceID, &role.Name,
		pq.Array(&role.UserIDs), pq.Array(&role.GrantedRoleIDs),
		&aclJSON, &role.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	if err := unmarshalACL(aclJSON, &role.ACL); err != nil {
		return nil, err
	}
	return role, nil
}

func (s *PostgresStore) CreateRole(ctx context.Context, role *Role) error {
	if role.ID == "" {
		role.ID = newID()
	}
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now()
	}
	aclJSON, err := marshalACL(role.ACL)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO roles (id, conference_id, name, user_ids, granted_role_ids, acl, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.ExecContext(ctx, query,
		role.ID, role.ConferenceID, role.Name,
		pq.Array(role.UserIDs), pq.Array(role.GrantedRoleIDs),
		aclJSON, role.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateName
	}
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRole(ctx context.Context, role *Role) error {
	aclJSON, err := marshalACL(role.ACL)
	if err != nil {
		return err
	}
	query := `
		UPDATE roles SET user_ids = $2, granted_role_ids = $3, acl = $4
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, role.ID,
		pq.Array(role.UserIDs), pq.Array(role.GrantedRoleIDs), aclJSON)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) RolesForUser(ctx context.Context, conferenceID, userID string) ([]*Role, error) {
	query := `
		SELECT id, conference_id, name, user_ids, granted_role_ids, acl, created_at
		FROM roles
		WHERE conference_id = $1 AND $2 = ANY(user_ids)
	`
	rows, err := s.db.QueryContext(ctx, query, conferenceID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles for user: %w", err)
	}
	defer rows.Close()

	var out []*Role
	for rows.Next() {
		role := &Role{}
		var aclJSON []byte
		if err := rows.Scan(
			&role.ID, &role.ConferenceID, &role.Name,
			pq.Array(&role.UserIDs), pq.Array(&role.GrantedRoleIDs),
			&aclJSON, &role.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		if err := unmarshalACL(aclJSON, &role.ACL); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `SELECT id, email, display_name, acl, created_at FROM users WHERE id = $1`
	user := &User{}
	var aclJSON []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.DisplayName, &aclJSON, &user.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if err := unmarshalACL(aclJSON, &user.ACL); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, user *User) error {
	aclJSON, err := marshalACL(user.ACL)
	if err != nil {
		return err
	}
	query := `UPDATE users SET email = $2, display_name = $3, acl = $4 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, user.ID, user.Email, user.DisplayName, aclJSON)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) GetProfile(ctx context.Context, conferenceID, id string) (*Profile, error) {
	query := `
		SELECT id, conference_id, user_id, display_name, is_banned, acl, created_at, updated_at
		FROM profiles
		WHERE conference_id = $1 AND id = $2
	`
	return s.scanProfile(s.db.QueryRowContext(ctx, query, conferenceID, id))
}

func (s *PostgresStore) FindProfileByUser(ctx context.Context, conferenceID, userID string) (*Profile, error) {
	query := `
		SELECT id, conference_id, user_id, display_name, is_banned, acl, created_at, updated_at
		FROM profiles
		WHERE conference_id = $1 AND user_id = $2
	`
	return s.scanProfile(s.db.QueryRowContext(ctx, query, conferenceID, userID))
}

func (s *PostgresStore) scanProfile(row *sql.Row) (*Profile, error) {
	profile := &Profile{}
	var aclJSON []byte
	err := row.Scan(
		&profile.ID, &profile.ConferenceID, &profile.UserID, &profile.DisplayName,
		&profile.IsBanned, &aclJSON, &profile.CreatedAt, &profile.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if err := unmarshalACL(aclJSON, &profile.ACL); err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, profile *Profile) error {
	aclJSON, err := marshalACL(profile.ACL)
	if err != nil {
		return err
	}
	query := `
		UPDATE profiles SET display_name = $2, is_banned = $3, acl = $4, updated_at = NOW()
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, profile.ID, profile.DisplayName, profile.IsBanned, aclJSON)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) FindSessionByToken(ctx context.Context, token string) (*Session, error) {
	query := `SELECT id, token, user_id, created_at, expires_at FROM sessions WHERE token = $1`
	sess := &Session{}
	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&sess.ID, &sess.Token, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return sess, nil
}

const roomColumns = `id, conference_id, title, twilio_room_id, twilio_chat_id, capacity,
		persistence, is_private, member_profile_ids, acl, created_at, updated_at`

func (s *PostgresStore) GetRoom(ctx context.Context, conferenceID, id string) (*Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE conference_id = $1 AND id = $2`
	return s.scanRoom(s.db.QueryRowContext(ctx, query, conferenceID, id))
}

func (s *PostgresStore) FindRoomByTwilioID(ctx context.Context, twilioRoomID string) (*Room, error) {
	if twilioRoomID == "" {
		return nil, ErrNotFound
	}
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE twilio_room_id = $1`
	return s.scanRoom(s.db.QueryRowContext(ctx, query, twilioRoomID))
}

func (s *PostgresStore) scanRoom(row *sql.Row) (*Room, error) {
	room := &Room{}
	var aclJSON []byte
	err := row.Scan(
		&room.ID, &room.ConferenceID, &room.Title, &room.TwilioRoomID, &room.TwilioChatID,
		&room.Capacity, &room.Persistence, &room.IsPrivate,
		pq.Array(&room.MemberProfileIDs), &aclJSON, &room.CreatedAt, &room.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	if err := unmarshalACL(aclJSON, &room.ACL); err != nil {
		return nil, err
	}
	return room, nil
}

func (s *PostgresStore) ListRooms(ctx context.Context, conferenceID string) ([]*Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE conference_id = $1 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, conferenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var out []*Room
	for rows.Next() {
		room := &Room{}
		var aclJSON []byte
		if err := rows.Scan(
			&room.ID, &room.ConferenceID, &room.Title, &room.TwilioRoomID, &room.TwilioChatID,
			&room.Capacity, &room.Persistence, &room.IsPrivate,
			pq.Array(&room.MemberProfileIDs), &aclJSON, &room.CreatedAt, &room.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		if err := unmarshalACL(aclJSON, &room.ACL); err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateRoom(ctx context.Context, room *Room) error {
	if room.ID == "" {
		room.ID = newID()
	}
	now := time.Now()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	room.UpdatedAt = now
	aclJSON, err := marshalACL(room.ACL)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO rooms (` + roomColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.ExecContext(ctx, query,
		room.ID, room.ConferenceID, room.Title, room.TwilioRoomID, room.TwilioChatID,
		room.Capacity, room.Persistence, room.IsPrivate,
		pq.Array(room.MemberProfileIDs), aclJSON, room.CreatedAt, room.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRoom(ctx context.Context, room *Room) error {
	aclJSON, err := marshalACL(room.ACL)
	if err != nil {
		return err
	}
	query := `
		UPDATE rooms SET title = $2, twilio_room_id = $3, twilio_chat_id = $4, capacity = $5,
			persistence = $6, is_private = $7, member_profile_ids = $8, acl = $9, updated_at = NOW()
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		room.ID, room.Title, room.TwilioRoomID, room.TwilioChatID, room.Capacity,
		room.Persistence, room.IsPrivate, pq.Array(room.MemberProfileIDs), aclJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to update room: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) DeleteRoom(ctx context.Context, conferenceID, id string) error {
	query := `DELETE FROM rooms WHERE conference_id = $1 AND id = $2`
	res, err := s.db.ExecContext(ctx, query, conferenceID, id)
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
