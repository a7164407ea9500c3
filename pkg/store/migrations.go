package store

import (
	"database/sql"
	"fmt"
)

// migrations are applied in order at startup. Statements are idempotent so
// re-running on an existing database is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS conferences (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner_account_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS conference_config (
		conference_id TEXT NOT NULL REFERENCES conferences(id),
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (conference_id, key)
	)`,
	`CREATE TABLE IF NOT EXISTS roles (
		id TEXT PRIMARY KEY,
		conference_id TEXT NOT NULL REFERENCES conferences(id),
		name TEXT NOT NULL,
		user_ids TEXT[] NOT NULL DEFAULT '{}',
		granted_role_ids TEXT[] NOT NULL DEFAULT '{}',
		acl JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (conference_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		acl JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		conference_id TEXT NOT NULL REFERENCES conferences(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		display_name TEXT NOT NULL DEFAULT '',
		is_banned BOOLEAN NOT NULL DEFAULT FALSE,
		acl JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (conference_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		token TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL REFERENCES users(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		conference_id TEXT NOT NULL REFERENCES conferences(id),
		title TEXT NOT NULL,
		twilio_room_id TEXT NOT NULL DEFAULT '',
		twilio_chat_id TEXT NOT NULL DEFAULT '',
		capacity INTEGER NOT NULL DEFAULT 10,
		persistence TEXT NOT NULL DEFAULT 'ephemeral',
		is_private BOOLEAN NOT NULL DEFAULT FALSE,
		member_profile_ids TEXT[] NOT NULL DEFAULT '{}',
		acl JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rooms_twilio_room_id ON rooms(twilio_room_id) WHERE twilio_room_id <> ''`,
	`CREATE INDEX IF NOT EXISTS idx_rooms_conference ON rooms(conference_id)`,
	`CREATE INDEX IF NOT EXISTS idx_profiles_conference_user ON profiles(conference_id, user_id)`,
}

// Migrate applies the schema to the database.
func Migrate(db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
