// Package store defines the typed repositories for greenroom's persisted
// entities (conferences, configuration, roles, profiles, sessions, rooms)
// and provides two implementations: an in-memory store used by tests and
// local development, and a PostgreSQL-backed store for production.
//
// Every entity is scoped to a conference. Row visibility is modelled with a
// lightweight ACL value carried on the records that need one; authorization
// decisions belong to pkg/roles, the ACL only answers "may this user see
// this row".
package store
