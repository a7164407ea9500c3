// Package roles implements the conference-scoped role and permission
// engine. Role names are deterministic ("{conferenceID}-{suffix}"), so
// uniqueness falls out of the naming convention rather than coordination:
// a create that loses a race simply re-fetches the winner's role.
//
// Lookups of role records go through a bounded TTL cache. Membership
// queries never do; authorization decisions always read fresh state.
package roles
