package roles

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/greenroom-live/greenroom/pkg/store"
)

// Role name suffixes. The admin role is provisioned at conference
// onboarding; the others are created on first use.
const (
	SuffixAdmin      = "admin"
	SuffixManager    = "manager"
	SuffixModerator  = "moderator"
	SuffixConference = "conference"
)

// Name builds the deterministic role name for a conference and suffix.
func Name(conferenceID, suffix string) string {
	return conferenceID + "-" + suffix
}

// ModeratorNames returns the role names whose members may moderate the
// conference.
func ModeratorNames(conferenceID string) []string {
	return []string{
		Name(conferenceID, SuffixAdmin),
		Name(conferenceID, SuffixManager),
		Name(conferenceID, SuffixModerator),
	}
}

// MissingAdminRoleError reports a conference whose admin role was never
// provisioned. This is a tenant-configuration fault, not a recoverable
// request error.
type MissingAdminRoleError struct {
	ConferenceID string
}

func (e *MissingAdminRoleError) Error() string {
	return fmt.Sprintf("roles: admin role missing for conference %s", e.ConferenceID)
}

// Engine resolves and creates conference roles and answers membership
// queries.
type Engine struct {
	repo   store.RoleRepo
	logger *logrus.Logger
	cache  *expirable.LRU[string, *store.Role]
}

// NewEngine builds an Engine with a role-record cache of the given capacity
// and TTL.
func NewEngine(repo store.RoleRepo, logger *logrus.Logger, cacheSize int, cacheTTL time.Duration) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	return &Engine{
		repo:   repo,
		logger: logger,
		cache:  expirable.NewLRU[string, *store.Role](cacheSize, nil, cacheTTL),
	}
}

// Admin returns the conference's admin role. The role is looked up, never
// created; its absence means the conference was onboarded incorrectly.
func (e *Engine) Admin(ctx context.Context, conferenceID string) (*store.Role, error) {
	name := Name(conferenceID, SuffixAdmin)
	if role, ok := e.cache.Get(name); ok {
		return role, nil
	}
	role, err := e.repo.FindRoleByName(ctx, conferenceID, name)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, &MissingAdminRoleError{ConferenceID: conferenceID}
		}
		return nil, fmt.Errorf("find admin role: %w", err)
	}
	e.cache.Add(name, role)
	return role, nil
}

// GetOrCreate resolves the role for the suffix, creating it on first use.
// New roles get a public-read ACL so conference members can see membership,
// and grant the admin role inherited privileges. Losing a creation race is
// handled by re-fetching the role the winner created.
func (e *Engine) GetOrCreate(ctx context.Context, conferenceID, suffix string) (*store.Role, error) {
	name := Name(conferenceID, suffix)
	if role, ok := e.cache.Get(name); ok {
		return role, nil
	}

	role, err := e.repo.FindRoleByName(ctx, conferenceID, name)
	if err == nil {
		e.cache.Add(name, role)
		return role, nil
	}
	if !store.IsNotFound(err) {
		return nil, fmt.Errorf("find role %s: %w", name, err)
	}

	admin, err := e.Admin(ctx, conferenceID)
	if err != nil {
		return nil, err
	}

	acl := store.NewACL()
	acl.GrantPublicRead()
	role = &store.Role{
		ConferenceID:   conferenceID,
		Name:           name,
		GrantedRoleIDs: []string{admin.ID},
		ACL:            acl,
	}
	if err := e.repo.CreateRole(ctx, role); err != nil {
		if !store.IsDuplicateName(err) {
			return nil, fmt.Errorf("create role %s: %w", name, err)
		}
		e.logger.WithFields(logrus.Fields{
			"conference": conferenceID,
			"role":       name,
		}).Info("lost role creation race, using existing role")
		role, err = e.repo.FindRoleByName(ctx, conferenceID, name)
		if err != nil {
			return nil, fmt.Errorf("refetch role %s after duplicate: %w", name, err)
		}
	}
	e.cache.Add(name, role)
	return role, nil
}

// UserInRoles reports whether the user is a direct member of any of the
// named roles. Always a fresh read.
func (e *Engine) UserInRoles(ctx context.Context, userID, conferenceID string, names []string) (bool, error) {
	if len(names) == 0 {
		return false, nil
	}
	memberships, err := e.repo.RolesForUser(ctx, conferenceID, userID)
	if err != nil {
		return false, fmt.Errorf("list roles for user %s: %w", userID, err)
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	for _, role := range memberships {
		if wanted[role.Name] {
			return true, nil
		}
	}
	return false, nil
}

// IsModerator reports whether the user holds any moderating role (admin,
// manager or moderator).
func (e *Engine) IsModerator(ctx context.Context, userID, conferenceID string) (bool, error) {
	return e.UserInRoles(ctx, userID, conferenceID, ModeratorNames(conferenceID))
}

// IsAdminOrManager reports whether the user holds the admin or manager
// role.
func (e *Engine) IsAdminOrManager(ctx context.Context, userID, conferenceID string) (bool, error) {
	return e.UserInRoles(ctx, userID, conferenceID, []string{
		Name(conferenceID, SuffixAdmin),
		Name(conferenceID, SuffixManager),
	})
}

// EnsureUserInRole adds the user to the role if not already a member.
// The handed role may be the cached object shared with concurrent
// readers, so the membership write goes through a freshly fetched copy
// and the cache is repointed at that copy. Idempotent.
func (e *Engine) EnsureUserInRole(ctx context.Context, role *store.Role, userID string) error {
	if role.HasUser(userID) {
		return nil
	}
	current, err := e.repo.FindRoleByName(ctx, role.ConferenceID, role.Name)
	if err != nil {
		return fmt.Errorf("fetch role %s: %w", role.Name, err)
	}
	if !current.HasUser(userID) {
		current.UserIDs = append(current.UserIDs, userID)
		if err := e.repo.UpdateRole(ctx, current); err != nil {
			return fmt.Errorf("add user %s to role %s: %w", userID, role.Name, err)
		}
	}
	e.cache.Add(current.Name, current)
	return nil
}

// RoleNamesForUser lists the names of the user's roles in the conference,
// for ACL evaluation.
func (e *Engine) RoleNamesForUser(ctx context.Context, userID, conferenceID string) ([]string, error) {
	memberships, err := e.repo.RolesForUser(ctx, conferenceID, userID)
	if err != nil {
		return nil, fmt.Errorf("list roles for user %s: %w", userID, err)
	}
	names := make([]string, 0, len(memberships))
	for _, role := range memberships {
		names = append(names, role.Name)
	}
	return names, nil
}
