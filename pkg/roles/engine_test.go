package roles

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenroom-live/greenroom/pkg/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewEngine(mem, logger, 64, time.Minute), mem
}

func seedAdminRole(t *testing.T, mem *store.MemoryStore, conferenceID string, userIDs ...string) *store.Role {
	t.Helper()
	return mem.PutRole(&store.Role{
		ConferenceID: conferenceID,
		Name:         Name(conferenceID, SuffixAdmin),
		UserIDs:      userIDs,
	})
}

func TestName(t *testing.T) {
	assert.Equal(t, "conf-1-moderator", Name("conf-1", SuffixModerator))
}

func TestAdminRoleNeverCreated(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.Admin(context.Background(), "conf-1")
	require.Error(t, err)
	var missing *MissingAdminRoleError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "conf-1", missing.ConferenceID)
}

func TestGetOrCreateCreatesWithAdminGrant(t *testing.T) {
	eng, mem := newTestEngine(t)
	admin := seedAdminRole(t, mem, "conf-1")

	role, err := eng.GetOrCreate(context.Background(), "conf-1", SuffixModerator)
	require.NoError(t, err)
	assert.Equal(t, "conf-1-moderator", role.Name)
	assert.True(t, role.ACL.PublicRead)
	assert.Equal(t, []string{admin.ID}, role.GrantedRoleIDs)

	// Second call resolves the same role.
	again, err := eng.GetOrCreate(context.Background(), "conf-1", SuffixModerator)
	require.NoError(t, err)
	assert.Equal(t, role.ID, again.ID)
}

func TestGetOrCreateReturnsExisting(t *testing.T) {
	eng, mem := newTestEngine(t)
	seedAdminRole(t, mem, "conf-1")
	existing := mem.PutRole(&store.Role{
		ConferenceID: "conf-1",
		Name:         Name("conf-1", SuffixConference),
		UserIDs:      []string{"user-1"},
	})

	role, err := eng.GetOrCreate(context.Background(), "conf-1", SuffixConference)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, role.ID)
	assert.True(t, role.HasUser("user-1"))
}

func TestGetOrCreateLosesRace(t *testing.T) {
	eng, mem := newTestEngine(t)
	seedAdminRole(t, mem, "conf-1")

	// Another creator wins between this engine's lookup and create. The
	// memory store enforces name uniqueness, so a cold engine that never
	// saw the role hits ErrDuplicateName and must converge on the winner.
	winner := mem.PutRole(&store.Role{
		ConferenceID: "conf-1",
		Name:         Name("conf-1", SuffixModerator),
	})

	role, err := eng.GetOrCreate(context.Background(), "conf-1", SuffixModerator)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, role.ID)
}

func TestUserInRolesFreshRead(t *testing.T) {
	eng, mem := newTestEngine(t)
	seedAdminRole(t, mem, "conf-1")
	modRole, err := eng.GetOrCreate(context.Background(), "conf-1", SuffixModerator)
	require.NoError(t, err)

	ok, err := eng.UserInRoles(context.Background(), "user-1", "conf-1", ModeratorNames("conf-1"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, eng.EnsureUserInRole(context.Background(), modRole, "user-1"))

	// Membership change is visible immediately; no cached answer.
	ok, err = eng.UserInRoles(context.Background(), "user-1", "conf-1", ModeratorNames("conf-1"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUserInRolesScopedToConference(t *testing.T) {
	eng, mem := newTestEngine(t)
	seedAdminRole(t, mem, "conf-1", "user-1")
	seedAdminRole(t, mem, "conf-2")

	ok, err := eng.IsModerator(context.Background(), "user-1", "conf-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = eng.IsModerator(context.Background(), "user-1", "conf-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsAdminOrManagerExcludesModerator(t *testing.T) {
	eng, mem := newTestEngine(t)
	seedAdminRole(t, mem, "conf-1")
	modRole, err := eng.GetOrCreate(context.Background(), "conf-1", SuffixModerator)
	require.NoError(t, err)
	require.NoError(t, eng.EnsureUserInRole(context.Background(), modRole, "user-1"))

	ok, err := eng.IsModerator(context.Background(), "user-1", "conf-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = eng.IsAdminOrManager(context.Background(), "user-1", "conf-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnsureUserInRoleIdempotent(t *testing.T) {
	eng, mem := newTestEngine(t)
	seedAdminRole(t, mem, "conf-1")
	role, err := eng.GetOrCreate(context.Background(), "conf-1", SuffixConference)
	require.NoError(t, err)

	require.NoError(t, eng.EnsureUserInRole(context.Background(), role, "user-1"))
	require.NoError(t, eng.EnsureUserInRole(context.Background(), role, "user-1"))

	fresh, err := mem.FindRoleByName(context.Background(), "conf-1", role.Name)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1"}, fresh.UserIDs)
}

func TestEnsureUserInRoleDoesNotMutateCachedRole(t *testing.T) {
	eng, mem := newTestEngine(t)
	seedAdminRole(t, mem, "conf-1")
	cached, err := eng.GetOrCreate(context.Background(), "conf-1", SuffixConference)
	require.NoError(t, err)

	require.NoError(t, eng.EnsureUserInRole(context.Background(), cached, "user-1"))
	require.NoError(t, eng.EnsureUserInRole(context.Background(), cached, "user-2"))

	// The object handed in (and previously cached) stays untouched;
	// readers holding it never observe a concurrent append.
	assert.Empty(t, cached.UserIDs)

	// Successive adds against the same stale pointer accumulate, because
	// each write starts from the freshest record.
	fresh, err := eng.GetOrCreate(context.Background(), "conf-1", SuffixConference)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user-1", "user-2"}, fresh.UserIDs)
}

func TestRoleNamesForUser(t *testing.T) {
	eng, mem := newTestEngine(t)
	seedAdminRole(t, mem, "conf-1", "user-1")
	confRole, err := eng.GetOrCreate(context.Background(), "conf-1", SuffixConference)
	require.NoError(t, err)
	require.NoError(t, eng.EnsureUserInRole(context.Background(), confRole, "user-1"))

	names, err := eng.RoleNamesForUser(context.Background(), "user-1", "conf-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"conf-1-admin", "conf-1-conference"}, names)
}
