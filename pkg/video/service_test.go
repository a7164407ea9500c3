package video

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenroom-live/greenroom/pkg/conference"
	"github.com/greenroom-live/greenroom/pkg/httputil"
	"github.com/greenroom-live/greenroom/pkg/roles"
	"github.com/greenroom-live/greenroom/pkg/session"
	"github.com/greenroom-live/greenroom/pkg/store"
	"github.com/greenroom-live/greenroom/pkg/twilio"
	"github.com/greenroom-live/greenroom/pkg/twilio/twiliotest"
)

const (
	testConfID  = "conf1"
	testService = "IS1"
)

type videoFixture struct {
	store *store.MemoryStore
	fake  *twiliotest.Fake
	video *twiliotest.FakeVideoService
	svc   *Service
}

func newVideoFixture(t *testing.T) *videoFixture {
	t.Helper()

	st := store.NewMemoryStore()
	st.PutConference(&store.Conference{ID: testConfID, Name: "Test Conference"})

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	fake := twiliotest.NewFake("AC1")
	engine := roles.NewEngine(st, logger, 16, time.Minute)
	retry := twilio.NewRetryer(twilio.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}, logger)

	return &videoFixture{
		store: st,
		fake:  fake,
		video: fake.VideoFake(),
		svc:   NewService(st, engine, retry, logger),
	}
}

func (f *videoFixture) sessionFor(profileID string) *session.Context {
	userID := "user-" + profileID
	user := f.store.PutUser(&store.User{ID: userID, DisplayName: profileID})
	profile := f.store.PutProfile(&store.Profile{
		ID:           profileID,
		ConferenceID: testConfID,
		UserID:       userID,
		DisplayName:  profileID,
	})
	sess := f.store.PutSession(&store.Session{
		ID:        "sess-" + profileID,
		Token:     "tok-" + profileID,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Hour),
	})
	conf, _ := f.store.GetConference(context.Background(), testConfID)
	return &session.Context{
		Session:    sess,
		User:       user,
		Conference: conf,
		Config: &conference.Config{
			AccountSID:      "AC1",
			AuthToken:       "auth",
			APIKey:          "SK1",
			APISecret:       "s3cret",
			ChatServiceSID:  testService,
			RoomType:        "group",
			VideoWebhookURL: "https://api.example.com/twilio/video/event",
		},
		Client:  f.fake,
		Profile: profile,
	}
}

// seedRoom stores a persistent, publicly readable room unless overridden.
func (f *videoFixture) seedRoom(t *testing.T, mutate func(*store.Room)) *store.Room {
	t.Helper()
	room := &store.Room{
		ID:           "room1",
		ConferenceID: testConfID,
		Title:        "Plenary Hall",
		Capacity:     10,
		Persistence:  store.PersistencePersistent,
		ACL:          store.ACL{PublicRead: true},
	}
	if mutate != nil {
		mutate(room)
	}
	require.NoError(t, f.store.CreateRoom(context.Background(), room))
	return room
}

func requestError(t *testing.T, err error) *httputil.Error {
	t.Helper()
	require.Error(t, err)
	var herr *httputil.Error
	require.ErrorAs(t, err, &herr)
	return herr
}

func TestMintTokenCreatesProviderRoomLazily(t *testing.T) {
	f := newVideoFixture(t)
	sc := f.sessionFor("prof-alice")
	room := f.seedRoom(t, nil)
	f.svc.now = func() time.Time { return time.Unix(1700000000, 0) }

	tok, err := f.svc.MintToken(context.Background(), sc, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "prof-alice", tok.Identity)
	assert.Equal(t, "Plenary Hall", tok.RoomName)
	assert.NotEmpty(t, tok.TwilioRoomID)
	assert.Equal(t, time.Unix(1700000000, 0).Add(time.Hour).UnixMilli(), tok.Expiry)

	// The provider room was created with the stored room's shape.
	fr := f.video.GetRoom(tok.TwilioRoomID)
	require.NotNil(t, fr)
	assert.Equal(t, "Plenary Hall", fr.Room.UniqueName)
	assert.Equal(t, 10, fr.Room.MaxParticipants)

	// The provider room id was persisted for the next caller.
	stored, err := f.store.GetRoom(context.Background(), testConfID, room.ID)
	require.NoError(t, err)
	assert.Equal(t, tok.TwilioRoomID, stored.TwilioRoomID)

	// The token grants exactly that room.
	parsed, err := jwt.Parse(tok.Token, func(token *jwt.Token) (interface{}, error) {
		return []byte("s3cret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	grants := parsed.Claims.(jwt.MapClaims)["grants"].(map[string]interface{})
	videoGrant := grants["video"].(map[string]interface{})
	assert.Equal(t, tok.TwilioRoomID, videoGrant["room"])
}

func TestMintTokenReusesProviderRoom(t *testing.T) {
	f := newVideoFixture(t)
	sc := f.sessionFor("prof-alice")
	room := f.seedRoom(t, nil)
	ctx := context.Background()

	first, err := f.svc.MintToken(ctx, sc, room.ID)
	require.NoError(t, err)
	second, err := f.svc.MintToken(ctx, sc, room.ID)
	require.NoError(t, err)

	assert.Equal(t, first.TwilioRoomID, second.TwilioRoomID)
	assert.Len(t, f.video.Rooms, 1)
}

func TestMintTokenAdoptsRaceWinner(t *testing.T) {
	f := newVideoFixture(t)
	sc := f.sessionFor("prof-alice")
	room := f.seedRoom(t, nil)

	// A concurrent caller already created the provider room; our create
	// collides on the unique name and must adopt the existing room.
	winner := f.video.AddRoom(twilio.VideoRoom{UniqueName: "Plenary Hall"})

	tok, err := f.svc.MintToken(context.Background(), sc, room.ID)
	require.NoError(t, err)
	assert.Equal(t, winner, tok.TwilioRoomID)
	assert.Len(t, f.video.Rooms, 1)

	stored, err := f.store.GetRoom(context.Background(), testConfID, room.ID)
	require.NoError(t, err)
	assert.Equal(t, winner, stored.TwilioRoomID)
}

func TestMintTokenHidesUnreadableRooms(t *testing.T) {
	f := newVideoFixture(t)
	sc := f.sessionFor("prof-alice")
	ctx := context.Background()

	// Unknown room.
	_, err := f.svc.MintToken(ctx, sc, "room-missing")
	herr := requestError(t, err)
	assert.Equal(t, http.StatusForbidden, herr.Code)
	assert.Equal(t, "Invalid room.", herr.Status)

	// Private room the caller has no grant for: indistinguishable from a
	// room that does not exist.
	acl := store.NewACL()
	acl.GrantUserRead("user-prof-bob")
	f.seedRoom(t, func(r *store.Room) {
		r.IsPrivate = true
		r.ACL = acl
	})
	_, err = f.svc.MintToken(ctx, sc, "room1")
	herr = requestError(t, err)
	assert.Equal(t, http.StatusForbidden, herr.Code)
	assert.Equal(t, "Invalid room.", herr.Status)
}

func TestMintTokenRoleReadGrantsAccess(t *testing.T) {
	f := newVideoFixture(t)
	sc := f.sessionFor("prof-alice")
	ctx := context.Background()

	f.store.PutRole(&store.Role{
		ID:           "role-conf",
		ConferenceID: testConfID,
		Name:         testConfID + "-conference",
		UserIDs:      []string{sc.User.ID},
	})

	acl := store.NewACL()
	acl.GrantRoleRead(testConfID + "-conference")
	room := f.seedRoom(t, func(r *store.Room) { r.ACL = acl })

	_, err := f.svc.MintToken(ctx, sc, room.ID)
	require.NoError(t, err)
}

func TestMintTokenEphemeralRoomAlreadyGone(t *testing.T) {
	f := newVideoFixture(t)
	sc := f.sessionFor("prof-alice")
	room := f.seedRoom(t, func(r *store.Room) {
		r.Persistence = store.PersistenceEphemeral
	})

	_, err := f.svc.MintToken(context.Background(), sc, room.ID)
	herr := requestError(t, err)
	assert.Equal(t, http.StatusNotFound, herr.Code)
	assert.Equal(t, "This room has been deleted", herr.Status)
	assert.Empty(t, f.video.Rooms)
}

func TestDeleteRequiresAdminOrManager(t *testing.T) {
	f := newVideoFixture(t)
	sc := f.sessionFor("prof-alice")
	room := f.seedRoom(t, nil)

	err := f.svc.Delete(context.Background(), sc, room.ID)
	herr := requestError(t, err)
	assert.Equal(t, http.StatusForbidden, herr.Code)
	assert.Equal(t, "Permission denied.", herr.Status)
}

func TestDeleteEvictsParticipantsAndRemovesRoom(t *testing.T) {
	f := newVideoFixture(t)
	sc := f.sessionFor("prof-alice")
	ctx := context.Background()

	f.store.PutRole(&store.Role{
		ID:           "role-manager",
		ConferenceID: testConfID,
		Name:         testConfID + "-manager",
		UserIDs:      []string{sc.User.ID},
	})

	providerSID := f.video.AddRoom(twilio.VideoRoom{UniqueName: "Plenary Hall"})
	f.video.AddParticipant(providerSID, "prof-bob")
	f.video.AddParticipant(providerSID, "prof-carol")
	chatSID := f.fake.Chat(testService).AddChannel(twilio.Channel{UniqueName: "room1-chat"})

	room := f.seedRoom(t, func(r *store.Room) {
		r.TwilioRoomID = providerSID
		r.TwilioChatID = chatSID
	})

	require.NoError(t, f.svc.Delete(ctx, sc, room.ID))

	fr := f.video.GetRoom(providerSID)
	assert.Equal(t, twilio.RoomStatusCompleted, fr.Room.Status)
	for _, p := range fr.Participants {
		assert.Equal(t, twilio.ParticipantDisconnected, p.Status)
	}

	_, err := f.store.GetRoom(ctx, testConfID, room.ID)
	assert.True(t, store.IsNotFound(err))

	channels, err := f.fake.Chat(testService).ListChannels(ctx)
	require.NoError(t, err)
	assert.Empty(t, channels)
}

func TestDeleteToleratesDepartedParticipants(t *testing.T) {
	f := newVideoFixture(t)
	sc := f.sessionFor("prof-alice")
	ctx := context.Background()

	f.store.PutRole(&store.Role{
		ID:           "role-admin",
		ConferenceID: testConfID,
		Name:         testConfID + "-admin",
		UserIDs:      []string{sc.User.ID},
	})

	// The provider room is already gone entirely.
	room := f.seedRoom(t, func(r *store.Room) {
		r.TwilioRoomID = "RM_gone"
	})

	require.NoError(t, f.svc.Delete(ctx, sc, room.ID))
	_, err := f.store.GetRoom(ctx, testConfID, room.ID)
	assert.True(t, store.IsNotFound(err))
}
