package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenroom-live/greenroom/pkg/chat"
	"github.com/greenroom-live/greenroom/pkg/conference"
	"github.com/greenroom-live/greenroom/pkg/roles"
	"github.com/greenroom-live/greenroom/pkg/session"
	"github.com/greenroom-live/greenroom/pkg/store"
	"github.com/greenroom-live/greenroom/pkg/telemetry"
	"github.com/greenroom-live/greenroom/pkg/twilio"
	"github.com/greenroom-live/greenroom/pkg/twilio/twiliotest"
	"github.com/greenroom-live/greenroom/pkg/video"
	"github.com/greenroom-live/greenroom/pkg/webhook"
)

const (
	testConfID  = "conf1"
	testService = "IS789"
	testAccount = "AC123"
)

type serverFixture struct {
	store    *store.MemoryStore
	fake     *twiliotest.Fake
	chat     *twiliotest.FakeChatService
	presence *memPresence
	srv      *httptest.Server
}

type memPresence struct {
	online map[string]bool
}

func (p *memPresence) SetOnline(ctx context.Context, profileID string, online bool) error {
	if p.online == nil {
		p.online = make(map[string]bool)
	}
	p.online[profileID] = online
	return nil
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	st := store.NewMemoryStore()
	st.PutConference(&store.Conference{ID: testConfID, Name: "Test Conference"})
	ctx := context.Background()
	for key, value := range map[string]string{
		conference.KeyAccountSID:     testAccount,
		conference.KeyAuthToken:      "token",
		conference.KeyAPIKey:         "SK456",
		conference.KeyAPISecret:      "s3cret",
		conference.KeyChatServiceSID: testService,
	} {
		require.NoError(t, st.SetConfig(ctx, store.ConfigEntry{
			ConferenceID: testConfID,
			Key:          key,
			Value:        value,
		}))
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	fake := twiliotest.NewFake(testAccount)
	engine := roles.NewEngine(st, logger, 16, time.Minute)
	retry := twilio.NewRetryer(twilio.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}, logger)

	configs := conference.NewConfigResolver(st, 16, time.Minute)
	clients := conference.NewClientCache(fake.Factory(), 16, time.Minute)
	reconciler := conference.NewReconciler(st, engine, logger)
	conferences := conference.NewResolver(st, configs, clients, reconciler, logger, 16, time.Minute)
	sessions := session.NewResolver(st, conferences)
	presence := &memPresence{}

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)
	retry.SetMetrics(metrics)
	reconciler.SetMetrics(metrics)
	conferences.SetMetrics(metrics)
	srv := New(Options{
		Logger:      logger,
		Store:       st,
		Sessions:    sessions,
		Conferences: conferences,
		Roles:       engine,
		Chat:        chat.NewService(st, engine, retry, logger),
		Video:       video.NewService(st, engine, retry, logger),
		ChatEvents:  webhook.NewChatMachine(st, engine, presence, retry, logger),
		VideoEvents: webhook.NewVideoMachine(st, logger),
		Metrics:     metrics,
		Registry:    registry,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &serverFixture{
		store:    st,
		fake:     fake,
		chat:     fake.Chat(testService),
		presence: presence,
		srv:      ts,
	}
}

// seedSession seeds a user, profile and live session, returning the
// session token.
func (f *serverFixture) seedSession(profileID string) string {
	userID := "user-" + profileID
	f.store.PutUser(&store.User{ID: userID, DisplayName: profileID})
	f.store.PutProfile(&store.Profile{
		ID:           profileID,
		ConferenceID: testConfID,
		UserID:       userID,
		DisplayName:  profileID,
	})
	f.store.PutSession(&store.Session{
		ID:        "sess-" + profileID,
		Token:     "tok-" + profileID,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Hour),
	})
	return "tok-" + profileID
}

func (f *serverFixture) postJSON(t *testing.T, path string, body map[string]interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]interface{}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &decoded))
	}
	return resp, decoded
}

func (f *serverFixture) postForm(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestChatTokenEndpoint(t *testing.T) {
	f := newServerFixture(t)
	token := f.seedSession("prof-alice")

	resp, body := f.postJSON(t, "/chat/token", map[string]interface{}{
		"identity":   token,
		"conference": testConfID,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "prof-alice", body["identity"])
	assert.NotEmpty(t, body["token"])
	assert.NotZero(t, body["expiry"])
}

func TestChatTokenRejectsBadSession(t *testing.T) {
	f := newServerFixture(t)
	f.seedSession("prof-alice")

	resp, body := f.postJSON(t, "/chat/token", map[string]interface{}{
		"identity":   "tok-wrong",
		"conference": testConfID,
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid session token.", body["status"])
}

func TestChatTokenRejectsUnknownConference(t *testing.T) {
	f := newServerFixture(t)
	token := f.seedSession("prof-alice")

	resp, body := f.postJSON(t, "/chat/token", map[string]interface{}{
		"identity":   token,
		"conference": "conf-unknown",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid conference.", body["status"])
}

func TestChatTokenRejectsBannedProfile(t *testing.T) {
	f := newServerFixture(t)
	token := f.seedSession("prof-alice")
	profile, err := f.store.GetProfile(context.Background(), testConfID, "prof-alice")
	require.NoError(t, err)
	profile.IsBanned = true
	require.NoError(t, f.store.UpdateProfile(context.Background(), profile))

	resp, body := f.postJSON(t, "/chat/token", map[string]interface{}{
		"identity":   token,
		"conference": testConfID,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Permission denied.", body["status"])
}

func TestChatCreateEndpoint(t *testing.T) {
	f := newServerFixture(t)
	token := f.seedSession("prof-alice")
	f.seedSession("prof-bob")

	resp, body := f.postJSON(t, "/chat/create", map[string]interface{}{
		"identity":   token,
		"conference": testConfID,
		"invite":     []string{"prof-bob"},
		"mode":       "public",
		"title":      "Hallway track",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	sid, _ := body["channelSID"].(string)
	require.NotEmpty(t, sid)
	assert.NotNil(t, f.chat.GetChannel(sid))
}

func TestChatCreateValidationSurfacesStatus(t *testing.T) {
	f := newServerFixture(t)
	token := f.seedSession("prof-alice")

	resp, body := f.postJSON(t, "/chat/create", map[string]interface{}{
		"identity":   token,
		"conference": testConfID,
		"invite":     []string{"prof-alice"},
		"mode":       "public",
		"title":      "Hallway track",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invited members should be a non-empty array (not including the creator).", body["status"])
}

func TestReactionEndpoints(t *testing.T) {
	f := newServerFixture(t)
	token := f.seedSession("prof-alice")
	f.seedSession("prof-bob")

	_, body := f.postJSON(t, "/chat/create", map[string]interface{}{
		"identity":   token,
		"conference": testConfID,
		"invite":     []string{"prof-bob"},
		"mode":       "public",
		"title":      "Hallway track",
	})
	sid := body["channelSID"].(string)
	msgSID := f.chat.GetChannel(sid).AddMessage(`{}`)

	resp, reactBody := f.postJSON(t, "/chat/react", map[string]interface{}{
		"identity":   token,
		"conference": testConfID,
		"channel":    sid,
		"message":    msgSID,
		"reaction":   "👍",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, reactBody["ok"])

	resp, _ = f.postJSON(t, "/chat/tcaer", map[string]interface{}{
		"identity":   token,
		"conference": testConfID,
		"channel":    sid,
		"message":    msgSID,
		"reaction":   "👍",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"reactions":{}}`, f.chat.GetChannel(sid).Messages[msgSID].Attributes)
}

func TestVideoTokenEndpoint(t *testing.T) {
	f := newServerFixture(t)
	token := f.seedSession("prof-alice")
	require.NoError(t, f.store.CreateRoom(context.Background(), &store.Room{
		ID:           "room1",
		ConferenceID: testConfID,
		Title:        "Plenary Hall",
		Capacity:     10,
		Persistence:  store.PersistencePersistent,
		ACL:          store.ACL{PublicRead: true},
	}))

	resp, body := f.postJSON(t, "/video/token", map[string]interface{}{
		"identity":   token,
		"conference": testConfID,
		"room":       "room1",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Plenary Hall", body["roomName"])
	assert.NotEmpty(t, body["twilioRoomId"])
	assert.NotEmpty(t, body["token"])
}

func TestVideoDeleteRequiresElevatedRole(t *testing.T) {
	f := newServerFixture(t)
	token := f.seedSession("prof-alice")
	require.NoError(t, f.store.CreateRoom(context.Background(), &store.Room{
		ID:           "room1",
		ConferenceID: testConfID,
		Title:        "Plenary Hall",
		ACL:          store.ACL{PublicRead: true},
	}))

	resp, body := f.postJSON(t, "/video/delete", map[string]interface{}{
		"identity":   token,
		"conference": testConfID,
		"room":       "room1",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Permission denied.", body["status"])
}

func TestBanEndpoint(t *testing.T) {
	f := newServerFixture(t)
	modToken := f.seedSession("prof-mod")
	f.seedSession("prof-troll")
	f.store.PutRole(&store.Role{
		ID:           "role-mod",
		ConferenceID: testConfID,
		Name:         testConfID + "-moderator",
		UserIDs:      []string{"user-prof-mod"},
	})

	resp, body := f.postJSON(t, "/users/ban", map[string]interface{}{
		"identity":   modToken,
		"conference": testConfID,
		"profileID":  "prof-troll",
		"isBan":      true,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body["status"])

	banned, err := f.store.GetProfile(context.Background(), testConfID, "prof-troll")
	require.NoError(t, err)
	assert.True(t, banned.IsBanned)
	assert.False(t, banned.ACL.CanRead("user-prof-troll", nil))
	assert.True(t, banned.ACL.CanRead("", []string{testConfID + "-conference"}))

	// Unban restores the subject's access to their own records.
	resp, _ = f.postJSON(t, "/users/ban", map[string]interface{}{
		"identity":   modToken,
		"conference": testConfID,
		"profileID":  "prof-troll",
		"isBan":      false,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	restored, err := f.store.GetProfile(context.Background(), testConfID, "prof-troll")
	require.NoError(t, err)
	assert.False(t, restored.IsBanned)
	assert.True(t, restored.ACL.CanRead("user-prof-troll", nil))
}

func TestBanRequiresModerator(t *testing.T) {
	f := newServerFixture(t)
	token := f.seedSession("prof-alice")
	f.seedSession("prof-troll")

	resp, body := f.postJSON(t, "/users/ban", map[string]interface{}{
		"identity":   token,
		"conference": testConfID,
		"profileID":  "prof-troll",
		"isBan":      true,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Permission denied.", body["status"])
}

func TestChatWebhookPresence(t *testing.T) {
	f := newServerFixture(t)
	f.seedSession("prof-alice")

	resp := f.postForm(t, "/twilio/chat/event?conference="+testConfID, url.Values{
		"EventType": {"onUserUpdated"},
		"Identity":  {"prof-alice"},
		"IsOnline":  {"true"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, f.presence.online["prof-alice"])
}

func TestChatWebhookRejectsBanned(t *testing.T) {
	f := newServerFixture(t)
	f.seedSession("prof-troll")
	profile, err := f.store.GetProfile(context.Background(), testConfID, "prof-troll")
	require.NoError(t, err)
	profile.IsBanned = true
	require.NoError(t, f.store.UpdateProfile(context.Background(), profile))
	sid := f.chat.AddChannel(twilio.Channel{UniqueName: "general"})

	resp := f.postForm(t, "/twilio/chat/event?conference="+testConfID, url.Values{
		"EventType":   {"onMemberAdded"},
		"Identity":    {"prof-troll"},
		"ChannelSid":  {sid},
		"AccountSid":  {testAccount},
		"InstanceSid": {testService},
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestVideoWebhookRoomEnded(t *testing.T) {
	f := newServerFixture(t)
	require.NoError(t, f.store.CreateRoom(context.Background(), &store.Room{
		ID:           "room1",
		ConferenceID: testConfID,
		Title:        "Plenary Hall",
		TwilioRoomID: "RM1",
		Persistence:  store.PersistencePersistent,
	}))

	resp := f.postForm(t, "/twilio/video/event?conference="+testConfID, url.Values{
		"StatusCallbackEvent": {"room-ended"},
		"RoomSid":             {"RM1"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	room, err := f.store.GetRoom(context.Background(), testConfID, "room1")
	require.NoError(t, err)
	assert.Empty(t, room.TwilioRoomID)
}

func TestWebhookRejectsMissingConference(t *testing.T) {
	f := newServerFixture(t)

	resp := f.postForm(t, "/twilio/chat/event", url.Values{"EventType": {"onUserUpdated"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHealthzAndMetrics(t *testing.T) {
	f := newServerFixture(t)

	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsRecordResolutionAndProviderActivity(t *testing.T) {
	f := newServerFixture(t)
	token := f.seedSession("prof-alice")
	f.seedSession("prof-bob")

	// First token request resolves the conference cold (cache miss plus a
	// reconcile pass), the second one hits the cache.
	for i := 0; i < 2; i++ {
		resp, _ := f.postJSON(t, "/chat/token", map[string]interface{}{
			"identity":   token,
			"conference": testConfID,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	// Channel creation drives provider calls through the retryer.
	resp, _ := f.postJSON(t, "/chat/create", map[string]interface{}{
		"identity":   token,
		"conference": testConfID,
		"invite":     []string{"prof-bob"},
		"mode":       "public",
		"title":      "Metrics lounge",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	scrape, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer scrape.Body.Close()
	data, err := io.ReadAll(scrape.Body)
	require.NoError(t, err)
	exposition := string(data)

	assert.Contains(t, exposition, `greenroom_conference_cache_total{result="miss"} 1`)
	assert.Contains(t, exposition, `greenroom_conference_cache_total{result="hit"} 2`)
	assert.Contains(t, exposition, `greenroom_reconcile_runs_total{status="ok"} 1`)
	assert.Contains(t, exposition, `greenroom_reconcile_duration_seconds_count 1`)
	assert.Contains(t, exposition, `greenroom_provider_calls_total{operation="channels.create",status="ok"} 1`)
	assert.Contains(t, exposition, `greenroom_tokens_minted_total{kind="chat"} 2`)
}
