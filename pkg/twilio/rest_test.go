package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// restTestClient points a restClient at a test server by rewriting every
// outbound request's scheme and host.
func restTestClient(t *testing.T, handler http.Handler) *restClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	srvURL, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return &restClient{
		accountSID: "AC123",
		authToken:  "token",
		httpClient: &http.Client{
			Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
				req.URL.Scheme = srvURL.Scheme
				req.URL.Host = srvURL.Host
				return http.DefaultTransport.RoundTrip(req)
			}),
		},
	}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func TestRESTCreateChannel(t *testing.T) {
	var gotForm url.Values
	var gotAuth string
	client := restTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v2/Services/IS123/Channels", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		gotAuth = user + ":" + pass
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"sid":"CH001","unique_name":"a-b","friendly_name":"DM","type":"private"}`)
	}))

	ch, err := client.ChatService("IS123").CreateChannel(context.Background(), CreateChannelParams{
		FriendlyName: "DM",
		UniqueName:   "a-b",
		Type:         ChannelTypePrivate,
		CreatedBy:    "profile-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "CH001", ch.SID)
	assert.Equal(t, "a-b", ch.UniqueName)
	assert.Equal(t, "AC123:token", gotAuth)
	assert.Equal(t, "DM", gotForm.Get("FriendlyName"))
	assert.Equal(t, ChannelTypePrivate, gotForm.Get("Type"))
	assert.Equal(t, "profile-1", gotForm.Get("CreatedBy"))
}

func TestRESTErrorDecoding(t *testing.T) {
	client := restTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"code":20429,"message":"Too many requests","status":429}`)
	}))

	_, err := client.ChatService("IS123").CreateChannel(context.Background(), CreateChannelParams{UniqueName: "x"})
	require.Error(t, err)
	require.True(t, IsRateLimited(err))
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusTooManyRequests, terr.Status)
	assert.Equal(t, "Too many requests", terr.Message)
}

func TestRESTErrorNonJSONBody(t *testing.T) {
	client := restTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream exploded")
	}))

	err := client.ChatService("IS123").Channel("CH001").Delete(context.Background())
	require.Error(t, err)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusBadGateway, terr.Status)
	assert.Zero(t, terr.Code)
}

func TestRESTListChannelsPagination(t *testing.T) {
	client := restTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/Services/IS123/Channels", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		page := r.URL.Query().Get("Page")
		if page == "" {
			fmt.Fprintf(w, `{"channels":[{"sid":"CH001"}],"meta":{"next_page_url":%q}}`,
				chatBaseURL+"/Services/IS123/Channels?PageSize=100&Page=1")
			return
		}
		fmt.Fprint(w, `{"channels":[{"sid":"CH002"}],"meta":{"next_page_url":null}}`)
	}))

	channels, err := client.ChatService("IS123").ListChannels(context.Background())
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, "CH001", channels[0].SID)
	assert.Equal(t, "CH002", channels[1].SID)
}

func TestRESTConfigureWebhookFilters(t *testing.T) {
	var gotBody string
	client := restTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/Services/IS123", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotBody = r.PostForm.Encode()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"sid":"IS123"}`)
	}))

	err := client.ChatService("IS123").Configure(context.Background(), ServiceSettings{
		PreWebhookURL:  "https://example.com/pre",
		PostWebhookURL: "https://example.com/post",
		WebhookFilters: []string{"onMemberAdd", "onUserUpdated"},
	})
	require.NoError(t, err)
	parsed, err := url.ParseQuery(gotBody)
	require.NoError(t, err)
	assert.Equal(t, []string{"onMemberAdd", "onUserUpdated"}, parsed["WebhookFilters"])
	assert.Equal(t, "https://example.com/pre", parsed.Get("PreWebhookUrl"))
}

func TestRESTVideoRoomLifecycle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/Rooms", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPost:
			require.NoError(t, r.ParseForm())
			require.Equal(t, "group", r.PostForm.Get("Type"))
			require.Equal(t, "Main Stage", r.PostForm.Get("UniqueName"))
			require.Equal(t, "10", r.PostForm.Get("MaxParticipants"))
			fmt.Fprint(w, `{"sid":"RM001","unique_name":"Main Stage","status":"in-progress","max_participants":10}`)
		case http.MethodGet:
			require.Equal(t, RoomStatusInProgress, r.URL.Query().Get("Status"))
			fmt.Fprint(w, `{"rooms":[{"sid":"RM001","status":"in-progress"}],"meta":{"next_page_url":null}}`)
		}
	})
	mux.HandleFunc("/v1/Rooms/RM001", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		require.Equal(t, RoomStatusCompleted, r.PostForm.Get("Status"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"sid":"RM001","status":"completed"}`)
	})
	client := restTestClient(t, mux)

	video := client.Video()
	room, err := video.CreateRoom(context.Background(), CreateRoomParams{
		Type:            "group",
		UniqueName:      "Main Stage",
		MaxParticipants: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, "RM001", room.SID)

	rooms, err := video.ListRooms(context.Background(), RoomStatusInProgress)
	require.NoError(t, err)
	require.Len(t, rooms, 1)

	require.NoError(t, video.Room("RM001").Complete(context.Background()))
}

func TestRESTMessageAttributes(t *testing.T) {
	attrs := map[string]interface{}{"reactions": map[string]interface{}{"like": []interface{}{"p1"}}}
	raw, err := json.Marshal(attrs)
	require.NoError(t, err)

	client := restTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/Services/IS123/Channels/CH001/Messages/IM001", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"sid":"IM001","attributes":%q}`, string(raw))
	}))

	msg, err := client.ChatService("IS123").Channel("CH001").Message("IM001").Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "IM001", msg.SID)
	assert.JSONEq(t, string(raw), msg.Attributes)
}
