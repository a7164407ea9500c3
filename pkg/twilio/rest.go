package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	chatBaseURL  = "https://chat.twilio.com/v2"
	videoBaseURL = "https://video.twilio.com/v1"

	// listPageSize is the page size requested on list endpoints. Pages
	// are followed until the provider stops returning a next link.
	listPageSize = 100
)

// NewRESTClient builds a Client talking to the provider's REST API with
// the given account credentials. Pass it as the ClientFactory when wiring
// the conference resolver.
func NewRESTClient(accountSID, authToken string) Client {
	return &restClient{
		accountSID: accountSID,
		authToken:  authToken,
		httpClient: http.DefaultClient,
	}
}

type restClient struct {
	accountSID string
	authToken  string
	httpClient *http.Client
}

func (c *restClient) ChatService(sid string) ChatService {
	return &restChatService{client: c, serviceSID: sid}
}

func (c *restClient) Video() VideoService {
	return &restVideoService{client: c}
}

// do issues one request with basic auth and decodes the JSON response into
// out (which may be nil for endpoints whose body is not needed). Non-2xx
// responses are decoded into *Error.
func (c *restClient) do(ctx context.Context, method, rawURL string, form url.Values, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		terr := &Error{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(terr); err != nil {
			terr.Message = resp.Status
		}
		if terr.Status == 0 {
			terr.Status = resp.StatusCode
		}
		return terr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, rawURL, err)
	}
	return nil
}

// listPage is the pagination envelope shared by the provider's list
// endpoints. Each page carries its records under a resource-specific key,
// which the caller decodes separately.
type listMeta struct {
	Meta struct {
		NextPageURL string `json:"next_page_url"`
	} `json:"meta"`
}

// listAll walks a paginated list endpoint, invoking decode with each raw
// page body.
func (c *restClient) listAll(ctx context.Context, firstURL string, decode func(json.RawMessage) (string, error)) error {
	next := firstURL
	for next != "" {
		var raw json.RawMessage
		if err := c.do(ctx, http.MethodGet, next, nil, &raw); err != nil {
			return err
		}
		nextURL, err := decode(raw)
		if err != nil {
			return err
		}
		next = nextURL
	}
	return nil
}

func nextPage(raw json.RawMessage) (string, error) {
	var meta listMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", fmt.Errorf("decode page meta: %w", err)
	}
	return meta.Meta.NextPageURL, nil
}

func withPageSize(rawURL string) string {
	return rawURL + "?PageSize=" + strconv.Itoa(listPageSize)
}

type restChatService struct {
	client     *restClient
	serviceSID string
}

func (s *restChatService) url(parts ...string) string {
	segs := append([]string{chatBaseURL, "Services", s.serviceSID}, parts...)
	return strings.Join(segs, "/")
}

func (s *restChatService) Configure(ctx context.Context, settings ServiceSettings) error {
	form := url.Values{}
	form.Set("PreWebhookUrl", settings.PreWebhookURL)
	form.Set("PostWebhookUrl", settings.PostWebhookURL)
	for _, f := range settings.WebhookFilters {
		form.Add("WebhookFilters", f)
	}
	return s.client.do(ctx, http.MethodPost, s.url(), form, nil)
}

func (s *restChatService) ListRoles(ctx context.Context) ([]ChatRole, error) {
	var roles []ChatRole
	err := s.client.listAll(ctx, withPageSize(s.url("Roles")), func(raw json.RawMessage) (string, error) {
		var page struct {
			Roles []ChatRole `json:"roles"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return "", fmt.Errorf("decode roles page: %w", err)
		}
		roles = append(roles, page.Roles...)
		return nextPage(raw)
	})
	if err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *restChatService) ListUsers(ctx context.Context) ([]ChatUser, error) {
	var users []ChatUser
	err := s.client.listAll(ctx, withPageSize(s.url("Users")), func(raw json.RawMessage) (string, error) {
		var page struct {
			Users []ChatUser `json:"users"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return "", fmt.Errorf("decode users page: %w", err)
		}
		users = append(users, page.Users...)
		return nextPage(raw)
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (s *restChatService) CreateUser(ctx context.Context, identity, friendlyName string) (*ChatUser, error) {
	form := url.Values{}
	form.Set("Identity", identity)
	if friendlyName != "" {
		form.Set("FriendlyName", friendlyName)
	}
	var user ChatUser
	if err := s.client.do(ctx, http.MethodPost, s.url("Users"), form, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *restChatService) DeleteUser(ctx context.Context, identity string) error {
	return s.client.do(ctx, http.MethodDelete, s.url("Users", url.PathEscape(identity)), nil, nil)
}

func (s *restChatService) ListChannels(ctx context.Context) ([]Channel, error) {
	var channels []Channel
	err := s.client.listAll(ctx, withPageSize(s.url("Channels")), func(raw json.RawMessage) (string, error) {
		var page struct {
			Channels []Channel `json:"channels"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return "", fmt.Errorf("decode channels page: %w", err)
		}
		channels = append(channels, page.Channels...)
		return nextPage(raw)
	})
	if err != nil {
		return nil, err
	}
	return channels, nil
}

func (s *restChatService) CreateChannel(ctx context.Context, params CreateChannelParams) (*Channel, error) {
	form := url.Values{}
	form.Set("FriendlyName", params.FriendlyName)
	form.Set("UniqueName", params.UniqueName)
	form.Set("Type", params.Type)
	if params.CreatedBy != "" {
		form.Set("CreatedBy", params.CreatedBy)
	}
	if params.Attributes != "" {
		form.Set("Attributes", params.Attributes)
	}
	var ch Channel
	if err := s.client.do(ctx, http.MethodPost, s.url("Channels"), form, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (s *restChatService) Channel(sid string) ChannelHandle {
	return &restChannel{service: s, channelSID: sid}
}

type restChannel struct {
	service    *restChatService
	channelSID string
}

func (h *restChannel) url(parts ...string) string {
	return h.service.url(append([]string{"Channels", h.channelSID}, parts...)...)
}

func (h *restChannel) Fetch(ctx context.Context) (*Channel, error) {
	var ch Channel
	if err := h.service.client.do(ctx, http.MethodGet, h.url(), nil, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (h *restChannel) Delete(ctx context.Context) error {
	return h.service.client.do(ctx, http.MethodDelete, h.url(), nil, nil)
}

func (h *restChannel) ListMembers(ctx context.Context) ([]Member, error) {
	var members []Member
	err := h.service.client.listAll(ctx, withPageSize(h.url("Members")), func(raw json.RawMessage) (string, error) {
		var page struct {
			Members []Member `json:"members"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return "", fmt.Errorf("decode members page: %w", err)
		}
		members = append(members, page.Members...)
		return nextPage(raw)
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (h *restChannel) AddMember(ctx context.Context, identity, roleSID string) (*Member, error) {
	form := url.Values{}
	form.Set("Identity", identity)
	if roleSID != "" {
		form.Set("RoleSid", roleSID)
	}
	var m Member
	if err := h.service.client.do(ctx, http.MethodPost, h.url("Members"), form, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (h *restChannel) RemoveMember(ctx context.Context, identity string) error {
	return h.service.client.do(ctx, http.MethodDelete, h.url("Members", url.PathEscape(identity)), nil, nil)
}

func (h *restChannel) UpdateMemberRole(ctx context.Context, identity, roleSID string) error {
	form := url.Values{}
	form.Set("RoleSid", roleSID)
	return h.service.client.do(ctx, http.MethodPost, h.url("Members", url.PathEscape(identity)), form, nil)
}

func (h *restChannel) ListInvites(ctx context.Context) ([]Invite, error) {
	var invites []Invite
	err := h.service.client.listAll(ctx, withPageSize(h.url("Invites")), func(raw json.RawMessage) (string, error) {
		var page struct {
			Invites []Invite `json:"invites"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return "", fmt.Errorf("decode invites page: %w", err)
		}
		invites = append(invites, page.Invites...)
		return nextPage(raw)
	})
	if err != nil {
		return nil, err
	}
	return invites, nil
}

func (h *restChannel) Invite(ctx context.Context, identity, roleSID string) (*Invite, error) {
	form := url.Values{}
	form.Set("Identity", identity)
	if roleSID != "" {
		form.Set("RoleSid", roleSID)
	}
	var inv Invite
	if err := h.service.client.do(ctx, http.MethodPost, h.url("Invites"), form, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (h *restChannel) Message(sid string) MessageHandle {
	return &restMessage{channel: h, messageSID: sid}
}

type restMessage struct {
	channel    *restChannel
	messageSID string
}

func (m *restMessage) url() string {
	return m.channel.url("Messages", m.messageSID)
}

func (m *restMessage) Fetch(ctx context.Context) (*Message, error) {
	var msg Message
	if err := m.channel.service.client.do(ctx, http.MethodGet, m.url(), nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (m *restMessage) Delete(ctx context.Context) error {
	return m.channel.service.client.do(ctx, http.MethodDelete, m.url(), nil, nil)
}

func (m *restMessage) UpdateAttributes(ctx context.Context, attributes string) error {
	form := url.Values{}
	form.Set("Attributes", attributes)
	return m.channel.service.client.do(ctx, http.MethodPost, m.url(), form, nil)
}

type restVideoService struct {
	client *restClient
}

func (s *restVideoService) ListRooms(ctx context.Context, status string) ([]VideoRoom, error) {
	first := videoBaseURL + "/Rooms?PageSize=" + strconv.Itoa(listPageSize)
	if status != "" {
		first += "&Status=" + url.QueryEscape(status)
	}
	var rooms []VideoRoom
	err := s.client.listAll(ctx, first, func(raw json.RawMessage) (string, error) {
		var page struct {
			Rooms []VideoRoom `json:"rooms"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return "", fmt.Errorf("decode rooms page: %w", err)
		}
		rooms = append(rooms, page.Rooms...)
		return nextPage(raw)
	})
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

func (s *restVideoService) CreateRoom(ctx context.Context, params CreateRoomParams) (*VideoRoom, error) {
	form := url.Values{}
	form.Set("Type", params.Type)
	form.Set("UniqueName", params.UniqueName)
	if params.MaxParticipants > 0 {
		form.Set("MaxParticipants", strconv.Itoa(params.MaxParticipants))
	}
	if params.StatusCallback != "" {
		form.Set("StatusCallback", params.StatusCallback)
	}
	var room VideoRoom
	if err := s.client.do(ctx, http.MethodPost, videoBaseURL+"/Rooms", form, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *restVideoService) FetchRoomByName(ctx context.Context, uniqueName string) (*VideoRoom, error) {
	var room VideoRoom
	u := videoBaseURL + "/Rooms/" + url.PathEscape(uniqueName)
	if err := s.client.do(ctx, http.MethodGet, u, nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *restVideoService) Room(sid string) RoomHandle {
	return &restRoom{service: s, roomSID: sid}
}

type restRoom struct {
	service *restVideoService
	roomSID string
}

func (r *restRoom) url(parts ...string) string {
	segs := append([]string{videoBaseURL, "Rooms", r.roomSID}, parts...)
	return strings.Join(segs, "/")
}

func (r *restRoom) ListParticipants(ctx context.Context) ([]Participant, error) {
	first := r.url("Participants") + "?PageSize=" + strconv.Itoa(listPageSize) + "&Status=" + ParticipantConnected
	var participants []Participant
	err := r.service.client.listAll(ctx, first, func(raw json.RawMessage) (string, error) {
		var page struct {
			Participants []Participant `json:"participants"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return "", fmt.Errorf("decode participants page: %w", err)
		}
		participants = append(participants, page.Participants...)
		return nextPage(raw)
	})
	if err != nil {
		return nil, err
	}
	return participants, nil
}

func (r *restRoom) DisconnectParticipant(ctx context.Context, identity string) error {
	form := url.Values{}
	form.Set("Status", ParticipantDisconnected)
	return r.service.client.do(ctx, http.MethodPost, r.url("Participants", url.PathEscape(identity)), form, nil)
}

func (r *restRoom) Complete(ctx context.Context) error {
	form := url.Values{}
	form.Set("Status", RoomStatusCompleted)
	return r.service.client.do(ctx, http.MethodPost, r.url(), form, nil)
}

var _ Client = (*restClient)(nil)
