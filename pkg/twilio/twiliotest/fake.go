// Package twiliotest provides an in-memory fake of the provider client for
// tests. The fake enforces the same unique-name and not-found semantics as
// the REST API, returning the typed errors callers are expected to handle.
package twiliotest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/greenroom-live/greenroom/pkg/twilio"
)

// Fake is an in-memory twilio.Client. Zero value is not usable; construct
// with NewFake.
type Fake struct {
	mu sync.Mutex

	accountSID string
	services   map[string]*FakeChatService
	video      *FakeVideoService

	nextSID int
}

// NewFake returns an empty fake client.
func NewFake(accountSID string) *Fake {
	f := &Fake{
		accountSID: accountSID,
		services:   make(map[string]*FakeChatService),
	}
	f.video = &FakeVideoService{fake: f}
	return f
}

// Factory returns a ClientFactory that always yields this fake, recording
// the credentials it was invoked with.
func (f *Fake) Factory() twilio.ClientFactory {
	return func(accountSID, authToken string) twilio.Client {
		f.mu.Lock()
		f.accountSID = accountSID
		f.mu.Unlock()
		return f
	}
}

func (f *Fake) sid(prefix string) string {
	f.nextSID++
	return fmt.Sprintf("%s%08d", prefix, f.nextSID)
}

// ChatService returns the fake chat service for sid, creating it on first
// use with the standard roles pre-provisioned.
func (f *Fake) ChatService(sid string) twilio.ChatService {
	f.mu.Lock()
	defer f.mu.Unlock()
	svc, ok := f.services[sid]
	if !ok {
		svc = newFakeChatService(f, sid)
		f.services[sid] = svc
	}
	return svc
}

// Chat is ChatService without the interface type, for test assertions.
func (f *Fake) Chat(sid string) *FakeChatService {
	return f.ChatService(sid).(*FakeChatService)
}

func (f *Fake) Video() twilio.VideoService { return f.video }

// VideoFake is Video without the interface type, for test assertions.
func (f *Fake) VideoFake() *FakeVideoService { return f.video }

var _ twilio.Client = (*Fake)(nil)

// FakeChatService is one chat service instance. The exported fields are
// protected by the parent fake's mutex; read them only after the code under
// test has finished.
type FakeChatService struct {
	fake *Fake
	sid  string

	Roles    []twilio.ChatRole
	Users    map[string]*twilio.ChatUser
	Channels map[string]*FakeChannel

	Settings       twilio.ServiceSettings
	ConfigureCalls int

	// Error injection. When set, the matching operation fails with the
	// given error instead of running.
	ConfigureErr     error
	CreateUserErr    error
	CreateChannelErr error
}

func newFakeChatService(f *Fake, sid string) *FakeChatService {
	svc := &FakeChatService{
		fake:     f,
		sid:      sid,
		Users:    make(map[string]*twilio.ChatUser),
		Channels: make(map[string]*FakeChannel),
	}
	for _, name := range []string{
		twilio.RoleChannelAdmin,
		twilio.RoleChannelUser,
		twilio.RoleAnnouncementsAdmin,
		twilio.RoleAnnouncementsUser,
	} {
		svc.Roles = append(svc.Roles, twilio.ChatRole{SID: f.sid("RL"), FriendlyName: name})
	}
	return svc
}

// RoleSID resolves a role's SID by friendly name, for test assertions.
func (s *FakeChatService) RoleSID(friendlyName string) string {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	for _, r := range s.Roles {
		if r.FriendlyName == friendlyName {
			return r.SID
		}
	}
	return ""
}

func (s *FakeChatService) Configure(ctx context.Context, settings twilio.ServiceSettings) error {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	s.ConfigureCalls++
	if s.ConfigureErr != nil {
		return s.ConfigureErr
	}
	s.Settings = settings
	return nil
}

func (s *FakeChatService) ListRoles(ctx context.Context) ([]twilio.ChatRole, error) {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	return append([]twilio.ChatRole(nil), s.Roles...), nil
}

func (s *FakeChatService) ListUsers(ctx context.Context) ([]twilio.ChatUser, error) {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	out := make([]twilio.ChatUser, 0, len(s.Users))
	for _, u := range s.Users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

func (s *FakeChatService) CreateUser(ctx context.Context, identity, friendlyName string) (*twilio.ChatUser, error) {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	if s.CreateUserErr != nil {
		return nil, s.CreateUserErr
	}
	if u, ok := s.Users[identity]; ok {
		copied := *u
		return &copied, nil
	}
	u := &twilio.ChatUser{SID: s.fake.sid("US"), Identity: identity, FriendlyName: friendlyName}
	s.Users[identity] = u
	copied := *u
	return &copied, nil
}

func (s *FakeChatService) DeleteUser(ctx context.Context, identity string) error {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	if _, ok := s.Users[identity]; !ok {
		return notFound("user " + identity)
	}
	delete(s.Users, identity)
	for _, ch := range s.Channels {
		delete(ch.Members, identity)
		delete(ch.Invites, identity)
	}
	return nil
}

func (s *FakeChatService) ListChannels(ctx context.Context) ([]twilio.Channel, error) {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	out := make([]twilio.Channel, 0, len(s.Channels))
	for _, ch := range s.Channels {
		out = append(out, ch.Channel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SID < out[j].SID })
	return out, nil
}

func (s *FakeChatService) CreateChannel(ctx context.Context, params twilio.CreateChannelParams) (*twilio.Channel, error) {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	if s.CreateChannelErr != nil {
		return nil, s.CreateChannelErr
	}
	if params.UniqueName != "" {
		for _, ch := range s.Channels {
			if ch.Channel.UniqueName == params.UniqueName {
				return nil, &twilio.Error{
					Code:    twilio.CodeChannelNameTaken,
					Status:  http.StatusConflict,
					Message: "Channel with provided unique name already exists",
				}
			}
		}
	}
	ch := &FakeChannel{
		service: s,
		Channel: twilio.Channel{
			SID:          s.fake.sid("CH"),
			UniqueName:   params.UniqueName,
			FriendlyName: params.FriendlyName,
			Type:         params.Type,
			CreatedBy:    params.CreatedBy,
			Attributes:   params.Attributes,
		},
		Members:  make(map[string]*twilio.Member),
		Invites:  make(map[string]*twilio.Invite),
		Messages: make(map[string]*twilio.Message),
	}
	s.Channels[ch.Channel.SID] = ch
	copied := ch.Channel
	return &copied, nil
}

func (s *FakeChatService) Channel(sid string) twilio.ChannelHandle {
	return &fakeChannelHandle{service: s, sid: sid}
}

// GetChannel returns the fake channel record for assertions, or nil.
func (s *FakeChatService) GetChannel(sid string) *FakeChannel {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	return s.Channels[sid]
}

// ChannelByUniqueName returns the fake channel with the given unique name,
// or nil.
func (s *FakeChatService) ChannelByUniqueName(name string) *FakeChannel {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	for _, ch := range s.Channels {
		if ch.Channel.UniqueName == name {
			return ch
		}
	}
	return nil
}

// AddChannel seeds a channel directly, returning its SID.
func (s *FakeChatService) AddChannel(ch twilio.Channel) string {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	if ch.SID == "" {
		ch.SID = s.fake.sid("CH")
	}
	s.Channels[ch.SID] = &FakeChannel{
		service:  s,
		Channel:  ch,
		Members:  make(map[string]*twilio.Member),
		Invites:  make(map[string]*twilio.Invite),
		Messages: make(map[string]*twilio.Message),
	}
	return ch.SID
}

// FakeChannel holds a channel's state.
type FakeChannel struct {
	service *FakeChatService

	Channel  twilio.Channel
	Members  map[string]*twilio.Member
	Invites  map[string]*twilio.Invite
	Messages map[string]*twilio.Message

	AddMemberErr error
	InviteErr    error
}

// AddMessage seeds a message, returning its SID.
func (c *FakeChannel) AddMessage(attributes string) string {
	c.service.fake.mu.Lock()
	defer c.service.fake.mu.Unlock()
	sid := c.service.fake.sid("IM")
	c.Messages[sid] = &twilio.Message{SID: sid, Attributes: attributes}
	return sid
}

type fakeChannelHandle struct {
	service *FakeChatService
	sid     string
}

func (h *fakeChannelHandle) channel() (*FakeChannel, error) {
	ch, ok := h.service.Channels[h.sid]
	if !ok {
		return nil, notFound("channel " + h.sid)
	}
	return ch, nil
}

func (h *fakeChannelHandle) Fetch(ctx context.Context) (*twilio.Channel, error) {
	h.service.fake.mu.Lock()
	defer h.service.fake.mu.Unlock()
	ch, err := h.channel()
	if err != nil {
		return nil, err
	}
	copied := ch.Channel
	return &copied, nil
}

func (h *fakeChannelHandle) Delete(ctx context.Context) error {
	h.service.fake.mu.Lock()
	defer h.service.fake.mu.Unlock()
	if _, err := h.channel(); err != nil {
		return err
	}
	delete(h.service.Channels, h.sid)
	return nil
}

func (h *fakeChannelHandle) ListMembers(ctx context.Context) ([]twilio.Member, error) {
	h.service.fake.mu.Lock()
	defer h.service.fake.mu.Unlock()
	ch, err := h.channel()
	if err != nil {
		return nil, err
	}
	out := make([]twilio.Member, 0, len(ch.Members))
	for _, m := range ch.Members {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

func (h *fakeChannelHandle) AddMember(ctx context.Context, identity, roleSID string) (*twilio.Member, error) {
	h.service.fake.mu.Lock()
	defer h.service.fake.mu.Unlock()
	ch, err := h.channel()
	if err != nil {
		return nil, err
	}
	if ch.AddMemberErr != nil {
		return nil, ch.AddMemberErr
	}
	if m, ok := ch.Members[identity]; ok {
		copied := *m
		return &copied, nil
	}
	m := &twilio.Member{SID: h.service.fake.sid("MB"), Identity: identity, RoleSID: roleSID}
	ch.Members[identity] = m
	delete(ch.Invites, identity)
	copied := *m
	return &copied, nil
}

func (h *fakeChannelHandle) RemoveMember(ctx context.Context, identity string) error {
	h.service.fake.mu.Lock()
	defer h.service.fake.mu.Unlock()
	ch, err := h.channel()
	if err != nil {
		return err
	}
	if _, ok := ch.Members[identity]; !ok {
		return notFound("member " + identity)
	}
	delete(ch.Members, identity)
	return nil
}

func (h *fakeChannelHandle) UpdateMemberRole(ctx context.Context, identity, roleSID string) error {
	h.service.fake.mu.Lock()
	defer h.service.fake.mu.Unlock()
	ch, err := h.channel()
	if err != nil {
		return err
	}
	m, ok := ch.Members[identity]
	if !ok {
		return notFound("member " + identity)
	}
	m.RoleSID = roleSID
	return nil
}

func (h *fakeChannelHandle) ListInvites(ctx context.Context) ([]twilio.Invite, error) {
	h.service.fake.mu.Lock()
	defer h.service.fake.mu.Unlock()
	ch, err := h.channel()
	if err != nil {
		return nil, err
	}
	out := make([]twilio.Invite, 0, len(ch.Invites))
	for _, inv := range ch.Invites {
		out = append(out, *inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

func (h *fakeChannelHandle) Invite(ctx context.Context, identity, roleSID string) (*twilio.Invite, error) {
	h.service.fake.mu.Lock()
	defer h.service.fake.mu.Unlock()
	ch, err := h.channel()
	if err != nil {
		return nil, err
	}
	if ch.InviteErr != nil {
		return nil, ch.InviteErr
	}
	inv := &twilio.Invite{SID: h.service.fake.sid("IN"), Identity: identity, RoleSID: roleSID}
	ch.Invites[identity] = inv
	copied := *inv
	return &copied, nil
}

func (h *fakeChannelHandle) Message(sid string) twilio.MessageHandle {
	return &fakeMessageHandle{channel: h, sid: sid}
}

type fakeMessageHandle struct {
	channel *fakeChannelHandle
	sid     string
}

func (m *fakeMessageHandle) message() (*twilio.Message, error) {
	ch, err := m.channel.channel()
	if err != nil {
		return nil, err
	}
	msg, ok := ch.Messages[m.sid]
	if !ok {
		return nil, notFound("message " + m.sid)
	}
	return msg, nil
}

func (m *fakeMessageHandle) Fetch(ctx context.Context) (*twilio.Message, error) {
	m.channel.service.fake.mu.Lock()
	defer m.channel.service.fake.mu.Unlock()
	msg, err := m.message()
	if err != nil {
		return nil, err
	}
	copied := *msg
	return &copied, nil
}

func (m *fakeMessageHandle) Delete(ctx context.Context) error {
	m.channel.service.fake.mu.Lock()
	defer m.channel.service.fake.mu.Unlock()
	if _, err := m.message(); err != nil {
		return err
	}
	ch, _ := m.channel.channel()
	delete(ch.Messages, m.sid)
	return nil
}

func (m *fakeMessageHandle) UpdateAttributes(ctx context.Context, attributes string) error {
	m.channel.service.fake.mu.Lock()
	defer m.channel.service.fake.mu.Unlock()
	msg, err := m.message()
	if err != nil {
		return err
	}
	msg.Attributes = attributes
	return nil
}

// FakeVideoService holds video-room state.
type FakeVideoService struct {
	fake *Fake

	Rooms map[string]*FakeRoom

	CreateRoomErr error
	ListRoomsErr  error
}

// FakeRoom holds one room's state.
type FakeRoom struct {
	Room         twilio.VideoRoom
	Participants map[string]*twilio.Participant

	DisconnectErr error
}

func (v *FakeVideoService) ensure() {
	if v.Rooms == nil {
		v.Rooms = make(map[string]*FakeRoom)
	}
}

// AddRoom seeds a room, returning its SID.
func (v *FakeVideoService) AddRoom(room twilio.VideoRoom) string {
	v.fake.mu.Lock()
	defer v.fake.mu.Unlock()
	v.ensure()
	if room.SID == "" {
		room.SID = v.fake.sid("RM")
	}
	if room.Status == "" {
		room.Status = twilio.RoomStatusInProgress
	}
	v.Rooms[room.SID] = &FakeRoom{Room: room, Participants: make(map[string]*twilio.Participant)}
	return room.SID
}

// AddParticipant seeds a connected participant on a room.
func (v *FakeVideoService) AddParticipant(roomSID, identity string) {
	v.fake.mu.Lock()
	defer v.fake.mu.Unlock()
	v.ensure()
	r, ok := v.Rooms[roomSID]
	if !ok {
		return
	}
	r.Participants[identity] = &twilio.Participant{
		SID:      v.fake.sid("PA"),
		Identity: identity,
		Status:   twilio.ParticipantConnected,
	}
}

// GetRoom returns the fake room record for assertions, or nil.
func (v *FakeVideoService) GetRoom(sid string) *FakeRoom {
	v.fake.mu.Lock()
	defer v.fake.mu.Unlock()
	v.ensure()
	return v.Rooms[sid]
}

func (v *FakeVideoService) ListRooms(ctx context.Context, status string) ([]twilio.VideoRoom, error) {
	v.fake.mu.Lock()
	defer v.fake.mu.Unlock()
	v.ensure()
	if v.ListRoomsErr != nil {
		return nil, v.ListRoomsErr
	}
	var out []twilio.VideoRoom
	for _, r := range v.Rooms {
		if status == "" || r.Room.Status == status {
			out = append(out, r.Room)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SID < out[j].SID })
	return out, nil
}

func (v *FakeVideoService) CreateRoom(ctx context.Context, params twilio.CreateRoomParams) (*twilio.VideoRoom, error) {
	v.fake.mu.Lock()
	defer v.fake.mu.Unlock()
	v.ensure()
	if v.CreateRoomErr != nil {
		return nil, v.CreateRoomErr
	}
	for _, r := range v.Rooms {
		if r.Room.UniqueName == params.UniqueName && r.Room.Status == twilio.RoomStatusInProgress {
			return nil, &twilio.Error{
				Code:    twilio.CodeRoomNameTaken,
				Status:  http.StatusBadRequest,
				Message: "Room exists",
			}
		}
	}
	room := twilio.VideoRoom{
		SID:             v.fake.sid("RM"),
		UniqueName:      params.UniqueName,
		Status:          twilio.RoomStatusInProgress,
		MaxParticipants: params.MaxParticipants,
	}
	v.Rooms[room.SID] = &FakeRoom{Room: room, Participants: make(map[string]*twilio.Participant)}
	copied := room
	return &copied, nil
}

func (v *FakeVideoService) FetchRoomByName(ctx context.Context, uniqueName string) (*twilio.VideoRoom, error) {
	v.fake.mu.Lock()
	defer v.fake.mu.Unlock()
	v.ensure()
	for _, r := range v.Rooms {
		if r.Room.UniqueName == uniqueName && r.Room.Status == twilio.RoomStatusInProgress {
			copied := r.Room
			return &copied, nil
		}
	}
	return nil, notFound("room " + uniqueName)
}

func (v *FakeVideoService) Room(sid string) twilio.RoomHandle {
	return &fakeRoomHandle{video: v, sid: sid}
}

type fakeRoomHandle struct {
	video *FakeVideoService
	sid   string
}

func (h *fakeRoomHandle) room() (*FakeRoom, error) {
	h.video.ensure()
	r, ok := h.video.Rooms[h.sid]
	if !ok {
		return nil, notFound("room " + h.sid)
	}
	return r, nil
}

func (h *fakeRoomHandle) ListParticipants(ctx context.Context) ([]twilio.Participant, error) {
	h.video.fake.mu.Lock()
	defer h.video.fake.mu.Unlock()
	r, err := h.room()
	if err != nil {
		return nil, err
	}
	var out []twilio.Participant
	for _, p := range r.Participants {
		if p.Status == twilio.ParticipantConnected {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

func (h *fakeRoomHandle) DisconnectParticipant(ctx context.Context, identity string) error {
	h.video.fake.mu.Lock()
	defer h.video.fake.mu.Unlock()
	r, err := h.room()
	if err != nil {
		return err
	}
	if r.DisconnectErr != nil {
		return r.DisconnectErr
	}
	p, ok := r.Participants[identity]
	if !ok || p.Status != twilio.ParticipantConnected {
		return notFound("participant " + identity)
	}
	p.Status = twilio.ParticipantDisconnected
	return nil
}

func (h *fakeRoomHandle) Complete(ctx context.Context) error {
	h.video.fake.mu.Lock()
	defer h.video.fake.mu.Unlock()
	r, err := h.room()
	if err != nil {
		return err
	}
	r.Room.Status = twilio.RoomStatusCompleted
	return nil
}

// RateLimited builds the provider's rate-limit error, for injection.
func RateLimited() *twilio.Error {
	return &twilio.Error{
		Code:    twilio.CodeRateLimited,
		Status:  http.StatusTooManyRequests,
		Message: "Too many requests",
	}
}

func notFound(what string) *twilio.Error {
	return &twilio.Error{
		Code:    twilio.CodeNotFound,
		Status:  http.StatusNotFound,
		Message: "The requested resource " + what + " was not found",
	}
}
