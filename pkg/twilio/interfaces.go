package twilio

import "context"

// Client is one authenticated connection to the provider, scoped to a
// conference's account credentials.
type Client interface {
	ChatService(sid string) ChatService
	Video() VideoService
}

// ChatService addresses one Programmable Chat service instance.
type ChatService interface {
	// Configure pushes webhook settings to the service. Idempotent.
	Configure(ctx context.Context, settings ServiceSettings) error

	ListRoles(ctx context.Context) ([]ChatRole, error)

	ListUsers(ctx context.Context) ([]ChatUser, error)
	CreateUser(ctx context.Context, identity, friendlyName string) (*ChatUser, error)
	DeleteUser(ctx context.Context, identity string) error

	ListChannels(ctx context.Context) ([]Channel, error)
	CreateChannel(ctx context.Context, params CreateChannelParams) (*Channel, error)
	Channel(sid string) ChannelHandle
}

// ChannelHandle addresses one channel within a chat service.
type ChannelHandle interface {
	Fetch(ctx context.Context) (*Channel, error)
	Delete(ctx context.Context) error

	ListMembers(ctx context.Context) ([]Member, error)
	AddMember(ctx context.Context, identity, roleSID string) (*Member, error)
	RemoveMember(ctx context.Context, identity string) error
	UpdateMemberRole(ctx context.Context, identity, roleSID string) error

	ListInvites(ctx context.Context) ([]Invite, error)
	Invite(ctx context.Context, identity, roleSID string) (*Invite, error)

	Message(sid string) MessageHandle
}

// MessageHandle addresses one message within a channel.
type MessageHandle interface {
	Fetch(ctx context.Context) (*Message, error)
	Delete(ctx context.Context) error
	UpdateAttributes(ctx context.Context, attributes string) error
}

// VideoService addresses the account's video rooms.
type VideoService interface {
	// ListRooms lists rooms filtered by status ("in-progress" for the
	// reconciliation pass); an empty status lists all.
	ListRooms(ctx context.Context, status string) ([]VideoRoom, error)
	CreateRoom(ctx context.Context, params CreateRoomParams) (*VideoRoom, error)
	// FetchRoomByName resolves a room by its unique name; this is the
	// fallback path when a create loses a race.
	FetchRoomByName(ctx context.Context, uniqueName string) (*VideoRoom, error)
	Room(sid string) RoomHandle
}

// RoomHandle addresses one video room.
type RoomHandle interface {
	ListParticipants(ctx context.Context) ([]Participant, error)
	// DisconnectParticipant evicts a participant. Evicting someone who
	// already left returns a not-found error the caller should tolerate.
	DisconnectParticipant(ctx context.Context, identity string) error
	Complete(ctx context.Context) error
}

// ClientFactory builds a Client from account credentials. The conference
// resolver caches one client per conference through this.
type ClientFactory func(accountSID, authToken string) Client
