package twilio

// Channel visibility modes.
const (
	ChannelTypePublic  = "public"
	ChannelTypePrivate = "private"
)

// Video room and participant states as reported by the provider.
const (
	RoomStatusInProgress = "in-progress"
	RoomStatusCompleted  = "completed"

	ParticipantConnected    = "connected"
	ParticipantDisconnected = "disconnected"
)

// Friendly names of the chat-service roles greenroom manages. The roles are
// provisioned at conference onboarding; their presence is asserted, never
// created here.
const (
	RoleChannelAdmin       = "channel admin"
	RoleChannelUser        = "channel user"
	RoleAnnouncementsAdmin = "announcements admin"
	RoleAnnouncementsUser  = "announcements user"
)

// ChannelNameMaxLen is the provider's unique-name length limit.
const ChannelNameMaxLen = 64

// Channel is a chat channel as reported by the provider.
type Channel struct {
	SID          string `json:"sid"`
	UniqueName   string `json:"unique_name"`
	FriendlyName string `json:"friendly_name"`
	Type         string `json:"type"`
	CreatedBy    string `json:"created_by"`
	Attributes   string `json:"attributes"`
}

// ChatRole is a chat-service role.
type ChatRole struct {
	SID          string `json:"sid"`
	FriendlyName string `json:"friendly_name"`
}

// ChatUser is a provider-side user record. Identity is always a greenroom
// profile id.
type ChatUser struct {
	SID          string `json:"sid"`
	Identity     string `json:"identity"`
	FriendlyName string `json:"friendly_name"`
	RoleSID      string `json:"role_sid"`
}

// Member is a channel member.
type Member struct {
	SID      string `json:"sid"`
	Identity string `json:"identity"`
	RoleSID  string `json:"role_sid"`
}

// Invite is a pending channel invite.
type Invite struct {
	SID      string `json:"sid"`
	Identity string `json:"identity"`
	RoleSID  string `json:"role_sid"`
}

// Message is a channel message; only the attribute blob is read or written
// by greenroom (for reactions and moderation).
type Message struct {
	SID        string `json:"sid"`
	Attributes string `json:"attributes"`
}

// VideoRoom is a video room as reported by the provider.
type VideoRoom struct {
	SID             string `json:"sid"`
	UniqueName      string `json:"unique_name"`
	Status          string `json:"status"`
	MaxParticipants int    `json:"max_participants"`
}

// Participant is a video-room participant.
type Participant struct {
	SID      string `json:"sid"`
	Identity string `json:"identity"`
	Status   string `json:"status"`
}

// CreateChannelParams are the inputs for channel creation.
type CreateChannelParams struct {
	FriendlyName string
	UniqueName   string
	CreatedBy    string
	Type         string
	Attributes   string
}

// CreateRoomParams are the inputs for video-room creation.
type CreateRoomParams struct {
	Type            string
	UniqueName      string
	MaxParticipants int
	StatusCallback  string
}

// ServiceSettings are the chat-service webhook settings pushed during
// conference auto-configuration. The update is idempotent on the provider
// side.
type ServiceSettings struct {
	PreWebhookURL  string
	PostWebhookURL string
	WebhookFilters []string
}
