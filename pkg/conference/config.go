package conference

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/greenroom-live/greenroom/pkg/store"
)

// Stored configuration keys. Conference rows override the process
// environment except where noted.
const (
	KeyAccountSID              = "TWILIO_ACCOUNT_SID"
	KeyAuthToken               = "TWILIO_AUTH_TOKEN"
	KeyAPIKey                  = "TWILIO_API_KEY"
	KeyAPISecret               = "TWILIO_API_SECRET"
	KeyChatServiceSID          = "TWILIO_CHAT_SERVICE_SID"
	KeyAnnouncementsChannelSID = "TWILIO_ANNOUNCEMENTS_CHANNEL_SID"
	KeyModerationHubChannelSID = "TWILIO_MODERATION_HUB_CHANNEL_SID"
	KeyRoomType                = "TWILIO_ROOM_TYPE"
	KeyAutoCreateUsers         = "TWILIO_AUTO_CREATE_USERS"
	KeyFrontendURL             = "REACT_APP_FRONTEND_URL"

	// Webhook wiring is environment-only: the URLs point at this process,
	// not at anything conference-specific, and must not be overridable
	// from stored rows.
	KeyVideoWebhookURL    = "TWILIO_VIDEO_WEBHOOK_URL"
	KeyChatPreWebhookURL  = "TWILIO_CHAT_PRE_WEBHOOK_URL"
	KeyChatPostWebhookURL = "TWILIO_CHAT_POST_WEBHOOK_URL"
	KeyShouldConfigure    = "SHOULD_CONFIGURE_TWILIO"
)

// requiredKeys must resolve from storage or environment; a conference
// missing any of them cannot be served.
var requiredKeys = []string{
	KeyAccountSID,
	KeyAuthToken,
	KeyAPIKey,
	KeyAPISecret,
	KeyChatServiceSID,
}

// DefaultRoomType is used when a conference sets no room type of its own.
const DefaultRoomType = "group"

// Config is a conference's resolved runtime configuration.
type Config struct {
	AccountSID              string
	AuthToken               string
	APIKey                  string
	APISecret               string
	ChatServiceSID          string
	AnnouncementsChannelSID string
	ModerationHubChannelSID string
	RoomType                string
	AutoCreateUsers         bool
	FrontendURL             string

	ShouldConfigureTwilio bool
	VideoWebhookURL       string
	ChatPreWebhookURL     string
	ChatPostWebhookURL    string
}

// MissingConfigError reports a required configuration key absent from both
// storage and environment.
type MissingConfigError struct {
	ConferenceID string
	Key          string
}

func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("conference %s: required config key %s missing from storage and environment", e.ConferenceID, e.Key)
}

// IsMissingConfig reports whether err is a MissingConfigError.
func IsMissingConfig(err error) bool {
	var merr *MissingConfigError
	return errors.As(err, &merr)
}

// ConfigResolver resolves per-conference configuration, caching results.
// There is no invalidation; a changed stored value is observed only after
// the cache entry expires.
type ConfigResolver struct {
	repo      store.ConfigRepo
	lookupEnv func(key string) (string, bool)
	cache     *expirable.LRU[string, *Config]
}

// NewConfigResolver builds a ConfigResolver with a cache of the given
// capacity and TTL.
func NewConfigResolver(repo store.ConfigRepo, cacheSize int, cacheTTL time.Duration) *ConfigResolver {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	return &ConfigResolver{
		repo:      repo,
		lookupEnv: os.LookupEnv,
		cache:     expirable.NewLRU[string, *Config](cacheSize, nil, cacheTTL),
	}
}

// Resolve loads the conference's configuration, filling unset keys from the
// environment and failing fast when a required key is absent from both.
func (r *ConfigResolver) Resolve(ctx context.Context, conferenceID string) (*Config, error) {
	if cfg, ok := r.cache.Get(conferenceID); ok {
		return cfg, nil
	}

	entries, err := r.repo.ListConfig(ctx, conferenceID)
	if err != nil {
		return nil, fmt.Errorf("list config for conference %s: %w", conferenceID, err)
	}
	stored := make(map[string]string, len(entries))
	for _, e := range entries {
		stored[e.Key] = e.Value
	}

	get := func(key string) string {
		if v, ok := stored[key]; ok && v != "" {
			return v
		}
		if v, ok := r.lookupEnv(key); ok {
			return v
		}
		return ""
	}
	env := func(key string) string {
		v, _ := r.lookupEnv(key)
		return v
	}

	for _, key := range requiredKeys {
		if get(key) == "" {
			return nil, &MissingConfigError{ConferenceID: conferenceID, Key: key}
		}
	}

	cfg := &Config{
		AccountSID:              get(KeyAccountSID),
		AuthToken:               get(KeyAuthToken),
		APIKey:                  get(KeyAPIKey),
		APISecret:               get(KeyAPISecret),
		ChatServiceSID:          get(KeyChatServiceSID),
		AnnouncementsChannelSID: get(KeyAnnouncementsChannelSID),
		ModerationHubChannelSID: get(KeyModerationHubChannelSID),
		RoomType:                get(KeyRoomType),
		AutoCreateUsers:         parseBoolDefault(get(KeyAutoCreateUsers), true),
		FrontendURL:             get(KeyFrontendURL),

		ShouldConfigureTwilio: parseBool(env(KeyShouldConfigure)),
		VideoWebhookURL:       env(KeyVideoWebhookURL),
		ChatPreWebhookURL:     env(KeyChatPreWebhookURL),
		ChatPostWebhookURL:    env(KeyChatPostWebhookURL),
	}
	if cfg.RoomType == "" {
		cfg.RoomType = DefaultRoomType
	}
	if cfg.ShouldConfigureTwilio && (cfg.ChatPreWebhookURL == "" || cfg.ChatPostWebhookURL == "") {
		return nil, &MissingConfigError{ConferenceID: conferenceID, Key: KeyChatPreWebhookURL}
	}

	r.cache.Add(conferenceID, cfg)
	return cfg, nil
}

func parseBool(v string) bool {
	switch v {
	case "", "0", "false", "False", "FALSE":
		return false
	default:
		return true
	}
}

func parseBoolDefault(v string, def bool) bool {
	if v == "" {
		return def
	}
	return parseBool(v)
}
