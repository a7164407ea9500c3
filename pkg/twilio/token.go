package twilio

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenOptions carry the credentials and identity for an access token.
type TokenOptions struct {
	AccountSID string
	APIKey     string
	APISecret  string
	Identity   string
	TTL        time.Duration
}

// ChatGrant scopes a token to a chat service. EndpointID distinguishes
// concurrent browser sessions of the same identity.
type ChatGrant struct {
	ServiceSID string `json:"service_sid"`
	EndpointID string `json:"endpoint_id,omitempty"`
}

// VideoGrant scopes a token to a single video room.
type VideoGrant struct {
	Room string `json:"room,omitempty"`
}

// AccessToken is a provider access token: an HS256 JWT whose grants claim
// names the permitted services.
type AccessToken struct {
	opts  TokenOptions
	chat  *ChatGrant
	video *VideoGrant
	now   func() time.Time
}

// NewAccessToken creates an access token with no grants.
func NewAccessToken(opts TokenOptions) *AccessToken {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	return &AccessToken{opts: opts, now: time.Now}
}

// AddChatGrant attaches a chat grant.
func (t *AccessToken) AddChatGrant(grant ChatGrant) *AccessToken {
	t.chat = &grant
	return t
}

// AddVideoGrant attaches a video grant.
func (t *AccessToken) AddVideoGrant(grant VideoGrant) *AccessToken {
	t.video = &grant
	return t
}

// JWT signs the token and returns its compact encoding.
func (t *AccessToken) JWT() (string, error) {
	if t.opts.AccountSID == "" || t.opts.APIKey == "" || t.opts.APISecret == "" {
		return "", fmt.Errorf("access token requires account sid, api key and api secret")
	}
	now := t.now()

	grants := map[string]interface{}{
		"identity": t.opts.Identity,
	}
	if t.chat != nil {
		grants["chat"] = t.chat
	}
	if t.video != nil {
		grants["video"] = t.video
	}

	claims := jwt.MapClaims{
		"jti":    fmt.Sprintf("%s-%d", t.opts.APIKey, now.Unix()),
		"iss":    t.opts.APIKey,
		"sub":    t.opts.AccountSID,
		"iat":    now.Unix(),
		"exp":    now.Add(t.opts.TTL).Unix(),
		"grants": grants,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["cty"] = "twilio-fpa;v=1"
	signed, err := token.SignedString([]byte(t.opts.APISecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}
