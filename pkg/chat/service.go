package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/greenroom-live/greenroom/pkg/httputil"
	"github.com/greenroom-live/greenroom/pkg/roles"
	"github.com/greenroom-live/greenroom/pkg/session"
	"github.com/greenroom-live/greenroom/pkg/store"
	"github.com/greenroom-live/greenroom/pkg/twilio"
)

// Channel modes.
const (
	ModePublic  = "public"
	ModePrivate = "private"
)

// DefaultTokenTTL is the chat access-token lifetime.
const DefaultTokenTTL = 3 * time.Hour

// Service is the chat session manager.
type Service struct {
	store    store.Store
	roles    *roles.Engine
	retry    *twilio.Retryer
	logger   *logrus.Logger
	tokenTTL time.Duration
	now      func() time.Time
}

// NewService builds a chat Service.
func NewService(st store.Store, engine *roles.Engine, retry *twilio.Retryer, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		store:    st,
		roles:    engine,
		retry:    retry,
		logger:   logger,
		tokenTTL: DefaultTokenTTL,
		now:      time.Now,
	}
}

// SetTokenTTL overrides the access-token lifetime. Non-positive values
// are ignored.
func (s *Service) SetTokenTTL(ttl time.Duration) {
	if ttl > 0 {
		s.tokenTTL = ttl
	}
}

// Token is a minted provider access token.
type Token struct {
	Token    string `json:"token"`
	Identity string `json:"identity"`
	Expiry   int64  `json:"expiry"`
}

// MintToken mints a chat access token for the caller. The endpoint id
// distinguishes concurrent browser sessions of the same profile.
func (s *Service) MintToken(sc *session.Context) (*Token, error) {
	now := s.now()
	identity := sc.Profile.ID
	endpointID := fmt.Sprintf("%s:browser:%s:%d", identity, sc.Session.ID, now.UnixMilli())

	jwt, err := twilio.NewAccessToken(twilio.TokenOptions{
		AccountSID: sc.Config.AccountSID,
		APIKey:     sc.Config.APIKey,
		APISecret:  sc.Config.APISecret,
		Identity:   identity,
		TTL:        s.tokenTTL,
	}).AddChatGrant(twilio.ChatGrant{
		ServiceSID: sc.Config.ChatServiceSID,
		EndpointID: endpointID,
	}).JWT()
	if err != nil {
		return nil, fmt.Errorf("mint chat token: %w", err)
	}

	return &Token{
		Token:    jwt,
		Identity: identity,
		Expiry:   now.Add(s.tokenTTL).UnixMilli(),
	}, nil
}

// CreateParams are the inputs to Create.
type CreateParams struct {
	InviteProfileIDs []string
	Mode             string
	Title            string
}

// Create creates a chat channel and returns its provider sid.
//
// A private channel with exactly one invitee is a DM. DMs use the sorted
// profile-id pair as unique name, making creation idempotent; everything
// else gets a random unique name and a fresh channel per call. The
// creator becomes a member immediately; invitees receive invites so
// private channels stay join-by-consent.
func (s *Service) Create(ctx context.Context, sc *session.Context, params CreateParams) (string, error) {
	title := strings.TrimSpace(params.Title)
	if params.InviteProfileIDs == nil || title == "" || params.Mode == "" {
		return "", httputil.BadRequest("Missing request parameter(s).")
	}

	invitees := make([]string, 0, len(params.InviteProfileIDs))
	for _, id := range params.InviteProfileIDs {
		if id != sc.Profile.ID {
			invitees = append(invitees, id)
		}
	}
	if len(invitees) == 0 {
		return "", httputil.BadRequest("Invited members should be a non-empty array (not including the creator).")
	}
	if params.Mode != ModePublic && params.Mode != ModePrivate {
		return "", httputil.BadRequest("Mode should be 'public' or 'private'.")
	}
	if len([]rune(title)) < 5 {
		return "", httputil.BadRequest("Title should be a trimmed string of at least 5 non-empty characters.")
	}

	profiles, err := s.lookupProfiles(ctx, sc.Conference.ID, invitees)
	if err != nil {
		return "", err
	}

	isPrivate := params.Mode == ModePrivate
	isDM := isPrivate && len(invitees) == 1

	uniqueName := dmUniqueName(sc.Profile.ID, invitees[0])
	friendlyName := uniqueName
	createdBy := "system"
	if !isDM {
		uniqueName = truncateName(sc.Profile.ID + "-" + uuid.NewString())
		friendlyName = title
		createdBy = sc.Profile.ID
	}

	attributes, err := json.Marshal(map[string]bool{"isDM": isDM})
	if err != nil {
		return "", fmt.Errorf("marshal channel attributes: %w", err)
	}

	svc := sc.Client.ChatService(sc.Config.ChatServiceSID)
	channelRoles, err := s.channelRoles(ctx, svc)
	if err != nil {
		return "", err
	}
	creatorRole := channelRoles.admin
	if isDM {
		creatorRole = channelRoles.user
	}

	if isDM {
		if existing, err := s.findChannelByUniqueName(ctx, svc, uniqueName); err != nil {
			return "", err
		} else if existing != nil {
			if err := s.joinAndInvite(ctx, svc, existing.SID, sc.Profile.ID, creatorRole, invitees, channelRoles.user); err != nil {
				return "", err
			}
			return existing.SID, nil
		}
	}

	var channel *twilio.Channel
	err = s.retry.Do(ctx, "channels.create", func() error {
		var cerr error
		channel, cerr = svc.CreateChannel(ctx, twilio.CreateChannelParams{
			FriendlyName: friendlyName,
			UniqueName:   uniqueName,
			CreatedBy:    createdBy,
			Type:         params.Mode,
			Attributes:   string(attributes),
		})
		return cerr
	})
	if err != nil {
		if twilio.IsNameTaken(err) {
			// A concurrent DM create won the race; converge on its channel.
			existing, ferr := s.findChannelByUniqueName(ctx, svc, uniqueName)
			if ferr != nil {
				return "", ferr
			}
			if existing != nil {
				if jerr := s.joinAndInvite(ctx, svc, existing.SID, sc.Profile.ID, creatorRole, invitees, channelRoles.user); jerr != nil {
					return "", jerr
				}
				return existing.SID, nil
			}
		}
		return "", fmt.Errorf("create channel: %w", err)
	}

	if err := s.populateChannel(ctx, sc, svc, channel.SID, profiles, creatorRole, channelRoles.user); err != nil {
		s.logger.WithFields(logrus.Fields{
			"channel": channel.SID,
			"error":   err,
		}).Error("could not populate channel, deleting it")
		if derr := s.retry.Do(ctx, "channels.delete", func() error {
			return svc.Channel(channel.SID).Delete(ctx)
		}); derr != nil {
			s.logger.WithFields(logrus.Fields{
				"channel": channel.SID,
				"error":   derr,
			}).Warn("compensating channel delete failed")
		}
		return "", &httputil.Error{Code: http.StatusInternalServerError, Status: "Failed to add or invite members."}
	}

	s.logger.WithFields(logrus.Fields{
		"channel": channel.SID,
		"is_dm":   isDM,
	}).Info("created channel")
	return channel.SID, nil
}

// populateChannel sets up a fresh channel: provider user records, creator
// membership, invites for everyone else.
func (s *Service) populateChannel(ctx context.Context, sc *session.Context, svc twilio.ChatService, channelSID string, invitees []*store.Profile, creatorRoleSID, userRoleSID string) error {
	if sc.Config.AutoCreateUsers {
		if err := s.ensureProviderUsers(ctx, svc, append(invitees, sc.Profile)); err != nil {
			return err
		}
	}

	handle := svc.Channel(channelSID)
	if err := s.retry.Do(ctx, "members.create", func() error {
		_, err := handle.AddMember(ctx, sc.Profile.ID, creatorRoleSID)
		return err
	}); err != nil {
		return fmt.Errorf("add creator: %w", err)
	}

	for _, profile := range invitees {
		profile := profile
		if err := s.retry.Do(ctx, "invites.create", func() error {
			_, err := handle.Invite(ctx, profile.ID, userRoleSID)
			return err
		}); err != nil {
			return fmt.Errorf("invite %s: %w", profile.ID, err)
		}
	}
	return nil
}

// joinAndInvite converges an existing channel toward the requested state:
// the creator becomes a member if not one already, invitees not yet
// present receive invites. Idempotent.
func (s *Service) joinAndInvite(ctx context.Context, svc twilio.ChatService, channelSID, creatorID, creatorRoleSID string, inviteeIDs []string, userRoleSID string) error {
	handle := svc.Channel(channelSID)

	members, err := handle.ListMembers(ctx)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	invites, err := handle.ListInvites(ctx)
	if err != nil {
		return fmt.Errorf("list invites: %w", err)
	}
	present := make(map[string]bool, len(members)+len(invites))
	for _, m := range members {
		present[m.Identity] = true
	}
	invited := make(map[string]bool, len(invites))
	for _, inv := range invites {
		invited[inv.Identity] = true
	}

	if !present[creatorID] {
		if err := s.retry.Do(ctx, "members.create", func() error {
			_, err := handle.AddMember(ctx, creatorID, creatorRoleSID)
			return err
		}); err != nil {
			return fmt.Errorf("add creator: %w", err)
		}
	}
	for _, id := range inviteeIDs {
		if present[id] || invited[id] {
			continue
		}
		id := id
		if err := s.retry.Do(ctx, "invites.create", func() error {
			_, err := handle.Invite(ctx, id, userRoleSID)
			return err
		}); err != nil {
			return fmt.Errorf("invite %s: %w", id, err)
		}
	}
	return nil
}

// Invite invites profiles into an existing non-DM channel. The requester
// must already be a member; already-present targets are skipped.
func (s *Service) Invite(ctx context.Context, sc *session.Context, channelSID string, targetProfileIDs []string) error {
	if channelSID == "" || targetProfileIDs == nil {
		return httputil.BadRequest("Missing request parameter(s).")
	}
	targets := make([]string, 0, len(targetProfileIDs))
	for _, id := range targetProfileIDs {
		if id != sc.Profile.ID {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return httputil.BadRequest("Invited members should be a non-empty array (that does not include yourself).")
	}
	if _, err := s.lookupProfiles(ctx, sc.Conference.ID, targets); err != nil {
		return err
	}

	svc := sc.Client.ChatService(sc.Config.ChatServiceSID)
	handle := svc.Channel(channelSID)
	channel, err := handle.Fetch(ctx)
	if err != nil {
		if twilio.IsNotFound(err) {
			return httputil.NotFound("Channel not found.")
		}
		return fmt.Errorf("fetch channel %s: %w", channelSID, err)
	}
	if channelIsDM(channel.Attributes) {
		return httputil.BadRequest("Cannot invite more users to a DM chat.")
	}

	members, err := handle.ListMembers(ctx)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	isMember := false
	for _, m := range members {
		if m.Identity == sc.Profile.ID {
			isMember = true
			break
		}
	}
	if !isMember {
		return httputil.Forbidden("Access denied.")
	}

	invites, err := handle.ListInvites(ctx)
	if err != nil {
		return fmt.Errorf("list invites: %w", err)
	}
	present := make(map[string]bool, len(members)+len(invites))
	for _, m := range members {
		present[m.Identity] = true
	}
	for _, inv := range invites {
		present[inv.Identity] = true
	}

	channelRoles, err := s.channelRoles(ctx, svc)
	if err != nil {
		return err
	}
	for _, id := range targets {
		if present[id] {
			continue
		}
		id := id
		if err := s.retry.Do(ctx, "invites.create", func() error {
			_, err := handle.Invite(ctx, id, channelRoles.user)
			return err
		}); err != nil {
			return fmt.Errorf("invite %s: %w", id, err)
		}
	}
	return nil
}

func channelIsDM(attributes string) bool {
	if attributes == "" {
		return false
	}
	var attrs struct {
		IsDM bool `json:"isDM"`
	}
	if err := json.Unmarshal([]byte(attributes), &attrs); err != nil {
		return false
	}
	return attrs.IsDM
}

// DeleteMessage removes a channel message. Moderators only.
func (s *Service) DeleteMessage(ctx context.Context, sc *session.Context, channelSID, messageSID string) error {
	if channelSID == "" {
		return httputil.BadRequest("Invalid or missing channel sid")
	}
	if messageSID == "" {
		return httputil.BadRequest("Invalid or missing message sid")
	}
	isMod, err := s.roles.IsModerator(ctx, sc.User.ID, sc.Conference.ID)
	if err != nil {
		return err
	}
	if !isMod {
		return httputil.Forbidden("Permission denied.")
	}

	err = s.retry.Do(ctx, "messages.delete", func() error {
		return sc.Client.ChatService(sc.Config.ChatServiceSID).Channel(channelSID).Message(messageSID).Delete(ctx)
	})
	if err != nil && !twilio.IsNotFound(err) {
		return fmt.Errorf("delete message %s: %w", messageSID, err)
	}
	return nil
}

type channelRolePair struct {
	admin string
	user  string
}

// channelRoles resolves the provider's "channel admin" and "channel user"
// roles. Their absence means the chat service was provisioned wrong.
func (s *Service) channelRoles(ctx context.Context, svc twilio.ChatService) (channelRolePair, error) {
	list, err := svc.ListRoles(ctx)
	if err != nil {
		return channelRolePair{}, fmt.Errorf("list chat roles: %w", err)
	}
	var pair channelRolePair
	for _, role := range list {
		switch role.FriendlyName {
		case twilio.RoleChannelAdmin:
			pair.admin = role.SID
		case twilio.RoleChannelUser:
			pair.user = role.SID
		}
	}
	if pair.admin == "" || pair.user == "" {
		return channelRolePair{}, fmt.Errorf("chat service is missing the channel admin/user roles")
	}
	return pair, nil
}

// findChannelByUniqueName scans the service's channels for a unique name.
// Returns nil without error when no channel matches.
func (s *Service) findChannelByUniqueName(ctx context.Context, svc twilio.ChatService, uniqueName string) (*twilio.Channel, error) {
	channels, err := svc.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	for i := range channels {
		if channels[i].UniqueName == uniqueName {
			return &channels[i], nil
		}
	}
	return nil, nil
}

func (s *Service) lookupProfiles(ctx context.Context, conferenceID string, ids []string) ([]*store.Profile, error) {
	profiles := make([]*store.Profile, 0, len(ids))
	for _, id := range ids {
		profile, err := s.store.GetProfile(ctx, conferenceID, id)
		if err != nil {
			if store.IsNotFound(err) {
				return nil, httputil.BadRequest("Users to invite invalid.")
			}
			return nil, fmt.Errorf("look up profile %s: %w", id, err)
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

// ensureProviderUsers creates provider-side user records for any profile
// that lacks one. Service-level roles are corrected later by the webhook
// machine, not here.
func (s *Service) ensureProviderUsers(ctx context.Context, svc twilio.ChatService, profiles []*store.Profile) error {
	existing, err := svc.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list provider users: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, u := range existing {
		have[u.Identity] = true
	}
	for _, profile := range profiles {
		if have[profile.ID] {
			continue
		}
		profile := profile
		if err := s.retry.Do(ctx, "users.create", func() error {
			_, cerr := svc.CreateUser(ctx, profile.ID, profile.DisplayName)
			return cerr
		}); err != nil {
			return fmt.Errorf("create provider user %s: %w", profile.ID, err)
		}
	}
	return nil
}

// dmUniqueName derives the deterministic DM channel name for two profiles:
// the lexicographically smaller id first, capped at the provider's limit.
func dmUniqueName(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return truncateName(a + "-" + b)
}

func truncateName(name string) string {
	if len(name) > twilio.ChannelNameMaxLen {
		return name[:twilio.ChannelNameMaxLen]
	}
	return name
}
