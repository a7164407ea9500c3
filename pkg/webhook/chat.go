package webhook

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/greenroom-live/greenroom/pkg/conference"
	"github.com/greenroom-live/greenroom/pkg/httputil"
	"github.com/greenroom-live/greenroom/pkg/roles"
	"github.com/greenroom-live/greenroom/pkg/store"
	"github.com/greenroom-live/greenroom/pkg/twilio"
)

// Chat event types the machine reacts to. Everything else is accepted
// unchanged.
const (
	EventMemberAdd      = "onMemberAdd"
	EventMemberAdded    = "onMemberAdded"
	EventUserAdded      = "onUserAdded"
	EventUserUpdated    = "onUserUpdated"
	EventChannelUpdated = "onChannelUpdated"
	EventChannelDestroy = "onChannelDestroyed"
)

// ChatEvent is a chat webhook payload. Identity is a profile id; the
// provider never sees user ids.
type ChatEvent struct {
	EventType   string
	Identity    string
	ChannelSID  string
	RoleSID     string
	AccountSID  string
	InstanceSID string
	IsOnline    string
}

// PresenceStore records per-profile online state.
type PresenceStore interface {
	SetOnline(ctx context.Context, profileID string, online bool) error
}

// ChatMachine decides what happens to chat membership events.
type ChatMachine struct {
	store    store.Store
	roles    *roles.Engine
	presence PresenceStore
	retry    *twilio.Retryer
	logger   *logrus.Logger
}

// NewChatMachine builds a ChatMachine. presence may be nil, in which case
// onUserUpdated events are accepted without recording anything.
func NewChatMachine(st store.Store, engine *roles.Engine, presence PresenceStore, retry *twilio.Retryer, logger *logrus.Logger) *ChatMachine {
	if logger == nil {
		logger = logrus.New()
	}
	return &ChatMachine{store: st, roles: engine, presence: presence, retry: retry, logger: logger}
}

// Handle applies one chat event against the resolved conference. A
// returned request error rejects the event; nil accepts it.
func (m *ChatMachine) Handle(ctx context.Context, res *conference.Resolved, ev ChatEvent) error {
	switch ev.EventType {
	case EventUserUpdated:
		return m.handlePresence(ctx, res, ev)
	case EventMemberAdd, EventMemberAdded, EventUserAdded:
		return m.handleMembership(ctx, res, ev)
	case EventChannelUpdated, EventChannelDestroy:
		return nil
	default:
		return nil
	}
}

func (m *ChatMachine) handlePresence(ctx context.Context, res *conference.Resolved, ev ChatEvent) error {
	if m.presence == nil || ev.Identity == "" {
		return nil
	}
	if _, err := m.store.GetProfile(ctx, res.Conference.ID, ev.Identity); err != nil {
		if store.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("look up profile %s: %w", ev.Identity, err)
	}
	online := ev.IsOnline == "true"
	if err := m.presence.SetOnline(ctx, ev.Identity, online); err != nil {
		return fmt.Errorf("record presence for %s: %w", ev.Identity, err)
	}
	return nil
}

// handleMembership routes a freshly added member or user to the right
// provider role, rejecting banned profiles and spoofed events.
func (m *ChatMachine) handleMembership(ctx context.Context, res *conference.Resolved, ev ChatEvent) error {
	profile, err := m.store.GetProfile(ctx, res.Conference.ID, ev.Identity)
	if err != nil {
		if store.IsNotFound(err) {
			return httputil.Forbidden("Permission denied.")
		}
		return fmt.Errorf("look up profile %s: %w", ev.Identity, err)
	}

	svc := res.Client.ChatService(res.Config.ChatServiceSID)
	if profile.IsBanned {
		// Bans propagate here: a banned profile re-entering chat loses
		// its provider user record entirely.
		err := m.retry.Do(ctx, "users.delete", func() error {
			return svc.DeleteUser(ctx, profile.ID)
		})
		if err != nil && !twilio.IsNotFound(err) {
			m.logger.WithFields(logrus.Fields{
				"profile": profile.ID,
				"error":   err,
			}).Warn("could not delete banned provider user")
		}
		return httputil.Forbidden("Permission denied.")
	}

	if ev.AccountSID != res.Config.AccountSID || ev.InstanceSID != res.Config.ChatServiceSID {
		m.logger.WithFields(logrus.Fields{
			"account":  ev.AccountSID,
			"instance": ev.InstanceSID,
		}).Warn("chat event ids do not match conference configuration")
		return httputil.Forbidden("Permission denied.")
	}

	if ev.ChannelSID == "" {
		// User-level events carry no channel; nothing to route.
		return nil
	}

	elevated, err := m.roles.IsAdminOrManager(ctx, profile.UserID, res.Conference.ID)
	if err != nil {
		return err
	}

	roleName, err := m.routeChannel(res.Config, ev.ChannelSID, elevated)
	if err != nil {
		return err
	}

	desired, err := m.providerRoleSID(ctx, svc, roleName)
	if err != nil {
		return err
	}
	if ev.RoleSID == desired {
		return nil
	}
	err = m.retry.Do(ctx, "members.update", func() error {
		return svc.Channel(ev.ChannelSID).UpdateMemberRole(ctx, profile.ID, desired)
	})
	if err != nil {
		return fmt.Errorf("set role for %s in %s: %w", profile.ID, ev.ChannelSID, err)
	}
	m.logger.WithFields(logrus.Fields{
		"profile": profile.ID,
		"channel": ev.ChannelSID,
		"role":    roleName,
	}).Info("updated member role")
	return nil
}

// routeChannel picks the provider role for a member of the given channel.
// The moderation hub only admits admins and managers.
func (m *ChatMachine) routeChannel(cfg *conference.Config, channelSID string, elevated bool) (string, error) {
	switch channelSID {
	case cfg.AnnouncementsChannelSID:
		if elevated {
			return twilio.RoleAnnouncementsAdmin, nil
		}
		return twilio.RoleAnnouncementsUser, nil
	case cfg.ModerationHubChannelSID:
		if cfg.ModerationHubChannelSID == "" {
			break
		}
		if !elevated {
			return "", httputil.Forbidden("Permission denied.")
		}
		return twilio.RoleChannelUser, nil
	}
	if elevated {
		return twilio.RoleChannelAdmin, nil
	}
	return twilio.RoleChannelUser, nil
}

func (m *ChatMachine) providerRoleSID(ctx context.Context, svc twilio.ChatService, friendlyName string) (string, error) {
	list, err := svc.ListRoles(ctx)
	if err != nil {
		return "", fmt.Errorf("list chat roles: %w", err)
	}
	for _, role := range list {
		if role.FriendlyName == friendlyName {
			return role.SID, nil
		}
	}
	return "", fmt.Errorf("chat service has no %q role", friendlyName)
}
