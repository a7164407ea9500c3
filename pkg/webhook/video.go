package webhook

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/greenroom-live/greenroom/pkg/conference"
	"github.com/greenroom-live/greenroom/pkg/store"
	"github.com/greenroom-live/greenroom/pkg/twilio"
)

// Video lifecycle events the machine reacts to.
const (
	EventRoomEnded               = "room-ended"
	EventParticipantConnected    = "participant-connected"
	EventParticipantDisconnected = "participant-disconnected"
)

// VideoEvent is a video status-callback payload.
type VideoEvent struct {
	StatusCallbackEvent string
	RoomSID             string
	ParticipantIdentity string
}

// VideoMachine applies room lifecycle events to local room records. Rooms
// the store does not know are ignored: the reconciler adopts them on the
// next conference load.
type VideoMachine struct {
	store  store.Store
	logger *logrus.Logger
}

// NewVideoMachine builds a VideoMachine.
func NewVideoMachine(st store.Store, logger *logrus.Logger) *VideoMachine {
	if logger == nil {
		logger = logrus.New()
	}
	return &VideoMachine{store: st, logger: logger}
}

// Handle applies one video event against the resolved conference. Unknown
// events and unknown rooms are accepted without effect.
func (m *VideoMachine) Handle(ctx context.Context, res *conference.Resolved, ev VideoEvent) error {
	switch ev.StatusCallbackEvent {
	case EventParticipantConnected:
		return m.participantConnected(ctx, res, ev)
	case EventParticipantDisconnected:
		return m.participantDisconnected(ctx, ev)
	case EventRoomEnded:
		return m.roomEnded(ctx, res, ev)
	default:
		return nil
	}
}

func (m *VideoMachine) findRoom(ctx context.Context, roomSID string) (*store.Room, error) {
	room, err := m.store.FindRoomByTwilioID(ctx, roomSID)
	if err != nil {
		if store.IsNotFound(err) {
			m.logger.WithField("provider", roomSID).Debug("event for unknown room")
			return nil, nil
		}
		return nil, fmt.Errorf("find room %s: %w", roomSID, err)
	}
	return room, nil
}

func (m *VideoMachine) participantConnected(ctx context.Context, res *conference.Resolved, ev VideoEvent) error {
	room, err := m.findRoom(ctx, ev.RoomSID)
	if err != nil || room == nil {
		return err
	}
	profile, err := m.store.GetProfile(ctx, room.ConferenceID, ev.ParticipantIdentity)
	if err != nil {
		if store.IsNotFound(err) {
			m.logger.WithFields(logrus.Fields{
				"room":     room.ID,
				"identity": ev.ParticipantIdentity,
			}).Warn("connected participant has no profile")
			return nil
		}
		return fmt.Errorf("look up profile %s: %w", ev.ParticipantIdentity, err)
	}
	if room.HasMember(ev.ParticipantIdentity) {
		return nil
	}
	room.AddMember(ev.ParticipantIdentity)
	if room.IsPrivate {
		// Joining a private room keeps it visible to the participant
		// after they disconnect, so they can rejoin.
		room.ACL.GrantUserRead(profile.UserID)
	}
	if err := m.store.UpdateRoom(ctx, room); err != nil {
		return fmt.Errorf("update room %s: %w", room.ID, err)
	}
	return nil
}

func (m *VideoMachine) participantDisconnected(ctx context.Context, ev VideoEvent) error {
	room, err := m.findRoom(ctx, ev.RoomSID)
	if err != nil || room == nil {
		return err
	}
	if !room.HasMember(ev.ParticipantIdentity) {
		return nil
	}
	room.RemoveMember(ev.ParticipantIdentity)
	if err := m.store.UpdateRoom(ctx, room); err != nil {
		return fmt.Errorf("update room %s: %w", room.ID, err)
	}
	return nil
}

// roomEnded detaches a persistent room from its ended provider room so a
// later token request re-creates it, and removes ephemeral rooms outright
// along with their paired chat channel.
func (m *VideoMachine) roomEnded(ctx context.Context, res *conference.Resolved, ev VideoEvent) error {
	room, err := m.findRoom(ctx, ev.RoomSID)
	if err != nil || room == nil {
		return err
	}

	if room.Persistence == store.PersistencePersistent {
		room.TwilioRoomID = ""
		room.MemberProfileIDs = nil
		if err := m.store.UpdateRoom(ctx, room); err != nil {
			return fmt.Errorf("detach room %s: %w", room.ID, err)
		}
		m.logger.WithField("room", room.ID).Info("detached ended persistent room")
		return nil
	}

	if room.TwilioChatID != "" {
		err := res.Client.ChatService(res.Config.ChatServiceSID).Channel(room.TwilioChatID).Delete(ctx)
		if err != nil && !twilio.IsNotFound(err) {
			m.logger.WithFields(logrus.Fields{
				"room":    room.ID,
				"channel": room.TwilioChatID,
				"error":   err,
			}).Warn("could not delete paired chat channel")
		}
	}
	if err := m.store.DeleteRoom(ctx, room.ConferenceID, room.ID); err != nil {
		return fmt.Errorf("delete room %s: %w", room.ID, err)
	}
	m.logger.WithField("room", room.ID).Info("removed ended ephemeral room")
	return nil
}
