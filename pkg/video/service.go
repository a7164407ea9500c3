package video

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/greenroom-live/greenroom/pkg/conference"
	"github.com/greenroom-live/greenroom/pkg/httputil"
	"github.com/greenroom-live/greenroom/pkg/roles"
	"github.com/greenroom-live/greenroom/pkg/session"
	"github.com/greenroom-live/greenroom/pkg/store"
	"github.com/greenroom-live/greenroom/pkg/twilio"
)

// DefaultTokenTTL is the video access-token lifetime.
const DefaultTokenTTL = time.Hour

// Service is the video session manager.
type Service struct {
	store    store.Store
	roles    *roles.Engine
	retry    *twilio.Retryer
	logger   *logrus.Logger
	tokenTTL time.Duration
	now      func() time.Time
}

// NewService builds a video Service.
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

// Token is a minted provider access token for one room.
type Token struct {
	Token        string `json:"token"`
	Identity     string `json:"identity"`
	TwilioRoomID string `json:"twilioRoomId"`
	RoomName     string `json:"roomName"`
	Expiry       int64  `json:"expiry"`
}

// MintToken mints a video access token for a room the caller may see.
// The room is resolved within the caller's conference, so a room id from
// another conference behaves like a room that does not exist.
func (s *Service) MintToken(ctx context.Context, sc *session.Context, roomID string) (*Token, error) {
	if roomID == "" {
		return nil, httputil.BadRequest("Missing request parameter(s).")
	}

	room, err := s.store.GetRoom(ctx, sc.Conference.ID, roomID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, httputil.Forbidden("Invalid room.")
		}
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}

	roleNames, err := s.roles.RoleNamesForUser(ctx, sc.User.ID, sc.Conference.ID)
	if err != nil {
		return nil, err
	}
	if !room.ACL.CanRead(sc.User.ID, roleNames) {
		return nil, httputil.Forbidden("Invalid room.")
	}

	if room.TwilioRoomID == "" {
		if room.Persistence != store.PersistencePersistent {
			return nil, httputil.NotFound("This room has been deleted")
		}
		if err := s.ensureProviderRoom(ctx, sc, room); err != nil {
			return nil, err
		}
	}

	now := s.now()
	identity := sc.Profile.ID
	jwt, err := twilio.NewAccessToken(twilio.TokenOptions{
		AccountSID: sc.Config.AccountSID,
		APIKey:     sc.Config.APIKey,
		APISecret:  sc.Config.APISecret,
		Identity:   identity,
		TTL:        s.tokenTTL,
	}).AddVideoGrant(twilio.VideoGrant{Room: room.TwilioRoomID}).JWT()
	if err != nil {
		return nil, fmt.Errorf("mint video token: %w", err)
	}

	return &Token{
		Token:        jwt,
		Identity:     identity,
		TwilioRoomID: room.TwilioRoomID,
		RoomName:     room.Title,
		Expiry:       now.Add(s.tokenTTL).UnixMilli(),
	}, nil
}

// ensureProviderRoom creates the provider room backing a dormant persistent
// room and persists its sid. A creation that loses a race to a concurrent
// caller falls back to the room the winner created, resolved by the
// deterministic unique name.
func (s *Service) ensureProviderRoom(ctx context.Context, sc *session.Context, room *store.Room) error {
	params := twilio.CreateRoomParams{
		Type:            sc.Config.RoomType,
		UniqueName:      room.Title,
		MaxParticipants: room.Capacity,
	}
	if sc.Config.VideoWebhookURL != "" {
		callback, err := conference.WebhookURL(sc.Config.VideoWebhookURL, sc.Conference.ID)
		if err != nil {
			return fmt.Errorf("video webhook url: %w", err)
		}
		params.StatusCallback = callback
	}

	var created *twilio.VideoRoom
	err := s.retry.Do(ctx, "rooms.create", func() error {
		var cerr error
		created, cerr = sc.Client.Video().CreateRoom(ctx, params)
		return cerr
	})
	if err != nil {
		if !twilio.IsNameTaken(err) {
			return fmt.Errorf("create provider room %q: %w", room.Title, err)
		}
		created, err = sc.Client.Video().FetchRoomByName(ctx, room.Title)
		if err != nil {
			return fmt.Errorf("fetch provider room %q after lost race: %w", room.Title, err)
		}
		s.logger.WithFields(logrus.Fields{
			"room":     room.ID,
			"provider": created.SID,
		}).Info("lost room creation race, adopting winner")
	}

	room.TwilioRoomID = created.SID
	if err := s.store.UpdateRoom(ctx, room); err != nil {
		return fmt.Errorf("persist provider room id: %w", err)
	}
	return nil
}

// Delete tears a room down: every connected participant is disconnected,
// the provider room is completed and the local record removed. Requires
// an admin or manager role.
func (s *Service) Delete(ctx context.Context, sc *session.Context, roomID string) error {
	if roomID == "" {
		return httputil.BadRequest("Missing request parameter(s).")
	}

	allowed, err := s.roles.IsAdminOrManager(ctx, sc.User.ID, sc.Conference.ID)
	if err != nil {
		return err
	}
	if !allowed {
		return httputil.Forbidden("Permission denied.")
	}

	room, err := s.store.GetRoom(ctx, sc.Conference.ID, roomID)
	if err != nil {
		if store.IsNotFound(err) {
			return httputil.Forbidden("Invalid room.")
		}
		return fmt.Errorf("get room %s: %w", roomID, err)
	}

	if room.TwilioRoomID != "" {
		s.teardownProviderRoom(ctx, sc, room.TwilioRoomID)
	}
	if room.TwilioChatID != "" {
		err := sc.Client.ChatService(sc.Config.ChatServiceSID).Channel(room.TwilioChatID).Delete(ctx)
		if err != nil && !twilio.IsNotFound(err) {
			s.logger.WithFields(logrus.Fields{
				"room":    room.ID,
				"channel": room.TwilioChatID,
				"error":   err,
			}).Warn("could not delete paired chat channel")
		}
	}

	if err := s.store.DeleteRoom(ctx, sc.Conference.ID, room.ID); err != nil {
		return fmt.Errorf("delete room %s: %w", room.ID, err)
	}
	s.logger.WithField("room", room.ID).Info("deleted room")
	return nil
}

// teardownProviderRoom disconnects every participant, then completes the
// provider room. Participants who already left and rooms that already
// ended are not errors.
func (s *Service) teardownProviderRoom(ctx context.Context, sc *session.Context, twilioRoomID string) {
	handle := sc.Client.Video().Room(twilioRoomID)

	participants, err := handle.ListParticipants(ctx)
	if err != nil {
		if !twilio.IsNotFound(err) {
			s.logger.WithFields(logrus.Fields{
				"provider": twilioRoomID,
				"error":    err,
			}).Warn("could not list room participants")
		}
		return
	}
	for _, p := range participants {
		if err := handle.DisconnectParticipant(ctx, p.Identity); err != nil && !twilio.IsNotFound(err) {
			s.logger.WithFields(logrus.Fields{
				"provider": twilioRoomID,
				"identity": p.Identity,
				"error":    err,
			}).Warn("could not disconnect participant")
		}
	}
	if err := handle.Complete(ctx); err != nil && !twilio.IsNotFound(err) {
		s.logger.WithFields(logrus.Fields{
			"provider": twilioRoomID,
			"error":    err,
		}).Warn("could not complete provider room")
	}
}
