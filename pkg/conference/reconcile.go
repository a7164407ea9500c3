package conference

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/greenroom-live/greenroom/pkg/roles"
	"github.com/greenroom-live/greenroom/pkg/store"
	"github.com/greenroom-live/greenroom/pkg/twilio"
)

// Reconciler brings a conference's local room records in line with the
// provider's live room list. The provider is authoritative: unknown active
// rooms gain local ephemeral records, membership lists are rewritten from
// the live participant set, and rooms the provider no longer runs are
// detached (persistent) or deleted (ephemeral).
//
// Reconciliation is idempotent; running it twice converges to the same
// state. Per-room failures are logged and skipped so one corrupt record
// cannot block the whole conference from loading.
type Reconciler struct {
	store   store.Store
	roles   *roles.Engine
	logger  *logrus.Logger
	metrics ReconcileMetrics
}

// ReconcileMetrics receives the outcome and duration of reconciliation
// runs.
type ReconcileMetrics interface {
	ReconcileRun(status string, took time.Duration)
}

// NewReconciler builds a Reconciler.
func NewReconciler(st store.Store, engine *roles.Engine, logger *logrus.Logger) *Reconciler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Reconciler{store: st, roles: engine, logger: logger}
}

// SetMetrics attaches a metrics sink. Call before the reconciler is
// shared.
func (r *Reconciler) SetMetrics(m ReconcileMetrics) {
	r.metrics = m
}

// Run reconciles one conference. Only failures that prevent the pass from
// starting at all (listing provider rooms, listing local rooms) are
// returned as errors.
func (r *Reconciler) Run(ctx context.Context, conf *store.Conference, cfg *Config, client twilio.Client) error {
	log := r.logger.WithField("conference", conf.ID)

	start := time.Now()
	status := "error"
	defer func() {
		if r.metrics != nil {
			r.metrics.ReconcileRun(status, time.Since(start))
		}
	}()

	active, err := client.Video().ListRooms(ctx, twilio.RoomStatusInProgress)
	if err != nil {
		return fmt.Errorf("list provider rooms: %w", err)
	}
	activeBySID := make(map[string]twilio.VideoRoom, len(active))
	for _, room := range active {
		activeBySID[room.SID] = room
	}

	local, err := r.store.ListRooms(ctx, conf.ID)
	if err != nil {
		return fmt.Errorf("list local rooms: %w", err)
	}
	localByTwilioID := make(map[string]*store.Room, len(local))
	for _, room := range local {
		if room.TwilioRoomID != "" {
			localByTwilioID[room.TwilioRoomID] = room
		}
	}

	local = append(local, r.adoptUnknownRooms(ctx, conf, active, localByTwilioID)...)

	for _, room := range local {
		if err := r.reconcileRoom(ctx, cfg, client, room, activeBySID); err != nil {
			log.WithFields(logrus.Fields{
				"room":  room.ID,
				"error": err,
			}).Warn("room reconciliation failed, continuing")
		}
	}

	if err := r.ensureAdminsInConferenceRole(ctx, conf.ID); err != nil {
		log.WithError(err).Warn("could not ensure admins hold the conference role")
	}
	status = "ok"
	return nil
}

// adoptUnknownRooms creates local ephemeral records for provider rooms with
// no local counterpart, readable by moderators and conference members only.
func (r *Reconciler) adoptUnknownRooms(ctx context.Context, conf *store.Conference, active []twilio.VideoRoom, localByTwilioID map[string]*store.Room) []*store.Room {
	log := r.logger.WithField("conference", conf.ID)

	var adopted []*store.Room
	for _, remote := range active {
		if _, ok := localByTwilioID[remote.SID]; ok {
			continue
		}

		acl := store.NewACL()
		modRole, err := r.roles.GetOrCreate(ctx, conf.ID, roles.SuffixModerator)
		if err != nil {
			log.WithError(err).Warn("could not resolve moderator role, skipping room adoption")
			return adopted
		}
		confRole, err := r.roles.GetOrCreate(ctx, conf.ID, roles.SuffixConference)
		if err != nil {
			log.WithError(err).Warn("could not resolve conference role, skipping room adoption")
			return adopted
		}
		acl.GrantRoleRead(modRole.Name)
		acl.GrantRoleRead(confRole.Name)

		room := &store.Room{
			ConferenceID: conf.ID,
			Title:        remote.UniqueName,
			TwilioRoomID: remote.SID,
			Capacity:     remote.MaxParticipants,
			Persistence:  store.PersistenceEphemeral,
			ACL:          acl,
		}
		if err := r.store.CreateRoom(ctx, room); err != nil {
			log.WithFields(logrus.Fields{
				"twilio_room": remote.SID,
				"error":       err,
			}).Warn("could not adopt provider room")
			continue
		}
		adopted = append(adopted, room)
		log.WithField("twilio_room", remote.SID).Info("adopted provider room")
	}
	return adopted
}

func (r *Reconciler) reconcileRoom(ctx context.Context, cfg *Config, client twilio.Client, room *store.Room, activeBySID map[string]twilio.VideoRoom) error {
	if room.TwilioRoomID == "" {
		// Dormant persistent room, or a record that never touched the
		// provider. Valid steady state.
		return nil
	}

	if _, stillActive := activeBySID[room.TwilioRoomID]; stillActive {
		return r.syncMembership(ctx, client, room)
	}

	if room.Persistence == store.PersistencePersistent {
		room.TwilioRoomID = ""
		if err := r.store.UpdateRoom(ctx, room); err != nil {
			return fmt.Errorf("detach ended room: %w", err)
		}
		return nil
	}

	if room.TwilioChatID != "" {
		err := client.ChatService(cfg.ChatServiceSID).Channel(room.TwilioChatID).Delete(ctx)
		if err != nil && !twilio.IsNotFound(err) {
			return fmt.Errorf("delete paired chat channel %s: %w", room.TwilioChatID, err)
		}
	}
	if err := r.store.DeleteRoom(ctx, room.ConferenceID, room.ID); err != nil {
		return fmt.Errorf("delete ended ephemeral room: %w", err)
	}
	return nil
}

// syncMembership rewrites the room's member list from the provider's
// connected participants. Identities with no matching profile are logged
// and skipped, not treated as fatal.
func (r *Reconciler) syncMembership(ctx context.Context, client twilio.Client, room *store.Room) error {
	participants, err := client.Video().Room(room.TwilioRoomID).ListParticipants(ctx)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}

	connected := make(map[string]bool, len(participants))
	changed := false
	for _, p := range participants {
		if p.Status != twilio.ParticipantConnected {
			continue
		}
		connected[p.Identity] = true
		if room.HasMember(p.Identity) {
			continue
		}
		if _, err := r.store.GetProfile(ctx, room.ConferenceID, p.Identity); err != nil {
			r.logger.WithFields(logrus.Fields{
				"conference": room.ConferenceID,
				"room":       room.ID,
				"identity":   p.Identity,
			}).Warn("participant has no profile, skipping")
			continue
		}
		room.AddMember(p.Identity)
		changed = true
	}
	for _, member := range append([]string(nil), room.MemberProfileIDs...) {
		if !connected[member] {
			room.RemoveMember(member)
			changed = true
		}
	}

	if !changed {
		return nil
	}
	if err := r.store.UpdateRoom(ctx, room); err != nil {
		return fmt.Errorf("save membership: %w", err)
	}
	return nil
}

// ensureAdminsInConferenceRole makes every admin a member of the base
// conference role. Idempotent.
func (r *Reconciler) ensureAdminsInConferenceRole(ctx context.Context, conferenceID string) error {
	admin, err := r.roles.Admin(ctx, conferenceID)
	if err != nil {
		return err
	}
	confRole, err := r.roles.GetOrCreate(ctx, conferenceID, roles.SuffixConference)
	if err != nil {
		return err
	}
	for _, userID := range admin.UserIDs {
		if err := r.roles.EnsureUserInRole(ctx, confRole, userID); err != nil {
			return err
		}
	}
	return nil
}
