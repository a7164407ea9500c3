package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/greenroom-live/greenroom/pkg/httputil"
	"github.com/greenroom-live/greenroom/pkg/session"
	"github.com/greenroom-live/greenroom/pkg/twilio"
)

// AddReaction records a reaction to a message by the calling profile.
// Adding a reaction twice is a no-op.
func (s *Service) AddReaction(ctx context.Context, sc *session.Context, channelSID, messageSID, reaction string) error {
	return s.updateReaction(ctx, sc, channelSID, messageSID, reaction, true)
}

// RemoveReaction removes the calling profile's reaction from a message.
// Removing an absent reaction is a no-op.
func (s *Service) RemoveReaction(ctx context.Context, sc *session.Context, channelSID, messageSID, reaction string) error {
	return s.updateReaction(ctx, sc, channelSID, messageSID, reaction, false)
}

func (s *Service) updateReaction(ctx context.Context, sc *session.Context, channelSID, messageSID, reaction string, add bool) error {
	if channelSID == "" {
		return httputil.BadRequest("Invalid or missing channel sid")
	}
	if messageSID == "" {
		return httputil.BadRequest("Invalid or missing message sid")
	}
	if reaction == "" {
		return httputil.BadRequest("Invalid or missing reaction")
	}

	handle := sc.Client.ChatService(sc.Config.ChatServiceSID).Channel(channelSID)
	members, err := handle.ListMembers(ctx)
	if err != nil {
		if twilio.IsNotFound(err) {
			return httputil.Forbidden("Invalid channel")
		}
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
		return httputil.Forbidden("Invalid channel")
	}

	message := handle.Message(messageSID)
	msg, err := message.Fetch(ctx)
	if err != nil {
		if twilio.IsNotFound(err) {
			return httputil.BadRequest("Invalid or missing message sid")
		}
		return fmt.Errorf("fetch message %s: %w", messageSID, err)
	}

	attributes, changed, err := applyReaction(msg.Attributes, reaction, sc.Profile.ID, add)
	if err != nil {
		return fmt.Errorf("message %s attributes: %w", messageSID, err)
	}
	if !changed {
		return nil
	}
	err = s.retry.Do(ctx, "messages.update", func() error {
		return message.UpdateAttributes(ctx, attributes)
	})
	if err != nil {
		return fmt.Errorf("update message %s: %w", messageSID, err)
	}
	return nil
}

// applyReaction edits the "reactions" key of a message's attributes JSON:
// a map from reaction name to the profile ids that reacted. Other
// attribute keys pass through untouched. A reaction whose last reactor is
// removed disappears from the map. Returns the updated JSON and whether
// anything changed.
func applyReaction(attributes, reaction, profileID string, add bool) (string, bool, error) {
	attrs := map[string]json.RawMessage{}
	if attributes != "" && attributes != "null" {
		if err := json.Unmarshal([]byte(attributes), &attrs); err != nil {
			return "", false, fmt.Errorf("parse attributes: %w", err)
		}
	}

	reactions := map[string][]string{}
	if raw, ok := attrs["reactions"]; ok {
		if err := json.Unmarshal(raw, &reactions); err != nil {
			return "", false, fmt.Errorf("parse reactions: %w", err)
		}
	}

	reactors := reactions[reaction]
	idx := -1
	for i, id := range reactors {
		if id == profileID {
			idx = i
			break
		}
	}

	changed := false
	if add && idx < 0 {
		reactions[reaction] = append(reactors, profileID)
		changed = true
	} else if !add && idx >= 0 {
		reactors = append(reactors[:idx], reactors[idx+1:]...)
		if len(reactors) == 0 {
			delete(reactions, reaction)
		} else {
			reactions[reaction] = reactors
		}
		changed = true
	}
	if !changed {
		return attributes, false, nil
	}

	raw, err := json.Marshal(reactions)
	if err != nil {
		return "", false, fmt.Errorf("encode reactions: %w", err)
	}
	attrs["reactions"] = raw
	out, err := json.Marshal(attrs)
	if err != nil {
		return "", false, fmt.Errorf("encode attributes: %w", err)
	}
	return string(out), true, nil
}
