package server

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/greenroom-live/greenroom/pkg/httputil"
	"github.com/greenroom-live/greenroom/pkg/store"
)

// handleBan flips a profile's banned flag. Moderators only. Banning
// tightens the profile and user ACLs so the subject can no longer see or
// edit their own records; the chat webhook machine evicts them from the
// provider on their next event.
func (s *Server) handleBan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		sessionRequest
		ProfileID string `json:"profileID"`
		IsBan     bool   `json:"isBan"`
	}
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteRequestError(w, s.logger, r, err)
		return
	}
	sc := s.resolveSession(w, r, req.sessionRequest)
	if sc == nil {
		return
	}
	if req.ProfileID == "" {
		httputil.WriteRequestError(w, s.logger, r, httputil.BadRequest("Missing request parameter(s)."))
		return
	}

	isMod, err := s.opts.Roles.IsModerator(r.Context(), sc.User.ID, sc.Conference.ID)
	if err != nil {
		httputil.WriteRequestError(w, s.logger, r, err)
		return
	}
	if !isMod {
		httputil.WriteStatus(w, http.StatusForbidden, "Permission denied.")
		return
	}

	profile, err := s.opts.Store.GetProfile(r.Context(), sc.Conference.ID, req.ProfileID)
	if err != nil {
		if store.IsNotFound(err) {
			httputil.WriteRequestError(w, s.logger, r, httputil.BadRequest("Invalid profile."))
			return
		}
		httputil.WriteRequestError(w, s.logger, r, err)
		return
	}

	user, err := s.opts.Store.GetUser(r.Context(), profile.UserID)
	if err != nil {
		httputil.WriteRequestError(w, s.logger, r, err)
		return
	}

	profile.IsBanned = req.IsBan

	profileACL := store.NewACL()
	profileACL.GrantRoleRead(sc.Conference.ID + "-conference")
	profileACL.GrantUserRead(profile.UserID)
	userACL := store.NewACL()
	userACL.GrantUserRead(user.ID)
	if req.IsBan {
		// The conference role can still see the banned profile (so
		// moderators can find it); the subject loses their own grants.
		profileACL.RevokeUserRead(profile.UserID)
		userACL.RevokeUserRead(user.ID)
	}
	profile.ACL = profileACL
	user.ACL = userACL

	if err := s.opts.Store.UpdateProfile(r.Context(), profile); err != nil {
		httputil.WriteRequestError(w, s.logger, r, fmt.Errorf("update profile %s: %w", profile.ID, err))
		return
	}
	if err := s.opts.Store.UpdateUser(r.Context(), user); err != nil {
		httputil.WriteRequestError(w, s.logger, r, fmt.Errorf("update user %s: %w", user.ID, err))
		return
	}

	s.logger.WithFields(logrus.Fields{
		"profile": profile.ID,
		"banned":  req.IsBan,
	}).Info("updated ban state")
	httputil.WriteStatus(w, http.StatusOK, "OK")
}
