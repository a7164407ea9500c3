package server

import (
	"net/http"

	"github.com/greenroom-live/greenroom/pkg/chat"
	"github.com/greenroom-live/greenroom/pkg/httputil"
)

func (s *Server) handleChatToken(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteRequestError(w, s.logger, r, err)
		return
	}
	sc := s.resolveSession(w, r, req)
	if sc == nil {
		return
	}

	token, err := s.opts.Chat.MintToken(sc)
	if err != nil {
		httputil.WriteRequestError(w, s.logger, r, err)
		return
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.TokensMintedTotal.WithLabelValues("chat").Inc()
	}
	httputil.WriteJSON(w, http.StatusOK, token)
}

func (s *Server) handleChatCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		sessionRequest
		Invite []string `json:"invite"`
		Mode   string   `json:"mode"`
		Title  string   `json:"title"`
	}
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteRequestError(w, s.logger, r, err)
		return
	}
	sc := s.resolveSession(w, r, req.sessionRequest)
	if sc == nil {
		return
	}

	sid, err := s.opts.Chat.Create(r.Context(), sc, chat.CreateParams{
		InviteProfileIDs: req.Invite,
		Mode:             req.Mode,
		Title:            req.Title,
	})
	if err != nil {
		httputil.WriteRequestError(w, s.logger, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"channelSID": sid})
}

func (s *Server) handleChatInvite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		sessionRequest
		Channel string   `json:"channel"`
		Users   []string `json:"targetIdentities"`
	}
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteRequestError(w, s.logger, r, err)
		return
	}
	sc := s.resolveSession(w, r, req.sessionRequest)
	if sc == nil {
		return
	}

	if err := s.opts.Chat.Invite(r.Context(), sc, req.Channel, req.Users); err != nil {
		httputil.WriteRequestError(w, s.logger, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, struct{}{})
}

// handleReaction serves /chat/react and its reversal /chat/tcaer.
func (s *Server) handleReaction(add bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			sessionRequest
			Channel  string `json:"channel"`
			Message  string `json:"message"`
			Reaction string `json:"reaction"`
		}
		if err := httputil.ParseJSON(r, &req); err != nil {
			httputil.WriteRequestError(w, s.logger, r, err)
			return
		}
		sc := s.resolveSession(w, r, req.sessionRequest)
		if sc == nil {
			return
		}

		var err error
		if add {
			err = s.opts.Chat.AddReaction(r.Context(), sc, req.Channel, req.Message, req.Reaction)
		} else {
			err = s.opts.Chat.RemoveReaction(r.Context(), sc, req.Channel, req.Message, req.Reaction)
		}
		if err != nil {
			httputil.WriteRequestError(w, s.logger, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		sessionRequest
		Channel string `json:"channel"`
		Message string `json:"message"`
	}
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteRequestError(w, s.logger, r, err)
		return
	}
	sc := s.resolveSession(w, r, req.sessionRequest)
	if sc == nil {
		return
	}

	if err := s.opts.Chat.DeleteMessage(r.Context(), sc, req.Channel, req.Message); err != nil {
		httputil.WriteRequestError(w, s.logger, r, err)
		return
	}
	httputil.WriteStatus(w, http.StatusOK, "OK")
}
