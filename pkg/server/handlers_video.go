package server

import (
	"net/http"

	"github.com/greenroom-live/greenroom/pkg/httputil"
)

func (s *Server) handleVideoToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		sessionRequest
		Room string `json:"room"`
	}
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteRequestError(w, s.logger, r, err)
		return
	}
	sc := s.resolveSession(w, r, req.sessionRequest)
	if sc == nil {
		return
	}

	token, err := s.opts.Video.MintToken(r.Context(), sc, req.Room)
	if err != nil {
		httputil.WriteRequestError(w, s.logger, r, err)
		return
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.TokensMintedTotal.WithLabelValues("video").Inc()
	}
	httputil.WriteJSON(w, http.StatusOK, token)
}

func (s *Server) handleVideoDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		sessionRequest
		Room string `json:"room"`
	}
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteRequestError(w, s.logger, r, err)
		return
	}
	sc := s.resolveSession(w, r, req.sessionRequest)
	if sc == nil {
		return
	}

	if err := s.opts.Video.Delete(r.Context(), sc, req.Room); err != nil {
		httputil.WriteRequestError(w, s.logger, r, err)
		return
	}
	httputil.WriteStatus(w, http.StatusOK, "OK")
}
