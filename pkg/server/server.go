// Package server wires the HTTP surface: chat and video session
// endpoints, moderation, provider webhook receivers and operational
// routes.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/greenroom-live/greenroom/pkg/chat"
	"github.com/greenroom-live/greenroom/pkg/conference"
	"github.com/greenroom-live/greenroom/pkg/httputil"
	"github.com/greenroom-live/greenroom/pkg/roles"
	"github.com/greenroom-live/greenroom/pkg/session"
	"github.com/greenroom-live/greenroom/pkg/store"
	"github.com/greenroom-live/greenroom/pkg/telemetry"
	"github.com/greenroom-live/greenroom/pkg/video"
	"github.com/greenroom-live/greenroom/pkg/webhook"
)

// Options carry the server's collaborators.
type Options struct {
	Logger      *logrus.Logger
	Store       store.Store
	Sessions    *session.Resolver
	Conferences *conference.Resolver
	Roles       *roles.Engine
	Chat        *chat.Service
	Video       *video.Service
	ChatEvents  *webhook.ChatMachine
	VideoEvents *webhook.VideoMachine

	// Metrics may be nil to disable instrumentation and /metrics.
	Metrics  *telemetry.Metrics
	Registry *prometheus.Registry
}

// Server is the HTTP front of the service.
type Server struct {
	opts   Options
	logger *logrus.Logger
	router *mux.Router
}

// New builds a Server and its routes.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	s := &Server{
		opts:   opts,
		logger: opts.Logger,
		router: mux.NewRouter(),
	}
	s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(httputil.RecoveryMiddleware(s.logger))
	s.router.Use(httputil.LoggingMiddleware(s.logger))
	if s.opts.Metrics != nil {
		s.router.Use(telemetry.HTTPMetricsMiddleware(s.opts.Metrics))
	}

	s.router.HandleFunc("/chat/token", s.handleChatToken).Methods(http.MethodPost)
	s.router.HandleFunc("/chat/create", s.handleChatCreate).Methods(http.MethodPost)
	s.router.HandleFunc("/chat/invite", s.handleChatInvite).Methods(http.MethodPost)
	s.router.HandleFunc("/chat/react", s.handleReaction(true)).Methods(http.MethodPost)
	s.router.HandleFunc("/chat/tcaer", s.handleReaction(false)).Methods(http.MethodPost)
	s.router.HandleFunc("/chat/deleteMessage", s.handleDeleteMessage).Methods(http.MethodPost)

	s.router.HandleFunc("/video/token", s.handleVideoToken).Methods(http.MethodPost)
	s.router.HandleFunc("/video/delete", s.handleVideoDelete).Methods(http.MethodPost)

	s.router.HandleFunc("/users/ban", s.handleBan).Methods(http.MethodPost)

	s.router.HandleFunc("/twilio/chat/event", s.handleChatEvent).Methods(http.MethodPost)
	s.router.HandleFunc("/twilio/video/event", s.handleVideoEvent).Methods(http.MethodPost)

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	if s.opts.Registry != nil {
		s.router.Handle("/metrics", telemetry.MetricsHandler(s.opts.Registry)).Methods(http.MethodGet)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sessionRequest is the authentication envelope every session endpoint
// shares: identity carries the opaque session token.
type sessionRequest struct {
	Identity   string `json:"identity"`
	Conference string `json:"conference"`
}

// resolveSession authenticates a request. On failure the response is
// already written and nil is returned.
func (s *Server) resolveSession(w http.ResponseWriter, r *http.Request, req sessionRequest) *session.Context {
	sc, err := s.opts.Sessions.Resolve(r.Context(), req.Identity, req.Conference)
	if err != nil {
		s.writeSessionError(w, r, err)
		return nil
	}
	return sc
}

func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case session.IsInvalidSession(err):
		httputil.WriteStatus(w, http.StatusUnauthorized, session.ErrInvalidSession.Error())
	case session.IsInvalidConference(err):
		httputil.WriteStatus(w, http.StatusBadRequest, session.ErrInvalidConference.Error())
	case session.IsPermissionDenied(err):
		httputil.WriteStatus(w, http.StatusForbidden, session.ErrPermissionDenied.Error())
	default:
		httputil.WriteRequestError(w, s.logger, r, err)
	}
}
