package server

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/greenroom-live/greenroom/pkg/conference"
	"github.com/greenroom-live/greenroom/pkg/httputil"
	"github.com/greenroom-live/greenroom/pkg/webhook"
)

// resolveWebhookConference resolves the conference named in the callback
// URL's query string. A missing or unknown conference is rejected with
// 403: the provider should stop delivering to a URL we never configured.
func (s *Server) resolveWebhookConference(w http.ResponseWriter, r *http.Request) *conference.Resolved {
	confID := r.URL.Query().Get("conference")
	if confID == "" {
		httputil.WriteStatus(w, http.StatusForbidden, "Invalid conference.")
		return nil
	}
	res, err := s.opts.Conferences.Resolve(r.Context(), confID)
	if err != nil {
		s.logger.WithError(err).WithField("conference", confID).Warn("webhook for unresolvable conference")
		httputil.WriteStatus(w, http.StatusForbidden, "Invalid conference.")
		return nil
	}
	return res
}

// finishWebhook maps a machine decision to the provider's contract:
// request errors turn into their status code, internal errors are logged
// and acknowledged so the provider does not redeliver a poison event.
func (s *Server) finishWebhook(w http.ResponseWriter, source, event string, err error) {
	outcome := "accepted"
	defer func() {
		if s.opts.Metrics != nil {
			s.opts.Metrics.WebhookEventsTotal.WithLabelValues(source, event, outcome).Inc()
		}
	}()

	if err == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	var herr *httputil.Error
	if errors.As(err, &herr) {
		outcome = "rejected"
		httputil.WriteStatus(w, herr.Code, herr.Status)
		return
	}
	outcome = "error"
	s.logger.WithError(err).WithFields(logrus.Fields{
		"source": source,
		"event":  event,
	}).Error("webhook processing failed")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleChatEvent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteStatus(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	res := s.resolveWebhookConference(w, r)
	if res == nil {
		return
	}

	ev := webhook.ChatEvent{
		EventType:   r.PostFormValue("EventType"),
		Identity:    r.PostFormValue("Identity"),
		ChannelSID:  r.PostFormValue("ChannelSid"),
		RoleSID:     r.PostFormValue("RoleSid"),
		AccountSID:  r.PostFormValue("AccountSid"),
		InstanceSID: r.PostFormValue("InstanceSid"),
		IsOnline:    r.PostFormValue("IsOnline"),
	}
	err := s.opts.ChatEvents.Handle(r.Context(), res, ev)
	s.finishWebhook(w, "chat", ev.EventType, err)
}

func (s *Server) handleVideoEvent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteStatus(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	res := s.resolveWebhookConference(w, r)
	if res == nil {
		return
	}

	ev := webhook.VideoEvent{
		StatusCallbackEvent: r.PostFormValue("StatusCallbackEvent"),
		RoomSID:             r.PostFormValue("RoomSid"),
		ParticipantIdentity: r.PostFormValue("ParticipantIdentity"),
	}
	err := s.opts.VideoEvents.Handle(r.Context(), res, ev)
	s.finishWebhook(w, "video", ev.StatusCallbackEvent, err)
}
