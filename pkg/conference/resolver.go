package conference

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/greenroom-live/greenroom/pkg/store"
	"github.com/greenroom-live/greenroom/pkg/twilio"
)

// chatWebhookEvents are the chat-service events pushed to this process
// when a conference opts into provider auto-configuration.
var chatWebhookEvents = []string{
	"onMemberAdd",
	"onMemberAdded",
	"onUserAdded",
	"onUserUpdated",
	"onChannelUpdated",
	"onChannelDestroyed",
}

// Resolved is a fully warmed conference: record, configuration and
// provider client. Handlers receive one of these and can assume the
// conference's room state is coherent with the provider.
type Resolved struct {
	Conference *store.Conference
	Config     *Config
	Client     twilio.Client
}

// Resolver performs first-touch conference resolution and caches the
// result. Cold resolutions of the same conference are collapsed into one
// in-flight call.
type Resolver struct {
	store      store.ConferenceRepo
	configs    *ConfigResolver
	clients    *ClientCache
	reconciler *Reconciler
	logger     *logrus.Logger
	metrics    ResolveMetrics

	cache *expirable.LRU[string, *Resolved]
	group singleflight.Group
}

// ResolveMetrics counts conference resolution cache lookups.
type ResolveMetrics interface {
	ConferenceCacheLookup(result string)
}

// NewResolver builds a Resolver.
func NewResolver(repo store.ConferenceRepo, configs *ConfigResolver, clients *ClientCache, reconciler *Reconciler, logger *logrus.Logger, cacheSize int, cacheTTL time.Duration) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	if cacheSize <= 0 {
		cacheSize = 256
	}
	return &Resolver{
		store:      repo,
		configs:    configs,
		clients:    clients,
		reconciler: reconciler,
		logger:     logger,
		cache:      expirable.NewLRU[string, *Resolved](cacheSize, nil, cacheTTL),
	}
}

// Resolve returns the warmed conference, performing the cold path on first
// touch: fetch record, resolve config, build client, optionally push
// provider webhook settings, reconcile rooms. A conference id with no
// record resolves to the store's not-found error.
func (r *Resolver) Resolve(ctx context.Context, conferenceID string) (*Resolved, error) {
	if res, ok := r.cache.Get(conferenceID); ok {
		r.observeLookup("hit")
		return res, nil
	}
	r.observeLookup("miss")

	v, err, _ := r.group.Do(conferenceID, func() (interface{}, error) {
		if res, ok := r.cache.Get(conferenceID); ok {
			return res, nil
		}
		res, err := r.resolveCold(ctx, conferenceID)
		if err != nil {
			return nil, err
		}
		r.cache.Add(conferenceID, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Resolved), nil
}

// SetMetrics attaches a metrics sink. Call before the resolver is shared.
func (r *Resolver) SetMetrics(m ResolveMetrics) {
	r.metrics = m
}

func (r *Resolver) observeLookup(result string) {
	if r.metrics != nil {
		r.metrics.ConferenceCacheLookup(result)
	}
}

// Invalidate drops the conference from the resolution cache. The next
// touch runs the cold path again.
func (r *Resolver) Invalidate(conferenceID string) {
	r.cache.Remove(conferenceID)
}

func (r *Resolver) resolveCold(ctx context.Context, conferenceID string) (*Resolved, error) {
	log := r.logger.WithField("conference", conferenceID)
	start := time.Now()

	conf, err := r.store.GetConference(ctx, conferenceID)
	if err != nil {
		return nil, fmt.Errorf("fetch conference %s: %w", conferenceID, err)
	}

	cfg, err := r.configs.Resolve(ctx, conferenceID)
	if err != nil {
		return nil, err
	}

	client, err := r.clients.Get(conferenceID, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.ShouldConfigureTwilio {
		if err := r.configureProvider(ctx, conferenceID, cfg, client); err != nil {
			return nil, fmt.Errorf("configure provider for conference %s: %w", conferenceID, err)
		}
	}

	if err := r.reconciler.Run(ctx, conf, cfg, client); err != nil {
		return nil, fmt.Errorf("reconcile conference %s: %w", conferenceID, err)
	}

	log.WithField("took", time.Since(start)).Info("conference resolved")
	return &Resolved{Conference: conf, Config: cfg, Client: client}, nil
}

// configureProvider pushes chat-service webhook settings. The update is
// idempotent on the provider side, so re-running it on every cold
// resolution is safe.
func (r *Resolver) configureProvider(ctx context.Context, conferenceID string, cfg *Config, client twilio.Client) error {
	pre, err := WebhookURL(cfg.ChatPreWebhookURL, conferenceID)
	if err != nil {
		return err
	}
	post, err := WebhookURL(cfg.ChatPostWebhookURL, conferenceID)
	if err != nil {
		return err
	}
	return client.ChatService(cfg.ChatServiceSID).Configure(ctx, twilio.ServiceSettings{
		PreWebhookURL:  pre,
		PostWebhookURL: post,
		WebhookFilters: chatWebhookEvents,
	})
}

// WebhookURL appends the conference id as a query parameter so inbound
// webhook deliveries can be routed back to their conference.
func WebhookURL(base, conferenceID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse webhook url %q: %w", base, err)
	}
	q := u.Query()
	q.Set("conference", conferenceID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
