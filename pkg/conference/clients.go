package conference

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/greenroom-live/greenroom/pkg/twilio"
)

// ClientCache builds and caches one provider client per conference.
type ClientCache struct {
	factory twilio.ClientFactory
	cache   *expirable.LRU[string, twilio.Client]
}

// NewClientCache builds a ClientCache around the given factory.
func NewClientCache(factory twilio.ClientFactory, cacheSize int, cacheTTL time.Duration) *ClientCache {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	return &ClientCache{
		factory: factory,
		cache:   expirable.NewLRU[string, twilio.Client](cacheSize, nil, cacheTTL),
	}
}

// Get returns the conference's provider client, constructing it from the
// config's account credentials on first use. Missing credentials are a
// fatal configuration error for the conference, not a retryable condition.
func (c *ClientCache) Get(conferenceID string, cfg *Config) (twilio.Client, error) {
	if client, ok := c.cache.Get(conferenceID); ok {
		return client, nil
	}
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("conference %s: provider credentials missing", conferenceID)
	}
	client := c.factory(cfg.AccountSID, cfg.AuthToken)
	c.cache.Add(conferenceID, client)
	return client, nil
}
