package auth

import (
	"context"
	"sync"
	"time"

	"fleet-monitor/fueltheft/internal/config"
	"fleet-monitor/fueltheft/internal/log"
)

// StaticOwner is reported for keys configured through VALID_API_KEYS.
const StaticOwner = "static"

// KeyLookup resolves an API key to its owner; "" means unknown.
type KeyLookup interface {
	GetAPIKey(ctx context.Context, apiKey string) (string, error)
}

type cacheEntry struct {
	owner     string
	expiresAt time.Time
}

// Authenticator checks control API keys against static configuration, a
// local cache and finally the shared key store.
type Authenticator struct {
	localCache sync.Map
	lookup     KeyLookup
	ttl        time.Duration
	staticKeys map[string]bool
	now        func() time.Time
	log        log.Logger
}

// NewAuthenticator accepts a nil lookup, in which case only static keys pass.
func NewAuthenticator(cfg *config.Config, lookup KeyLookup, logger log.Logger) *Authenticator {
	staticKeys := make(map[string]bool, len(cfg.ValidAPIKeys))
	for _, k := range cfg.ValidAPIKeys {
		if k != "" {
			staticKeys[k] = true
		}
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &Authenticator{
		lookup:     lookup,
		ttl:        cfg.AuthCacheTTL(),
		staticKeys: staticKeys,
		now:        time.Now,
		log:        logger.WithName("auth"),
	}
}

// Authenticate returns the key's owner and whether the key is valid.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (string, bool) {
	if apiKey == "" {
		return "", false
	}
	if a.staticKeys[apiKey] {
		return StaticOwner, true
	}

	if raw, ok := a.localCache.Load(apiKey); ok {
		entry := raw.(cacheEntry)
		if a.now().Before(entry.expiresAt) {
			return entry.owner, true
		}
		a.localCache.Delete(apiKey)
	}

	if a.lookup == nil {
		return "", false
	}
	owner, err := a.lookup.GetAPIKey(ctx, apiKey)
	if err != nil {
		a.log.Warn("api key lookup failed", "error", err)
		return "", false
	}
	if owner == "" {
		return "", false
	}

	a.localCache.Store(apiKey, cacheEntry{
		owner:     owner,
		expiresAt: a.now().Add(a.ttl),
	})
	return owner, true
}

// Validate reports whether apiKey is accepted.
func (a *Authenticator) Validate(ctx context.Context, apiKey string) bool {
	_, ok := a.Authenticate(ctx, apiKey)
	return ok
}
