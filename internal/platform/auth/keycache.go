package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

// DefaultKeyRefreshInterval is how long a fetched federated key set is
// trusted before the next lookup re-fetches it.
const DefaultKeyRefreshInterval = 12 * time.Hour

// KeyCache holds the federated identity provider's signing keys, fetched
// from its JWKS discovery endpoint and indexed by key id. One instance is
// shared by every request in the process; whichever request finds the cache
// stale performs the refresh. The key map is replaced wholesale, so a
// concurrent reader sees either the old set or the new one, never a partial
// set.
type KeyCache struct {
	logger       *slog.Logger
	jwksURL      string
	refreshEvery time.Duration
	client       *http.Client
	now          func() time.Time

	mu          sync.Mutex
	keys        map[string]jose.JSONWebKey
	lastRefresh time.Time
}

func NewKeyCache(logger *slog.Logger, jwksURL string) *KeyCache {
	return &KeyCache{
		logger:       logger,
		jwksURL:      jwksURL,
		refreshEvery: DefaultKeyRefreshInterval,
		client:       &http.Client{Timeout: 10 * time.Second},
		now:          time.Now,
		keys:         map[string]jose.JSONWebKey{},
	}
}

// PublicKey returns the verification key for keyID, refreshing the set first
// when it is older than the refresh interval. A key id that is still absent
// after a refresh is an authentication failure, not a retry.
func (c *KeyCache) PublicKey(ctx context.Context, keyID string) (jose.JSONWebKey, error) {
	if err := c.refreshIfStale(ctx); err != nil {
		return jose.JSONWebKey{}, err
	}

	c.mu.Lock()
	key, ok := c.keys[keyID]
	c.mu.Unlock()
	if !ok {
		return jose.JSONWebKey{}, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return key, nil
}

func (c *KeyCache) refreshIfStale(ctx context.Context) error {
	c.mu.Lock()
	stale := c.now().Sub(c.lastRefresh) >= c.refreshEvery
	c.mu.Unlock()
	if !stale {
		return nil
	}

	keySet, err := c.fetch(ctx)
	if err != nil {
		return err
	}

	keys := make(map[string]jose.JSONWebKey, len(keySet.Keys))
	for _, key := range keySet.Keys {
		if key.KeyID == "" {
			continue
		}
		keys[key.KeyID] = key
	}

	c.mu.Lock()
	c.keys = keys
	c.lastRefresh = c.now()
	c.mu.Unlock()

	c.logger.Info("refreshed signing keys", "url", c.jwksURL, "keys", len(keys))
	return nil
}

func (c *KeyCache) fetch(ctx context.Context) (jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jwksURL, nil)
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("build jwks request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("fetch jwks: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return jose.JSONWebKeySet{}, fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("read jwks: %w", err)
	}

	var keySet jose.JSONWebKeySet
	if err := json.Unmarshal(body, &keySet); err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("decode jwks: %w", err)
	}
	return keySet, nil
}
