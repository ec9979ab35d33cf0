// Package cache implements the content-addressed build artifact cache: a
// local store backed by an optional S3 remote tier, with at-most-one
// concurrent remote fetch per key.
package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Config wires together the local store and, optionally, a remote tier.
type Config struct {
	Store  StoreConfig
	Remote *RemoteConfig
}

// ArtifactCache is the coordinator-facing entry point: it answers Lookup
// with MISS, HIT_LOCAL, HIT_REMOTE, or HIT_PENDING, and promotes remote
// hits into the local store so later lookups are served locally.
type ArtifactCache struct {
	local  *Store
	remote *RemoteStore
	log    zerolog.Logger

	group singleflight.Group

	inFlightMu sync.Mutex
	inFlight   map[string]bool
}

// New builds an ArtifactCache. remoteCtx is only used to establish the
// remote client when cfg.Remote is set; it is not retained.
func New(remoteCtx context.Context, cfg Config, log zerolog.Logger) (*ArtifactCache, error) {
	local, err := NewStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	ac := &ArtifactCache{local: local, log: log, inFlight: make(map[string]bool)}
	if cfg.Remote != nil {
		remote, err := NewRemoteStore(remoteCtx, *cfg.Remote)
		if err != nil {
			return nil, fmt.Errorf("cache: init remote store: %w", err)
		}
		ac.remote = remote
	}
	return ac, nil
}

// Lookup checks the local store first, falling back to the remote tier
// when present. Concurrent lookups for the same key that would otherwise
// each hit the remote tier are collapsed into a single in-flight fetch via
// singleflight — every caller but the first observes HIT_PENDING until
// that fetch resolves, then re-checks locally.
func (c *ArtifactCache) Lookup(ctx context.Context, key string) LookupResult {
	if c.local.Lookup(key) == HitLocal {
		return HitLocal
	}
	if c.remote == nil {
		return Miss
	}

	c.inFlightMu.Lock()
	if c.inFlight[key] {
		c.inFlightMu.Unlock()
		return HitPending
	}
	c.inFlight[key] = true
	c.inFlightMu.Unlock()

	defer func() {
		c.inFlightMu.Lock()
		delete(c.inFlight, key)
		c.inFlightMu.Unlock()
	}()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		data, found, err := c.remote.Fetch(ctx, key)
		if err != nil || !found {
			return false, err
		}
		if _, err := c.local.Put(key, "unknown", data, "", "remote-fetch"); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		c.log.Warn().Err(err).Str("cache_key", key).Msg("remote cache fetch failed")
		return Miss
	}
	if hit, _ := v.(bool); hit {
		return HitRemote
	}
	return Miss
}

// Store writes data into the local store and, when a remote tier is
// configured and writable, pushes it upstream as well.
func (c *ArtifactCache) Store(ctx context.Context, key, artifactType string, data []byte, buildID, producerHost string) (*ArtifactEntry, error) {
	entry, err := c.local.Put(key, artifactType, data, buildID, producerHost)
	if err != nil {
		return nil, err
	}

	if c.remote != nil && !c.remote.cfg.ReadOnly {
		if err := c.remote.Push(ctx, key, data); err != nil {
			c.log.Warn().Err(err).Str("cache_key", key).Msg("remote cache push failed")
		}
	}
	return entry, nil
}

// Retrieve fetches key's content, pulling from the remote tier and
// promoting into the local store first if necessary.
func (c *ArtifactCache) Retrieve(ctx context.Context, key, destPath string) error {
	if c.local.Lookup(key) != HitLocal {
		if c.Lookup(ctx, key) == Miss {
			return fmt.Errorf("cache: miss for key %s", key)
		}
	}
	return c.local.Retrieve(key, destPath)
}

// Local exposes the underlying local store, for CLI inspection commands
// (stats, cleanup, verify) that operate purely on local state.
func (c *ArtifactCache) Local() *Store { return c.local }

// Remote exposes the remote tier, or nil if none is configured.
func (c *ArtifactCache) Remote() *RemoteStore { return c.remote }
