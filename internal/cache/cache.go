// Package cache implements the two-tier task-result cache: an
// in-process LRU fronting a distributed contracts.KVStore, with
// optional at-rest encryption for entries marked sensitive and a
// background sweeper that evicts expired local entries.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/agentcore/dispatchcore/pkg/contracts"
	"github.com/agentcore/dispatchcore/pkg/types"
)

// DefaultSweepInterval is how often the background sweeper scans the
// local tier for expired entries.
const DefaultSweepInterval = time.Minute

// DefaultLocalSize is the LRU capacity of the in-process tier.
const DefaultLocalSize = 4096

// Options configures a Cache.
type Options struct {
	LocalSize     int
	SweepInterval time.Duration
	// Box, if non-nil, is used to encrypt/decrypt entries whose Set call
	// passes sensitive=true.
	Box contracts.SecretBox
}

// Cache is the two-tier cache described by the dispatcher's caching
// contract. Tier one is an in-process LRU; tier two is a distributed
// KVStore. A miss on tier one that hits tier two backfills tier one.
type Cache struct {
	local *lru.Cache[string, types.CacheEntry]
	kv    contracts.KVStore
	box   contracts.SecretBox

	hits, misses, evictions, expirations, kvWriteErrors atomic.Int64
}

// New creates a Cache fronting kv. A nil Box disables encryption; Set
// calls with sensitive=true then return an error.
func New(kv contracts.KVStore, opts Options) (*Cache, error) {
	size := opts.LocalSize
	if size <= 0 {
		size = DefaultLocalSize
	}
	c := &Cache{kv: kv, box: opts.Box}

	local, err := lru.NewWithEvict[string, types.CacheEntry](size, func(_ string, _ types.CacheEntry) {
		c.evictions.Add(1)
	})
	if err != nil {
		return nil, fmt.Errorf("cache: create local LRU: %w", err)
	}
	c.local = local
	return c, nil
}

// Fingerprint computes the deterministic cache key for a Task: the
// SHA-256 digest of its canonical JSON encoding. Fields that do not
// affect the result (Hints) are excluded by the caller before encoding.
func Fingerprint(v any) (string, error) {
	canon, err := canonicalize(v)
	if err != nil {
		return "", fmt.Errorf("cache: canonicalize: %w", err)
	}
	sum := sha256.Sum256(canon)
	return fmt.Sprintf("%x", sum), nil
}

// canonicalize produces a byte-stable JSON encoding by marshaling
// through a generic map whose keys json.Marshal already emits sorted.
func canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return marshalSorted(generic)
}

func marshalSorted(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, _ := json.Marshal(k)
			out = append(out, kb...)
			out = append(out, ':')
			vb, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, vb...)
		}
		out = append(out, '}')
		return out, nil
	case []any:
		out := []byte{'['}
		for i, item := range val {
			if i > 0 {
				out = append(out, ',')
			}
			ib, err := marshalSorted(item)
			if err != nil {
				return nil, err
			}
			out = append(out, ib...)
		}
		out = append(out, ']')
		return out, nil
	default:
		return json.Marshal(val)
	}
}

// Get looks up key, checking the local tier first and falling back to
// the distributed KVStore on a miss. A KVStore hit backfills the local
// tier. Expired entries count as misses and are removed.
func (c *Cache) Get(ctx context.Context, key string) (types.CacheEntry, bool, error) {
	now := time.Now()

	if entry, ok := c.local.Get(key); ok {
		if entry.Expired(now) {
			c.local.Remove(key)
			c.expirations.Add(1)
			c.misses.Add(1)
			return types.CacheEntry{}, false, nil
		}
		out, ok := c.decrypt(entry)
		if !ok {
			c.local.Remove(key)
			_ = c.kv.Delete(ctx, key)
			c.misses.Add(1)
			return types.CacheEntry{}, false, nil
		}
		entry.AccessCount++
		entry.LastAccess = now
		c.local.Add(key, entry)
		c.hits.Add(1)
		return out, true, nil
	}

	raw, ok, err := c.kv.Get(ctx, key)
	if err != nil {
		return types.CacheEntry{}, false, fmt.Errorf("cache: kv get %q: %w", key, err)
	}
	if !ok {
		c.misses.Add(1)
		return types.CacheEntry{}, false, nil
	}

	var entry types.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return types.CacheEntry{}, false, fmt.Errorf("cache: decode kv entry %q: %w", key, err)
	}
	if entry.Expired(now) {
		c.expirations.Add(1)
		c.misses.Add(1)
		_ = c.kv.Delete(ctx, key)
		return types.CacheEntry{}, false, nil
	}

	out, ok := c.decrypt(entry)
	if !ok {
		_ = c.kv.Delete(ctx, key)
		c.misses.Add(1)
		return types.CacheEntry{}, false, nil
	}

	entry.AccessCount++
	entry.LastAccess = now
	c.local.Add(key, entry)
	c.hits.Add(1)
	return out, true, nil
}

// decrypt returns the plaintext form of entry. A decryption failure —
// missing SecretBox or a Decrypt error, e.g. from a corrupted or
// tampered ciphertext — is not propagated as an error: the caller
// treats it as a cache miss and evicts the unreadable entry from both
// tiers rather than serving or retrying it.
func (c *Cache) decrypt(entry types.CacheEntry) (types.CacheEntry, bool) {
	if !entry.Encrypted {
		return entry, true
	}
	if c.box == nil {
		log.Warn().Str("key", entry.Key).Msg("cache: entry is encrypted but no SecretBox is configured, treating as miss")
		return types.CacheEntry{}, false
	}
	plain, err := c.box.Decrypt(entry.Value)
	if err != nil {
		log.Warn().Err(err).Str("key", entry.Key).Msg("cache: decrypt failed, treating as miss")
		return types.CacheEntry{}, false
	}
	out := entry
	out.Value = plain
	return out, true
}

// Set stores value under key with the given TTL. When sensitive is
// true, value is encrypted with the configured SecretBox before it
// reaches either tier.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration, sensitive bool) error {
	now := time.Now()
	stored := value
	encrypted := false

	if sensitive {
		if c.box == nil {
			return fmt.Errorf("cache: cannot store sensitive entry %q: no SecretBox configured", key)
		}
		ct, err := c.box.Encrypt(value)
		if err != nil {
			return fmt.Errorf("cache: encrypt %q: %w", key, err)
		}
		stored = ct
		encrypted = true
	}

	entry := types.CacheEntry{
		Key:        key,
		Value:      stored,
		CreatedAt:  now,
		TTL:        ttl,
		LastAccess: now,
		Encrypted:  encrypted,
	}

	c.local.Add(key, entry)

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: encode entry %q: %w", key, err)
	}
	if err := c.kv.Set(ctx, key, raw, ttl); err != nil {
		c.kvWriteErrors.Add(1)
		log.Warn().Err(err).Str("key", key).Msg("cache: distributed tier write failed, serving from local tier only")
		return nil
	}
	return nil
}

// Invalidate removes key from both tiers.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	c.local.Remove(key)
	if err := c.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("cache: kv delete %q: %w", key, err)
	}
	return nil
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() types.CacheStats {
	return types.CacheStats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Evictions:     c.evictions.Load(),
		Expirations:   c.expirations.Load(),
		KVWriteErrors: c.kvWriteErrors.Load(),
		Size:          c.local.Len(),
	}
}

// Sweep runs the background eviction loop until ctx is canceled,
// periodically scanning the local tier for entries past their TTL.
func (c *Cache) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("cache sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("cache sweeper stopped")
			return
		case <-ticker.C:
			c.sweepOnce()
		}
	}
}

func (c *Cache) sweepOnce() {
	now := time.Now()
	removed := 0
	for _, key := range c.local.Keys() {
		entry, ok := c.local.Peek(key)
		if !ok {
			continue
		}
		if entry.Expired(now) {
			c.local.Remove(key)
			c.expirations.Add(1)
			removed++
		}
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("cache sweep removed expired local entries")
	}
}
