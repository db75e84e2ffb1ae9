package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BillingCache layers an in-process tier (L1) over a shared remote tier (L2).
//
// Contract:
// - Reads check L1 first, then L2; an L2 hit is promoted into L1.
// - Default writes go to L2 only; L1 is filled by read promotion, never
//   implicitly mirrored on write. Callers may target L1 explicitly.
// - Store failures never escape: they are counted and degrade to a miss
//   (reads) or false (writes/deletes).
// - Tenancy is carried in the keys themselves (see keys.go); the cache has
//   no tenant awareness of its own.
type BillingCache struct {
	cfg     Config
	local   *localStore
	remote  RemoteStore
	metrics *Metrics
	log     *slog.Logger

	tagMu sync.Mutex
	tags  map[string]map[string]struct{}
}

type Tier string

const (
	TierL1Memory Tier = "l1_memory"
	TierL2Redis  Tier = "l2_redis"
)

const defaultL1MaxEntries = 10000

// Config controls tier toggles and the per-entity-kind TTL policy.
type Config struct {
	ProductTTL      time.Duration
	RuleTTL         time.Duration
	PlanTTL         time.Duration
	SubscriptionTTL time.Duration
	SegmentTTL      time.Duration
	DefaultTTL      time.Duration

	L1Enabled      bool
	L2Enabled      bool
	WarmingEnabled bool

	L1MaxEntries int
}

// DefaultConfig returns the documented TTL defaults with both tiers enabled.
func DefaultConfig() Config {
	return Config{
		ProductTTL:      time.Hour,
		RuleTTL:         30 * time.Minute,
		PlanTTL:         time.Hour,
		SubscriptionTTL: 5 * time.Minute,
		SegmentTTL:      15 * time.Minute,
		DefaultTTL:      5 * time.Minute,
		L1Enabled:       true,
		L2Enabled:       true,
		WarmingEnabled:  true,
		L1MaxEntries:    defaultL1MaxEntries,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	out := c
	if out.ProductTTL <= 0 {
		out.ProductTTL = def.ProductTTL
	}
	if out.RuleTTL <= 0 {
		out.RuleTTL = def.RuleTTL
	}
	if out.PlanTTL <= 0 {
		out.PlanTTL = def.PlanTTL
	}
	if out.SubscriptionTTL <= 0 {
		out.SubscriptionTTL = def.SubscriptionTTL
	}
	if out.SegmentTTL <= 0 {
		out.SegmentTTL = def.SegmentTTL
	}
	if out.DefaultTTL <= 0 {
		out.DefaultTTL = def.DefaultTTL
	}
	if out.L1MaxEntries <= 0 {
		out.L1MaxEntries = def.L1MaxEntries
	}
	return out
}

// Loader fetches the value on a cache miss (read-through).
type Loader func(ctx context.Context) ([]byte, error)

// SetOptions tunes a single write. Zero values mean: TTL from the key's
// namespace, default tier (L2), no tags.
type SetOptions struct {
	TTL  time.Duration
	Tier Tier
	Tags []string
}

func New(cfg Config, remote RemoteStore, log *slog.Logger) *BillingCache {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &BillingCache{
		cfg:     cfg,
		local:   newLocalStore(cfg.L1MaxEntries),
		remote:  remote,
		metrics: NewMetrics(),
		log:     log,
		tags:    make(map[string]map[string]struct{}),
	}
}

func (c *BillingCache) Metrics() *Metrics { return c.metrics }

// Get resolves key through the tiers, falling through to loader on a full
// miss. Loader errors are the caller's errors and do propagate; store errors
// do not.
func (c *BillingCache) Get(ctx context.Context, key string, loader Loader) ([]byte, error) {
	if c.cfg.L1Enabled {
		if v, ok := c.local.get(key); ok {
			c.metrics.RecordHit()
			return v, nil
		}
	}

	if c.remoteEnabled() {
		v, ok, err := c.remote.Get(ctx, key)
		if err != nil {
			c.metrics.RecordError()
			c.log.Warn("cache remote get failed", "key", key, "err", err)
		} else if ok {
			c.metrics.RecordHit()
			if c.cfg.L1Enabled {
				c.local.set(key, v, c.ttlFor(key))
			}
			return v, nil
		}
	}

	c.metrics.RecordMiss()
	if loader == nil {
		return nil, nil
	}
	v, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	c.Set(ctx, key, v, SetOptions{})
	return v, nil
}

// Set writes key to the tier selected by opts and returns whether the write
// stuck. When the remote tier is disabled, default writes land in L1 so the
// cache keeps functioning as a single-tier deployment.
func (c *BillingCache) Set(ctx context.Context, key string, value []byte, opts SetOptions) bool {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.ttlFor(key)
	}

	tier := opts.Tier
	if tier == "" {
		tier = TierL2Redis
	}

	switch tier {
	case TierL1Memory:
		if !c.cfg.L1Enabled {
			return false
		}
		c.local.set(key, value, ttl)
	default:
		if c.remoteEnabled() {
			if err := c.remote.Set(ctx, key, value, ttl); err != nil {
				c.metrics.RecordError()
				c.log.Warn("cache remote set failed", "key", key, "err", err)
				return false
			}
		} else if c.cfg.L1Enabled {
			c.local.set(key, value, ttl)
		} else {
			return false
		}
	}

	c.metrics.RecordSet()
	c.recordTags(key, opts.Tags)
	return true
}

// Delete removes key from both tiers, best-effort each. It returns false
// only when the remote tier errored.
func (c *BillingCache) Delete(ctx context.Context, key string) bool {
	if c.cfg.L1Enabled {
		c.local.delete(key)
	}
	if c.remoteEnabled() {
		if _, err := c.remote.Del(ctx, key); err != nil {
			c.metrics.RecordError()
			c.log.Warn("cache remote delete failed", "key", key, "err", err)
			return false
		}
	}
	c.metrics.RecordDelete()
	return true
}

// InvalidatePattern removes every key matching the glob ('*' any run,
// '?' one character) from both tiers and returns the total removed.
func (c *BillingCache) InvalidatePattern(ctx context.Context, pattern string) int {
	total := 0

	if c.remoteEnabled() {
		keys, err := c.remote.Keys(ctx, pattern)
		if err != nil {
			c.metrics.RecordError()
			c.log.Warn("cache pattern scan failed", "pattern", pattern, "err", err)
		} else if len(keys) > 0 {
			n, err := c.remote.Del(ctx, keys...)
			if err != nil {
				c.metrics.RecordError()
				c.log.Warn("cache pattern delete failed", "pattern", pattern, "err", err)
			} else {
				total += n
			}
		}
	}

	if c.cfg.L1Enabled {
		total += c.local.deletePattern(pattern)
	}
	return total
}

// InvalidateByTags deletes every key recorded under the given tags across
// both tiers, drops the tags from the reverse index, and returns the number
// of unique keys removed.
func (c *BillingCache) InvalidateByTags(ctx context.Context, tags []string) int {
	keys := c.takeTaggedKeys(tags)

	removed := 0
	for key := range keys {
		gone := false
		if c.cfg.L1Enabled && c.local.delete(key) {
			gone = true
		}
		if c.remoteEnabled() {
			n, err := c.remote.Del(ctx, key)
			if err != nil {
				c.metrics.RecordError()
				c.log.Warn("cache tag delete failed", "key", key, "err", err)
			} else if n > 0 {
				gone = true
			}
		}
		if gone {
			removed++
		}
	}
	return removed
}

// WarmEntry is a value pre-loaded into the cache at startup.
type WarmEntry struct {
	Key   string
	Value []byte
	Tags  []string
}

// Warm seeds the cache with known-hot entries. No-op unless warming is
// enabled in config. Returns the number of entries written.
func (c *BillingCache) Warm(ctx context.Context, entries []WarmEntry) int {
	if !c.cfg.WarmingEnabled {
		return 0
	}
	n := 0
	for _, e := range entries {
		if c.Set(ctx, e.Key, e.Value, SetOptions{Tags: e.Tags}) {
			n++
		}
	}
	return n
}

// FlushLocal clears the in-process tier only. Intended for test isolation
// and operator tooling; the remote tier is untouched.
func (c *BillingCache) FlushLocal() {
	c.local.flush()
}

func (c *BillingCache) remoteEnabled() bool {
	return c.cfg.L2Enabled && c.remote != nil
}

func (c *BillingCache) ttlFor(key string) time.Duration {
	switch kindOf(key) {
	case KindProduct:
		return c.cfg.ProductTTL
	case KindRule, KindQuery:
		return c.cfg.RuleTTL
	case KindPlan:
		return c.cfg.PlanTTL
	case KindSubscription:
		return c.cfg.SubscriptionTTL
	case KindSegment:
		return c.cfg.SegmentTTL
	default:
		return c.cfg.DefaultTTL
	}
}

func (c *BillingCache) recordTags(key string, tags []string) {
	if len(tags) == 0 {
		return
	}
	c.tagMu.Lock()
	defer c.tagMu.Unlock()
	for _, tag := range tags {
		set, ok := c.tags[tag]
		if !ok {
			set = make(map[string]struct{})
			c.tags[tag] = set
		}
		set[key] = struct{}{}
	}
}

// takeTaggedKeys returns the union of the tags' key sets and removes the tags
// from the index in the same critical section.
func (c *BillingCache) takeTaggedKeys(tags []string) map[string]struct{} {
	keys := make(map[string]struct{})
	c.tagMu.Lock()
	defer c.tagMu.Unlock()
	for _, tag := range tags {
		for key := range c.tags[tag] {
			keys[key] = struct{}{}
		}
		delete(c.tags, tag)
	}
	return keys
}
