// Package cache provides the process-local analytics cache.
//
// Entries are keyed "userID|operation|window" and expire after a fixed TTL.
// Mutations of a user's data drop every entry under that user's prefix via
// InvalidateUser. Every invalidation also bumps a generation counter, so a
// read that started before a mutation can detect it and skip storing its
// result (see Generation and SetIfGeneration). The cache is an explicit
// object handed to the services that need it; there is no package-level
// instance.
//
// Hits, misses and invalidations are exported as Prometheus counters.
package cache

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	sep = "|"

	// DefaultTTL is used when New receives a non-positive TTL.
	DefaultTTL = 15 * time.Second

	// sweepEvery bounds memory by purging expired entries every N writes.
	sweepEvery = 256
)

var (
	lookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_cache_lookups_total",
			Help: "Analytics cache lookups by operation and result (hit/miss).",
		},
		[]string{"op", "result"},
	)

	invalidations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "analytics_cache_invalidated_entries_total",
			Help: "Analytics cache entries dropped by invalidation.",
		},
	)
)

func init() {
	prometheus.MustRegister(lookups, invalidations)
}

// Key builds the cache key for an analytics read.
func Key(userID, op string, window int) string {
	return userID + sep + op + sep + strconv.Itoa(window)
}

// UserPrefix is the prefix shared by every key of userID. The trailing
// separator keeps "u1" from matching "u10".
func UserPrefix(userID string) string { return userID + sep }

type entry struct {
	value   any
	expires time.Time
}

// Cache is a TTL map guarded by a mutex. It is safe for concurrent use.
type Cache struct {
	mu     sync.Mutex
	ttl    time.Duration
	items  map[string]entry
	writes uint64

	// gens counts invalidations per user; epoch counts invalidations whose
	// prefix does not name a single user.
	gens  map[string]uint64
	epoch uint64

	// now is swappable for tests.
	now func() time.Time
}

// New returns an empty cache whose entries live for ttl.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:   ttl,
		items: make(map[string]entry),
		gens:  make(map[string]uint64),
		now:   time.Now,
	}
}

// TTL reports the configured entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the live value stored under key. Expired entries are removed.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	e, ok := c.items[key]
	if ok && !c.now().Before(e.expires) {
		delete(c.items, key)
		ok = false
	}
	c.mu.Unlock()

	result := "miss"
	if ok {
		result = "hit"
	}
	lookups.WithLabelValues(opOf(key), result).Inc()
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Set stores v under key for one TTL.
func (c *Cache) Set(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(key, v)
}

// Generation returns the invalidation generation of key's user. Capture it
// before computing a value and pass it to SetIfGeneration.
func (c *Cache) Generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation(key)
}

// SetIfGeneration stores v only if key's user has not been invalidated since
// gen was read. It reports whether v was stored.
func (c *Cache) SetIfGeneration(key string, v any, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation(key) != gen {
		return false
	}
	c.store(key, v)
	return true
}

// generation is monotonic: both terms only grow. Callers hold c.mu.
func (c *Cache) generation(key string) uint64 {
	return c.epoch + c.gens[userOf(key)]
}

// store writes an entry and periodically sweeps expired ones. Callers hold c.mu.
func (c *Cache) store(key string, v any) {
	now := c.now()
	c.writes++
	if c.writes >= sweepEvery {
		for k, e := range c.items {
			if !now.Before(e.expires) {
				delete(c.items, k)
			}
		}
		c.writes = 0
	}
	c.items[key] = entry{value: v, expires: now.Add(c.ttl)}
}

// InvalidatePrefix drops every entry whose key starts with prefix and returns
// how many were removed. The generation advances even when nothing was
// stored, since a computation may be in flight.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	if strings.Contains(prefix, sep) {
		c.gens[userOf(prefix)]++
	} else {
		c.epoch++
	}
	n := 0
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
			n++
		}
	}
	c.mu.Unlock()
	if n > 0 {
		invalidations.Add(float64(n))
	}
	return n
}

// InvalidateUser drops every entry belonging to userID.
func (c *Cache) InvalidateUser(userID string) int {
	return c.InvalidatePrefix(UserPrefix(userID))
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func userOf(key string) string {
	user, _, _ := strings.Cut(key, sep)
	return user
}

func opOf(key string) string {
	parts := strings.SplitN(key, sep, 3)
	if len(parts) < 2 || parts[1] == "" {
		return "unknown"
	}
	return parts[1]
}
