// Package querycache implements the thread-safe memoization table that
// backs the query system: one entry per QueryKey, holding its result
// plus the fingerprints and dependency list needed to decide reuse on a
// later force.
package querycache

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/tmlc/tmlc/internal/fingerprint"
	"github.com/tmlc/tmlc/internal/querykey"
	"github.com/tmlc/tmlc/internal/xerrors"
)

// Entry is a single memoized computation. Result is stored as `any`
// because the cache holds every pipeline stage's result type in one
// table; callers recover the concrete type with the package-level
// Lookup helper, which reports a miss rather than panicking on a
// mismatched type assertion.
//
// spec.md's design notes call for a sum type enumerating every
// QueryKind's result instead, specifically to remove this category of
// runtime mismatch. This cache keeps `any` anyway: internal/provider's
// Func is itself `(Context, querykey.Key) (any, error)`, the provider
// contract spec.md §4.5 and §6 both specify verbatim, so a sum-typed
// Entry would need a switch on key.Kind at every Insert to box the
// result into its variant — the exhaustiveness the design note wants
// would live in that switch, not in Entry itself, and Go has no closed
// union it could check at compile time the way the note's target
// language does. Rather than silently drop the design note's actual
// goal (make a mismatch unreachable rather than just non-fatal),
// Lookup reports ErrTypeMismatchOnLookup through the logger below, so
// §7's documented recovery path (treat as a miss, log a bug) is
// exercised instead of the mismatch passing by silently.
type Entry struct {
	Result            any
	InputFingerprint  fingerprint.Fingerprint
	OutputFingerprint fingerprint.Fingerprint
	Dependencies      []querykey.Key
}

// Stats reports cumulative cache activity.
type Stats struct {
	TotalEntries int
	Hits         uint64
	Misses       uint64
}

// Cache is a thread-safe memoization table keyed by querykey.Key. Reads
// take the shared side of the lock so concurrent lookups from different
// worker goroutines don't serialize on each other; only Insert,
// Invalidate, InvalidateDependents, and Clear take the exclusive side.
type Cache struct {
	mu      sync.RWMutex
	entries map[querykey.Key]Entry
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[querykey.Key]Entry)}
}

// Lookup fetches the entry for key and type-asserts its Result to R. A
// miss (key absent) reports ok=false with no log output: that's the
// ordinary "nothing cached yet" path. A type mismatch (an entry exists
// but its Result isn't an R) also reports ok=false, but is logged as a
// bug via ErrTypeMismatchOnLookup per §7's recovery policy — it always
// indicates a provider registered under the wrong querykey.Kind, never
// an expected runtime condition, so it does not panic but should never
// pass by silently either.
func Lookup[R any](c *Cache, key querykey.Key) (result R, ok bool) {
	c.mu.RLock()
	entry, found := c.entries[key]
	c.mu.RUnlock()

	if !found {
		c.misses.Add(1)
		return result, false
	}

	result, ok = entry.Result.(R)
	if !ok {
		c.misses.Add(1)
		logrus.WithError(xerrors.ErrTypeMismatchOnLookup).
			WithField("key", key).
			Warn(fmt.Sprintf("querycache: stored payload is not %T", result))

		return result, false
	}

	c.hits.Add(1)

	return result, true
}

// Contains reports whether key has a cached entry, without affecting
// hit/miss counters.
func (c *Cache) Contains(key querykey.Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, found := c.entries[key]

	return found
}

// Insert stores result under key along with the fingerprints and
// dependency list collected while computing it.
func (c *Cache) Insert(key querykey.Key, result any, inputFP, outputFP fingerprint.Fingerprint, deps []querykey.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = Entry{
		Result:            result,
		InputFingerprint:  inputFP,
		OutputFingerprint: outputFP,
		Dependencies:      deps,
	}
}

// GetEntry returns the full entry for key, for fingerprint/dependency
// inspection by the incremental resolver.
func (c *Cache) GetEntry(key querykey.Key) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, found := c.entries[key]

	return entry, found
}

// Invalidate removes a single entry.
func (c *Cache) Invalidate(key querykey.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// InvalidateDependents removes key's entry and every entry that
// transitively depends on it, via breadth-first traversal of the
// dependency edges recorded at insertion time.
func (c *Cache) InvalidateDependents(key querykey.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	toInvalidate := map[querykey.Key]struct{}{key: {}}
	worklist := []querykey.Key{key}

	for len(worklist) > 0 {
		current := worklist[0]
		worklist = worklist[1:]

		for entryKey, entry := range c.entries {
			if _, done := toInvalidate[entryKey]; done {
				continue
			}

			for _, dep := range entry.Dependencies {
				if dep == current {
					toInvalidate[entryKey] = struct{}{}
					worklist = append(worklist, entryKey)

					break
				}
			}
		}
	}

	for k := range toInvalidate {
		delete(c.entries, k)
	}
}

// Clear empties the cache and resets hit/miss counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[querykey.Key]Entry)
	c.hits.Store(0)
	c.misses.Store(0)
}

// GetStats reports the current entry count and cumulative hit/miss
// counters.
func (c *Cache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		TotalEntries: len(c.entries),
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
	}
}

// RecordHit increments the hit counter without touching any entry. The
// query engine calls this when force() resolves a key without invoking
// its provider (an in-memory memo hit or a green disk-cache reuse), so
// that Stats reflects "was the provider skipped" the same way Lookup's
// implicit counting does for direct cache access.
func (c *Cache) RecordHit() {
	c.hits.Add(1)
}

// RecordMiss increments the miss counter. The query engine calls this
// whenever force() actually invokes a provider, whether because the key
// was red, uncached, or green without a durable payload to reuse.
func (c *Cache) RecordMiss() {
	c.misses.Add(1)
}

// Snapshot returns a copy of every entry currently in the cache, keyed
// by QueryKey. Used by the incremental store to build the list of
// PrevSessionEntry records written to disk at the end of a session.
func (c *Cache) Snapshot() map[querykey.Key]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[querykey.Key]Entry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}

	return out
}
