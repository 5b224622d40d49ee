// Package depgraph tracks which query is currently being forced and
// which dependencies it has recorded so far, on a per-worker active
// stack, and detects cycles by walking that stack.
package depgraph

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tmlc/tmlc/internal/querykey"
)

// frame pairs an active key with the dependencies it has recorded since
// it became active.
type frame struct {
	key  querykey.Key
	deps []querykey.Key
}

// Tracker maintains the active-query stack for one worker. A compiler
// run that forces queries concurrently uses one Tracker per worker
// goroutine; the stack is never shared across workers because a cycle
// can only be detected along a single call chain.
type Tracker struct {
	mu      sync.Mutex
	active  []querykey.Key
	frames  []frame
	digests map[uint64]int // digest -> count of active keys hashing to it
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{}
}

// PushActive marks key as the query currently being forced, nesting
// under whatever was already active.
func (t *Tracker) PushActive(key querykey.Key) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active = append(t.active, key)
	t.frames = append(t.frames, frame{key: key})

	if t.digests == nil {
		t.digests = make(map[uint64]int)
	}

	t.digests[key.Digest()]++
}

// PopActive pops the innermost active query. A no-op if nothing is
// active, matching the teacher behavior of tolerating an unbalanced
// pop during panic-unwind cleanup paths.
func (t *Tracker) PopActive() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.active) == 0 {
		return
	}

	popped := t.active[len(t.active)-1]

	t.active = t.active[:len(t.active)-1]
	t.frames = t.frames[:len(t.frames)-1]

	if d := popped.Digest(); t.digests[d] > 1 {
		t.digests[d]--
	} else {
		delete(t.digests, d)
	}
}

// RecordDependency records that the currently active query depends on
// callee. A no-op if nothing is active (a top-level force with no
// enclosing query records no dependency edge for itself).
//
// The dependency list preserves first-force order but never records the
// same callee twice: a provider that forces the same key several times
// (e.g. two sibling calls both reading the same imported module) still
// produces one dependency edge, per the invariant that a cache entry's
// dependency list is exactly the set of keys its provider forced.
func (t *Tracker) RecordDependency(callee querykey.Key) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.frames) == 0 {
		return
	}

	last := len(t.frames) - 1

	for _, existing := range t.frames[last].deps {
		if existing == callee {
			return
		}
	}

	t.frames[last].deps = append(t.frames[last].deps, callee)
}

// CurrentDependencies returns the dependencies recorded so far for the
// innermost active query. Returns nil if nothing is active.
func (t *Tracker) CurrentDependencies() []querykey.Key {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.frames) == 0 {
		return nil
	}

	deps := t.frames[len(t.frames)-1].deps

	out := make([]querykey.Key, len(deps))
	copy(out, deps)

	return out
}

// Cycle is the path of keys from the first occurrence of the repeated
// key through to the query that re-entered it.
type Cycle struct {
	Path []querykey.Key
}

// Error renders the cycle as "A -> B -> C -> A".
func (c Cycle) Error() string {
	parts := make([]string, len(c.Path))
	for i, k := range c.Path {
		parts[i] = k.String()
	}

	return fmt.Sprintf("cycle detected: %s", strings.Join(parts, " -> "))
}

// DetectCycle reports whether key is already on the active stack. If so
// it returns the path from the first occurrence to the end, with key
// appended again to close the loop visually.
//
// The active stack is typically shallow (one frame per pipeline stage
// per module), but a pathological import graph can nest deeply, so
// DetectCycle first checks key's digest against the set of digests
// currently on the stack: a miss there proves key isn't active without
// comparing it field-by-field against every frame. A hit still falls
// through to the exact scan below, since a 64-bit digest can collide.
func (t *Tracker) DetectCycle(key querykey.Key) (Cycle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.digests[key.Digest()] == 0 {
		return Cycle{}, false
	}

	for i, k := range t.active {
		if k == key {
			path := make([]querykey.Key, 0, len(t.active)-i+1)
			path = append(path, t.active[i:]...)
			path = append(path, key)

			return Cycle{Path: path}, true
		}
	}

	return Cycle{}, false
}

// Depth returns the number of queries currently active on the stack.
func (t *Tracker) Depth() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.active)
}

// Clear empties the active stack. Used between independent compiler
// invocations that reuse the same Tracker.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active = nil
	t.frames = nil
	t.digests = nil
}
