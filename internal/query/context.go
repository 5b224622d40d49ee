// Package query implements the driver at the center of the compiler:
// QueryContext.Force, the single entry point every pipeline stage goes
// through, backed by the in-memory cache, the dependency tracker, and
// the on-disk incremental store.
//
// force(key) works like this: check the active-query stack for a cycle,
// check the in-memory cache, attempt a red/green resolution against the
// previous session if one was loaded, and only then actually invoke the
// key's provider. Whichever path resolves the key, its dependencies are
// captured by the calling worker's Tracker and its fingerprints are
// folded in before the result is installed.
package query

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tmlc/tmlc/internal/depgraph"
	"github.com/tmlc/tmlc/internal/fingerprint"
	"github.com/tmlc/tmlc/internal/fsys"
	"github.com/tmlc/tmlc/internal/incremental"
	"github.com/tmlc/tmlc/internal/provider"
	"github.com/tmlc/tmlc/internal/querycache"
	"github.com/tmlc/tmlc/internal/querykey"
	"github.com/tmlc/tmlc/internal/xerrors"
)

// Engine is the query driver: one per compilation session. It owns the
// in-memory cache, the provider registry, the previous session loaded
// from disk (if incremental reuse is enabled), and the color map built
// while resolving red/green status during this session.
//
// An Engine is safe for concurrent use by multiple Workers, each
// forcing disjoint or overlapping keys; see [Engine.NewWorker].
type Engine struct {
	registry *provider.Registry
	cache    *querycache.Cache
	store    *incremental.Store
	fs       fsys.FS
	log      logrus.FieldLogger

	opts      Options
	envFP     fingerprint.Fingerprint
	buildHash uint32

	session *incremental.Session // nil until LoadIncrementalCache succeeds or is never called

	colorMu sync.Mutex
	colors  map[querykey.Key]colorState

	main *Worker
}

type colorState struct {
	color  incremental.Color
	output fingerprint.Fingerprint
}

// New returns a fresh Engine over reg, configured by opts. fs backs the
// incremental store; pass [fsys.NewReal] for production use or a
// [fsys.Chaos] wrapper to exercise degrade-to-non-incremental paths in
// tests. log receives green-reuse messages at Debug and, through the
// incremental store, cache-degradation messages at Debug/Warn; nil
// selects logrus's standard logger.
func New(reg *provider.Registry, opts Options, fs fsys.FS, log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}

	e := &Engine{
		registry:  reg,
		cache:     querycache.New(),
		store:     incremental.NewStore(fs, log),
		fs:        fs,
		log:       log,
		opts:      opts,
		envFP:     opts.EnvFingerprint(),
		buildHash: incremental.ComputeBuildHash(),
		colors:    make(map[querykey.Key]colorState),
	}
	e.main = e.NewWorker()

	if opts.Verbose {
		if lg, ok := log.(*logrus.Logger); ok {
			lg.SetLevel(logrus.DebugLevel)
		}
	}

	return e
}

// Worker forces queries on behalf of one logical caller. Each Worker
// owns its own [depgraph.Tracker]: per §5 of the driver's concurrency
// model, a cycle can only be detected along a single call chain, so a
// parallel driver gives each goroutine its own Worker rather than
// sharing one tracker across threads.
type Worker struct {
	engine  *Engine
	tracker *depgraph.Tracker
}

// NewWorker returns a Worker backed by e, with a fresh empty active
// stack. Safe to call from any goroutine; the returned Worker itself
// must not be shared across goroutines (its Tracker is not meant to
// track more than one call chain at a time).
func (e *Engine) NewWorker() *Worker {
	return &Worker{engine: e, tracker: depgraph.New()}
}

// Force implements [provider.Context] so a Worker can be passed
// directly to a provider function.
func (w *Worker) Force(key querykey.Key) (any, error) {
	return w.engine.force(w.tracker, key)
}

var _ provider.Context = (*Worker)(nil)

// Force resolves key on the engine's main worker. Most callers that
// don't need their own concurrent call chain use this directly rather
// than managing a Worker.
func (e *Engine) Force(key querykey.Key) (any, error) {
	return e.main.Force(key)
}

// force is the algorithm from the driver's §4.6: cycle check, in-memory
// hit, red/green resolution against the previous session, then actual
// provider invocation. tracker is the calling worker's active-query
// stack, used both to detect cycles and to record the dependency edge
// against whichever query is currently being forced one level up.
func (e *Engine) force(tracker *depgraph.Tracker, key querykey.Key) (any, error) {
	if cyc, found := tracker.DetectCycle(key); found {
		return nil, fmt.Errorf("%w: %s", xerrors.ErrCycleDetected, cyc.Error())
	}

	tracker.RecordDependency(key)

	if entry, ok := e.cache.GetEntry(key); ok {
		e.cache.RecordHit()
		return entry.Result, nil
	}

	if e.opts.Incremental && e.session != nil {
		result, _, handled, err := e.tryReuseGreen(tracker, key)
		if handled {
			if err == nil {
				e.log.WithField("key", key).Debug("query: reused green result")
			}

			return result, err
		}
	}

	return e.executeProvider(tracker, key)
}

// executeProvider runs key's registered provider, recording its
// dependencies and fingerprints, and installs the result in the
// in-memory cache. This is the only path that actually dispatches to
// pipeline code; every other path in force reuses a prior result.
func (e *Engine) executeProvider(tracker *depgraph.Tracker, key querykey.Key) (any, error) {
	fn, ok := e.registry.Get(key.Kind)
	if !ok {
		return nil, fmt.Errorf("query: no provider registered for %s", key.Kind)
	}

	tracker.PushActive(key)

	worker := &Worker{engine: e, tracker: tracker}

	result, err := fn(worker, key)

	deps := tracker.PopActive()

	if err != nil {
		e.cache.RecordMiss()
		return nil, fmt.Errorf("%w: %s: %w", xerrors.ErrProviderFailure, key, err)
	}

	depOutputs := make([]fingerprint.Fingerprint, 0, len(deps))

	for _, dep := range deps {
		if entry, ok := e.cache.GetEntry(dep); ok {
			depOutputs = append(depOutputs, entry.OutputFingerprint)
		}
	}

	inputFP := fingerprint.CombineAll(e.envFP, depOutputs)
	outputFP := e.outputFingerprint(key, result)

	e.cache.Insert(key, result, inputFP, outputFP, deps)
	e.cache.RecordMiss()

	return result, nil
}

// outputFingerprint computes the per-kind hashing rule from §4.6 step
// 5: a source file's content digest for ReadSource, and a textual or
// structural digest of the result for every later stage. Every result
// type in internal/pipeline implements fmt.Stringer with a
// deterministic rendering, so a single code path covers every kind.
func (e *Engine) outputFingerprint(key querykey.Key, result any) fingerprint.Fingerprint {
	if key.Kind == querykey.ReadSource {
		if s, ok := result.(string); ok {
			return fingerprint.String(s)
		}
	}

	var fp fingerprint.Fingerprint

	switch str := result.(type) {
	case fmt.Stringer:
		fp = fingerprint.String(str.String())
	default:
		fp = fingerprint.String(fmt.Sprintf("%#v", result))
	}

	if key.Kind == querykey.CodegenUnit {
		// Only the terminal stage reads the scoped options (debug info,
		// coverage, optimization level, PGO mode), so only its output
		// fingerprint needs to fold ScopedFingerprint in.
		fp = fingerprint.Combine(fp, e.opts.ScopedFingerprint())
	}

	return fp
}

func (e *Engine) getColor(key querykey.Key) (colorState, bool) {
	e.colorMu.Lock()
	defer e.colorMu.Unlock()

	cs, ok := e.colors[key]

	return cs, ok
}

func (e *Engine) setColor(key querykey.Key, cs colorState) {
	e.colorMu.Lock()
	defer e.colorMu.Unlock()

	e.colors[key] = cs
}

// InvalidateFile removes every cached query whose FilePath field
// matches path, plus the transitive closure of entries that depend on
// them, and drops any color decisions recorded for them this session
// so they are re-resolved from scratch on the next force.
func (e *Engine) InvalidateFile(path string) {
	for key := range e.cache.Snapshot() {
		if key.FilePath != path {
			continue
		}

		e.cache.InvalidateDependents(key)
	}

	e.colorMu.Lock()
	defer e.colorMu.Unlock()

	for key := range e.colors {
		if key.FilePath == path {
			delete(e.colors, key)
		}
	}
}

// ClearCache empties the in-memory cache and forgets every color
// decision, as if the Engine had just been constructed. The previous
// session loaded from disk, if any, is left untouched.
func (e *Engine) ClearCache() {
	e.cache.Clear()

	e.colorMu.Lock()
	defer e.colorMu.Unlock()

	e.colors = make(map[querykey.Key]colorState)
}

// CacheStats reports the in-memory cache's cumulative hit/miss counts.
func (e *Engine) CacheStats() querycache.Stats {
	return e.cache.GetStats()
}
