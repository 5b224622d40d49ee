// Package xerrors collects the sentinel errors shared across the query
// driver, wrapped with context via fmt.Errorf at each call site rather
// than carried as distinct error types. Callers match kinds with
// errors.Is, never by comparing strings.
package xerrors

import "errors"

var (
	// ErrCycleDetected means a query's own key reappeared on the active
	// stack while it was being forced. Bubbles up to the force caller
	// untouched; never cached.
	ErrCycleDetected = errors.New("cycle detected")

	// ErrProviderFailure means a pipeline stage's provider returned an
	// error. Carries the underlying stage diagnostics via %w wrapping.
	// Bubbles up untouched; the failed computation is never cached.
	ErrProviderFailure = errors.New("provider failed")

	// ErrCacheFormatMismatch means the on-disk incremental cache is
	// unreadable: bad magic, version, compiler build hash, or options
	// hash. Recovered locally by discarding the cache and rebuilding;
	// never surfaces to a provider.
	ErrCacheFormatMismatch = errors.New("incremental cache format mismatch")

	// ErrCacheIoError means a transient I/O failure occurred reading or
	// writing the incremental cache. Recovered locally by degrading to
	// non-incremental for the session; never surfaces to a provider.
	ErrCacheIoError = errors.New("incremental cache I/O error")

	// ErrTypeMismatchOnLookup means a cache entry's payload was not the
	// type the caller expected. Recovered locally as a cache miss.
	ErrTypeMismatchOnLookup = errors.New("cache entry type mismatch")

	// ErrSolverOverflow means the trait solver's goal stack detected a
	// cycle not declared coinductively safe.
	ErrSolverOverflow = errors.New("trait solver overflow")

	// ErrSolverAmbiguous means more than one top-precedence candidate
	// remained after unification.
	ErrSolverAmbiguous = errors.New("trait solver ambiguous")

	// ErrSolverUnsolved means no candidate satisfied the goal.
	ErrSolverUnsolved = errors.New("trait solver unsolved")
)
