// Package provider defines the type-erased provider function signature
// and the registry that maps each query kind to the function that
// computes it.
package provider

import (
	"fmt"

	"github.com/tmlc/tmlc/internal/querykey"
)

// Context is the subset of the query engine a provider needs: the
// ability to force a dependency and have it recorded against the
// caller automatically. internal/query.Engine satisfies this interface;
// it is declared here rather than imported to keep provider free of a
// dependency on the engine that depends on it.
type Context interface {
	Force(key querykey.Key) (any, error)
}

// Func is a type-erased provider: given a context and the key it was
// invoked for, it computes and returns the result (or an error).
type Func func(ctx Context, key querykey.Key) (any, error)

// Registry maps query kinds to their provider functions. It is built
// once at startup and read concurrently thereafter, so no locking is
// needed once registration is complete; Register is not safe to call
// concurrently with Get.
type Registry struct {
	providers [querykey.NumKinds]Func
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register associates kind with provider, overwriting any previous
// registration for that kind.
func (r *Registry) Register(kind querykey.Kind, fn Func) {
	r.providers[int(kind)] = fn
}

// Get returns the provider registered for kind, or false if none has
// been registered.
func (r *Registry) Get(kind querykey.Kind) (Func, bool) {
	idx := int(kind)
	if idx < 0 || idx >= len(r.providers) || r.providers[idx] == nil {
		return nil, false
	}

	return r.providers[idx], true
}

// MustGet returns the provider registered for kind, panicking if none
// is registered. Used at query-engine construction time to fail fast
// on a missing wiring rather than surfacing a nil-provider error deep
// inside a force chain.
func (r *Registry) MustGet(kind querykey.Kind) Func {
	fn, ok := r.Get(kind)
	if !ok {
		panic(fmt.Sprintf("provider: no provider registered for %s", kind))
	}

	return fn
}
