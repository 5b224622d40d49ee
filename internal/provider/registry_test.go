package provider_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tmlc/tmlc/internal/provider"
	"github.com/tmlc/tmlc/internal/querykey"
)

type stubContext struct{}

func (stubContext) Force(querykey.Key) (any, error) { return nil, nil }

func TestRegistry_RegisterThenGet(t *testing.T) {
	t.Parallel()

	r := provider.NewRegistry()
	r.Register(querykey.ReadSource, func(provider.Context, querykey.Key) (any, error) {
		return "source", nil
	})

	fn, ok := r.Get(querykey.ReadSource)
	require.True(t, ok)

	result, err := fn(stubContext{}, querykey.NewReadSource("a.tml"))
	require.NoError(t, err)
	require.Equal(t, "source", result)
}

func TestRegistry_Get_UnregisteredKindIsMiss(t *testing.T) {
	t.Parallel()

	r := provider.NewRegistry()

	_, ok := r.Get(querykey.Tokenize)
	require.False(t, ok)
}

func TestRegistry_MustGet_PanicsOnUnregistered(t *testing.T) {
	t.Parallel()

	r := provider.NewRegistry()

	require.Panics(t, func() {
		r.MustGet(querykey.MirBuild)
	})
}

func TestRegistry_Register_OverwritesPrevious(t *testing.T) {
	t.Parallel()

	r := provider.NewRegistry()
	r.Register(querykey.ReadSource, func(provider.Context, querykey.Key) (any, error) {
		return "first", nil
	})
	r.Register(querykey.ReadSource, func(provider.Context, querykey.Key) (any, error) {
		return "second", nil
	})

	fn, ok := r.Get(querykey.ReadSource)
	require.True(t, ok)

	result, _ := fn(stubContext{}, querykey.NewReadSource("a.tml"))
	require.Equal(t, "second", result)
}
