package query_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tmlc/tmlc/internal/fsys"
	"github.com/tmlc/tmlc/internal/pipeline"
	"github.com/tmlc/tmlc/internal/provider"
	"github.com/tmlc/tmlc/internal/query"
	"github.com/tmlc/tmlc/internal/querykey"
	"github.com/tmlc/tmlc/internal/traits"
	"github.com/tmlc/tmlc/internal/xerrors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestEngine(t *testing.T, sourceDir string) *query.Engine {
	t.Helper()

	reg := provider.NewRegistry()
	pipeline.Register(reg, fsys.NewReal(), traits.NewEnvironment())

	opts := query.DefaultOptions()
	opts.SourceDirectory = sourceDir

	return query.New(reg, opts, fsys.NewReal(), nil)
}

func writeModule(t *testing.T, dir, name, body string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	return path
}

func TestEngine_Force_SecondCallIsCacheHit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeModule(t, dir, "a.tml", "fn main() {}")

	e := newTestEngine(t, dir)

	_, err := e.ReadSource(path)
	require.NoError(t, err)

	_, err = e.ReadSource(path)
	require.NoError(t, err)

	stats := e.CacheStats()
	require.Equal(t, uint64(1), stats.Hits)
	require.Equal(t, uint64(1), stats.Misses)
}

func TestEngine_Force_DeterministicOutputFingerprintAcrossRepeatedForce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeModule(t, dir, "a.tml", "fn main() { let x = 1; }")

	e1 := newTestEngine(t, dir)
	_, err := e1.CodegenUnit(path, "a")
	require.NoError(t, err)

	e2 := newTestEngine(t, dir)
	_, err = e2.CodegenUnit(path, "a")
	require.NoError(t, err)

	// Forcing the same unchanged source through two independent engines
	// must reach the same result; String() is what gets fingerprinted,
	// so comparing the two codegen unit strings is equivalent to
	// comparing their output fingerprints.
	result1, err := e1.CodegenUnit(path, "a")
	require.NoError(t, err)

	result2, err := e2.CodegenUnit(path, "a")
	require.NoError(t, err)

	require.Equal(t, result1, result2)
}

func TestEngine_InvalidateFile_ForcesRecomputation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeModule(t, dir, "a.tml", "fn main() {}")

	e := newTestEngine(t, dir)

	_, err := e.ParseModule(path, "a")
	require.NoError(t, err)

	before := e.CacheStats().Misses

	e.InvalidateFile(path)

	_, err = e.ParseModule(path, "a")
	require.NoError(t, err)

	after := e.CacheStats().Misses
	require.Greater(t, after, before)
}

func TestEngine_Force_CycleDetected(t *testing.T) {
	t.Parallel()

	reg := provider.NewRegistry()
	reg.Register(querykey.Tokenize, func(ctx provider.Context, key querykey.Key) (any, error) {
		return ctx.Force(querykey.NewParseModule(key.FilePath, "x"))
	})
	reg.Register(querykey.ParseModule, func(ctx provider.Context, key querykey.Key) (any, error) {
		return ctx.Force(querykey.NewTokenize(key.FilePath))
	})

	opts := query.DefaultOptions()
	opts.Incremental = false

	e := query.New(reg, opts, fsys.NewReal(), nil)

	_, err := e.Force(querykey.NewTokenize("a.tml"))
	require.Error(t, err)
	require.ErrorIs(t, err, xerrors.ErrCycleDetected)
}

func TestEngine_ClearCache_DropsEntriesAndColors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeModule(t, dir, "a.tml", "fn main() {}")

	e := newTestEngine(t, dir)

	_, err := e.ReadSource(path)
	require.NoError(t, err)

	e.ClearCache()

	stats := e.CacheStats()
	require.Equal(t, 0, stats.TotalEntries)
	require.Equal(t, uint64(0), stats.Hits)
	require.Equal(t, uint64(0), stats.Misses)
}
