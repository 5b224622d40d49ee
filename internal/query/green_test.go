package query_test

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestEngine_IncrementalRoundTrip_ReusesGreenChainWithoutReexecutingProviders
// is the driver's scenario 6: run a full compile, save the cache, load
// it into a fresh engine, force the top CodegenUnit key, and assert
// that only the leaf ReadSource provider actually ran (it must, to
// verify the file's content is unchanged); every other stage is
// resolved either by fingerprint arithmetic alone or, for CodegenUnit
// itself, by reconstructing the result from the saved IR artifact.
func TestEngine_IncrementalRoundTrip_ReusesGreenChainWithoutReexecutingProviders(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	cacheDir := t.TempDir()
	path := writeModule(t, srcDir, "a.tml", "fn main() { let x = 1; }")

	first := newTestEngine(t, srcDir)

	_, err := first.CodegenUnit(path, "a")
	require.NoError(t, err)
	require.NoError(t, first.SaveIncrementalCache(cacheDir))

	second := newTestEngine(t, srcDir)
	require.NoError(t, second.LoadIncrementalCache(cacheDir))

	before := second.CacheStats()

	result, err := second.CodegenUnit(path, "a")
	require.NoError(t, err)
	require.NotNil(t, result)

	after := second.CacheStats()

	require.Equal(t, uint64(1), after.Misses-before.Misses, "only ReadSource's verification read should miss")
	require.Equal(t, uint64(1), after.Hits-before.Hits, "the green CodegenUnit reconstruction should count as a hit")
}

// TestEngine_IncrementalRoundTrip_ModifiedSourceRecomputesChain changes
// the source file between sessions and expects a full recomputation:
// the red ReadSource output fingerprint propagates red all the way up,
// so CodegenUnit's provider actually runs again rather than being
// reconstructed from the stale saved artifact.
func TestEngine_IncrementalRoundTrip_ModifiedSourceRecomputesChain(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	cacheDir := t.TempDir()
	path := writeModule(t, srcDir, "a.tml", "fn main() { let x = 1; }")

	first := newTestEngine(t, srcDir)
	result1, err := first.CodegenUnit(path, "a")
	require.NoError(t, err)
	require.NoError(t, first.SaveIncrementalCache(cacheDir))

	writeModule(t, srcDir, "a.tml", "fn main() { let x = 2; }")

	second := newTestEngine(t, srcDir)
	require.NoError(t, second.LoadIncrementalCache(cacheDir))

	result2, err := second.CodegenUnit(path, "a")
	require.NoError(t, err)

	require.NotEqual(t, result1, result2)
}
