package querycache_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tmlc/tmlc/internal/fingerprint"
	"github.com/tmlc/tmlc/internal/querycache"
	"github.com/tmlc/tmlc/internal/querykey"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCache_InsertThenLookup_Hits(t *testing.T) {
	t.Parallel()

	c := querycache.New()
	key := querykey.NewReadSource("a.tml")

	c.Insert(key, "source text", fingerprint.String("a.tml"), fingerprint.String("source text"), nil)

	result, ok := querycache.Lookup[string](c, key)
	require.True(t, ok)
	require.Equal(t, "source text", result)

	stats := c.GetStats()
	require.Equal(t, uint64(1), stats.Hits)
	require.Equal(t, uint64(0), stats.Misses)
}

func TestCache_Lookup_MissingKeyIsMiss(t *testing.T) {
	t.Parallel()

	c := querycache.New()

	_, ok := querycache.Lookup[string](c, querykey.NewReadSource("missing.tml"))
	require.False(t, ok)
	require.Equal(t, uint64(1), c.GetStats().Misses)
}

func TestCache_Lookup_TypeMismatchIsMissNotPanic(t *testing.T) {
	t.Parallel()

	c := querycache.New()
	key := querykey.NewReadSource("a.tml")
	c.Insert(key, 42, fingerprint.Zero, fingerprint.Zero, nil)

	_, ok := querycache.Lookup[string](c, key)
	require.False(t, ok)
}

func TestCache_Invalidate_RemovesSingleEntry(t *testing.T) {
	t.Parallel()

	c := querycache.New()
	key := querykey.NewReadSource("a.tml")
	c.Insert(key, "x", fingerprint.Zero, fingerprint.Zero, nil)

	c.Invalidate(key)

	require.False(t, c.Contains(key))
}

func TestCache_InvalidateDependents_RemovesTransitiveChain(t *testing.T) {
	t.Parallel()

	c := querycache.New()

	read := querykey.NewReadSource("a.tml")
	tok := querykey.NewTokenize("a.tml")
	parse := querykey.NewParseModule("a.tml", "a")
	unrelated := querykey.NewReadSource("b.tml")

	c.Insert(read, "src", fingerprint.Zero, fingerprint.Zero, nil)
	c.Insert(tok, "toks", fingerprint.Zero, fingerprint.Zero, []querykey.Key{read})
	c.Insert(parse, "ast", fingerprint.Zero, fingerprint.Zero, []querykey.Key{tok})
	c.Insert(unrelated, "src2", fingerprint.Zero, fingerprint.Zero, nil)

	c.InvalidateDependents(read)

	require.False(t, c.Contains(read))
	require.False(t, c.Contains(tok))
	require.False(t, c.Contains(parse))
	require.True(t, c.Contains(unrelated))
}

func TestCache_Clear_ResetsEntriesAndStats(t *testing.T) {
	t.Parallel()

	c := querycache.New()
	key := querykey.NewReadSource("a.tml")
	c.Insert(key, "x", fingerprint.Zero, fingerprint.Zero, nil)

	_, _ = querycache.Lookup[string](c, key)

	c.Clear()

	require.False(t, c.Contains(key))

	stats := c.GetStats()
	require.Equal(t, 0, stats.TotalEntries)
	require.Equal(t, uint64(0), stats.Hits)
	require.Equal(t, uint64(0), stats.Misses)
}

func TestCache_GetEntry_ReturnsDependenciesAndFingerprints(t *testing.T) {
	t.Parallel()

	c := querycache.New()
	key := querykey.NewReadSource("a.tml")
	inFP := fingerprint.String("in")
	outFP := fingerprint.String("out")
	deps := []querykey.Key{querykey.NewReadSource("dep.tml")}

	c.Insert(key, "x", inFP, outFP, deps)

	entry, ok := c.GetEntry(key)
	require.True(t, ok)
	require.Equal(t, inFP, entry.InputFingerprint)
	require.Equal(t, outFP, entry.OutputFingerprint)
	require.Equal(t, deps, entry.Dependencies)
}

func TestCache_RecordHitRecordMiss_UpdateStatsWithoutTouchingEntries(t *testing.T) {
	t.Parallel()

	c := querycache.New()

	c.RecordHit()
	c.RecordHit()
	c.RecordMiss()

	stats := c.GetStats()
	require.Equal(t, uint64(2), stats.Hits)
	require.Equal(t, uint64(1), stats.Misses)
	require.Equal(t, 0, stats.TotalEntries)
}

func TestCache_Snapshot_ReturnsIndependentCopy(t *testing.T) {
	t.Parallel()

	c := querycache.New()
	key := querykey.NewReadSource("a.tml")
	c.Insert(key, "x", fingerprint.Zero, fingerprint.Zero, nil)

	snap := c.Snapshot()
	require.Len(t, snap, 1)

	c.Insert(querykey.NewReadSource("b.tml"), "y", fingerprint.Zero, fingerprint.Zero, nil)
	require.Len(t, snap, 1, "snapshot must not observe later mutations")
}
