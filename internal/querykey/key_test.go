package querykey_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tmlc/tmlc/internal/querykey"
)

func TestKey_EqualityIsFieldwiseExact(t *testing.T) {
	t.Parallel()

	a := querykey.NewParseModule("a.tml", "mod")
	b := querykey.NewParseModule("a.tml", "mod")
	c := querykey.NewParseModule("a.tml", "other")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestKey_DifferentKindsNeverEqual(t *testing.T) {
	t.Parallel()

	a := querykey.NewReadSource("a.tml")
	b := querykey.NewTokenize("a.tml")

	require.NotEqual(t, a, b)
}

func TestKey_Less_OrdersByKindThenFields(t *testing.T) {
	t.Parallel()

	keys := []querykey.Key{
		querykey.NewTokenize("b.tml"),
		querykey.NewReadSource("b.tml"),
		querykey.NewReadSource("a.tml"),
		querykey.NewTokenize("a.tml"),
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	want := []querykey.Key{
		querykey.NewReadSource("a.tml"),
		querykey.NewReadSource("b.tml"),
		querykey.NewTokenize("a.tml"),
		querykey.NewTokenize("b.tml"),
	}

	require.Equal(t, want, keys)
}

func TestKey_Digest_DeterministicAndDistinguishesFields(t *testing.T) {
	t.Parallel()

	a := querykey.NewParseModule("a.tml", "mod")
	b := querykey.NewParseModule("a.tml", "mod")
	require.Equal(t, a.Digest(), b.Digest())

	c := querykey.NewParseModule("a.tml", "odm")
	require.NotEqual(t, a.Digest(), c.Digest())
}

func TestKey_Digest_NoFieldConcatenationCollision(t *testing.T) {
	t.Parallel()

	a := querykey.NewParseModule("ab", "c")
	b := querykey.NewParseModule("a", "bc")

	require.NotEqual(t, a.Digest(), b.Digest())
}

func TestKey_String_IncludesModuleNameWhenPresent(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ReadSource(a.tml)", querykey.NewReadSource("a.tml").String())
	require.Equal(t, "ParseModule(a.tml, mod)", querykey.NewParseModule("a.tml", "mod").String())
}

func TestNumKinds_MatchesConstructorCount(t *testing.T) {
	t.Parallel()

	require.Equal(t, 9, querykey.NumKinds)
}
