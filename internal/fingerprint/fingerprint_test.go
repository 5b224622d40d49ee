package fingerprint_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tmlc/tmlc/internal/fingerprint"
)

func TestString_Deterministic(t *testing.T) {
	t.Parallel()

	require.Equal(t, fingerprint.String("abc"), fingerprint.String("abc"))
}

func TestString_DiffersOnSingleByteChange(t *testing.T) {
	t.Parallel()

	require.NotEqual(t, fingerprint.String("abc"), fingerprint.String("abd"))
}

func TestString_Empty_IsZero(t *testing.T) {
	t.Parallel()

	require.True(t, fingerprint.String("").IsZero())
	require.Equal(t, fingerprint.Zero, fingerprint.String(""))
}

func TestCombine_NotCommutative(t *testing.T) {
	t.Parallel()

	a := fingerprint.String("x")
	b := fingerprint.String("y")

	require.NotEqual(t, fingerprint.Combine(a, b), fingerprint.Combine(b, a))
}

func TestCombine_ZeroIsNotIdentity(t *testing.T) {
	t.Parallel()

	x := fingerprint.String("payload")

	require.NotEqual(t, x, fingerprint.Combine(fingerprint.Zero, x))
}

func TestToHex_Is32LowercaseHexChars(t *testing.T) {
	t.Parallel()

	hex := fingerprint.String("abc").ToHex()

	require.Len(t, hex, 32)

	for _, r := range hex {
		require.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'), "unexpected char %q", r)
	}
}

func TestFile_MissingFile_ReturnsZero(t *testing.T) {
	t.Parallel()

	got := fingerprint.File(filepath.Join(t.TempDir(), "does-not-exist.tml"))

	require.True(t, got.IsZero())
}

func TestFile_MatchesStringOfItsContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "mod.tml")

	const content = "fn main() {}\n"

	err := os.WriteFile(path, []byte(content), 0o644)
	require.NoError(t, err)

	require.Equal(t, fingerprint.String(content), fingerprint.File(path))
}

func TestCombineAll_FoldsInOrder(t *testing.T) {
	t.Parallel()

	a := fingerprint.String("a")
	b := fingerprint.String("b")
	seed := fingerprint.String("seed")

	want := fingerprint.Combine(fingerprint.Combine(seed, a), b)
	got := fingerprint.CombineAll(seed, []fingerprint.Fingerprint{a, b})

	require.Equal(t, want, got)
}
