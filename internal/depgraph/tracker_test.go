package depgraph_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tmlc/tmlc/internal/depgraph"
	"github.com/tmlc/tmlc/internal/querykey"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTracker_RecordDependency_AttachesToInnermostActive(t *testing.T) {
	t.Parallel()

	tr := depgraph.New()

	outer := querykey.NewParseModule("a.tml", "a")
	inner := querykey.NewTypecheckModule("a.tml", "a")
	leaf := querykey.NewReadSource("a.tml")

	tr.PushActive(outer)
	tr.PushActive(inner)
	tr.RecordDependency(leaf)

	require.Equal(t, []querykey.Key{leaf}, tr.CurrentDependencies())

	tr.PopActive()

	require.Empty(t, tr.CurrentDependencies())

	tr.PopActive()
	require.Equal(t, 0, tr.Depth())
}

func TestTracker_RecordDependency_DedupsRepeatedCallee(t *testing.T) {
	t.Parallel()

	tr := depgraph.New()

	outer := querykey.NewParseModule("a.tml", "a")
	first := querykey.NewReadSource("a.tml")
	second := querykey.NewTokenize("a.tml")

	tr.PushActive(outer)
	tr.RecordDependency(first)
	tr.RecordDependency(second)
	tr.RecordDependency(first) // repeated, must not duplicate
	tr.RecordDependency(second)

	require.Equal(t, []querykey.Key{first, second}, tr.CurrentDependencies())
}

func TestTracker_RecordDependency_NoActiveIsNoOp(t *testing.T) {
	t.Parallel()

	tr := depgraph.New()
	tr.RecordDependency(querykey.NewReadSource("a.tml"))

	require.Nil(t, tr.CurrentDependencies())
}

func TestTracker_DetectCycle_FindsSelfReentry(t *testing.T) {
	t.Parallel()

	tr := depgraph.New()

	a := querykey.NewTypecheckModule("a.tml", "a")
	b := querykey.NewTypecheckModule("b.tml", "b")

	tr.PushActive(a)
	tr.PushActive(b)

	cycle, found := tr.DetectCycle(a)
	require.True(t, found)
	require.Equal(t, []querykey.Key{a, b, a}, cycle.Path)
}

func TestTracker_DetectCycle_NoCycleWhenKeyNotActive(t *testing.T) {
	t.Parallel()

	tr := depgraph.New()
	tr.PushActive(querykey.NewTypecheckModule("a.tml", "a"))

	_, found := tr.DetectCycle(querykey.NewTypecheckModule("b.tml", "b"))
	require.False(t, found)
}

func TestTracker_PopActive_OnEmptyStackIsNoOp(t *testing.T) {
	t.Parallel()

	tr := depgraph.New()
	tr.PopActive()

	require.Equal(t, 0, tr.Depth())
}

func TestTracker_Clear_ResetsStateAndDepth(t *testing.T) {
	t.Parallel()

	tr := depgraph.New()
	tr.PushActive(querykey.NewReadSource("a.tml"))
	tr.PushActive(querykey.NewReadSource("b.tml"))

	tr.Clear()

	require.Equal(t, 0, tr.Depth())
	require.Nil(t, tr.CurrentDependencies())
}

func TestTracker_ConcurrentPerWorkerStacksDoNotRace(t *testing.T) {
	t.Parallel()

	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		i := i

		wg.Add(1)

		go func() {
			defer wg.Done()

			tr := depgraph.New()
			key := querykey.NewReadSource(string(rune('a' + i)))

			for j := 0; j < 100; j++ {
				tr.PushActive(key)
				tr.RecordDependency(key)
				tr.PopActive()
			}
		}()
	}

	wg.Wait()
}
