package passes_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tmlc/tmlc/internal/mir"
	"github.com/tmlc/tmlc/internal/mir/passes"
)

func TestLeakCheck_AllocReleasedBeforeReturn_NoWarning(t *testing.T) {
	t.Parallel()

	fn := mir.Function{
		Name: "cleans_up",
		Blocks: []mir.BasicBlock{
			{
				ID:   0,
				Name: "entry",
				Instructions: []mir.Instruction{
					{Result: 1, Kind: mir.InstAlloc, AllocName: "buf"},
					{Kind: mir.InstRelease, Value: 1},
				},
				Terminator: &mir.Terminator{Kind: mir.TermReturn},
			},
		},
	}

	pass := &passes.LeakCheck{}
	pass.Run(&mir.Module{Functions: []mir.Function{fn}})

	require.Empty(t, pass.Warnings())
}

func TestLeakCheck_AllocNeverReleased_Warns(t *testing.T) {
	t.Parallel()

	fn := mir.Function{
		Name: "forgets_to_free",
		Blocks: []mir.BasicBlock{
			{
				ID:           0,
				Name:         "entry",
				Instructions: []mir.Instruction{{Result: 1, Kind: mir.InstAlloc, AllocName: "buf"}},
				Terminator:   &mir.Terminator{Kind: mir.TermReturn},
			},
		},
	}

	pass := &passes.LeakCheck{}
	pass.Run(&mir.Module{Functions: []mir.Function{fn}})

	warnings := pass.Warnings()
	require.Len(t, warnings, 1)
	require.Equal(t, "forgets_to_free", warnings[0].Function)
	require.Contains(t, warnings[0].Reason, "buf")
}

func TestLeakCheck_ReleasedOnOnePathOnly_WarnsForTheOtherPath(t *testing.T) {
	t.Parallel()

	// entry allocs, branches to releaseBranch (which releases and
	// returns) or leakBranch (which returns without releasing).
	fn := mir.Function{
		Name: "conditional_leak",
		Blocks: []mir.BasicBlock{
			{
				ID:           0,
				Name:         "entry",
				Instructions: []mir.Instruction{{Result: 1, Kind: mir.InstAlloc, AllocName: "buf"}},
				Successors:   []mir.BlockID{1, 2},
				Terminator:   &mir.Terminator{Kind: mir.TermCondBranch, Condition: 99, TrueBlock: 1, FalseBlock: 2},
			},
			{
				ID:           1,
				Name:         "releaseBranch",
				Instructions: []mir.Instruction{{Kind: mir.InstRelease, Value: 1}},
				Terminator:   &mir.Terminator{Kind: mir.TermReturn},
			},
			{
				ID:         2,
				Name:       "leakBranch",
				Terminator: &mir.Terminator{Kind: mir.TermReturn},
			},
		},
	}

	pass := &passes.LeakCheck{}
	pass.Run(&mir.Module{Functions: []mir.Function{fn}})

	warnings := pass.Warnings()
	require.Len(t, warnings, 1)
	require.Equal(t, "entry", warnings[0].Block)
}

func TestLeakCheck_ReleasedOnBothPaths_NoWarning(t *testing.T) {
	t.Parallel()

	fn := mir.Function{
		Name: "releases_on_both_paths",
		Blocks: []mir.BasicBlock{
			{
				ID:           0,
				Name:         "entry",
				Instructions: []mir.Instruction{{Result: 1, Kind: mir.InstAlloc, AllocName: "buf"}},
				Successors:   []mir.BlockID{1, 2},
				Terminator:   &mir.Terminator{Kind: mir.TermCondBranch, Condition: 99, TrueBlock: 1, FalseBlock: 2},
			},
			{
				ID:           1,
				Name:         "branchA",
				Instructions: []mir.Instruction{{Kind: mir.InstRelease, Value: 1}},
				Terminator:   &mir.Terminator{Kind: mir.TermReturn},
			},
			{
				ID:           2,
				Name:         "branchB",
				Instructions: []mir.Instruction{{Kind: mir.InstRelease, Value: 1}},
				Terminator:   &mir.Terminator{Kind: mir.TermReturn},
			},
		},
	}

	pass := &passes.LeakCheck{}
	pass.Run(&mir.Module{Functions: []mir.Function{fn}})

	require.Empty(t, pass.Warnings())
}

func TestLeakCheck_ReleasedInEarlierBlockOnSamePath_NoWarning(t *testing.T) {
	t.Parallel()

	// Regression test: release happens in block 0, and block 1 (reached
	// only after the release) must not be treated as if the allocation
	// were still live, since the release state must thread forward
	// across blocks rather than reset at each block boundary.
	fn := mir.Function{
		Name: "release_then_more_work",
		Blocks: []mir.BasicBlock{
			{
				ID:   0,
				Name: "entry",
				Instructions: []mir.Instruction{
					{Result: 1, Kind: mir.InstAlloc, AllocName: "buf"},
					{Kind: mir.InstRelease, Value: 1},
				},
				Successors: []mir.BlockID{1},
				Terminator: &mir.Terminator{Kind: mir.TermBranch, Target: 1},
			},
			{
				ID:         1,
				Name:       "tail",
				Terminator: &mir.Terminator{Kind: mir.TermReturn},
			},
		},
	}

	pass := &passes.LeakCheck{}
	pass.Run(&mir.Module{Functions: []mir.Function{fn}})

	require.Empty(t, pass.Warnings())
}

func TestLeakCheck_OwnershipTransferringCall_CountsAsRelease(t *testing.T) {
	t.Parallel()

	fn := mir.Function{
		Name: "hands_off_ownership",
		Blocks: []mir.BasicBlock{
			{
				ID:   0,
				Name: "entry",
				Instructions: []mir.Instruction{
					{Result: 1, Kind: mir.InstAlloc, AllocName: "buf"},
					{Kind: mir.InstCall, Value: 1, TransfersOwnership: true},
				},
				Terminator: &mir.Terminator{Kind: mir.TermReturn},
			},
		},
	}

	pass := &passes.LeakCheck{}
	pass.Run(&mir.Module{Functions: []mir.Function{fn}})

	require.Empty(t, pass.Warnings())
}

func TestLeakCheck_NonOwnershipTransferringCall_StillLeaks(t *testing.T) {
	t.Parallel()

	fn := mir.Function{
		Name: "borrows_only",
		Blocks: []mir.BasicBlock{
			{
				ID:   0,
				Name: "entry",
				Instructions: []mir.Instruction{
					{Result: 1, Kind: mir.InstAlloc, AllocName: "buf"},
					{Kind: mir.InstCall, Value: 1, TransfersOwnership: false},
				},
				Terminator: &mir.Terminator{Kind: mir.TermReturn},
			},
		},
	}

	pass := &passes.LeakCheck{}
	pass.Run(&mir.Module{Functions: []mir.Function{fn}})

	require.Len(t, pass.Warnings(), 1)
}

func TestLeakCheck_StoreIntoContainer_CountsAsRelease(t *testing.T) {
	t.Parallel()

	fn := mir.Function{
		Name: "moves_into_container",
		Blocks: []mir.BasicBlock{
			{
				ID:   0,
				Name: "entry",
				Instructions: []mir.Instruction{
					{Result: 1, Kind: mir.InstAlloc, AllocName: "buf"},
					{Kind: mir.InstStore, Ptr: 500, Value: 1},
				},
				Terminator: &mir.Terminator{Kind: mir.TermReturn},
			},
		},
	}

	pass := &passes.LeakCheck{}
	pass.Run(&mir.Module{Functions: []mir.Function{fn}})

	require.Empty(t, pass.Warnings())
}

func TestLeakCheck_NoReturnReachable_NoWarning(t *testing.T) {
	t.Parallel()

	// A block with no terminator (malformed/unreachable tail) can't be
	// walked further and is never treated as an escaping return.
	fn := mir.Function{
		Name: "dangling_block",
		Blocks: []mir.BasicBlock{
			{
				ID:           0,
				Name:         "entry",
				Instructions: []mir.Instruction{{Result: 1, Kind: mir.InstAlloc, AllocName: "buf"}},
				Terminator:   nil,
			},
		},
	}

	pass := &passes.LeakCheck{}
	pass.Run(&mir.Module{Functions: []mir.Function{fn}})

	require.Empty(t, pass.Warnings())
}

func TestLeakCheck_BackEdgeDoesNotInfiniteLoop(t *testing.T) {
	t.Parallel()

	// header -> body -> header (back-edge) and header -> exit (return,
	// never released). Must terminate and still report the leak once.
	fn := mir.Function{
		Name: "loop_with_leak",
		Blocks: []mir.BasicBlock{
			{
				ID:           0,
				Name:         "header",
				Instructions: []mir.Instruction{{Result: 1, Kind: mir.InstAlloc, AllocName: "buf"}},
				Successors:   []mir.BlockID{1, 2},
				Terminator:   &mir.Terminator{Kind: mir.TermCondBranch, Condition: 99, TrueBlock: 1, FalseBlock: 2},
			},
			{
				ID:         1,
				Name:       "body",
				Successors: []mir.BlockID{0},
				Terminator: &mir.Terminator{Kind: mir.TermBranch, Target: 0},
			},
			{
				ID:         2,
				Name:       "exit",
				Terminator: &mir.Terminator{Kind: mir.TermReturn},
			},
		},
	}

	pass := &passes.LeakCheck{}
	pass.Run(&mir.Module{Functions: []mir.Function{fn}})

	warnings := pass.Warnings()
	require.Len(t, warnings, 1)
	require.Equal(t, "header", warnings[0].Block)
}

func TestLeakCheck_Run_NeverReportsChanged(t *testing.T) {
	t.Parallel()

	pass := &passes.LeakCheck{}
	changed := pass.Run(&mir.Module{})

	require.False(t, changed)
}
