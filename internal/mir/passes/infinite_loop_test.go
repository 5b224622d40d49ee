package passes_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tmlc/tmlc/internal/mir"
	"github.com/tmlc/tmlc/internal/mir/passes"
)

// buildLoop builds a function where the header's condition branches to
// two bodies that both loop back to the header, so neither branch ever
// leaves the loop: entry -> header -[cond]-> (bodyA, bodyB); bodyA ->
// header; bodyB -> header. There is no reachable exit at all, which
// isolates whether a warning fires on the condition-always-true / never-
// modified distinction rather than on the presence of a break edge.
func buildLoop(name string, condition []mir.Instruction, bodyAInstructions []mir.Instruction) mir.Function {
	return mir.Function{
		Name: name,
		Blocks: []mir.BasicBlock{
			{
				ID:         0,
				Name:       "entry",
				Successors: []mir.BlockID{1},
				Terminator: &mir.Terminator{Kind: mir.TermBranch, Target: 1},
			},
			{
				ID:           1,
				Name:         "header",
				Predecessors: []mir.BlockID{0, 2, 3},
				Successors:   []mir.BlockID{2, 3},
				Instructions: condition,
				Terminator: &mir.Terminator{
					Kind:       mir.TermCondBranch,
					Condition:  100,
					TrueBlock:  2,
					FalseBlock: 3,
				},
			},
			{
				ID:           2,
				Name:         "bodyA",
				Predecessors: []mir.BlockID{1},
				Successors:   []mir.BlockID{1},
				Instructions: bodyAInstructions,
				Terminator:   &mir.Terminator{Kind: mir.TermBranch, Target: 1},
			},
			{
				ID:           3,
				Name:         "bodyB",
				Predecessors: []mir.BlockID{1},
				Successors:   []mir.BlockID{1},
				Terminator:   &mir.Terminator{Kind: mir.TermBranch, Target: 1},
			},
		},
	}
}

func TestInfiniteLoopCheck_ConstantTrueConditionNoExit_Warns(t *testing.T) {
	t.Parallel()

	trueVal := true
	fn := buildLoop("loops_forever",
		[]mir.Instruction{{Result: 100, Kind: mir.InstConstant, ConstBool: &trueVal}},
		nil,
	)

	pass := &passes.InfiniteLoopCheck{}
	pass.Run(&mir.Module{Functions: []mir.Function{fn}})

	warnings := pass.Warnings()
	require.Len(t, warnings, 1)
	require.Equal(t, "loops_forever", warnings[0].Function)
	require.Contains(t, warnings[0].Reason, "always true")
}

func TestInfiniteLoopCheck_ConditionNeverModified_Warns(t *testing.T) {
	t.Parallel()

	fn := buildLoop("stuck_loop",
		[]mir.Instruction{{Result: 100, Kind: mir.InstLoad, Ptr: 200}},
		nil, // body never writes to ptr 200
	)

	pass := &passes.InfiniteLoopCheck{}
	pass.Run(&mir.Module{Functions: []mir.Function{fn}})

	warnings := pass.Warnings()
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Reason, "never modified")
}

func TestInfiniteLoopCheck_ConditionModifiedInBody_NoWarning(t *testing.T) {
	t.Parallel()

	fn := buildLoop("well_behaved_loop",
		[]mir.Instruction{{Result: 100, Kind: mir.InstLoad, Ptr: 200}},
		[]mir.Instruction{{Kind: mir.InstStore, Ptr: 200, Value: 999}},
	)

	pass := &passes.InfiniteLoopCheck{}
	pass.Run(&mir.Module{Functions: []mir.Function{fn}})

	require.Empty(t, pass.Warnings())
}

func TestInfiniteLoopCheck_LoopWithExitEdge_NoWarning(t *testing.T) {
	t.Parallel()

	// header has an extra successor/exit reachable from body.
	fn := mir.Function{
		Name: "has_break",
		Blocks: []mir.BasicBlock{
			{ID: 0, Name: "entry", Successors: []mir.BlockID{1}, Terminator: &mir.Terminator{Kind: mir.TermBranch, Target: 1}},
			{
				ID: 1, Name: "header",
				Predecessors: []mir.BlockID{0, 2},
				Successors:   []mir.BlockID{2, 3},
				Instructions: []mir.Instruction{{Result: 100, Kind: mir.InstLoad, Ptr: 200}},
				Terminator:   &mir.Terminator{Kind: mir.TermCondBranch, Condition: 100, TrueBlock: 2, FalseBlock: 3},
			},
			{
				ID: 2, Name: "body",
				Predecessors: []mir.BlockID{1},
				Successors:   []mir.BlockID{3}, // exits loop directly (break)
				Terminator:   &mir.Terminator{Kind: mir.TermBranch, Target: 3},
			},
			{ID: 3, Name: "exit", Predecessors: []mir.BlockID{1, 2}, Terminator: &mir.Terminator{Kind: mir.TermReturn}},
		},
	}

	pass := &passes.InfiniteLoopCheck{}
	pass.Run(&mir.Module{Functions: []mir.Function{fn}})

	require.Empty(t, pass.Warnings())
}

func TestInfiniteLoopCheck_Run_NeverReportsChanged(t *testing.T) {
	t.Parallel()

	pass := &passes.InfiniteLoopCheck{}
	changed := pass.Run(&mir.Module{})

	require.False(t, changed)
}
