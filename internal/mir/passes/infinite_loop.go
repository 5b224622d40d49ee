// Package passes implements the MIR-level static analyses: infinite
// loop detection and memory leak detection. Neither mutates the IR.
package passes

import (
	"github.com/tmlc/tmlc/internal/diag"
	"github.com/tmlc/tmlc/internal/mir"
)

// InfiniteLoopCheck flags loops that have no exit edge and whose
// condition either reduces to a compile-time true or is never
// recomputed inside the loop body.
type InfiniteLoopCheck struct {
	warnings []diag.Warning
}

var _ mir.Pass = (*InfiniteLoopCheck)(nil)

// Name implements mir.Pass.
func (*InfiniteLoopCheck) Name() string { return "infinite-loop-check" }

// Warnings returns the warnings collected by the last Run.
func (p *InfiniteLoopCheck) Warnings() []diag.Warning { return p.warnings }

// Run implements mir.Pass. Always returns false: this pass never
// mutates the IR.
func (p *InfiniteLoopCheck) Run(module *mir.Module) bool {
	p.warnings = nil

	for i := range module.Functions {
		p.analyzeFunction(&module.Functions[i])
	}

	return false
}

func (p *InfiniteLoopCheck) analyzeFunction(fn *mir.Function) {
	for _, block := range fn.Blocks {
		if !p.isLoopHeader(fn, block) {
			continue
		}

		loopBlocks := p.loopBlocks(fn, block.ID)

		if p.loopHasExit(fn, loopBlocks) {
			continue
		}

		switch {
		case p.isConditionAlwaysTrue(fn, block):
			p.warnings = append(p.warnings, diag.Warning{
				Function: fn.Name,
				Block:    block.Name,
				BlockID:  uint32(block.ID),
				Reason:   "loop condition is always true with no exit path",
			})
		case !p.loopModifiesConditionVars(fn, block, loopBlocks):
			p.warnings = append(p.warnings, diag.Warning{
				Function: fn.Name,
				Block:    block.Name,
				BlockID:  uint32(block.ID),
				Reason:   "loop condition variables are never modified inside the loop",
			})
		}
	}
}

// isLoopHeader reports whether block has a back-edge predecessor: one
// that appears later in block order.
func (p *InfiniteLoopCheck) isLoopHeader(fn *mir.Function, block mir.BasicBlock) bool {
	currentIdx := -1

	for i, b := range fn.Blocks {
		if b.ID == block.ID {
			currentIdx = i
			break
		}
	}

	for _, predID := range block.Predecessors {
		for i, b := range fn.Blocks {
			if b.ID == predID && i > currentIdx {
				return true
			}
		}
	}

	return false
}

// loopBlocks computes the natural loop for headerID: the header plus
// every block that can reach it through a back-edge, found by backward
// BFS over predecessor edges starting from the back-edge sources.
func (p *InfiniteLoopCheck) loopBlocks(fn *mir.Function, headerID mir.BlockID) map[mir.BlockID]struct{} {
	loopBlocks := map[mir.BlockID]struct{}{headerID: {}}

	var worklist []mir.BlockID

	headerIdx := -1

	for i, b := range fn.Blocks {
		if b.ID == headerID {
			headerIdx = i
			break
		}
	}

	for i, block := range fn.Blocks {
		for _, succ := range block.Successors {
			if succ == headerID && i > headerIdx {
				worklist = append(worklist, block.ID)
				loopBlocks[block.ID] = struct{}{}
			}
		}
	}

	for len(worklist) > 0 {
		id := worklist[0]
		worklist = worklist[1:]

		block := mir.FindBlock(fn, id)
		if block == nil {
			continue
		}

		for _, predID := range block.Predecessors {
			if _, ok := loopBlocks[predID]; !ok {
				loopBlocks[predID] = struct{}{}
				worklist = append(worklist, predID)
			}
		}
	}

	return loopBlocks
}

// loopHasExit reports whether any block in the loop can transfer
// control outside it: a return terminator, or any successor not in the
// loop.
func (p *InfiniteLoopCheck) loopHasExit(fn *mir.Function, loopBlocks map[mir.BlockID]struct{}) bool {
	for id := range loopBlocks {
		block := mir.FindBlock(fn, id)
		if block == nil || block.Terminator == nil {
			continue
		}

		if block.Terminator.Kind == mir.TermReturn {
			return true
		}

		for _, succ := range block.Terminator.Successors() {
			if _, inLoop := loopBlocks[succ]; !inLoop {
				return true
			}
		}
	}

	return false
}

// isConditionAlwaysTrue reports whether header's terminator is an
// unconditional branch forming a loop, or a conditional branch whose
// condition resolves to a constant true value.
func (p *InfiniteLoopCheck) isConditionAlwaysTrue(fn *mir.Function, header mir.BasicBlock) bool {
	if header.Terminator == nil {
		return false
	}

	if header.Terminator.Kind == mir.TermBranch {
		for _, pred := range header.Predecessors {
			if pred == header.ID || mir.FindBlock(fn, pred) != nil {
				return true
			}
		}
	}

	if header.Terminator.Kind == mir.TermCondBranch {
		for _, inst := range header.Instructions {
			if inst.Result != header.Terminator.Condition || inst.Kind != mir.InstConstant {
				continue
			}

			if inst.ConstBool != nil {
				return *inst.ConstBool
			}

			if inst.ConstInt != nil {
				return *inst.ConstInt != 0
			}
		}
	}

	return false
}

// loopModifiesConditionVars reports whether any value the loop
// condition transitively depends on is written inside the loop: either
// stored to directly, or redefined through a Phi node (which by
// construction changes value across iterations).
func (p *InfiniteLoopCheck) loopModifiesConditionVars(
	fn *mir.Function, header mir.BasicBlock, loopBlocks map[mir.BlockID]struct{},
) bool {
	if header.Terminator == nil {
		return true
	}

	if header.Terminator.Kind != mir.TermCondBranch {
		return true
	}

	conditionDeps := p.traceConditionDeps(fn, header.Terminator.Condition)

	for id := range loopBlocks {
		block := mir.FindBlock(fn, id)
		if block == nil {
			continue
		}

		for _, inst := range block.Instructions {
			if inst.Kind == mir.InstStore {
				if _, ok := conditionDeps[inst.Ptr]; ok {
					return true
				}
			}

			if inst.Kind == mir.InstPhi {
				if _, ok := conditionDeps[inst.Result]; ok {
					return true
				}
			}
		}
	}

	return false
}

// traceConditionDeps walks def-use chains backward from conditionID,
// following Binary/Unary/Load/Phi operands, to find every value the
// condition transitively reads.
func (p *InfiniteLoopCheck) traceConditionDeps(fn *mir.Function, conditionID mir.ValueID) map[mir.ValueID]struct{} {
	deps := map[mir.ValueID]struct{}{}
	worklist := []mir.ValueID{conditionID}

	for len(worklist) > 0 {
		id := worklist[0]
		worklist = worklist[1:]

		if _, seen := deps[id]; seen {
			continue
		}

		deps[id] = struct{}{}

		for _, block := range fn.Blocks {
			for _, inst := range block.Instructions {
				if inst.Result != id {
					continue
				}

				switch inst.Kind {
				case mir.InstBinary:
					worklist = append(worklist, inst.Left, inst.Right)
				case mir.InstUnary:
					worklist = append(worklist, inst.Operand)
				case mir.InstLoad:
					worklist = append(worklist, inst.Ptr)
				case mir.InstPhi:
					for _, edge := range inst.Incoming {
						worklist = append(worklist, edge.Value)
					}
				}
			}
		}
	}

	return deps
}
