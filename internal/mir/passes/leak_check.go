package passes

import (
	"github.com/tmlc/tmlc/internal/diag"
	"github.com/tmlc/tmlc/internal/mir"
)

// LeakCheck shadow-interprets allocation and release sites: every path
// from an allocation to function exit must pass through a release of
// that allocation's value before a return. Ownership-transferring calls
// and stores into a reachable container both count as a release.
type LeakCheck struct {
	warnings []diag.Warning
}

var _ mir.Pass = (*LeakCheck)(nil)

// Name implements mir.Pass.
func (*LeakCheck) Name() string { return "leak-check" }

// Warnings returns the warnings collected by the last Run.
func (p *LeakCheck) Warnings() []diag.Warning { return p.warnings }

// Run implements mir.Pass. Always returns false: this pass never
// mutates the IR.
func (p *LeakCheck) Run(module *mir.Module) bool {
	p.warnings = nil

	for i := range module.Functions {
		p.analyzeFunction(&module.Functions[i])
	}

	return false
}

type alloc struct {
	blockID mir.BlockID
	value   mir.ValueID
	name    string
}

func (p *LeakCheck) analyzeFunction(fn *mir.Function) {
	var allocs []alloc

	for _, block := range fn.Blocks {
		for _, inst := range block.Instructions {
			if inst.Kind == mir.InstAlloc {
				allocs = append(allocs, alloc{blockID: block.ID, value: inst.Result, name: inst.AllocName})
			}
		}
	}

	for _, a := range allocs {
		if p.escapesUnreleased(fn, a.blockID, a.value, false, map[reachState]struct{}{}) {
			p.warnings = append(p.warnings, diag.Warning{
				Function: fn.Name,
				Block:    blockName(fn, a.blockID),
				BlockID:  uint32(a.blockID),
				Reason:   leakReason(a.name),
			})
		}
	}
}

func leakReason(name string) string {
	if name == "" {
		return "allocation escapes on a return path without a matching release"
	}

	return "allocation '" + name + "' escapes on a return path without a matching release"
}

func blockName(fn *mir.Function, id mir.BlockID) string {
	if b := mir.FindBlock(fn, id); b != nil {
		return b.Name
	}

	return ""
}

type reachState struct {
	block    mir.BlockID
	released bool
}

// escapesUnreleased reports whether some path starting at blockID
// (already carrying releasedSoFar's release status) reaches a Return
// terminator without the allocation having been released.
//
// visited prevents infinite recursion on back-edges: a (block,
// released) pair is only explored once, since revisiting it with the
// same release status can't produce a new answer.
func (p *LeakCheck) escapesUnreleased(
	fn *mir.Function, blockID mir.BlockID, value mir.ValueID, releasedSoFar bool, visited map[reachState]struct{},
) bool {
	block := mir.FindBlock(fn, blockID)
	if block == nil {
		return false
	}

	released := releasedSoFar

	for _, inst := range block.Instructions {
		switch inst.Kind {
		case mir.InstRelease:
			if inst.Value == value {
				released = true
			}
		case mir.InstStore:
			if inst.Value == value {
				released = true // stored into a reachable container
			}
		case mir.InstCall:
			if inst.TransfersOwnership && inst.Value == value {
				released = true
			}
		}
	}

	state := reachState{block: blockID, released: released}
	if _, seen := visited[state]; seen {
		return false
	}

	visited[state] = struct{}{}

	if block.Terminator != nil && block.Terminator.Kind == mir.TermReturn {
		return !released
	}

	if released {
		// Once released on this path, no successor can leak it again:
		// a release is final for this allocation's value.
		return false
	}

	if block.Terminator == nil {
		return false
	}

	for _, succ := range block.Terminator.Successors() {
		if p.escapesUnreleased(fn, succ, value, released, visited) {
			return true
		}
	}

	return false
}
