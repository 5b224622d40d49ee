// Package traits implements the goal-based behavior (trait) solver: it
// answers whether a type implements a behavior, or what a type's
// associated projection resolves to, by assembling candidates from four
// precedence tiers, selecting among them, and recursively discharging
// the selected candidate's own obligations.
//
// The solver is pure: given an identical Environment and Goal it always
// returns the same Result or error. It has no knowledge of the query
// driver; internal/pipeline's typecheck provider is the only caller,
// and it participates in the dependency graph only through the inputs
// (parsed module, environment) the provider itself forced.
package traits

import (
	"fmt"
	"strings"
)

// GoalKind discriminates the two questions the solver answers.
type GoalKind uint8

const (
	// TraitGoal asks whether Type implements Behavior[Args...].
	TraitGoal GoalKind = iota
	// ProjectionGoal asks what concrete type Type::AssocName resolves to.
	ProjectionGoal
)

// Goal is a single proof obligation.
type Goal struct {
	Kind      GoalKind
	Type      string
	Behavior  string
	Args      []string
	AssocName string
}

// Key renders goal as a string unique to its (kind, type, behavior/assoc,
// args) tuple, used both for the solver's cycle stack and for reporting
// discharged obligations deterministically (sorted before fingerprinting
// by the caller).
func (g Goal) Key() string {
	if g.Kind == ProjectionGoal {
		return fmt.Sprintf("proj:%s::%s", g.Type, g.AssocName)
	}

	if len(g.Args) == 0 {
		return fmt.Sprintf("trait:%s:%s", g.Type, g.Behavior)
	}

	return fmt.Sprintf("trait:%s:%s<%s>", g.Type, g.Behavior, strings.Join(g.Args, ","))
}

// Impl is an explicit impl block: Type implements Behavior[Args], on
// the condition that every obligation in Obligations also holds.
type Impl struct {
	Type        string
	Behavior    string
	Args        []string
	Obligations []Goal
}

func (i Impl) matches(g Goal) bool {
	return i.Type == g.Type && i.Behavior == g.Behavior && sameArgs(i.Args, g.Args)
}

func sameArgs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// Environment is the set of candidate sources a solver call resolves
// against: explicit impls, where-clause obligations bound in scope,
// hard-wired builtin implementations, and behaviors that permit
// auto-derivation. CoinductiveBehaviors names behaviors whose goal
// cycles are declared safe (resolved as provisionally true rather than
// Overflow); Projections is the stand-in associated-type table
// ProjectionGoal resolves against.
type Environment struct {
	Impls                []Impl
	Where                []Goal
	Builtins             map[string]bool
	AutoDerivable        map[string]bool
	CoinductiveBehaviors map[string]bool
	Projections          map[string]string
}

// NewEnvironment returns an Environment with every map initialized, so
// callers can populate it with map-literal assignments without a nil
// check.
func NewEnvironment() *Environment {
	return &Environment{
		Builtins:             make(map[string]bool),
		AutoDerivable:        make(map[string]bool),
		CoinductiveBehaviors: make(map[string]bool),
		Projections:          make(map[string]string),
	}
}

func (e *Environment) builtinMatches(g Goal) bool {
	return e.Builtins[g.Key()]
}

func (e *Environment) autoDerivableMatches(g Goal) bool {
	return e.AutoDerivable[g.Behavior]
}

func (e *Environment) whereMatches(g Goal) bool {
	for _, w := range e.Where {
		if w.Kind == g.Kind && w.Type == g.Type && w.Behavior == g.Behavior && sameArgs(w.Args, g.Args) {
			return true
		}
	}

	return false
}

// candidateSource names which of the four tiers produced a candidate,
// in precedence order from highest to lowest.
type candidateSource uint8

const (
	fromImpl candidateSource = iota
	fromWhere
	fromBuiltin
	fromAuto
)

func (c candidateSource) String() string {
	switch c {
	case fromImpl:
		return "impl"
	case fromWhere:
		return "where-clause"
	case fromBuiltin:
		return "builtin"
	case fromAuto:
		return "auto-derived"
	default:
		return "unknown"
	}
}

type candidate struct {
	source      candidateSource
	obligations []Goal
}

// Result is the outcome of a successfully solved goal.
type Result struct {
	// Source names which precedence tier the selected candidate came
	// from: "impl", "where-clause", "builtin", "auto-derived",
	// "coinductive" for a provisional cycle resolution, or "projection"
	// for a ProjectionGoal resolved from the projection table.
	Source string
	// Obligations lists every goal recursively discharged to reach this
	// result, including the top-level goal itself, so a caller can fold
	// them into a fingerprint or report them as stage diagnostics.
	Obligations []Goal
	// ProjectedType is only meaningful for a ProjectionGoal result.
	ProjectedType string
}

// Solver resolves goals against a fixed Environment, tracking the
// in-progress goal stack so a goal that recurses into itself can be
// told apart from one that's merely solved twice independently.
type Solver struct {
	env   *Environment
	stack []string
}

// NewSolver returns a Solver bound to env. A Solver is not safe for
// concurrent use: its goal stack is mutated during Solve.
func NewSolver(env *Environment) *Solver {
	return &Solver{env: env}
}

// Solve resolves goal against the bound environment. See the package
// doc and spec §4.8 for the four-tier candidate assembly, selection,
// obligation discharge, and coinductive cycle algorithm.
func (s *Solver) Solve(goal Goal) (Result, error) {
	key := goal.Key()

	for _, active := range s.stack {
		if active == key {
			if s.env.CoinductiveBehaviors[goal.Behavior] {
				return Result{Source: "coinductive", Obligations: []Goal{goal}}, nil
			}

			return Result{}, fmt.Errorf("%w: %s", ErrOverflow, key)
		}
	}

	s.stack = append(s.stack, key)
	defer func() { s.stack = s.stack[:len(s.stack)-1] }()

	if goal.Kind == ProjectionGoal {
		return s.solveProjection(goal)
	}

	return s.solveTrait(goal)
}

func (s *Solver) solveProjection(goal Goal) (Result, error) {
	projected, ok := s.env.Projections[goal.Type+"::"+goal.AssocName]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsolved, goal.Key())
	}

	return Result{Source: "projection", Obligations: []Goal{goal}, ProjectedType: projected}, nil
}

func (s *Solver) solveTrait(goal Goal) (Result, error) {
	tiers := [][]candidate{
		s.implCandidates(goal),
		s.whereCandidates(goal),
		s.builtinCandidates(goal),
		s.autoCandidates(goal),
	}

	for _, tier := range tiers {
		switch len(tier) {
		case 0:
			continue
		case 1:
			return s.discharge(goal, tier[0])
		default:
			return Result{}, fmt.Errorf("%w: %s has %d candidates", ErrAmbiguous, goal.Key(), len(tier))
		}
	}

	return Result{}, fmt.Errorf("%w: %s", ErrUnsolved, goal.Key())
}

func (s *Solver) implCandidates(goal Goal) []candidate {
	var out []candidate

	for _, impl := range s.env.Impls {
		if impl.matches(goal) {
			out = append(out, candidate{source: fromImpl, obligations: impl.Obligations})
		}
	}

	return out
}

func (s *Solver) whereCandidates(goal Goal) []candidate {
	if s.env.whereMatches(goal) {
		return []candidate{{source: fromWhere}}
	}

	return nil
}

func (s *Solver) builtinCandidates(goal Goal) []candidate {
	if s.env.builtinMatches(goal) {
		return []candidate{{source: fromBuiltin}}
	}

	return nil
}

func (s *Solver) autoCandidates(goal Goal) []candidate {
	if s.env.autoDerivableMatches(goal) {
		return []candidate{{source: fromAuto}}
	}

	return nil
}

// discharge recursively solves the selected candidate's own
// obligations, failing (cycle, ambiguity, or unsolved) if any does not
// hold, and returns the accumulated obligation list including goal
// itself.
func (s *Solver) discharge(goal Goal, c candidate) (Result, error) {
	obligations := []Goal{goal}

	for _, sub := range c.obligations {
		subResult, err := s.Solve(sub)
		if err != nil {
			return Result{}, fmt.Errorf("discharging %s for %s: %w", sub.Key(), goal.Key(), err)
		}

		obligations = append(obligations, subResult.Obligations...)
	}

	return Result{Source: c.source.String(), Obligations: obligations}, nil
}
