package traits_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tmlc/tmlc/internal/traits"
)

func TestSolver_ExplicitImpl_TakesPrecedenceOverAuto(t *testing.T) {
	t.Parallel()

	env := traits.NewEnvironment()
	env.Impls = []traits.Impl{{Type: "Point", Behavior: "Eq"}}
	env.AutoDerivable["Eq"] = true

	s := traits.NewSolver(env)

	result, err := s.Solve(traits.Goal{Kind: traits.TraitGoal, Type: "Point", Behavior: "Eq"})
	require.NoError(t, err)
	require.Equal(t, "impl", result.Source)
}

func TestSolver_WhereClauseObligation_Resolves(t *testing.T) {
	t.Parallel()

	env := traits.NewEnvironment()
	env.Where = []traits.Goal{{Kind: traits.TraitGoal, Type: "T", Behavior: "Ord"}}

	s := traits.NewSolver(env)

	result, err := s.Solve(traits.Goal{Kind: traits.TraitGoal, Type: "T", Behavior: "Ord"})
	require.NoError(t, err)
	require.Equal(t, "where-clause", result.Source)
}

func TestSolver_Builtin_ResolvesForPrimitives(t *testing.T) {
	t.Parallel()

	env := traits.NewEnvironment()
	goal := traits.Goal{Kind: traits.TraitGoal, Type: "int", Behavior: "Eq"}
	env.Builtins[goal.Key()] = true

	s := traits.NewSolver(env)

	result, err := s.Solve(goal)
	require.NoError(t, err)
	require.Equal(t, "builtin", result.Source)
}

func TestSolver_NoCandidates_ReturnsUnsolved(t *testing.T) {
	t.Parallel()

	s := traits.NewSolver(traits.NewEnvironment())

	_, err := s.Solve(traits.Goal{Kind: traits.TraitGoal, Type: "Widget", Behavior: "Serialize"})
	require.ErrorIs(t, err, traits.ErrUnsolved)
}

func TestSolver_MultipleTopTierImpls_ReturnsAmbiguous(t *testing.T) {
	t.Parallel()

	env := traits.NewEnvironment()
	env.Impls = []traits.Impl{
		{Type: "Widget", Behavior: "Render"},
		{Type: "Widget", Behavior: "Render"},
	}

	s := traits.NewSolver(env)

	_, err := s.Solve(traits.Goal{Kind: traits.TraitGoal, Type: "Widget", Behavior: "Render"})
	require.ErrorIs(t, err, traits.ErrAmbiguous)
}

func TestSolver_SelfReferentialGoal_OverflowsWithoutCoinductiveDeclaration(t *testing.T) {
	t.Parallel()

	env := traits.NewEnvironment()
	env.Impls = []traits.Impl{
		{
			Type:        "List",
			Behavior:    "Send",
			Obligations: []traits.Goal{{Kind: traits.TraitGoal, Type: "List", Behavior: "Send"}},
		},
	}

	s := traits.NewSolver(env)

	_, err := s.Solve(traits.Goal{Kind: traits.TraitGoal, Type: "List", Behavior: "Send"})
	require.ErrorIs(t, err, traits.ErrOverflow)
}

func TestSolver_SelfReferentialGoal_CoinductiveSucceeds(t *testing.T) {
	t.Parallel()

	env := traits.NewEnvironment()
	env.CoinductiveBehaviors["Send"] = true
	env.Impls = []traits.Impl{
		{
			Type:        "List",
			Behavior:    "Send",
			Obligations: []traits.Goal{{Kind: traits.TraitGoal, Type: "List", Behavior: "Send"}},
		},
	}

	s := traits.NewSolver(env)

	result, err := s.Solve(traits.Goal{Kind: traits.TraitGoal, Type: "List", Behavior: "Send"})
	require.NoError(t, err)
	require.Contains(t, result.Obligations, traits.Goal{Kind: traits.TraitGoal, Type: "List", Behavior: "Send"})
}

func TestSolver_ObligationDischarge_PropagatesSubGoalFailure(t *testing.T) {
	t.Parallel()

	env := traits.NewEnvironment()
	env.Impls = []traits.Impl{
		{
			Type:        "Wrapper",
			Behavior:    "Show",
			Obligations: []traits.Goal{{Kind: traits.TraitGoal, Type: "Inner", Behavior: "Show"}},
		},
	}

	s := traits.NewSolver(env)

	_, err := s.Solve(traits.Goal{Kind: traits.TraitGoal, Type: "Wrapper", Behavior: "Show"})
	require.ErrorIs(t, err, traits.ErrUnsolved)
}

func TestSolver_ProjectionGoal_ResolvesFromTable(t *testing.T) {
	t.Parallel()

	env := traits.NewEnvironment()
	env.Projections["Iterator::Item"] = "int"

	s := traits.NewSolver(env)

	result, err := s.Solve(traits.Goal{Kind: traits.ProjectionGoal, Type: "Iterator", AssocName: "Item"})
	require.NoError(t, err)
	require.Equal(t, "int", result.ProjectedType)
}

func TestSolver_ProjectionGoal_UnknownAssocIsUnsolved(t *testing.T) {
	t.Parallel()

	s := traits.NewSolver(traits.NewEnvironment())

	_, err := s.Solve(traits.Goal{Kind: traits.ProjectionGoal, Type: "Iterator", AssocName: "Item"})
	require.ErrorIs(t, err, traits.ErrUnsolved)
}

func TestGoal_Key_IsStableForEqualGoals(t *testing.T) {
	t.Parallel()

	a := traits.Goal{Kind: traits.TraitGoal, Type: "T", Behavior: "Eq", Args: []string{"int"}}
	b := traits.Goal{Kind: traits.TraitGoal, Type: "T", Behavior: "Eq", Args: []string{"int"}}

	require.Equal(t, a.Key(), b.Key())
}
