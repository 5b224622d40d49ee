package traits

import "github.com/tmlc/tmlc/internal/xerrors"

// Kinds re-exported here for convenience; callers match with errors.Is
// against the shared sentinels in internal/xerrors rather than a
// package-local taxonomy, per the driver's error-handling design.
var (
	ErrOverflow  = xerrors.ErrSolverOverflow
	ErrAmbiguous = xerrors.ErrSolverAmbiguous
	ErrUnsolved  = xerrors.ErrSolverUnsolved
)
