package query

import (
	"sort"
	"strconv"
	"strings"

	"github.com/tmlc/tmlc/internal/fingerprint"
)

// Options configures a session. Every field is classified below as
// either environment-affecting (folded into the session's env
// fingerprint, so changing it invalidates all prior work) or scoped
// (affects only the stages that read it directly). The classification
// is exhaustive: every field here is folded into exactly one of
// EnvFingerprint or ScopedFingerprint, or its comment explains why it
// carries no fingerprint at all (Verbose, Incremental).
type Options struct {
	// Verbose enables progress logging. No effect on any result, so it
	// is deliberately excluded from the environment fingerprint.
	Verbose bool

	// DebugInfo attaches source-location metadata to codegen output.
	// Scoped: only CodegenUnit's output fingerprint is affected.
	DebugInfo bool

	// Coverage emits coverage instrumentation. Scoped to CodegenUnit.
	Coverage bool

	// OptimizationLevel is 0-3. Scoped to CodegenUnit.
	OptimizationLevel int

	// TargetTriple, Sysroot and SourceDirectory describe the build
	// environment. Environment-affecting: every query's result can
	// depend on them (a different target changes every codegen unit;
	// a different sysroot or source directory changes what ReadSource
	// resolves).
	TargetTriple    string
	Sysroot         string
	SourceDirectory string

	// Defines are preprocessor symbols. Environment-affecting: any
	// stage from Tokenize onward may observe a #ifdef.
	Defines []string

	// ProfileGenerate and ProfileUse select PGO instrumentation or
	// consumption. Scoped to CodegenUnit.
	ProfileGenerate bool
	ProfileUse      string

	// Incremental is the master switch for on-disk reuse. It changes
	// how force() resolves a query, not what a query computes, so it
	// carries no fingerprint contribution at all.
	Incremental bool

	// Backend selects the code emitter ("llvm" or "cranelift").
	// Environment-affecting: it changes every CodegenUnit's output
	// shape, and by extension invalidates green-reuse across backends.
	Backend string
}

// DefaultOptions returns the zero-value-safe defaults matching the
// build driver's stand-alone invocation.
func DefaultOptions() Options {
	return Options{
		Incremental: true,
		Backend:     "llvm",
	}
}

// EnvFingerprint derives the session's environment fingerprint from the
// environment-affecting option fields. Two sessions with equal
// EnvFingerprint are required to behave identically: if a new option is
// added and is environment-affecting, it must be folded in here or the
// classification is no longer exhaustive.
func (o Options) EnvFingerprint() fingerprint.Fingerprint {
	defines := append([]string(nil), o.Defines...)
	sort.Strings(defines)

	parts := []string{
		o.TargetTriple,
		o.Sysroot,
		o.SourceDirectory,
		o.Backend,
		strings.Join(defines, "\x00"),
	}

	fp := fingerprint.Zero
	for _, p := range parts {
		fp = fingerprint.Combine(fp, fingerprint.String(p))
	}

	return fp
}

// ScopedFingerprint derives the fingerprint contribution of the scoped
// (per-stage) options. Only CodegenUnit's output is affected by any of
// these today, but the helper is unconditional so a future stage that
// starts reading one of these fields picks up the right contribution
// automatically rather than needing its own ad hoc hashing.
func (o Options) ScopedFingerprint() fingerprint.Fingerprint {
	parts := []string{
		strconv.FormatBool(o.DebugInfo),
		strconv.FormatBool(o.Coverage),
		strconv.Itoa(o.OptimizationLevel),
		strconv.FormatBool(o.ProfileGenerate),
		o.ProfileUse,
	}

	fp := fingerprint.Zero
	for _, p := range parts {
		fp = fingerprint.Combine(fp, fingerprint.String(p))
	}

	return fp
}

// OptionsHash folds both fingerprint contributions into the single
// 32-bit hash stored in the on-disk cache header: a session whose
// options changed in any fingerprint-affecting way discards the
// previous session's cache outright, per the format's versioning rule.
func (o Options) OptionsHash() uint32 {
	combined := fingerprint.Combine(o.EnvFingerprint(), o.ScopedFingerprint())
	return uint32(combined.Hi ^ combined.Lo)
}
