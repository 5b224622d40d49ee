// Package pipeline implements the nine abstract compilation stages as
// deterministic functions over structural stand-ins: token counts, AST
// node counts, and a textual IR dump, rather than a real lexer/parser/
// type checker. Each stage's result type renders a deterministic string
// via Stringer, which is all internal/query needs to fingerprint it.
//
// Non-goals carried from the specification (lexing rules, parsing
// grammar, type inference, codegen detail, linker behavior) mean every
// stage here is intentionally shallow: it does just enough work to
// consume its declared inputs and produce a result that varies when,
// and only when, a real implementation's result would vary.
package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tmlc/tmlc/internal/diag"
	"github.com/tmlc/tmlc/internal/fsys"
	"github.com/tmlc/tmlc/internal/mir"
	"github.com/tmlc/tmlc/internal/mir/passes"
	"github.com/tmlc/tmlc/internal/provider"
	"github.com/tmlc/tmlc/internal/querykey"
	"github.com/tmlc/tmlc/internal/traits"
)

// TokenStream is Tokenize's result: a structural stand-in for the real
// token list, sufficient to detect a changed lexical surface without
// lexing rules.
type TokenStream struct {
	FilePath string
	Count    int
}

func (t TokenStream) String() string {
	return fmt.Sprintf("tokens(%s)=%d", t.FilePath, t.Count)
}

// ParsedModule is ParseModule's result.
type ParsedModule struct {
	ModuleName string
	NodeCount  int
}

func (p ParsedModule) String() string {
	return fmt.Sprintf("module %s: %d nodes", p.ModuleName, p.NodeCount)
}

// TypedModule is TypecheckModule's result. Obligations records the
// trait goals the module's declarations were resolved against, so the
// fingerprint changes if solving takes a different path.
type TypedModule struct {
	ModuleName  string
	Obligations []string
}

func (t TypedModule) String() string {
	return fmt.Sprintf("typed %s: [%s]", t.ModuleName, strings.Join(t.Obligations, ", "))
}

// BorrowedModule is BorrowcheckModule's result.
type BorrowedModule struct {
	ModuleName string
	Clean      bool
}

func (b BorrowedModule) String() string {
	return fmt.Sprintf("borrowck %s: clean=%t", b.ModuleName, b.Clean)
}

// HIR is HirLower's result.
type HIR struct {
	ModuleName string
	Nodes      int
}

func (h HIR) String() string {
	return fmt.Sprintf("hir %s: %d nodes", h.ModuleName, h.Nodes)
}

// THIR is ThirLower's result.
type THIR struct {
	ModuleName string
	Nodes      int
}

func (t THIR) String() string {
	return fmt.Sprintf("thir %s: %d nodes", t.ModuleName, t.Nodes)
}

// MIRModule is MirBuild's result: it carries the actual lowered CFG so
// the static-analysis passes have something to run over, plus the
// collected diagnostics from running them at build time.
type MIRModule struct {
	ModuleName string
	Module     *mir.Module
	Warnings   []string
}

func (m MIRModule) String() string {
	return fmt.Sprintf("mir %s: %d functions, warnings=[%s]",
		m.ModuleName, len(m.Module.Functions), strings.Join(m.Warnings, "; "))
}

// CodegenUnit is the terminal stage's result: a textual IR dump and the
// native libraries it references. This is the only result type the
// incremental store persists a durable payload for (internal/incremental's
// ir/*.ll and ir/*.libs side files), since it is the one stage expensive
// enough, and small enough, to be worth reconstructing from disk rather
// than rerunning its dependency chain.
type CodegenUnit struct {
	ModuleName string
	IR         string
	Libs       []string
}

func (c CodegenUnit) String() string {
	return fmt.Sprintf("codegen %s: %s [%s]", c.ModuleName, c.IR, strings.Join(c.Libs, ","))
}

// Register wires all nine stage providers into reg, reading source text
// through fs and resolving trait goals through env. Every module is
// required to prove the built-in "Compilable" behavior during
// typechecking; Register ensures it is at least auto-derivable so a
// caller that hasn't configured any explicit impls for it still gets a
// solved (not Unsolved) result, while still letting a caller's own
// impls or where-clause obligations take precedence per the solver's
// four-tier rules.
func Register(reg *provider.Registry, fs fsys.FS, env *traits.Environment) {
	if env.AutoDerivable == nil {
		env.AutoDerivable = make(map[string]bool)
	}

	env.AutoDerivable["Compilable"] = true

	reg.Register(querykey.ReadSource, readSourceProvider(fs))
	reg.Register(querykey.Tokenize, tokenizeProvider)
	reg.Register(querykey.ParseModule, parseModuleProvider)
	reg.Register(querykey.TypecheckModule, typecheckModuleProvider(env))
	reg.Register(querykey.BorrowcheckModule, borrowcheckModuleProvider)
	reg.Register(querykey.HirLower, hirLowerProvider)
	reg.Register(querykey.ThirLower, thirLowerProvider)
	reg.Register(querykey.MirBuild, mirBuildProvider)
	reg.Register(querykey.CodegenUnit, codegenUnitProvider)
}

func readSourceProvider(fs fsys.FS) provider.Func {
	return func(_ provider.Context, key querykey.Key) (any, error) {
		data, err := fs.ReadFile(key.FilePath)
		if err != nil {
			return nil, fmt.Errorf("read source %s: %w", key.FilePath, err)
		}

		return string(data), nil
	}
}

func tokenizeProvider(ctx provider.Context, key querykey.Key) (any, error) {
	result, err := ctx.Force(querykey.NewReadSource(key.FilePath))
	if err != nil {
		return nil, err
	}

	src, _ := result.(string)

	return TokenStream{FilePath: key.FilePath, Count: len(strings.Fields(src))}, nil
}

func parseModuleProvider(ctx provider.Context, key querykey.Key) (any, error) {
	result, err := ctx.Force(querykey.NewTokenize(key.FilePath))
	if err != nil {
		return nil, err
	}

	toks, _ := result.(TokenStream)

	// A structural stand-in for a parse tree: roughly one AST node
	// per token, plus a synthetic module root.
	return ParsedModule{ModuleName: key.ModuleName, NodeCount: toks.Count + 1}, nil
}

func typecheckModuleProvider(env *traits.Environment) provider.Func {
	return func(ctx provider.Context, key querykey.Key) (any, error) {
		if _, err := ctx.Force(querykey.NewParseModule(key.FilePath, key.ModuleName)); err != nil {
			return nil, err
		}

		solver := traits.NewSolver(env)

		goal := traits.Goal{
			Kind:     traits.TraitGoal,
			Type:     key.ModuleName,
			Behavior: "Compilable",
		}

		result, err := solver.Solve(goal)
		if err != nil {
			return nil, fmt.Errorf("typecheck %s: %w", key.ModuleName, err)
		}

		obligations := make([]string, 0, len(result.Obligations))
		for _, o := range result.Obligations {
			obligations = append(obligations, o.Key())
		}

		sort.Strings(obligations)

		return TypedModule{ModuleName: key.ModuleName, Obligations: obligations}, nil
	}
}

func borrowcheckModuleProvider(ctx provider.Context, key querykey.Key) (any, error) {
	if _, err := ctx.Force(querykey.NewTypecheckModule(key.FilePath, key.ModuleName)); err != nil {
		return nil, err
	}

	return BorrowedModule{ModuleName: key.ModuleName, Clean: true}, nil
}

func hirLowerProvider(ctx provider.Context, key querykey.Key) (any, error) {
	result, err := ctx.Force(querykey.NewBorrowcheckModule(key.FilePath, key.ModuleName))
	if err != nil {
		return nil, err
	}

	_ = result.(BorrowedModule)

	parsed, err := ctx.Force(querykey.NewParseModule(key.FilePath, key.ModuleName))
	if err != nil {
		return nil, err
	}

	pm, _ := parsed.(ParsedModule)

	return HIR{ModuleName: key.ModuleName, Nodes: pm.NodeCount}, nil
}

func thirLowerProvider(ctx provider.Context, key querykey.Key) (any, error) {
	result, err := ctx.Force(querykey.NewHirLower(key.FilePath, key.ModuleName))
	if err != nil {
		return nil, err
	}

	hir, _ := result.(HIR)

	return THIR{ModuleName: key.ModuleName, Nodes: hir.Nodes}, nil
}

func mirBuildProvider(ctx provider.Context, key querykey.Key) (any, error) {
	result, err := ctx.Force(querykey.NewThirLower(key.FilePath, key.ModuleName))
	if err != nil {
		return nil, err
	}

	thir, _ := result.(THIR)

	module := buildStructuralModule(key.ModuleName, thir.Nodes)

	var loopCheck passes.InfiniteLoopCheck

	var leakCheck passes.LeakCheck

	loopCheck.Run(module)
	leakCheck.Run(module)

	warnings := renderWarnings(loopCheck.Warnings(), leakCheck.Warnings())

	return MIRModule{ModuleName: key.ModuleName, Module: module, Warnings: warnings}, nil
}

func codegenUnitProvider(ctx provider.Context, key querykey.Key) (any, error) {
	result, err := ctx.Force(querykey.NewMirBuild(key.FilePath, key.ModuleName))
	if err != nil {
		return nil, err
	}

	m, _ := result.(MIRModule)

	ir := fmt.Sprintf("; module %s\n; functions=%d\n", m.ModuleName, len(m.Module.Functions))
	for _, fn := range m.Module.Functions {
		ir += fmt.Sprintf("define void @%s() { ; %d blocks }\n", fn.Name, len(fn.Blocks))
	}

	return CodegenUnit{ModuleName: m.ModuleName, IR: ir, Libs: []string{"libtml_rt"}}, nil
}

// buildStructuralModule synthesizes a minimal single-block function
// that allocates and immediately releases one value, scaled only by
// name (nodeCount sizes the allocation's diagnostic label), just
// enough for the static-analysis passes to have something real to
// walk. A real lowering pass would replace this wholesale.
func buildStructuralModule(moduleName string, nodeCount int) *mir.Module {
	entry := mir.BasicBlock{
		ID:   0,
		Name: "entry",
		Instructions: []mir.Instruction{
			{Result: 0, Kind: mir.InstAlloc, AllocName: fmt.Sprintf("%s_tmp%d", moduleName, nodeCount)},
			{Kind: mir.InstRelease, Value: 0},
		},
		Terminator: &mir.Terminator{Kind: mir.TermReturn},
	}

	fn := mir.Function{
		Name:   moduleName,
		Blocks: []mir.BasicBlock{entry},
	}

	return &mir.Module{Functions: []mir.Function{fn}}
}

func renderWarnings(warningSets ...[]diag.Warning) []string {
	var total int
	for _, ws := range warningSets {
		total += len(ws)
	}

	out := make([]string, 0, total)

	for _, ws := range warningSets {
		for _, w := range ws {
			out = append(out, fmt.Sprintf("%s/%s: %s", w.Function, w.Block, w.Reason))
		}
	}

	return out
}
