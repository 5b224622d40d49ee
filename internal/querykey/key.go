// Package querykey defines the tagged union of keys that name every
// computation the query system can memoize, plus their total order and
// digest used for cheap membership checks in the dependency tracker.
package querykey

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Kind discriminates the pipeline stage a Key names.
type Kind uint8

// The nine pipeline stages, in lowering order. Adding a stage means
// adding a Kind here, a constructor below, and a provider registration
// in internal/pipeline's Register. Forcing a Kind with no registered
// provider makes the query engine return an error; only
// provider.Registry.MustGet panics on an unregistered Kind.
const (
	ReadSource Kind = iota
	Tokenize
	ParseModule
	TypecheckModule
	BorrowcheckModule
	HirLower
	ThirLower
	MirBuild
	CodegenUnit

	numKinds
)

// NumKinds is the number of distinct query kinds. Used to size the
// provider registry's dispatch table.
const NumKinds = int(numKinds)

// String renders the kind's name for diagnostics and logging.
func (k Kind) String() string {
	switch k {
	case ReadSource:
		return "ReadSource"
	case Tokenize:
		return "Tokenize"
	case ParseModule:
		return "ParseModule"
	case TypecheckModule:
		return "TypecheckModule"
	case BorrowcheckModule:
		return "BorrowcheckModule"
	case HirLower:
		return "HirLower"
	case ThirLower:
		return "ThirLower"
	case MirBuild:
		return "MirBuild"
	case CodegenUnit:
		return "CodegenUnit"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Key is the tagged union over pipeline stages. It is a value type: two
// keys are equal iff every field matches exactly (no path normalization,
// no case folding). Keys are meant to be cheap to copy, so FilePath and
// ModuleName are stored by value rather than behind an interned handle —
// paths in a single compilation unit are short and the key set itself is
// bounded by source file count, not by query volume.
//
// Not every field is meaningful for every Kind: ReadSource and Tokenize
// only use FilePath; every later stage uses both FilePath and
// ModuleName. Constructors below enforce this so a Key is never built
// with a stray field outside its Kind's contract.
type Key struct {
	Kind       Kind
	FilePath   string
	ModuleName string
}

// NewReadSource builds a ReadSource key for filePath.
func NewReadSource(filePath string) Key {
	return Key{Kind: ReadSource, FilePath: filePath}
}

// NewTokenize builds a Tokenize key for filePath.
func NewTokenize(filePath string) Key {
	return Key{Kind: Tokenize, FilePath: filePath}
}

// NewParseModule builds a ParseModule key.
func NewParseModule(filePath, moduleName string) Key {
	return Key{Kind: ParseModule, FilePath: filePath, ModuleName: moduleName}
}

// NewTypecheckModule builds a TypecheckModule key.
func NewTypecheckModule(filePath, moduleName string) Key {
	return Key{Kind: TypecheckModule, FilePath: filePath, ModuleName: moduleName}
}

// NewBorrowcheckModule builds a BorrowcheckModule key.
func NewBorrowcheckModule(filePath, moduleName string) Key {
	return Key{Kind: BorrowcheckModule, FilePath: filePath, ModuleName: moduleName}
}

// NewHirLower builds a HirLower key.
func NewHirLower(filePath, moduleName string) Key {
	return Key{Kind: HirLower, FilePath: filePath, ModuleName: moduleName}
}

// NewThirLower builds a ThirLower key.
func NewThirLower(filePath, moduleName string) Key {
	return Key{Kind: ThirLower, FilePath: filePath, ModuleName: moduleName}
}

// NewMirBuild builds a MirBuild key.
func NewMirBuild(filePath, moduleName string) Key {
	return Key{Kind: MirBuild, FilePath: filePath, ModuleName: moduleName}
}

// NewCodegenUnit builds a CodegenUnit key — the terminal query whose
// payload is the emitted IR for one source module.
func NewCodegenUnit(filePath, moduleName string) Key {
	return Key{Kind: CodegenUnit, FilePath: filePath, ModuleName: moduleName}
}

// String renders the key for diagnostics (cycle paths, logs).
func (k Key) String() string {
	if k.ModuleName == "" {
		return fmt.Sprintf("%s(%s)", k.Kind, k.FilePath)
	}

	return fmt.Sprintf("%s(%s, %s)", k.Kind, k.FilePath, k.ModuleName)
}

// Less gives Key a total order by (Kind, FilePath, ModuleName), used to
// keep the on-disk index and in-memory diagnostics output in a stable,
// reproducible order.
func (k Key) Less(other Key) bool {
	if k.Kind != other.Kind {
		return k.Kind < other.Kind
	}

	if k.FilePath != other.FilePath {
		return k.FilePath < other.FilePath
	}

	return k.ModuleName < other.ModuleName
}

// Digest returns a fast 64-bit digest of the key. It is not the
// fingerprinting scheme used for reuse decisions (see internal/fingerprint);
// it exists purely as a cheap pre-check so the dependency tracker and
// cycle-path logging don't need to string-format every key on the active
// stack to compare it.
func (k Key) Digest() uint64 {
	var buf [2]byte

	buf[0] = byte(k.Kind)
	buf[1] = 0 // reserved, keeps the digest stable if Kind grows a byte-sized flag later

	h := xxhash.New()
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(k.FilePath))
	_, _ = h.Write([]byte{0}) // field separator so "ab"+"c" != "a"+"bc"
	_, _ = h.Write([]byte(k.ModuleName))

	return h.Sum64()
}
