// Package incremental persists query fingerprints, dependency edges,
// and codegen-unit IR artifacts to disk between compilation sessions,
// enabling red/green reuse: a query whose recorded dependency chain is
// still green skips recomputation entirely.
//
// Cache directory layout:
//
//	build/{debug|release}/.incr-cache/
//	  incr.bin         binary index: header + {key, input_fp, output_fp, deps} tuples
//	  .incr-cache.lock advisory cross-process writer lock (see DirLock)
//	  ir/<hex>.ll      cached IR text per codegen unit, named by output fingerprint
//	  ir/<hex>.libs    companion native library list per codegen unit
package incremental

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tmlc/tmlc/internal/fingerprint"
	"github.com/tmlc/tmlc/internal/fsys"
	"github.com/tmlc/tmlc/internal/querykey"
	"github.com/tmlc/tmlc/internal/xerrors"
)

// Color is a query's red/green classification during one incremental
// session.
type Color uint8

const (
	ColorUnknown Color = iota
	ColorGreen
	ColorRed
)

func (c Color) String() string {
	switch c {
	case ColorGreen:
		return "green"
	case ColorRed:
		return "red"
	default:
		return "unknown"
	}
}

// BuildHashOverride, when non-empty, replaces runtime.Version() as the
// basis for ComputeBuildHash. Set at link time with
// -ldflags "-X github.com/tmlc/tmlc/internal/incremental.BuildHashOverride=...";
// CI release builds pin this to the release tag so two builds of the
// same source at different commits still invalidate each other's cache.
var BuildHashOverride string

const buildHashSalt = "tmlc-incremental-cache-v2"

// ComputeBuildHash derives the 32-bit compiler build hash stored in
// incr.bin's header. Any change to the compiler binary invalidates the
// entire incremental cache by construction, since a stale binary may
// have changed provider semantics without changing the input it reads.
func ComputeBuildHash() uint32 {
	basis := BuildHashOverride
	if basis == "" {
		basis = runtime.Version() + buildHashSalt
	}

	return uint32(fingerprint.String(basis).Hi)
}

// IndexFileName is the name of the binary index within a cache
// directory.
const IndexFileName = "incr.bin"

const irSubdir = "ir"

// Session is a previous session's cache, loaded and validated against
// the current compiler build hash and options hash.
type Session struct {
	dir     string
	fs      fsys.FS
	entries map[querykey.Key]PrevSessionEntry
}

// Lookup returns the previous session's record for key, if any.
func (s *Session) Lookup(key querykey.Key) (PrevSessionEntry, bool) {
	entry, ok := s.entries[key]
	return entry, ok
}

// LoadIR reads the cached IR text for a codegen unit named by its
// output fingerprint.
func (s *Session) LoadIR(outputFP fingerprint.Fingerprint) ([]byte, error) {
	path := filepath.Join(s.dir, irSubdir, outputFP.ToHex()+".ll")

	data, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read cached IR: %w", xerrors.ErrCacheIoError, err)
	}

	return data, nil
}

// LoadLibs reads the cached native-library reference list for a
// codegen unit named by its output fingerprint, one library per line.
func (s *Session) LoadLibs(outputFP fingerprint.Fingerprint) ([]string, error) {
	path := filepath.Join(s.dir, irSubdir, outputFP.ToHex()+".libs")

	data, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read cached library list: %w", xerrors.ErrCacheIoError, err)
	}

	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil, nil
	}

	return strings.Split(text, "\n"), nil
}

// Store reads and writes the incremental cache directory for one
// compiler session.
type Store struct {
	fs   fsys.FS
	lock *DirLock
	log  logrus.FieldLogger
}

// NewStore returns a Store backed by fs, using log for degrade-to-
// non-incremental diagnostics.
func NewStore(fs fsys.FS, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Store{fs: fs, lock: NewDirLock(fs), log: log}
}

// Load opens dir's incr.bin and validates it against compilerBuildHash
// and optionsHash. Any mismatch (bad magic, version, build hash, or
// options hash) discards the entire cache and returns a fresh, empty
// Session rather than an error: a format mismatch is recovered locally
// per the error taxonomy, never surfaced to the caller as a failure.
func (s *Store) Load(dir string, compilerBuildHash, optionsHash uint32) *Session {
	path := filepath.Join(dir, IndexFileName)

	data, err := s.fs.ReadFile(path)
	if err != nil {
		s.log.WithField("path", path).Debug("incremental: no previous session cache found")
		return &Session{dir: dir, fs: s.fs, entries: map[querykey.Key]PrevSessionEntry{}}
	}

	entries, err := s.decode(data, compilerBuildHash, optionsHash)
	if err != nil {
		s.log.WithError(err).Warn("incremental: discarding cache, treating session as non-incremental")
		return &Session{dir: dir, fs: s.fs, entries: map[querykey.Key]PrevSessionEntry{}}
	}

	byKey := make(map[querykey.Key]PrevSessionEntry, len(entries))
	for _, e := range entries {
		byKey[e.Key] = e
	}

	return &Session{dir: dir, fs: s.fs, entries: byKey}
}

func (s *Store) decode(data []byte, compilerBuildHash, optionsHash uint32) ([]PrevSessionEntry, error) {
	h, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}

	if h.Magic != magic {
		return nil, fmt.Errorf("%w: bad magic %x", xerrors.ErrCacheFormatMismatch, h.Magic)
	}

	if h.VersionMajor != versionMajor {
		return nil, fmt.Errorf("%w: version %d.%d, want major %d",
			xerrors.ErrCacheFormatMismatch, h.VersionMajor, h.VersionMinor, versionMajor)
	}

	if h.CompilerBuildHash != compilerBuildHash {
		return nil, fmt.Errorf("%w: compiler build hash changed", xerrors.ErrCacheFormatMismatch)
	}

	if h.OptionsHash != optionsHash {
		return nil, fmt.Errorf("%w: options hash changed", xerrors.ErrCacheFormatMismatch)
	}

	r := bytes.NewReader(data[headerSize:])
	entries := make([]PrevSessionEntry, 0, h.EntryCount)

	for i := uint32(0); i < h.EntryCount; i++ {
		entry, err := readEntry(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %w", xerrors.ErrCacheFormatMismatch, i, err)
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// Save writes entries to dir's incr.bin: acquire the directory lock,
// encode to a buffer, write atomically (temp file + fsync + rename),
// then best-effort sweep ir/* artifacts no longer referenced by any
// entry.
func (s *Store) Save(dir string, compilerBuildHash, optionsHash uint32, entries []PrevSessionEntry) error {
	lock, err := s.lock.Lock(dir)
	if err != nil {
		return fmt.Errorf("%w: acquire cache directory lock: %w", xerrors.ErrCacheIoError, err)
	}
	defer func() { _ = lock.Close() }()

	buf, err := s.encode(compilerBuildHash, optionsHash, entries)
	if err != nil {
		return fmt.Errorf("%w: encode index: %w", xerrors.ErrCacheIoError, err)
	}

	writer := fsys.NewAtomicWriter(s.fs)

	path := filepath.Join(dir, IndexFileName)
	if err := writer.WriteWithDefaults(path, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("%w: write index: %w", xerrors.ErrCacheIoError, err)
	}

	s.sweepStaleIR(dir, entries)

	return nil
}

func (s *Store) encode(compilerBuildHash, optionsHash uint32, entries []PrevSessionEntry) ([]byte, error) {
	var body bytes.Buffer

	w := bufio.NewWriter(&body)
	for _, e := range entries {
		if err := writeEntry(w, e); err != nil {
			return nil, err
		}
	}

	if err := w.Flush(); err != nil {
		return nil, err
	}

	h := encodeHeader(header{
		Magic:             magic,
		VersionMajor:      versionMajor,
		VersionMinor:      versionMinor,
		CompilerBuildHash: compilerBuildHash,
		OptionsHash:       optionsHash,
		EntryCount:        uint32(len(entries)),
	})

	out := make([]byte, 0, len(h)+body.Len())
	out = append(out, h...)
	out = append(out, body.Bytes()...)

	return out, nil
}

// SaveIR writes a codegen unit's IR text and library list, named by its
// output fingerprint.
func (s *Store) SaveIR(dir string, outputFP fingerprint.Fingerprint, ir []byte, libs []string) error {
	irDir := filepath.Join(dir, irSubdir)
	if err := s.fs.MkdirAll(irDir, 0o755); err != nil {
		return fmt.Errorf("%w: create ir directory: %w", xerrors.ErrCacheIoError, err)
	}

	llPath := filepath.Join(irDir, outputFP.ToHex()+".ll")
	if err := s.fs.WriteFile(llPath, ir, 0o644); err != nil {
		return fmt.Errorf("%w: write cached IR: %w", xerrors.ErrCacheIoError, err)
	}

	libsPath := filepath.Join(irDir, outputFP.ToHex()+".libs")
	if err := s.fs.WriteFile(libsPath, []byte(strings.Join(libs, "\n")), 0o644); err != nil {
		return fmt.Errorf("%w: write cached library list: %w", xerrors.ErrCacheIoError, err)
	}

	return nil
}

// sweepStaleIR removes ir/* files whose fingerprint is no longer
// referenced by any surviving entry's output fingerprint. Best-effort:
// failures are logged, never propagated, since a leftover stale file
// only wastes disk, it never causes an incorrect reuse decision.
func (s *Store) sweepStaleIR(dir string, entries []PrevSessionEntry) {
	irDir := filepath.Join(dir, irSubdir)

	live := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		live[e.OutputFingerprint.ToHex()] = struct{}{}
	}

	dirEntries, err := s.fs.ReadDir(irDir)
	if err != nil {
		return
	}

	for _, de := range dirEntries {
		name := de.Name()
		stem := strings.TrimSuffix(strings.TrimSuffix(name, ".ll"), ".libs")

		if _, ok := live[stem]; ok {
			continue
		}

		if err := s.fs.Remove(filepath.Join(irDir, name)); err != nil {
			s.log.WithError(err).WithField("file", name).Debug("incremental: failed to sweep stale IR artifact")
		}
	}
}
