package query

import (
	"fmt"

	"github.com/tmlc/tmlc/internal/incremental"
	"github.com/tmlc/tmlc/internal/pipeline"
	"github.com/tmlc/tmlc/internal/querykey"
)

// LoadIncrementalCache loads dir's previous-session index, if the
// engine's options enable incremental reuse. A format mismatch or I/O
// error is recovered locally by incremental.Store.Load (degrade to a
// fresh, empty session); this method itself never returns an error for
// that case, only for the options-level mistake of calling it with
// incremental reuse disabled.
func (e *Engine) LoadIncrementalCache(dir string) error {
	if !e.opts.Incremental {
		return fmt.Errorf("query: LoadIncrementalCache called with Options.Incremental disabled")
	}

	e.session = e.store.Load(dir, e.buildHash, e.opts.OptionsHash())

	return nil
}

// SaveIncrementalCache persists every entry currently in the in-memory
// cache to dir, plus the IR and library-list side files for any
// CodegenUnit entries, so a later session can reuse them via green
// resolution without reinvoking the backend.
func (e *Engine) SaveIncrementalCache(dir string) error {
	snapshot := e.cache.Snapshot()

	entries := make([]incremental.PrevSessionEntry, 0, len(snapshot))

	for key, entry := range snapshot {
		entries = append(entries, incremental.PrevSessionEntry{
			Key:               key,
			InputFingerprint:  entry.InputFingerprint,
			OutputFingerprint: entry.OutputFingerprint,
			Dependencies:      entry.Dependencies,
		})

		if key.Kind != querykey.CodegenUnit {
			continue
		}

		unit, ok := entry.Result.(pipeline.CodegenUnit)
		if !ok {
			continue
		}

		if err := e.store.SaveIR(dir, entry.OutputFingerprint, []byte(unit.IR), unit.Libs); err != nil {
			return err
		}
	}

	return e.store.Save(dir, e.buildHash, e.opts.OptionsHash(), entries)
}
