package query

import (
	"github.com/tmlc/tmlc/internal/depgraph"
	"github.com/tmlc/tmlc/internal/fingerprint"
	"github.com/tmlc/tmlc/internal/incremental"
	"github.com/tmlc/tmlc/internal/pipeline"
	"github.com/tmlc/tmlc/internal/querykey"
)

// tryReuseGreen attempts to resolve key against the previous session
// loaded into e.session, without falling through to the provider
// whenever that can be avoided.
//
// It returns handled=true when force should use (result, err) as-is;
// handled=false tells force to execute the provider itself, either
// because the previous session has nothing for key, because key turned
// out red, or because key is green but the engine has no durable
// payload to reconstruct its value from (true for every stage except
// CodegenUnit, whose IR and library list are the only payload this
// store persists to disk).
func (e *Engine) tryReuseGreen(tracker *depgraph.Tracker, key querykey.Key) (result any, outFP fingerprint.Fingerprint, handled bool, err error) {
	prevEntry, found := e.session.Lookup(key)
	if !found {
		return nil, fingerprint.Zero, false, nil
	}

	if len(prevEntry.Dependencies) == 0 {
		// Leaves (ReadSource) have nothing but the environment in their
		// input fingerprint, so greenness can't be decided without
		// re-reading the file; executeProvider does that read and also
		// gives us the real value either way.
		color, outFP, err := e.checkGreen(tracker, key)
		if err != nil {
			return nil, fingerprint.Zero, true, err
		}

		entry, ok := e.cache.GetEntry(key)
		if !ok {
			return nil, fingerprint.Zero, true, nil
		}

		_ = color

		return entry.Result, outFP, true, nil
	}

	color, outFP, err := e.checkGreen(tracker, key)
	if err != nil {
		return nil, fingerprint.Zero, true, err
	}

	if color != incremental.ColorGreen {
		return nil, fingerprint.Zero, false, nil
	}

	if key.Kind == querykey.CodegenUnit {
		if payload, ok := e.loadCodegenArtifact(prevEntry, outFP); ok {
			e.cache.Insert(key, payload, prevEntry.InputFingerprint, outFP, prevEntry.Dependencies)
			e.cache.RecordHit()

			return payload, outFP, true, nil
		}
	}

	// Green but no durable payload: the caller needs a concrete value,
	// so fall through to executeProvider. The provider then forces its
	// own dependencies; each green dependency other than a CodegenUnit
	// has no durable payload either and is re-executed the same way, so
	// the recomputation reaches down the chain to the leaf, which
	// checkGreen has already cached.
	return nil, fingerprint.Zero, false, nil
}

// checkGreen resolves key's red/green color against the previous
// session, memoizing the decision in e.colors so a diamond-shaped
// dependency graph only walks each key once per session.
//
// A leaf key (no recorded dependencies) is resolved by actually running
// its provider and comparing the fresh output fingerprint against the
// one stored for it last session: a leaf's input fingerprint is the
// environment fingerprint alone, which can't detect a changed file on
// its own. Every other key is resolved by recursively resolving its
// dependencies' colors, folding their output fingerprints the same way
// executeProvider does, and comparing against the stored input
// fingerprint — without invoking key's own provider.
func (e *Engine) checkGreen(tracker *depgraph.Tracker, key querykey.Key) (incremental.Color, fingerprint.Fingerprint, error) {
	if cs, ok := e.getColor(key); ok {
		return cs.color, cs.output, nil
	}

	prevEntry, found := e.session.Lookup(key)
	if !found {
		e.setColor(key, colorState{color: incremental.ColorRed})
		return incremental.ColorRed, fingerprint.Zero, nil
	}

	if len(prevEntry.Dependencies) == 0 {
		_, err := e.executeProvider(tracker, key)
		if err != nil {
			return incremental.ColorRed, fingerprint.Zero, err
		}

		entry, ok := e.cache.GetEntry(key)
		if !ok {
			e.setColor(key, colorState{color: incremental.ColorRed})
			return incremental.ColorRed, fingerprint.Zero, nil
		}

		color := incremental.ColorRed
		if entry.OutputFingerprint == prevEntry.OutputFingerprint {
			color = incremental.ColorGreen
		}

		e.setColor(key, colorState{color: color, output: entry.OutputFingerprint})

		return color, entry.OutputFingerprint, nil
	}

	depOutputs := make([]fingerprint.Fingerprint, 0, len(prevEntry.Dependencies))

	for _, dep := range prevEntry.Dependencies {
		depColor, depOutFP, err := e.checkGreen(tracker, dep)
		if err != nil {
			return incremental.ColorRed, fingerprint.Zero, err
		}

		if depColor != incremental.ColorGreen {
			e.setColor(key, colorState{color: incremental.ColorRed})
			return incremental.ColorRed, fingerprint.Zero, nil
		}

		depOutputs = append(depOutputs, depOutFP)
	}

	inputFP := fingerprint.CombineAll(e.envFP, depOutputs)

	color := incremental.ColorRed
	if inputFP == prevEntry.InputFingerprint {
		color = incremental.ColorGreen
	}

	e.setColor(key, colorState{color: color, output: prevEntry.OutputFingerprint})

	return color, prevEntry.OutputFingerprint, nil
}

// loadCodegenArtifact reconstructs a CodegenUnit's result from the
// on-disk IR and library-list side files saved alongside incr.bin, the
// only durable payload this store keeps, so a green CodegenUnit can be
// reused across sessions without rerunning the backend.
func (e *Engine) loadCodegenArtifact(prevEntry incremental.PrevSessionEntry, outFP fingerprint.Fingerprint) (any, bool) {
	ir, err := e.session.LoadIR(outFP)
	if err != nil {
		return nil, false
	}

	libs, err := e.session.LoadLibs(outFP)
	if err != nil {
		return nil, false
	}

	return pipeline.CodegenUnit{ModuleName: prevEntry.Key.ModuleName, IR: string(ir), Libs: libs}, true
}
