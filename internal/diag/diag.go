// Package diag holds the structured warnings produced by the MIR
// static analyses and a renderer for turning them into text.
package diag

import "fmt"

// Warning is one structured diagnostic: which function and block it
// was raised in, the block's numeric id, and the human-readable reason.
// Analyses are stateless between runs and never treat a Warning as
// fatal; they are collected and handed to a Renderer.
type Warning struct {
	Function string
	Block    string
	BlockID  uint32
	Reason   string
}

// Renderer turns warnings into text. The MIR passes are agnostic to
// how warnings are displayed; cmd/tmlc supplies the concrete renderer.
type Renderer interface {
	Render(warnings []Warning) string
}

// TextRenderer renders warnings the way the original compiler's logger
// did: one line per warning, function and block named, reason last.
type TextRenderer struct{}

// Render implements Renderer.
func (TextRenderer) Render(warnings []Warning) string {
	var out string

	for _, w := range warnings {
		out += fmt.Sprintf("warning: function '%s' block '%s' (id=%d): %s\n",
			w.Function, w.Block, w.BlockID, w.Reason)
	}

	return out
}
