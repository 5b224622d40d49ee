package mir

// Pass is a static analysis (or transform) over a Module. Run reports
// whether it mutated the IR; the analyses in internal/mir/passes never do.
type Pass interface {
	Name() string
	Run(module *Module) (changed bool)
}
