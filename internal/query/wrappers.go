package query

import "github.com/tmlc/tmlc/internal/querykey"

// ReadSource forces ReadSource(filePath) and returns its source text.
func (e *Engine) ReadSource(filePath string) (string, error) {
	result, err := e.Force(querykey.NewReadSource(filePath))
	if err != nil {
		return "", err
	}

	text, _ := result.(string)

	return text, nil
}

// Tokenize forces Tokenize(filePath).
func (e *Engine) Tokenize(filePath string) (any, error) {
	return e.Force(querykey.NewTokenize(filePath))
}

// ParseModule forces ParseModule(filePath, moduleName).
func (e *Engine) ParseModule(filePath, moduleName string) (any, error) {
	return e.Force(querykey.NewParseModule(filePath, moduleName))
}

// TypecheckModule forces TypecheckModule(filePath, moduleName).
func (e *Engine) TypecheckModule(filePath, moduleName string) (any, error) {
	return e.Force(querykey.NewTypecheckModule(filePath, moduleName))
}

// BorrowcheckModule forces BorrowcheckModule(filePath, moduleName).
func (e *Engine) BorrowcheckModule(filePath, moduleName string) (any, error) {
	return e.Force(querykey.NewBorrowcheckModule(filePath, moduleName))
}

// HirLower forces HirLower(filePath, moduleName).
func (e *Engine) HirLower(filePath, moduleName string) (any, error) {
	return e.Force(querykey.NewHirLower(filePath, moduleName))
}

// ThirLower forces ThirLower(filePath, moduleName).
func (e *Engine) ThirLower(filePath, moduleName string) (any, error) {
	return e.Force(querykey.NewThirLower(filePath, moduleName))
}

// MirBuild forces MirBuild(filePath, moduleName).
func (e *Engine) MirBuild(filePath, moduleName string) (any, error) {
	return e.Force(querykey.NewMirBuild(filePath, moduleName))
}

// CodegenUnit forces CodegenUnit(filePath, moduleName), the terminal
// stage of the pipeline.
func (e *Engine) CodegenUnit(filePath, moduleName string) (any, error) {
	return e.Force(querykey.NewCodegenUnit(filePath, moduleName))
}
