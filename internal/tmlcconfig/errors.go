// Package tmlcconfig loads cmd/tmlc's tmlc.json configuration file and
// converts it into a query.Options; command-line overrides are applied
// by the caller.
package tmlcconfig

import "errors"

var (
	// ErrConfigFileNotFound means an explicit --config path does not exist.
	ErrConfigFileNotFound = errors.New("config file not found")

	// ErrConfigFileRead means the config file exists but could not be read.
	ErrConfigFileRead = errors.New("cannot read config file")

	// ErrConfigInvalid means the config file's content is not valid JSONC
	// or does not match Config's shape.
	ErrConfigInvalid = errors.New("invalid config file")
)
