package tmlcconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"

	"github.com/tmlc/tmlc/internal/query"
)

// ConfigFileName is the default project config file name, resolved
// relative to the working directory unless --config names a different
// path.
const ConfigFileName = "tmlc.json"

// Config mirrors the query driver's tunable options as they appear in
// tmlc.json. Incremental is a pointer so LoadConfig can tell "absent
// from the file" apart from an explicit false; for every other field the
// zero value counts as absent and leaves the default in place.
type Config struct {
	TargetTriple      string   `json:"target,omitempty"`
	Sysroot           string   `json:"sysroot,omitempty"`
	Backend           string   `json:"backend,omitempty"`
	OptimizationLevel int      `json:"opt,omitempty"`
	Incremental       *bool    `json:"incremental,omitempty"`
	DebugInfo         bool     `json:"debug_info,omitempty"`
	Coverage          bool     `json:"coverage,omitempty"`
	ProfileGenerate   bool     `json:"profile_generate,omitempty"`
	ProfileUse        string   `json:"profile_use,omitempty"`
	Defines           []string `json:"defines,omitempty"`
	Verbose           bool     `json:"verbose,omitempty"`
}

// DefaultConfig returns the driver's zero-value-safe defaults, matching
// query.DefaultOptions.
func DefaultConfig() Config {
	incremental := true

	return Config{
		Backend:     "llvm",
		Incremental: &incremental,
	}
}

// LoadConfigInput holds LoadConfig's inputs.
type LoadConfigInput struct {
	WorkDir    string // resolved absolute working directory
	ConfigPath string // --config flag value; empty selects the default location
}

// LoadConfig loads tmlc.json with the following precedence (highest wins):
//  1. Defaults
//  2. Project config file (tmlc.json in WorkDir, or the explicit ConfigPath)
//
// CLI flag overrides are applied by the caller on top of the Config this
// returns, one field at a time, only for flags the user actually
// provided — this function never sees the command line.
func LoadConfig(input LoadConfigInput) (Config, error) {
	cfg := DefaultConfig()

	cfgFile := input.ConfigPath
	mustExist := cfgFile != ""

	if cfgFile == "" {
		cfgFile = filepath.Join(input.WorkDir, ConfigFileName)
	} else if !filepath.IsAbs(cfgFile) {
		cfgFile = filepath.Join(input.WorkDir, cfgFile)
	}

	fileCfg, loaded, err := loadConfigFile(cfgFile, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg = mergeConfig(cfg, fileCfg)
	}

	return cfg, nil
}

func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if mustExist {
				return Config{}, false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
			}

			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w: %s", ErrConfigFileRead, path)
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

// parseConfig standardizes JSONC (comments, trailing commas) to JSON
// before decoding, exactly as the driver's config loading has always
// done for its own dotfiles.
func parseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.TargetTriple != "" {
		base.TargetTriple = overlay.TargetTriple
	}

	if overlay.Sysroot != "" {
		base.Sysroot = overlay.Sysroot
	}

	if overlay.Backend != "" {
		base.Backend = overlay.Backend
	}

	if overlay.OptimizationLevel != 0 {
		base.OptimizationLevel = overlay.OptimizationLevel
	}

	if overlay.Incremental != nil {
		base.Incremental = overlay.Incremental
	}

	if overlay.DebugInfo {
		base.DebugInfo = true
	}

	if overlay.Coverage {
		base.Coverage = true
	}

	if overlay.ProfileGenerate {
		base.ProfileGenerate = true
	}

	if overlay.ProfileUse != "" {
		base.ProfileUse = overlay.ProfileUse
	}

	if len(overlay.Defines) > 0 {
		base.Defines = overlay.Defines
	}

	if overlay.Verbose {
		base.Verbose = true
	}

	return base
}

// ToQueryOptions converts the loaded config, plus the resolved source
// directory, into the query.Options the engine is constructed with.
func (c Config) ToQueryOptions(sourceDir string) query.Options {
	incremental := true
	if c.Incremental != nil {
		incremental = *c.Incremental
	}

	return query.Options{
		Verbose:           c.Verbose,
		DebugInfo:         c.DebugInfo,
		Coverage:          c.Coverage,
		OptimizationLevel: c.OptimizationLevel,
		TargetTriple:      c.TargetTriple,
		Sysroot:           c.Sysroot,
		SourceDirectory:   sourceDir,
		Defines:           c.Defines,
		ProfileGenerate:   c.ProfileGenerate,
		ProfileUse:        c.ProfileUse,
		Incremental:       incremental,
		Backend:           c.Backend,
	}
}
