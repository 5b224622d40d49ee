package tmlccli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/tmlc/tmlc/internal/cli"
	"github.com/tmlc/tmlc/internal/pipeline"
	"github.com/tmlc/tmlc/internal/query"
)

// buildCommand returns the "build" command: it discovers every *.tml
// file under sourceDir and forces CodegenUnit for each one, reporting
// the resulting IR's size and linked libraries. engine and sourceDir
// are captured by closure, the same construction pattern the teacher's
// command constructors (ShowCmd, CreateCmd, ...) use to bind a
// command's dependencies at registration time.
func buildCommand(engine *query.Engine, sourceDir string) *cli.Command {
	return &cli.Command{
		Flags: flag.NewFlagSet("build", flag.ContinueOnError),
		Usage: "build",
		Short: "Compile every module under the source directory",
		Long:  "Discover every .tml file under the source directory and force its codegen unit through the query engine.",
		Exec: func(_ context.Context, io *cli.IO, _ []string) error {
			return execBuild(io, engine, sourceDir)
		},
	}
}

// execBuild keeps going on a per-module failure so one broken file
// doesn't hide failures in the rest of the tree; those are reported via
// WarnLLM so Finish() surfaces a non-zero exit code once every module
// has been attempted. A failure to even discover modules is a hard
// stop, reported as an error so Command.Run exits immediately.
func execBuild(io *cli.IO, engine *query.Engine, sourceDir string) error {
	modules, err := discoverModules(sourceDir)
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", sourceDir, err)
	}

	if len(modules) == 0 {
		return fmt.Errorf("no .tml files found under %s", sourceDir)
	}

	for _, mod := range modules {
		result, err := engine.CodegenUnit(mod.filePath, mod.moduleName)
		if err != nil {
			io.WarnLLM(fmt.Sprintf("%s: %v", mod.moduleName, err), "inspect the module for the reported failure and rebuild")
			continue
		}

		unit, ok := result.(pipeline.CodegenUnit)
		if !ok {
			io.WarnLLM(fmt.Sprintf("%s: codegen produced an unexpected result type", mod.moduleName), "this indicates a provider wiring bug")
			continue
		}

		io.Printf("%s: %d bytes of IR, libs=[%s]\n", mod.moduleName, len(unit.IR), strings.Join(unit.Libs, ","))
	}

	stats := engine.CacheStats()
	io.Printf("cache: %d hits, %d misses\n", stats.Hits, stats.Misses)

	return nil
}

type discoveredModule struct {
	filePath   string
	moduleName string
}

// discoverModules walks sourceDir for *.tml files and derives each
// module's name from its file basename, the way a single-crate build
// with no explicit module manifest would.
func discoverModules(sourceDir string) ([]discoveredModule, error) {
	var modules []discoveredModule

	err := filepath.WalkDir(sourceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if d.Name() == "build" || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}

			return nil
		}

		if filepath.Ext(path) != ".tml" {
			return nil
		}

		base := filepath.Base(path)
		moduleName := strings.TrimSuffix(base, ".tml")

		modules = append(modules, discoveredModule{filePath: path, moduleName: moduleName})

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(modules, func(i, j int) bool { return modules[i].filePath < modules[j].filePath })

	return modules, nil
}
