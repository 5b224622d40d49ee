// Package tmlccli wires the query driver (internal/query), its provider
// registrations (internal/pipeline) and its on-disk cache
// (internal/incremental) into a runnable command-line tool: tmlc.
package tmlccli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/tmlc/tmlc/internal/cli"
	"github.com/tmlc/tmlc/internal/fsys"
	"github.com/tmlc/tmlc/internal/pipeline"
	"github.com/tmlc/tmlc/internal/provider"
	"github.com/tmlc/tmlc/internal/query"
	"github.com/tmlc/tmlc/internal/tmlcconfig"
	"github.com/tmlc/tmlc/internal/traits"
)

// Run is tmlc's entry point. sigCh can be nil if signal handling is not
// needed (e.g. in tests).
func Run(_ io.Reader, out, errOut io.Writer, args []string, sigCh <-chan os.Signal) int {
	flags := flag.NewFlagSet("tmlc", flag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.SetOutput(&strings.Builder{})
	flags.Usage = func() {}

	flagHelp := flags.BoolP("help", "h", false, "Show help")
	flagDir := flags.String("dir", "", "Source directory to compile (default: current directory)")
	flagTarget := flags.String("target", "", "Target triple")
	flagOpt := flags.Int("opt", -1, "Optimization level 0-3")
	flagIncremental := flags.Bool("incremental", true, "Enable the on-disk incremental cache")
	flagBackend := flags.String("backend", "", "Code generation backend (llvm or cranelift)")
	flagConfig := flags.String("config", "", "Path to a tmlc.json config file")
	flagVerbose := flags.BoolP("verbose", "v", false, "Enable verbose progress logging")

	if err := flags.Parse(args[1:]); err != nil {
		fprintln(errOut, "error:", err)
		printGlobalOptions(errOut)

		return 1
	}

	workDir, err := os.Getwd()
	if err != nil {
		fprintln(errOut, "error:", err)
		return 1
	}

	sourceDir := workDir
	if *flagDir != "" {
		if filepath.IsAbs(*flagDir) {
			sourceDir = *flagDir
		} else {
			sourceDir = filepath.Join(workDir, *flagDir)
		}
	}

	cfg, err := tmlcconfig.LoadConfig(tmlcconfig.LoadConfigInput{
		WorkDir:    sourceDir,
		ConfigPath: *flagConfig,
	})
	if err != nil {
		fprintln(errOut, "error:", err)
		return 1
	}

	applyFlagOverrides(&cfg, flags, *flagTarget, *flagBackend, *flagOpt, *flagIncremental, *flagVerbose)

	opts := cfg.ToQueryOptions(sourceDir)

	log := logrus.New()
	log.SetOutput(errOut)

	if opts.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	reg := provider.NewRegistry()
	pipeline.Register(reg, fsys.NewReal(), traits.NewEnvironment())

	engine := query.New(reg, opts, fsys.NewReal(), log)

	cacheDir := incrementalCacheDir(sourceDir, opts.OptimizationLevel)

	if opts.Incremental {
		if err := engine.LoadIncrementalCache(cacheDir); err != nil {
			fprintln(errOut, "error:", err)
			return 1
		}
	}

	commands := allCommands(engine, sourceDir)

	commandMap := make(map[string]*cli.Command, len(commands))
	for _, cmd := range commands {
		commandMap[cmd.Name()] = cmd
	}

	commandAndArgs := flags.Args()

	// Show help: explicit --help or bare `tmlc` with no args and no flags.
	if *flagHelp || (len(commandAndArgs) == 0 && flags.NFlag() == 0) {
		printUsage(out, commands)
		return 0
	}

	// No explicit command but flags were given (e.g. `tmlc --dir src`):
	// default to "build", the tool's primary purpose.
	cmdName := "build"
	if len(commandAndArgs) > 0 {
		cmdName = commandAndArgs[0]
		commandAndArgs = commandAndArgs[1:]
	} else {
		commandAndArgs = nil
	}

	cmd, ok := commandMap[cmdName]
	if !ok {
		fprintln(errOut, "error: unknown command:", cmdName)
		printUsage(errOut, commands)

		return 1
	}

	cmdIO := cli.NewIO(out, errOut)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan int, 1)

	go func() {
		done <- cmd.Run(ctx, cmdIO, commandAndArgs)
	}()

	exitCode := waitForCompletion(done, sigCh, cancel, errOut)

	if opts.Incremental {
		if err := engine.SaveIncrementalCache(cacheDir); err != nil {
			fprintln(errOut, "error saving incremental cache:", err)

			if exitCode == 0 {
				exitCode = 1
			}
		}
	}

	if exitCode != 0 {
		return exitCode
	}

	return cmdIO.Finish()
}

// waitForCompletion mirrors the teacher's signal-driven graceful
// shutdown: a first signal cancels ctx and gives the in-flight work 5
// seconds to unwind before forcing exit.
func waitForCompletion(done chan int, sigCh <-chan os.Signal, cancel context.CancelFunc, errOut io.Writer) int {
	select {
	case exitCode := <-done:
		return exitCode
	case <-sigCh:
		cancel()
		fprintln(errOut, "shutting down with 5s timeout...")
	}

	select {
	case <-done:
		fprintln(errOut, "graceful shutdown ok (130)")
		return 130
	case <-time.After(5 * time.Second):
		fprintln(errOut, "graceful shutdown timed out, forced exit (130)")
		return 130
	}
}

func applyFlagOverrides(cfg *tmlcconfig.Config, flags *flag.FlagSet, target, backend string, opt int, incremental, verbose bool) {
	if flags.Changed("target") {
		cfg.TargetTriple = target
	}

	if flags.Changed("backend") {
		cfg.Backend = backend
	}

	if flags.Changed("opt") {
		cfg.OptimizationLevel = opt
	}

	if flags.Changed("incremental") {
		cfg.Incremental = &incremental
	}

	if flags.Changed("verbose") {
		cfg.Verbose = verbose
	}
}

// incrementalCacheDir places the on-disk cache under build/<profile>/
// the way a debug/release split usually works: opt level 0 is "debug",
// anything higher is "release".
func incrementalCacheDir(sourceDir string, optLevel int) string {
	profile := "debug"
	if optLevel > 0 {
		profile = "release"
	}

	return filepath.Join(sourceDir, "build", profile, ".incr-cache")
}

// allCommands returns all commands in display order. Dependencies
// (engine, sourceDir) are captured via closures in each command
// constructor, the same shape as the teacher's allCommands.
func allCommands(engine *query.Engine, sourceDir string) []*cli.Command {
	return []*cli.Command{
		buildCommand(engine, sourceDir),
		replCommand(engine, sourceDir),
	}
}

const globalOptionsHelp = `  -h, --help             Show help
  --dir <dir>            Source directory to compile (default: current directory)
  --target <triple>      Target triple
  --opt <0-3>            Optimization level
  --incremental           Enable the on-disk incremental cache (default true)
  --backend <name>        Code generation backend (llvm or cranelift)
  --config <file>         Path to a tmlc.json config file
  -v, --verbose           Enable verbose progress logging`

func printGlobalOptions(w io.Writer) {
	fprintln(w, "Usage: tmlc [flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Global flags:")
	fprintln(w, globalOptionsHelp)
	fprintln(w)
	fprintln(w, "Run 'tmlc --help' for a list of commands.")
}

func printUsage(w io.Writer, commands []*cli.Command) {
	fprintln(w, "tmlc - incremental query-based compiler driver")
	fprintln(w)
	fprintln(w, "Usage: tmlc [flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Flags:")
	fprintln(w, globalOptionsHelp)
	fprintln(w)
	fprintln(w, "Commands:")

	for _, cmd := range commands {
		fprintln(w, cmd.HelpLine())
	}
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}
