package tmlccli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/tmlc/tmlc/internal/cli"
	"github.com/tmlc/tmlc/internal/query"
	"github.com/tmlc/tmlc/internal/querykey"
)

// replCommand returns the "repl" command: an interactive line-editing
// console over engine. engine and sourceDir are captured by closure,
// the same construction pattern buildCommand uses.
func replCommand(engine *query.Engine, sourceDir string) *cli.Command {
	return &cli.Command{
		Flags: flag.NewFlagSet("repl", flag.ContinueOnError),
		Usage: "repl",
		Short: "Start the interactive query debugger",
		Long:  "Start a line-editing console for forcing individual queries and inspecting cache state.",
		Exec: func(ctx context.Context, io *cli.IO, _ []string) error {
			return execRepl(ctx, io, engine, sourceDir)
		},
	}
}

// replHelp is the text shown by "help"; it lists the commands that
// dispatch handles.
const replHelp = `Commands:
  force <kind> <file> [module]   force a query and print its result
  stats                          print in-memory cache hit/miss counts
  invalidate <file>              invalidate every cached query for <file>
  clear                          drop the entire in-memory cache
  help                           show this message
  quit, exit                     leave the debugger
`

// execRepl drives an interactive line-editing console over engine,
// letting a developer force individual queries and inspect cache state
// without running a full build. ctx is checked between commands so a
// shutdown signal during a long-running force still unwinds promptly;
// the outer Run's signal-handling select, not this loop, is what turns
// that into the process's 130 exit code.
func execRepl(ctx context.Context, out *cli.IO, engine *query.Engine, sourceDir string) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)

	out.Printf("tmlc interactive query debugger (source: %s)\n", sourceDir)
	out.Printf("type 'help' for a list of commands, 'quit' to exit\n")

	for {
		if ctx.Err() != nil {
			return nil
		}

		input, err := line.Prompt("tmlc> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return nil
			}

			return fmt.Errorf("repl read: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		if dispatch(out, engine, input) {
			return nil
		}
	}
}

// dispatch runs one REPL command, reporting whether the loop should exit.
func dispatch(out *cli.IO, engine *query.Engine, input string) (done bool) {
	fields := strings.Fields(input)
	cmd := fields[0]
	rest := fields[1:]

	switch cmd {
	case "quit", "exit":
		return true

	case "help":
		out.Printf("%s", replHelp)

	case "stats":
		stats := engine.CacheStats()
		out.Printf("hits=%d misses=%d\n", stats.Hits, stats.Misses)

	case "clear":
		engine.ClearCache()
		out.Printf("cache cleared\n")

	case "invalidate":
		if len(rest) != 1 {
			out.Printf("usage: invalidate <file>\n")
			return false
		}

		engine.InvalidateFile(rest[0])
		out.Printf("invalidated queries for %s\n", rest[0])

	case "force":
		runForce(out, engine, rest)

	default:
		out.Printf("unknown command %q, type 'help' for a list\n", cmd)
	}

	return false
}

func runForce(out *cli.IO, engine *query.Engine, args []string) {
	if len(args) < 2 {
		out.Printf("usage: force <kind> <file> [module]\n")
		return
	}

	kindName, filePath := args[0], args[1]

	moduleName := ""
	if len(args) >= 3 {
		moduleName = args[2]
	}

	key, err := parseKey(kindName, filePath, moduleName)
	if err != nil {
		out.Printf("%v\n", err)
		return
	}

	result, err := engine.Force(key)
	if err != nil {
		out.Printf("error: %v\n", err)
		return
	}

	out.Printf("%v\n", result)
}

// parseKey builds a querykey.Key from a REPL command's string
// arguments, matching kind names case-insensitively against the
// canonical Stringer rendering used everywhere else in the driver.
func parseKey(kindName, filePath, moduleName string) (querykey.Key, error) {
	switch strings.ToLower(kindName) {
	case "readsource":
		return querykey.NewReadSource(filePath), nil
	case "tokenize":
		return querykey.NewTokenize(filePath), nil
	case "parsemodule":
		return querykey.NewParseModule(filePath, moduleName), nil
	case "typecheckmodule":
		return querykey.NewTypecheckModule(filePath, moduleName), nil
	case "borrowcheckmodule":
		return querykey.NewBorrowcheckModule(filePath, moduleName), nil
	case "hirlower":
		return querykey.NewHirLower(filePath, moduleName), nil
	case "thirlower":
		return querykey.NewThirLower(filePath, moduleName), nil
	case "mirbuild":
		return querykey.NewMirBuild(filePath, moduleName), nil
	case "codegenunit":
		return querykey.NewCodegenUnit(filePath, moduleName), nil
	default:
		return querykey.Key{}, fmt.Errorf("unknown query kind %q", kindName)
	}
}
