// Command tmlc is the incremental query-based compiler driver: it
// discovers source modules under a directory, forces their codegen
// units through the query engine, and persists the incremental cache
// for reuse by the next invocation.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/tmlc/tmlc/internal/tmlccli"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	exitCode := tmlccli.Run(os.Stdin, os.Stdout, os.Stderr, os.Args, sigCh)

	os.Exit(exitCode)
}
