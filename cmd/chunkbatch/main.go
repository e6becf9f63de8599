// Command chunkbatch runs the sample batch jobs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "embed"

	"github.com/tigerroll/chunkbatch/internal/cli"
)

// embeddedConfig is used unless --config names another file.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

func main() {
	// The first signal asks active runs to stop at a chunk boundary.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx, embeddedConfig); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
