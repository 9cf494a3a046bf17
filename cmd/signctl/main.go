// Command signctl holds the offline tools: dataset capture and splitting,
// model diagnostics and snapshot reindexing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"signserver/internal/config"
)

const Version = "0.1.0"

// cfg holds the server configuration; flags default to its values.
var cfg = config.Load()

var rootCmd = &cobra.Command{
	Use:           "signctl",
	Short:         "Dataset and maintenance tools for the sign recognition server",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}
