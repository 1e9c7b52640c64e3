// Command docctl is an operator CLI for the document pipeline. It runs the
// same components as the services, in process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"doc-rag/internal/app"
)

// buildFunc constructs the dependencies a command needs.
type buildFunc func(need app.Component) (app.Deps, error)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(app.Build).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(build buildFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "docctl",
		Short: "Operate the document ingestion and question answering pipeline",
		Long: `docctl chunks, ingests, queries and summarizes documents using the
providers configured through the environment (see .env).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newChunkCmd(),
		newIngestCmd(build),
		newAskCmd(build),
		newSummarizeCmd(build),
		newStatusCmd(build),
	)
	return root
}
