package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"doc-rag/internal/app"
	"doc-rag/internal/httputil"
	"doc-rag/internal/queue"
)

func main() {
	deps, err := app.Build(app.NeedStore | app.NeedVectors | app.NeedQueue | app.NeedCache | app.NeedEmbedder | app.NeedExtractor)
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()
	deps.Log.Info("ingestor worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, deps); err != nil {
		deps.Log.Error("ingestor service stopped", "err", err)
	}
}

// run consumes ingest tasks and serves health checks until ctx ends or
// either side fails.
func run(ctx context.Context, deps app.Deps) error {
	coord := deps.Coordinator()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Queue.Worker(ctx, queue.TaskTypeIngest, coord.Handle)
	})
	g.Go(func() error {
		return httputil.ServeHealth(ctx, deps.Log, deps.Config.Port)
	})

	return g.Wait()
}
