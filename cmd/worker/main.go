package main

import (
	"context"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"food-auth-service/internal/factory"
	"food-auth-service/internal/util"
)

// The worker drains auth events into ClickHouse and Elasticsearch and, when
// JANITOR_INTERVAL is set, prunes expired challenges and sessions.
func main() {
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Audit.Enabled {
		processor, err := f.AuditProcessor(ctx)
		if err != nil {
			util.Fatal("Failed to initialize audit pipeline", util.ErrorField(err))
		}
		g.Go(func() error {
			return processor.Run(ctx)
		})
		util.Info("Audit consumer started",
			util.String("topic", cfg.Audit.Topic),
			util.String("group", cfg.Audit.ConsumerGroup))
	}

	if cfg.Audit.JanitorInterval > 0 {
		janitor := f.Janitor()
		g.Go(func() error {
			janitor.Run(ctx)
			return nil
		})
		util.Info("Janitor started", util.Duration("interval", cfg.Audit.JanitorInterval))
	}

	if !cfg.Audit.Enabled && cfg.Audit.JanitorInterval <= 0 {
		util.Warn("Nothing to do: AUDIT_ENABLED is false and JANITOR_INTERVAL is unset")
		return
	}

	if err := g.Wait(); err != nil {
		util.Error("Worker stopped with error", util.ErrorField(err))
		return
	}
	util.Info("Worker shutdown completed")
}
