package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/postlaunch/internal/broadcast"
	httpapi "github.com/sawpanic/postlaunch/internal/interfaces/http"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the launch API",
		Long:  "Starts the HTTP API with /v1/launches, /health and /metrics until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, c)
		},
	}
}

func runServe(ctx context.Context, c *cli) error {
	a, err := newApp(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	health := httpapi.NewHealth(a.ledger, version).WithActive(a.metrics.Active)
	if a.redis != nil {
		health.WithProbe("journal", a.redis.Ping)
	}
	for _, r := range a.relays {
		health.WithProbe("relay-"+r.Name(), relayProbe(r))
	}

	sc := c.cfg.Server
	srv := httpapi.NewServer(httpapi.Config{
		Addr:          sc.Addr,
		ReadTimeout:   sc.ReadTimeout,
		WriteTimeout:  sc.WriteTimeout,
		IdleTimeout:   2 * sc.ReadTimeout,
		LaunchTimeout: sc.LaunchTimeout,
	}, httpapi.Deps{
		Launcher: a.service,
		Records:  a.ledger.Ledger(),
		Health:   health,
		Metrics:  a.metrics.Handler(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sc.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Launch API stopped")
	return nil
}

// relayProbe reports an open breaker as a failed check
func relayProbe(r *broadcast.Relay) httpapi.Probe {
	return func(context.Context) error {
		if state := r.BreakerState(); state == "open" {
			return fmt.Errorf("circuit %s", state)
		}
		return nil
	}
}
