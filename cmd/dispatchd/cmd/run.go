package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/agentcore/dispatchcore/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the dispatch core and block until signaled",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
		if err != nil {
			return err
		}
		defer shutdownTelemetry(context.Background())

		c, err := build(ctx, cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		go c.probe.Start(ctx)
		go c.cache.Sweep(ctx, cfg.Cache.CleanupInterval)

		log.Info().
			Int("backends", len(cfg.Backends)).
			Str("balancer_strategy", cfg.Balancer.Strategy).
			Str("runtime_backend", cfg.Runtime.Backend).
			Msg("dispatch core ready")

		<-ctx.Done()
		log.Info().Msg("shutting down, checkpointing memory and vector index")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if cfg.Memory.PersistPath != "" {
			if err := c.mem.Checkpoint(shutdownCtx, cfg.Memory.PersistPath); err != nil {
				log.Error().Err(err).Msg("failed to checkpoint adaptive memory on shutdown")
			}
		}
		if cfg.Vector.IndexPath != "" {
			if err := c.vectors.Snapshot(cfg.Vector.IndexPath); err != nil {
				log.Error().Err(err).Msg("failed to snapshot vector index on shutdown")
			}
		}
		return nil
	},
}
