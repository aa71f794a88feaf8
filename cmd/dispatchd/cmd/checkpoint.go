package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Force an adaptive memory and vector index checkpoint, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		c, err := build(ctx, cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		if cfg.Memory.PersistPath != "" {
			if err := c.mem.Checkpoint(ctx, cfg.Memory.PersistPath); err != nil {
				return err
			}
			log.Info().Str("path", cfg.Memory.PersistPath).Int("entries", c.mem.Len()).Msg("adaptive memory checkpointed")
		}
		if cfg.Vector.IndexPath != "" {
			if err := c.vectors.Snapshot(cfg.Vector.IndexPath); err != nil {
				return err
			}
			log.Info().Str("path", cfg.Vector.IndexPath).Int("records", c.vectors.Len()).Msg("vector index snapshotted")
		}
		return nil
	},
}
