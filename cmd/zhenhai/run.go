package main

import (
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/ent0n29/zhenhai/internal/app"
	"github.com/ent0n29/zhenhai/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Discord bot and the HTTP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg, logger, level, err := loadConfig()
		if err != nil {
			return err
		}
		discordgo.Logger = logging.DiscordgoLogger(ctx, logger.Handler())

		res, err := app.Build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := res.Cleanup(); err != nil {
				logger.Warn("cleanup failed", tint.Err(err))
			}
		}()

		logger.Info("starting", "version", version, "commit", commitSHA)
		return app.Run(ctx, res, logging.DiscordgoLogLevel(level))
	},
}
