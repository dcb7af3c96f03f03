package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ent0n29/zhenhai/internal/config"
	"github.com/ent0n29/zhenhai/internal/logging"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version   = "dev"
	commitSHA = "unknown"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:           "zhenhai",
	Short:         "Discord assistant with rolling conversation memory",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("load env file: %w", err)
			}
			return nil
		}
		// A missing .env is normal in containers.
		_ = godotenv.Load()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from this file")
	rootCmd.AddCommand(runCmd, migrateCmd, versionCmd)
}

// loadConfig reads the environment and builds the process logger. The
// returned handler feeds discordgo too.
func loadConfig() (config.Config, *slog.Logger, slog.Level, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, 0, fmt.Errorf("config error: %w", err)
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, 0, err
	}
	logger := slog.New(logging.NewHandler(os.Stderr, logging.Options{
		Level:   level,
		NoColor: cfg.LogNoColor,
	}))
	slog.SetDefault(logger)
	return cfg, logger, level, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
