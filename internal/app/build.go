package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/zhenhai/internal/bot"
	"github.com/ent0n29/zhenhai/internal/config"
	"github.com/ent0n29/zhenhai/internal/confirm"
	"github.com/ent0n29/zhenhai/internal/conversation"
	"github.com/ent0n29/zhenhai/internal/db"
	"github.com/ent0n29/zhenhai/internal/httpapi"
	"github.com/ent0n29/zhenhai/internal/logging"
	"github.com/ent0n29/zhenhai/internal/memory"
	"github.com/ent0n29/zhenhai/internal/observability"
	"github.com/ent0n29/zhenhai/internal/provider"
	"github.com/ent0n29/zhenhai/internal/usage"
)

const (
	confirmJanitorPeriod  = time.Minute
	confirmMaxEntries     = 10000
	httpReadHeaderTimeout = 10 * time.Second
)

type BuildResult struct {
	Config   config.Config
	Manager  *conversation.Manager
	Provider provider.Provider
	Tools    *provider.Tools
	API      *httpapi.Server
	Metrics  *observability.Metrics
	Logger   *slog.Logger

	// Cleanup should be called on shutdown to release the pool and redis client.
	Cleanup func() error
}

// Build wires stores, providers and the conversation manager from cfg.
// Without DATABASE_URL state lives in process memory.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	var (
		pool     *pgxpool.Pool
		checks   []httpapi.ReadyCheck
		cleanups []func() error
		err      error
	)
	cleanup := func() error {
		var errs []error
		for i := len(cleanups) - 1; i >= 0; i-- {
			errs = append(errs, cleanups[i]())
		}
		return errors.Join(errs...)
	}

	if cfg.DatabaseURL != "" {
		pool, err = db.Open(ctx, db.Config{
			URL:            cfg.DatabaseURL,
			MaxConns:       int32(cfg.DBMaxConns),
			MinConns:       int32(cfg.DBMinConns),
			AcquireTimeout: cfg.DBAcquireTimeout,
			ConnectRetries: cfg.DBConnectRetries,
			Logger:         logging.Named(logger, "db"),
		})
		if err != nil {
			return nil, fmt.Errorf("database init failed: %w", err)
		}
		cleanups = append(cleanups, func() error { pool.Close(); return nil })
		checks = append(checks, httpapi.ReadyCheck{Name: "postgres", Ping: pool.Ping})
	} else {
		logger.Warn("DATABASE_URL not set, memory and usage are kept in process and lost on restart")
	}

	var confirmStore confirm.Store
	if cfg.RedisURL != "" {
		rs, err := confirm.NewRedisStoreFromURL(ctx, cfg.RedisURL)
		if err != nil {
			_ = cleanup()
			return nil, fmt.Errorf("redis init failed: %w", err)
		}
		cleanups = append(cleanups, rs.Close)
		checks = append(checks, httpapi.ReadyCheck{Name: "redis", Ping: rs.Ping})
		confirmStore = rs
	} else {
		ms := confirm.NewMemoryStore(confirmMaxEntries)
		ms.StartJanitor(ctx, confirmJanitorPeriod)
		confirmStore = ms
	}

	p, err := provider.New(provider.Config{
		Kind:           cfg.AIProvider,
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		Preset:         cfg.ChatPreset,
		Model:          cfg.AIModel,
		SummaryModel:   cfg.AISummaryModel,
		Instructions:   cfg.AIInstructions,
		WebSearch:      cfg.AIWebSearch,
		RequestTimeout: cfg.AIRequestTimeout,
		Logger:         logging.Named(logger, "provider"),
	})
	if err != nil {
		_ = cleanup()
		return nil, fmt.Errorf("ai provider init failed: %w", err)
	}

	tools := provider.NewTools(provider.ToolsConfig{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		DigestModel:    cfg.AIDigestModel,
		ImageModel:     cfg.AIImageModel,
		ImageSize:      cfg.AIImageSize,
		RequestTimeout: cfg.AIRequestTimeout,
	})

	memStore, usageStore := newStores(pool, cfg)
	manager, err := conversation.NewManager(conversation.Options{
		Memory:     memStore,
		Usage:      usageStore,
		Confirm:    confirmStore,
		Summarizer: p,
		Location:   cfg.UsageLocation,
		ResetTTL:   cfg.ResetConfirmTTL,
		Logger:     logging.Named(logger, "conversation"),
		Observer:   metrics,
	})
	if err != nil {
		_ = cleanup()
		return nil, err
	}
	if err := manager.SeedUsage(ctx); err != nil {
		logger.Warn("seeding usage counters failed", tint.Err(err))
	}

	logger.Info("conversation manager ready",
		"provider", p.Name(),
		"persistent", pool != nil,
		"shared_confirmations", cfg.RedisURL != "",
		"usage_timezone", cfg.UsageLocation.String(),
		"compact_threshold", cfg.CompactThreshold)

	return &BuildResult{
		Config:   cfg,
		Manager:  manager,
		Provider: p,
		Tools:    tools,
		API:      httpapi.New(manager, metrics, logging.Named(logger, "http"), checks...),
		Metrics:  metrics,
		Logger:   logger,
		Cleanup:  cleanup,
	}, nil
}

// newStores picks the state backends. Each postgres call, including the wait
// for a pooled connection, is bounded by DB_ACQUIRE_TIMEOUT.
func newStores(pool *pgxpool.Pool, cfg config.Config) (memory.Store, usage.Store) {
	return memory.NewStore(pool, cfg.DBAcquireTimeout), usage.NewStore(pool, cfg.DBAcquireTimeout)
}

// Run serves HTTP and the Discord gateway until ctx is done or either fails.
func Run(ctx context.Context, res *BuildResult, discordLogLevel int) error {
	cfg := res.Config
	session, err := bot.NewSession(cfg.DiscordToken, discordLogLevel)
	if err != nil {
		return err
	}
	b := bot.New(bot.Config{
		Prefix:           cfg.CommandPrefix,
		CompactThreshold: cfg.CompactThreshold,
		ImageDailyLimit:  cfg.ImageDailyLimit,
		UserRate:         cfg.UserCommandRate,
		UserBurst:        cfg.UserCommandBurst,
		WebSearch:        cfg.AIWebSearch,
		DigestModel:      cfg.AIDigestModel,
		ImageModel:       cfg.AIImageModel,
		DrainTimeout:     cfg.ShutdownTimeout,
	}, session, res.Manager, res.Provider, res.Tools, res.Metrics, logging.Named(res.Logger, "bot"))

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           res.API.Router(),
		ReadHeaderTimeout: httpReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res.Logger.Info("http server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			res.Logger.Warn("graceful shutdown failed", tint.Err(err))
			return httpServer.Close()
		}
		return nil
	})
	g.Go(func() error {
		return b.Run(gctx, session)
	})

	err = g.Wait()
	res.Logger.Info("shutdown complete")
	return err
}
