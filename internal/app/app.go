// Package app wires configuration, logging, persistence, the hub, and the
// HTTP surface into a runnable server.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	server "pixel-canvas/server"
	"pixel-canvas/server/internal/config"
	servernet "pixel-canvas/server/internal/net"
	"pixel-canvas/server/internal/store"
	"pixel-canvas/server/logging"
	loggingSinks "pixel-canvas/server/logging/sinks"
)

type Options struct {
	ConfigPath string
	Logger     *log.Logger
}

// Run starts the server and blocks until ctx is cancelled or the listener
// fails. Shutdown drains in-flight requests, flushes the persistence queue,
// and closes the logging router in that order.
func Run(ctx context.Context, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	router, err := buildLoggingRouter(cfg)
	if err != nil {
		return fmt.Errorf("construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	hubCfg := server.DefaultHubConfig()
	hubCfg.Width = cfg.Canvas.Width
	hubCfg.Height = cfg.Canvas.Height
	hubCfg.BaseCooldown = cfg.Cooldown.Base
	hubCfg.CooldownScale = cfg.Cooldown.Scale
	hubCfg.MaxBank = cfg.Cooldown.MaxBank
	hubCfg.PresenceWindow = cfg.Presence.Window
	hubCfg.SubscriberQueue = cfg.Broadcast.SubscriberQueue
	hubCfg.PersistQueue = cfg.Broadcast.PersistQueue
	hubCfg.Publisher = router

	var redisStore *store.RedisStore
	if cfg.Redis.Enabled {
		redisStore, err = store.NewRedisStore(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.KeyPrefix)
		if err != nil {
			return fmt.Errorf("construct redis store: %w", err)
		}
		defer redisStore.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = redisStore.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("redis unreachable at %s: %w", cfg.Redis.Addr, err)
		}
		hubCfg.Persister = redisStore
	}

	hub, err := server.NewHub(hubCfg)
	if err != nil {
		return fmt.Errorf("construct hub: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := hub.Close(closeCtx); cerr != nil {
			logger.Printf("failed to close hub: %v", cerr)
		}
	}()

	if redisStore != nil {
		if err := restoreHub(ctx, hub, redisStore); err != nil {
			return fmt.Errorf("restore state: %w", err)
		}
		logger.Printf("restored canvas state from redis, sequence %d", hub.Sequence())
	}

	handler := servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{Logger: logger})

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}
}

func restoreHub(ctx context.Context, hub *server.Hub, redisStore *store.RedisStore) error {
	cells, err := redisStore.LoadCells(ctx)
	if err != nil {
		return err
	}
	entries, err := redisStore.LoadHistory(ctx)
	if err != nil {
		return err
	}
	cooldowns, err := redisStore.LoadCooldowns(ctx)
	if err != nil {
		return err
	}
	return hub.Restore(cells, entries, cooldowns)
}

func buildLoggingRouter(cfg config.Config) (*logging.Router, error) {
	logCfg := logging.DefaultConfig()
	logCfg.EnabledSinks = cfg.Logging.Sinks
	if cfg.Logging.BufferSize > 0 {
		logCfg.BufferSize = cfg.Logging.BufferSize
	}
	logCfg.MinimumSeverity = parseSeverity(cfg.Logging.MinSeverity)
	logCfg.JSON.FilePath = cfg.Logging.JSONPath
	if cfg.Logging.FlushEvery > 0 {
		logCfg.JSON.FlushInterval = cfg.Logging.FlushEvery
	}

	var named []logging.NamedSink
	if logCfg.HasSink("console") {
		named = append(named, logging.NamedSink{
			Name: "console",
			Sink: loggingSinks.NewConsoleSink(os.Stdout, logCfg.Console),
		})
	}
	if logCfg.HasSink("json") && logCfg.JSON.FilePath != "" {
		file, err := os.OpenFile(logCfg.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open json log file: %w", err)
		}
		named = append(named, logging.NamedSink{
			Name: "json",
			Sink: loggingSinks.NewJSONSink(file, logCfg.JSON.FlushInterval),
		})
	}

	return logging.NewRouter(nil, logCfg, named)
}

func parseSeverity(value string) logging.Severity {
	switch value {
	case "debug":
		return logging.SeverityDebug
	case "warn":
		return logging.SeverityWarn
	case "error":
		return logging.SeverityError
	default:
		return logging.SeverityInfo
	}
}
