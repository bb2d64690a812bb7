// Package bootstrap starts an mze server from settings: it locks the storage
// directory, binds the engine and serves HTTP until its context ends.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/danjacques/gofslock/fslock"
	"github.com/medvied/mze/internal/blobstore"
	"github.com/medvied/mze/internal/config"
	"github.com/medvied/mze/internal/recordstore"
	"github.com/medvied/mze/internal/remote/server"
)

// ErrLocked is returned when another server owns the storage directory.
var ErrLocked = errors.New("storage directory is in use by another server")

// NewLogger builds the process logger from level and format names.
func NewLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// Run listens on the configured address and serves until ctx is done.
func Run(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
	}
	return Serve(ctx, ln, cfg, logger)
}

// Serve runs the server on ln until ctx is done, then shuts down gracefully.
// ln is closed on return.
func Serve(ctx context.Context, ln net.Listener, cfg *config.ServerConfig, logger *slog.Logger) error {
	defer ln.Close()

	if err := cfg.Validate(); err != nil {
		return err
	}
	instance, _ := cfg.InstanceUUID()

	if err := os.MkdirAll(cfg.StorageDir, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", cfg.StorageDir, err)
	}
	lock, err := fslock.Lock(cfg.StorageDir + ".lock")
	if err != nil {
		if errors.Is(err, fslock.ErrLockHeld) {
			return fmt.Errorf("%s: %w", cfg.StorageDir, ErrLocked)
		}
		return fmt.Errorf("lock storage directory: %w", err)
	}
	defer lock.Unlock()

	scfg := server.DefaultServerConfig()
	scfg.WebLocation = cfg.WebLocation
	scfg.InstanceID = instance
	scfg.Workers = cfg.Workers
	scfg.RequestsPerMinute = cfg.RequestsPerMinute
	if cfg.MaxBlobSize > 0 {
		scfg.MaxBlobSize = cfg.MaxBlobSize
	}
	scfg.Webhooks = server.NewWebhookNotifier(&server.WebhookConfig{URLs: cfg.WebhookURLs}, logger)
	if scfg.Webhooks != nil {
		logger.Info("webhooks configured", "count", len(cfg.WebhookURLs))
	}

	var (
		h       http.Handler
		cleanup func()
	)
	switch cfg.Mode {
	case config.ModeRecord:
		records, err := recordstore.New(cfg.StorageDir)
		if err != nil {
			return err
		}
		h, cleanup = server.RecordHandler(records, scfg, logger)
	default:
		store, engineCfg, err := blobstore.Open(cfg.EngineURL())
		if err != nil {
			return err
		}
		scfg.Defaults = engineCfg
		if err := store.Init(ctx, engineCfg); err != nil {
			if !errors.Is(err, blobstore.ErrNoStore) {
				return fmt.Errorf("init storage %s: %w", cfg.EngineURL(), err)
			}
			logger.Info("storage not created yet", "storage_url", cfg.EngineURL())
		}
		defer func() {
			if err := store.Fini(context.Background()); err != nil {
				logger.Error("fini storage", "error", err)
			}
		}()
		h, cleanup = server.Handler(store, scfg, logger)
	}
	defer cleanup()

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.Background() },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting mze server",
			"listen", ln.Addr().String(),
			"mode", cfg.Mode,
			"instance", instance,
			"web_location", cfg.WebLocation,
			"storage_dir", cfg.StorageDir,
			"client_url", cfg.ClientURL,
		)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("server stopped")
	return nil
}
