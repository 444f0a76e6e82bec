package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"blobshelf/internal/config"
	"blobshelf/internal/server"
	"blobshelf/internal/store"
)

func Run(ctx context.Context) error {

	dotenvPath := flag.String("env", ".env", "optional dotenv file read before the environment")
	flag.Parse()

	cfg, err := config.Load(*dotenvPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           cfg.LogLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})
	slog.SetDefault(slog.New(handler))

	blobStore, err := store.Open(ctx, cfg.Connection, cfg.Container)
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}

	srv, err := server.NewServer(server.NewConfig(
		server.WithStore(blobStore),
		server.WithContainer(cfg.Container),
		server.WithStagingDir(cfg.StagingDir),
		server.WithMaxUploadBytes(cfg.MaxUploadBytes),
	))
	if err != nil {
		_ = blobStore.Close()
		return fmt.Errorf("failed to create server: %w", err)
	}

	defer srv.Close()

	// Uploads and downloads may run for as long as the transfer takes, so
	// only the header read is bounded.
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		slog.Info("Starting Blobshelf server",
			"port", cfg.Port,
			"store", store.Scheme(cfg.Connection),
			"container", cfg.Container,
			"staging_dir", srv.Config.StagingDir,
		)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	return eg.Wait()
}

func main() {
	if err := Run(context.Background()); err != nil {
		slog.Error("Blobshelf exited with error", "error", err)
		os.Exit(1)
	}
}
