// cmd/stored/main.go
// Package main implements the entry point for the store client daemon.
// It wires snapd, the ratings service and the cache into the app page model and serves it over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SnapStoreCommunity/snap-store-go/internal/auth"
	"github.com/SnapStoreCommunity/snap-store-go/internal/cache"
	"github.com/SnapStoreCommunity/snap-store-go/internal/catalog"
	"github.com/SnapStoreCommunity/snap-store-go/internal/config"
	"github.com/SnapStoreCommunity/snap-store-go/internal/event"
	"github.com/SnapStoreCommunity/snap-store-go/internal/logging"
	"github.com/SnapStoreCommunity/snap-store-go/internal/media"
	"github.com/SnapStoreCommunity/snap-store-go/internal/metrics"
	"github.com/SnapStoreCommunity/snap-store-go/internal/odrs"
	"github.com/SnapStoreCommunity/snap-store-go/internal/page"
	"github.com/SnapStoreCommunity/snap-store-go/internal/schema"
	"github.com/SnapStoreCommunity/snap-store-go/internal/server"
	"github.com/SnapStoreCommunity/snap-store-go/internal/snapd"
	"github.com/SnapStoreCommunity/snap-store-go/internal/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "stored: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	logger, logCloser, err := logging.Setup(cfg.Env, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logCloser.Close()

	if _, err := telemetry.InitTracer("snap-store", version, os.Stderr); err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.ShutdownTracer(ctx)
	}()

	m := metrics.NewMetrics()

	store, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer cache.Close(store)
	store = cache.Instrument(store, m)

	validator, err := schema.NewValidator()
	if err != nil {
		return fmt.Errorf("failed to load cache schemas: %w", err)
	}

	// snapd over its unix socket, or a compatible TCP endpoint in development
	var sd *snapd.Client
	if cfg.SnapdURL != "" {
		sd = snapd.NewWithBaseURL(cfg.SnapdURL, nil)
	} else {
		sd = snapd.New(cfg.SnapdSocket)
	}

	ratings := odrs.New(odrs.Options{
		BaseURL:  cfg.ODRSURL,
		UserHash: cfg.ODRSUserHash,
		Distro:   cfg.ODRSDistro,
		Locale:   cfg.ODRSLocale,
	})

	pub := event.NewPublisher(cfg.NATSURL, m)
	defer pub.Close()

	mirror := media.Mirror(media.Passthrough{})
	if cfg.MirrorEnabled() {
		s3m, err := media.NewS3Mirror(context.Background(), cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket, cfg.S3AccessKey, cfg.S3SecretKey)
		if err != nil {
			return fmt.Errorf("failed to initialize media mirror: %w", err)
		}
		mirror = s3m
	}

	var verifier *auth.Verifier
	if cfg.AuthEnabled() {
		verifier = auth.NewVerifier(cfg.JWKSURL, cfg.JWTIssuer, cfg.JWTAudience)
	}

	pg, err := page.New(page.Options{
		Refresher:   odrs.WithRatings(snapd.NewBackend(sd), ratings, logger),
		Reviews:     ratings,
		Cache:       store,
		Validator:   validator,
		Publisher:   pub,
		Metrics:     m,
		Logger:      logger,
		ReviewLimit: cfg.ReviewLimit,
	})
	if err != nil {
		return err
	}
	defer pg.Close()

	handler := server.NewMux(server.Deps{
		Page:               pg,
		Catalog:            catalog.NewService(sd, store, logger),
		Installer:          sd,
		Cache:              store,
		Mirror:             mirror,
		Verifier:           verifier,
		Metrics:            m,
		Logger:             logger,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second, // Event streams lift this per request
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", addr, "env", cfg.Env, "cache", cfg.Cache, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Event streams end when the page closes its subscriptions
	pg.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server exited")
	return nil
}

// openCache opens the configured cache backend.
func openCache(cfg config.Config) (cache.Cache, error) {
	switch cfg.Cache {
	case config.CachePostgres:
		c, err := cache.NewPostgres(cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres cache: %w", err)
		}
		return c, nil
	case config.CacheMemory:
		slog.Warn("using in-memory cache; cached apps and reviews are lost on exit")
		return cache.NewMemory(), nil
	default:
		c, err := cache.NewFile(cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize file cache in %s: %w", cfg.CacheDir, err)
		}
		return c, nil
	}
}
