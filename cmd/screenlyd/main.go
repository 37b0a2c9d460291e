package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dgaz9/screenly/internal/adapter"
	"github.com/dgaz9/screenly/internal/api/middleware"
	"github.com/dgaz9/screenly/internal/api/rest"
	"github.com/dgaz9/screenly/internal/api/server"
	"github.com/dgaz9/screenly/internal/api/shared/executor"
	"github.com/dgaz9/screenly/internal/archive"
	"github.com/dgaz9/screenly/internal/config"
	"github.com/dgaz9/screenly/internal/downloader"
	"github.com/dgaz9/screenly/internal/logger"
	"github.com/dgaz9/screenly/internal/media"
	"github.com/dgaz9/screenly/internal/media/ffprobe"
	natspub "github.com/dgaz9/screenly/internal/providers/nats"
	"github.com/dgaz9/screenly/internal/resolver"
	"github.com/dgaz9/screenly/internal/store"
	"github.com/dgaz9/screenly/internal/sweeper"
	"github.com/dgaz9/screenly/internal/uploads"
	"github.com/dgaz9/screenly/internal/uri"
)

// checkerHTTPTimeout bounds the reachability probe for submitted uris.
// Downloads run on their own client bounded by the resolver job timeout.
const checkerHTTPTimeout = 30 * time.Second

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags: map[string]string{
			"service": "screenlyd",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting screenlyd")

	// Connect to database
	if cfg.Database.Driver == config.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			logger.FatalCtx(ctx, "Failed to create database directory", zap.Error(err), zap.String("path", cfg.Database.Path))
		}
	}
	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err), zap.String("driver", cfg.Database.Driver))
	}

	// Configure connection pool
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}

	// Migrate schema
	if err := store.AutoMigrate(db); err != nil {
		logger.FatalCtx(ctx, "Failed to migrate database schema", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database", zap.String("driver", cfg.Database.Driver))

	// Initialize store
	dataStore := store.NewStore(db)

	// Initialize adapters
	fs := adapter.NewFileSystem()
	jsonAdapter := adapter.NewJSON()
	jcsAdapter := adapter.NewJCS()
	clock := adapter.NewClock()

	// Initialize managed media directory
	mediaDir, err := media.NewDir(cfg.Media.Dir, fs)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to initialize media directory", zap.Error(err), zap.String("dir", cfg.Media.Dir))
	}
	logger.InfoCtx(ctx, "Media directory ready", zap.String("dir", cfg.Media.Dir))

	// Initialize media tooling
	prober := ffprobe.NewProber(cfg.Media.FFprobeBinary, cfg.Media.ProbeTimeout)
	checker := uri.NewChecker(adapter.NewHTTPClient(checkerHTTPTimeout))
	dl := downloader.NewDownloader(adapter.NewHTTPClient(cfg.Resolver.JobTimeout), fs, cfg.Resolver.MaxVideoSize)
	ingestor := uploads.NewIngestor(mediaDir, fs)

	// Initialize backup archiver
	archiver, err := archive.New(dataStore, mediaDir, cfg.Backup.Dir, fs, jsonAdapter, jcsAdapter, clock)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to initialize backup archiver", zap.Error(err), zap.String("dir", cfg.Backup.Dir))
	}

	// Connect to NATS for viewer commands
	publisher, err := natspub.NewPublisher(natspub.Config{
		URL:            cfg.NATS.URL,
		Subject:        cfg.NATS.Subject,
		MaxReconnects:  cfg.NATS.MaxReconnects,
		ReconnectWait:  cfg.NATS.ReconnectWait,
		ConnectionName: cfg.NATS.ConnectionName,
	}, adapter.NewNatsConnector())
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to NATS", zap.Error(err), zap.String("url", cfg.NATS.URL))
	}
	defer publisher.Close()
	logger.InfoCtx(ctx, "Viewer command publisher ready", zap.String("subject", cfg.NATS.Subject))

	// Start the remote video resolver
	resolverService := resolver.NewService(resolver.Config{
		Workers:    cfg.Resolver.Workers,
		QueueSize:  cfg.Resolver.QueueSize,
		JobTimeout: cfg.Resolver.JobTimeout,
	}, dataStore, dl, mediaDir, prober, clock)

	// Start the processing reconciler
	reconciler := sweeper.NewProcessingReconciler(&sweeper.ProcessingReconcilerConfig{
		Interval:           cfg.Sweeper.Interval,
		ProcessingDeadline: cfg.Sweeper.ProcessingDeadline,
	}, dataStore, clock)

	sweeperErrCh := make(chan error, 1)
	go func() {
		if err := reconciler.Start(ctx); err != nil {
			sweeperErrCh <- err
		}
	}()

	// Compose the catalog executor and REST handler
	exec := executor.NewExecutor(
		dataStore,
		mediaDir,
		checker,
		prober,
		ingestor,
		archiver,
		resolverService,
		publisher,
		clock,
		fs,
	)
	restHandler := rest.NewHandler(exec, clock)

	// Create server config
	serverConfig := server.Config{
		Debug:        cfg.Debug,
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}
	authConfig := middleware.AuthConfig{
		JWTPublicKey: cfg.Auth.JWTPublicKey,
		APIKeys:      cfg.Auth.APIKeys,
	}

	// Create and start server
	srv := server.New(serverConfig, restHandler, authConfig)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the daemon
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "server"))
	case err := <-sweeperErrCh:
		logger.ErrorCtx(ctx, err, zap.String("component", reconciler.Name()))
	}
	cancel()

	// Create shutdown context with timeout (don't use canceled ctx)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.InfoCtx(shutdownCtx, "Shutting down...")

	// Stop the reconciler
	if err := reconciler.Stop(shutdownCtx); err != nil {
		logger.ErrorCtx(shutdownCtx, err, zap.String("component", reconciler.Name()))
	}

	// Shutdown server
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorCtx(shutdownCtx, err, zap.String("component", "server"))
	}

	// Drain in-flight resolutions
	resolverService.StopAndWait()

	// Use non-context logger for final message since original ctx is canceled
	logger.Info("screenlyd stopped")
}
