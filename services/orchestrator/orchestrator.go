// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator wires the job runner service: the op registry, the
// execution engine, the Badger run store, the completion callback and the
// HTTP API.
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 8001, ModelEndpoint: "http://modelhost:8002"}
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = svc.Run(ctx)
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/ConstellationAI/constellation/pkg/extensions"
	"github.com/ConstellationAI/constellation/pkg/gcs"
	"github.com/ConstellationAI/constellation/pkg/observability"
	"github.com/ConstellationAI/constellation/pkg/storage/badger"
	"github.com/ConstellationAI/constellation/services/orchestrator/engine"
	"github.com/ConstellationAI/constellation/services/orchestrator/jobs"
	"github.com/ConstellationAI/constellation/services/orchestrator/ops"
	"github.com/ConstellationAI/constellation/services/orchestrator/routes"
	"github.com/ConstellationAI/constellation/services/orchestrator/runs"
	"github.com/ConstellationAI/constellation/services/orchestrator/ttl"
)

const serviceName = "orchestrator-service"

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the orchestrator lifecycle.
//
// # Thread Safety
//
// Run blocks and is called once per instance.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the listener fails, then
	// drains in-flight runs and releases resources.
	Run(ctx context.Context) error

	// Router returns the configured engine for tests.
	Router() *gin.Engine

	// Jobs returns the run manager.
	Jobs() *jobs.Manager

	// Close releases resources without serving. Safe after Run.
	Close()
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator settings. Zero values take defaults in
// applyConfigDefaults.
type Config struct {
	// Port is the HTTP port. Default: 8001
	Port int
	// GinMode is passed to gin.SetMode when set.
	GinMode string
	// OTelEndpoint is the OTLP gRPC collector, "stdout", or "" for no tracing.
	OTelEndpoint string

	// BadgerPath holds run records. Empty keeps them in memory.
	BadgerPath string
	// RunRetention expires run records and working directories. Default: 7 days
	RunRetention time.Duration
	// CleanupInterval is how often old working directories are swept. Default: 1h
	CleanupInterval time.Duration

	// WorkDir is the parent of per-run directories. Default: ./runs
	WorkDir string
	// OpTimeout bounds one op. Default: engine.DefaultOpTimeout
	OpTimeout time.Duration
	// RunTimeout bounds a whole run. Default: engine.DefaultRunTimeout
	RunTimeout time.Duration
	// MaxParallel caps concurrent ops per level. 0 means no cap.
	MaxParallel int
	// MaxRuns caps concurrently executing runs. 0 means jobs.DefaultMaxRuns.
	MaxRuns int

	// ModelEndpoint is the model host base URL used by the model ops.
	ModelEndpoint string
	// DriveURL overrides the Google Drive download endpoint.
	DriveURL string
	// GCSBucket receives exports. Empty writes them below ExportDir.
	GCSBucket          string
	GCSCredentialsFile string
	// ExportDir is the local export root used without a bucket. Default: ./exports
	ExportDir string

	// CallbackURL is the API base URL notified when runs finish. Empty
	// disables callbacks unless a request names an allowed one.
	CallbackURL string
	// CallbackToken is sent as the bearer token on callbacks.
	CallbackToken string
	// CallbackOrigins are extra origins a request's callback_url may use
	// besides CallbackURL's own.
	CallbackOrigins []string
	// ServiceToken protects /v1 when opts carries no AuthProvider. Empty
	// leaves it open.
	ServiceToken string
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8001
	}
	if cfg.RunRetention == 0 {
		cfg.RunRetention = 7 * 24 * time.Hour
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "./runs"
	}
	if cfg.ExportDir == "" {
		cfg.ExportDir = "./exports"
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config        Config
	opts          extensions.ServiceOptions
	router        *gin.Engine
	db            *badger.DB
	gcsClient     *gcs.Client
	manager       *jobs.Manager
	cleaner       *ttl.Scheduler
	tracerCleanup func(context.Context)
}

// New builds the service. opts nil uses a StaticTokenProvider over
// cfg.ServiceToken.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	if opts != nil {
		s.opts = opts.Normalize()
	} else {
		s.opts = extensions.DefaultOptions().WithAuth(&extensions.StaticTokenProvider{Token: s.config.ServiceToken, Caller: "api"})
	}

	ctx := context.Background()
	if s.config.OTelEndpoint != "" {
		cleanup, err := observability.InitTracer(ctx, serviceName, s.config.OTelEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	var err error
	if s.config.BadgerPath == "" {
		s.db, err = badger.OpenInMemory()
	} else {
		s.db, err = badger.Open(badger.DefaultConfig(s.config.BadgerPath))
	}
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}

	uploader, err := s.initUploader(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}

	metrics := observability.Default()
	eng := engine.New(ops.Default(), engine.Config{
		OpTimeout:     s.config.OpTimeout,
		RunTimeout:    s.config.RunTimeout,
		MaxParallel:   s.config.MaxParallel,
		WorkDir:       s.config.WorkDir,
		ModelEndpoint: s.config.ModelEndpoint,
		DriveURL:      s.config.DriveURL,
		Uploader:      uploader,
	}, metrics)

	var notifier jobs.Notifier = jobs.NewHTTPNotifier(s.config.CallbackURL, s.config.CallbackToken, s.config.CallbackOrigins...)
	s.manager = jobs.NewManager(eng, runs.NewStore(s.db, s.config.RunRetention), runs.NewBroker(), notifier, s.config.MaxRuns)

	s.cleaner = ttl.NewScheduler(&ttl.Sweeper{Root: s.config.WorkDir, MaxAge: s.config.RunRetention}, s.config.CleanupInterval)

	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery(), otelgin.Middleware(serviceName), metrics.GinMiddleware(serviceName))
	routes.SetupRoutes(s.router, s.manager, s.opts)

	return s, nil
}

func (s *service) initUploader(ctx context.Context) (gcs.Uploader, error) {
	if s.config.GCSBucket == "" {
		slog.Info("No GCS bucket configured, exporting to local directory", "dir", s.config.ExportDir)
		return &gcs.DirUploader{Root: s.config.ExportDir}, nil
	}
	client, err := gcs.NewClient(ctx, s.config.GCSBucket, s.config.GCSCredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	s.gcsClient = client
	return client, nil
}

// Run serves until ctx ends.
func (s *service) Run(ctx context.Context) error {
	defer s.Close()

	if err := s.cleaner.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting orchestrator server", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	slog.Info("Shutting down orchestrator server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown error", "error", err)
	}
	if err := s.manager.Shutdown(shutdownCtx); err != nil {
		slog.Warn("in-flight runs did not finish", "error", err)
	}
	return nil
}

func (s *service) Router() *gin.Engine { return s.router }

func (s *service) Jobs() *jobs.Manager { return s.manager }

func (s *service) Close() {
	if s.cleaner != nil {
		s.cleaner.Stop()
	}
	if s.gcsClient != nil {
		if err := s.gcsClient.Close(); err != nil {
			slog.Warn("GCS client close error", "error", err)
		}
		s.gcsClient = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Warn("run store close error", "error", err)
		}
		s.db = nil
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}

var _ Service = (*service)(nil)
