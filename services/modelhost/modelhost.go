// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package modelhost wires the model deployment service: build contexts go to
// GCS, builds are triggered through a webhook, and deployment records live
// in Badger.
package modelhost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/ConstellationAI/constellation/pkg/gcs"
	"github.com/ConstellationAI/constellation/pkg/observability"
	"github.com/ConstellationAI/constellation/pkg/storage/badger"
	"github.com/ConstellationAI/constellation/services/modelhost/deploy"
	"github.com/ConstellationAI/constellation/services/modelhost/handlers"
)

const serviceName = "modelhost-service"

// Config holds model host settings.
type Config struct {
	// Port is the HTTP port. Default: 8002
	Port         int
	GinMode      string
	OTelEndpoint string

	// BadgerPath holds deployment records. Empty keeps them in memory.
	BadgerPath string

	// GCSBucket receives build contexts. Empty writes them below ContextDir.
	GCSBucket          string
	GCSCredentialsFile string
	// ContextDir is the local build context root used without a bucket.
	// Default: ./build-contexts
	ContextDir string

	// BuildWebhookURL is the build system base URL. Empty uploads build
	// contexts without triggering builds.
	BuildWebhookURL   string
	BuildWebhookToken string
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8002
	}
	if cfg.ContextDir == "" {
		cfg.ContextDir = "./build-contexts"
	}
	return cfg
}

// Service is the model host lifecycle.
type Service struct {
	config        Config
	router        *gin.Engine
	db            *badger.DB
	gcsClient     *gcs.Client
	manager       *deploy.Manager
	tracerCleanup func(context.Context)
}

// New builds the service.
func New(cfg Config) (*Service, error) {
	s := &Service{config: applyConfigDefaults(cfg)}
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
		return nil, fmt.Errorf("failed to open deployment store: %w", err)
	}

	var uploader gcs.Uploader
	if s.config.GCSBucket == "" {
		slog.Info("No GCS bucket configured, writing build contexts locally", "dir", s.config.ContextDir)
		uploader = &gcs.DirUploader{Root: s.config.ContextDir}
	} else {
		s.gcsClient, err = gcs.NewClient(ctx, s.config.GCSBucket, s.config.GCSCredentialsFile)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create GCS client: %w", err)
		}
		uploader = s.gcsClient
	}

	var builder deploy.Builder
	if s.config.BuildWebhookURL != "" {
		builder = deploy.NewWebhookBuilder(s.config.BuildWebhookURL, s.config.BuildWebhookToken)
	}

	metrics := observability.Default()
	s.manager = deploy.NewManager(deploy.NewRegistry(s.db), uploader, builder, metrics)

	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery(), otelgin.Middleware(serviceName), metrics.GinMiddleware(serviceName))
	handlers.SetupRoutes(s.router, s.manager)
	return s, nil
}

// Run serves until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting model host server", "port", s.config.Port)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	slog.Info("Shutting down model host server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown error", "error", err)
	}
	return nil
}

func (s *Service) Router() *gin.Engine { return s.router }

func (s *Service) Manager() *deploy.Manager { return s.manager }

func (s *Service) Close() {
	if s.gcsClient != nil {
		if err := s.gcsClient.Close(); err != nil {
			slog.Warn("GCS client close error", "error", err)
		}
		s.gcsClient = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Warn("deployment store close error", "error", err)
		}
		s.db = nil
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}
