// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command modelhost starts the model deployment service.
//
// # Environment Variables
//
//   - PORT: HTTP server port (default: 8002)
//   - GCS_BUCKET, GCS_CREDENTIALS_FILE: build context destination (local ./build-contexts when unset)
//   - BADGER_PATH: deployment store directory (in-memory when unset)
//   - BUILD_WEBHOOK_URL, BUILD_WEBHOOK_TOKEN: image build system
//   - OTEL_EXPORTER_OTLP_ENDPOINT: collector address, or "stdout"
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ConstellationAI/constellation/pkg/config"
	"github.com/ConstellationAI/constellation/pkg/logging"
	"github.com/ConstellationAI/constellation/services/modelhost"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}

	logger := logging.New(logging.FromEnv("modelhost"))
	logger.SetDefault()
	defer logger.Close()

	cfg := modelhost.Config{
		Port:               config.Int("PORT", 8002),
		GinMode:            config.String("GIN_MODE", ""),
		OTelEndpoint:       config.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		BadgerPath:         config.String("BADGER_PATH", ""),
		GCSBucket:          config.String("GCS_BUCKET", ""),
		GCSCredentialsFile: config.String("GCS_CREDENTIALS_FILE", ""),
		ContextDir:         config.String("BUILD_CONTEXT_DIR", "./build-contexts"),
		BuildWebhookURL:    config.String("BUILD_WEBHOOK_URL", ""),
		BuildWebhookToken:  config.Secret("BUILD_WEBHOOK_TOKEN", "build_webhook_token", ""),
	}
	logger.Info("Starting model host", "port", cfg.Port, "gcs_bucket", cfg.GCSBucket, "build_webhook", cfg.BuildWebhookURL)

	svc, err := modelhost.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create model host: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("Model host error: %v", err)
	}
}
