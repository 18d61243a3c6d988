// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the Constellation job runner.
//
// # Environment Variables
//
//   - PORT: HTTP server port (default: 8001)
//   - MODEL_ENDPOINT: model host base URL for deploy/delete/inference ops
//   - GCS_BUCKET, GCS_CREDENTIALS_FILE: export destination (local ./exports when unset)
//   - BADGER_PATH: run store directory (in-memory when unset)
//   - RUN_WORK_DIR: parent of per-run working directories (default: ./runs)
//   - RUN_RETENTION: how long run records and directories are kept (default: 168h)
//   - OP_TIMEOUT, RUN_TIMEOUT, MAX_PARALLEL_OPS: engine limits
//   - MAX_CONCURRENT_RUNS: runs executing at once, the rest wait queued (default: 4)
//   - API_URL, API_TOKEN: completion callback target and bearer token
//   - CALLBACK_ALLOWED_ORIGINS: comma-separated extra origins a request's callback_url may use
//   - ORCHESTRATOR_TOKEN: token required on /v1 (open when unset)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: collector address, or "stdout"
//
// # Usage
//
//	go build -o orchestrator ./cmd/orchestrator
//	PORT=8001 MODEL_ENDPOINT=http://localhost:8002 ./orchestrator
package main

import (
	"context"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ConstellationAI/constellation/pkg/config"
	"github.com/ConstellationAI/constellation/pkg/logging"
	"github.com/ConstellationAI/constellation/services/orchestrator"
	"github.com/ConstellationAI/constellation/services/orchestrator/engine"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}

	logger := logging.New(logging.FromEnv("orchestrator"))
	logger.SetDefault()
	defer logger.Close()

	cfg := orchestrator.Config{
		Port:               config.Int("PORT", 8001),
		GinMode:            config.String("GIN_MODE", ""),
		OTelEndpoint:       config.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		BadgerPath:         config.String("BADGER_PATH", ""),
		RunRetention:       config.Duration("RUN_RETENTION", 0),
		WorkDir:            config.String("RUN_WORK_DIR", "./runs"),
		OpTimeout:          config.Duration("OP_TIMEOUT", engine.DefaultOpTimeout),
		RunTimeout:         config.Duration("RUN_TIMEOUT", engine.DefaultRunTimeout),
		MaxParallel:        config.Int("MAX_PARALLEL_OPS", 0),
		MaxRuns:            config.Int("MAX_CONCURRENT_RUNS", 0),
		ModelEndpoint:      config.String("MODEL_ENDPOINT", ""),
		DriveURL:           config.String("GOOGLE_DRIVE_URL", ""),
		GCSBucket:          config.String("GCS_BUCKET", ""),
		GCSCredentialsFile: config.String("GCS_CREDENTIALS_FILE", ""),
		ExportDir:          config.String("EXPORT_DIR", "./exports"),
		CallbackURL:        config.String("API_URL", ""),
		CallbackToken:      config.Secret("API_TOKEN", "api_token", ""),
		CallbackOrigins:    splitList(config.String("CALLBACK_ALLOWED_ORIGINS", "")),
		ServiceToken:       config.Secret("ORCHESTRATOR_TOKEN", "orchestrator_token", ""),
	}

	logger.Info("Starting orchestrator",
		"port", cfg.Port,
		"model_endpoint", cfg.ModelEndpoint,
		"gcs_bucket", cfg.GCSBucket,
		"callback_url", cfg.CallbackURL,
	)

	svc, err := orchestrator.New(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}
