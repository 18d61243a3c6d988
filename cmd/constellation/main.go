// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command constellation starts the catalog API server.
//
// # Environment Variables
//
//   - PORT: HTTP server port (default: 8081)
//   - DATABASE_URL: Postgres connection string (required)
//   - AUTO_MIGRATE: apply the schema on startup (default: false)
//   - SECRET_KEY: API key hashing secret (default: default-secret-key)
//   - WEAVIATE_URL: vector database (in-process index when unset)
//   - OPENAI_API_KEY, OPENAI_MODEL, OPENAI_EMBEDDING_MODEL: LLM and embeddings
//   - ORCHESTRATOR_URL, ORCHESTRATOR_TOKEN: job runner and its bearer token
//   - PUBLIC_URL: base URL the orchestrator calls back on run completion
//   - API_TOKEN: bearer token accepted from internal callers
//   - BADGER_PATH, SESSION_TTL: agent session store
//   - OTEL_EXPORTER_OTLP_ENDPOINT: collector address, or "stdout"
//
// # Usage
//
//	go build -o constellation ./cmd/constellation
//	DATABASE_URL=postgres://localhost/constellation ./constellation
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ConstellationAI/constellation/pkg/config"
	"github.com/ConstellationAI/constellation/pkg/logging"
	"github.com/ConstellationAI/constellation/services/api"
	"github.com/ConstellationAI/constellation/services/llm"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}

	logger := logging.New(logging.FromEnv("constellation"))
	logger.SetDefault()
	defer logger.Close()

	cfg := api.Config{
		Port:              config.Int("PORT", 8081),
		GinMode:           config.String("GIN_MODE", ""),
		OTelEndpoint:      config.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		DatabaseURL:       config.Secret("DATABASE_URL", "database_url", ""),
		AutoMigrate:       config.Bool("AUTO_MIGRATE", false),
		SecretKey:         config.Secret("SECRET_KEY", "secret_key", api.DefaultSecretKey),
		WeaviateURL:       config.String("WEAVIATE_URL", ""),
		OrchestratorURL:   config.String("ORCHESTRATOR_URL", ""),
		OrchestratorToken: config.Secret("ORCHESTRATOR_TOKEN", "orchestrator_token", ""),
		PublicURL:         config.String("PUBLIC_URL", ""),
		ServiceToken:      config.Secret("API_TOKEN", "api_token", ""),
		OpenAI:            llm.OpenAIConfigFromEnv(),
		BadgerPath:        config.String("BADGER_PATH", ""),
		SessionTTL:        config.Duration("SESSION_TTL", 0),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if cfg.SecretKey == api.DefaultSecretKey {
		logger.Warn("SECRET_KEY not set, using the default; API keys are not portable to a secured deployment")
	}

	logger.Info("Starting Constellation API",
		"port", cfg.Port,
		"orchestrator_url", cfg.OrchestratorURL,
		"weaviate_url", cfg.WeaviateURL,
	)

	svc, err := api.New(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create API service: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("API server error: %v", err)
	}
}
