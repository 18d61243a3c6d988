// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api wires the Constellation catalog API: the Postgres store, the
// vector index, the core managers, the orchestrator client, the agent crews
// and the HTTP routes.
//
// # Usage
//
//	cfg := api.Config{DatabaseURL: os.Getenv("DATABASE_URL"), OrchestratorURL: "http://orchestrator:8001"}
//	svc, err := api.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = svc.Run(ctx)
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/crypto/bcrypt"

	"github.com/ConstellationAI/constellation/pkg/extensions"
	"github.com/ConstellationAI/constellation/pkg/observability"
	"github.com/ConstellationAI/constellation/pkg/storage/badger"
	"github.com/ConstellationAI/constellation/services/agent"
	"github.com/ConstellationAI/constellation/services/api/core"
	"github.com/ConstellationAI/constellation/services/api/routes"
	"github.com/ConstellationAI/constellation/services/api/store"
	"github.com/ConstellationAI/constellation/services/api/vectors"
	"github.com/ConstellationAI/constellation/services/llm"
	"github.com/ConstellationAI/constellation/services/orchestrator/client"
	"github.com/ConstellationAI/constellation/services/orchestrator/ops"
)

const serviceName = "constellation-api"

// DefaultSecretKey is used when SECRET_KEY is unset. Deployments must
// override it.
const DefaultSecretKey = "default-secret-key"

// =============================================================================
// Configuration
// =============================================================================

// Config holds API settings. Zero values take defaults in
// applyConfigDefaults.
type Config struct {
	// Port is the HTTP port. Default: 8081
	Port         int
	GinMode      string
	OTelEndpoint string

	// DatabaseURL is the Postgres connection string.
	DatabaseURL string
	// AutoMigrate applies the schema on startup.
	AutoMigrate bool

	// SecretKey salts API key hashes. Default: DefaultSecretKey
	SecretKey string
	// BcryptCost hashes passwords. Default: bcrypt.DefaultCost
	BcryptCost int

	// WeaviateURL selects the Weaviate index. Empty uses an in-process index.
	WeaviateURL string

	// OrchestratorURL is the job runner. Empty disables pipeline runs.
	OrchestratorURL   string
	OrchestratorToken string
	// PublicURL is where the orchestrator reports run completion.
	PublicURL string
	// ServiceToken is accepted as a bearer token from internal callers such
	// as the orchestrator's status callback. Empty accepts API keys only.
	ServiceToken string

	// OpenAI configures the LLM used by embeddings and the agent crews. No
	// API key disables both.
	OpenAI llm.OpenAIConfig

	// BadgerPath holds agent sessions. Empty keeps them in memory.
	BadgerPath string
	// SessionTTL expires idle agent sessions. Default: 24h
	SessionTTL time.Duration
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8081
	}
	if cfg.SecretKey == "" {
		cfg.SecretKey = DefaultSecretKey
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	return cfg
}

// DefaultAuthzRules restricts user deletion and audit listing to admins.
func DefaultAuthzRules() map[string][]string {
	return map[string][]string{
		"delete:user":    {extensions.RoleAdmin},
		"list:audit_log": {extensions.RoleAdmin},
	}
}

// =============================================================================
// Orchestrator runner
// =============================================================================

// OrchestratorRunner adapts the orchestrator client to core.Runner. Payloads
// the orchestrator rejects surface as core.ErrInvalidInput.
type OrchestratorRunner struct {
	Client *client.Client
}

func (r *OrchestratorRunner) Execute(ctx context.Context, instructions any) (string, error) {
	runID, err := r.Client.Execute(ctx, instructions)
	if errors.Is(err, client.ErrRejected) {
		return "", fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}
	return runID, err
}

var _ core.Runner = (*OrchestratorRunner)(nil)

// =============================================================================
// Service
// =============================================================================

// Service is the API server lifecycle.
type Service struct {
	config        Config
	router        *gin.Engine
	store         *store.Store
	pool          *pgxpool.Pool
	sessionsDB    *badger.DB
	tracerCleanup func(context.Context)
}

// New connects to Postgres and builds the service. opts nil authenticates
// with API keys (plus ServiceToken when set), applies DefaultAuthzRules and
// logs security events through slog.
func New(cfg Config, opts *extensions.ServiceOptions) (*Service, error) {
	cfg = applyConfigDefaults(cfg)
	ctx := context.Background()

	st, pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.AutoMigrate {
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	s, err := newService(ctx, cfg, st, opts)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.pool = pool
	return s, nil
}

func newService(ctx context.Context, cfg Config, st *store.Store, opts *extensions.ServiceOptions) (*Service, error) {
	s := &Service{config: applyConfigDefaults(cfg), store: st}

	if s.config.OTelEndpoint != "" {
		cleanup, err := observability.InitTracer(ctx, serviceName, s.config.OTelEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	metrics := observability.Default()
	index := s.initIndex(ctx)

	llmClient, err := llm.NewOpenAIClient(s.config.OpenAI)
	if errors.Is(err, llm.ErrNoAPIKey) {
		slog.Warn("OPENAI_API_KEY not set, text embedding and agents are disabled")
		llmClient = nil
	} else if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	var embedder vectors.Embedder
	if llmClient != nil {
		embedder = llmClient
	}
	blocks := core.NewBlockManager(st, index, embedder, metrics)

	var runner core.Runner
	if s.config.OrchestratorURL != "" {
		clientOpts := []client.Option{client.WithToken(s.config.OrchestratorToken)}
		if s.config.PublicURL != "" {
			clientOpts = append(clientOpts, client.WithCallbackURL(s.config.PublicURL))
		}
		runner = &OrchestratorRunner{Client: client.New(s.config.OrchestratorURL, clientOpts...)}
	} else {
		slog.Warn("ORCHESTRATOR_URL not set, pipeline runs are disabled")
	}

	apiKeys := core.NewAPIKeyManager(st, []byte(s.config.SecretKey), metrics)
	deps := routes.Deps{
		DB:        st,
		Blocks:    blocks,
		Edges:     core.NewEdgeManager(st, metrics),
		Pipelines: core.NewPipelineManager(st, runner, metrics).WithIndex(index),
		Audit:     core.NewAuditManager(st, metrics),
		Users:     core.NewUserManager(st, s.config.BcryptCost, metrics),
		APIKeys:   apiKeys,
		Papers:    core.NewPaperManager(st),
	}

	if llmClient != nil {
		if err := s.initAgents(&deps, llmClient, blocks); err != nil {
			s.Close()
			return nil, err
		}
	}

	var serviceOpts extensions.ServiceOptions
	if opts != nil {
		serviceOpts = opts.Normalize()
	} else {
		serviceOpts = s.defaultOptions(apiKeys)
	}

	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery(), otelgin.Middleware(serviceName), metrics.GinMiddleware(serviceName))
	routes.SetupRoutes(s.router, deps, serviceOpts)
	return s, nil
}

func (s *Service) initIndex(ctx context.Context) vectors.Index {
	if s.config.WeaviateURL == "" {
		slog.Info("No Weaviate URL configured, using in-process vector index")
		return vectors.NewMemoryIndex()
	}
	index, err := vectors.NewWeaviateIndex(s.config.WeaviateURL)
	if err != nil {
		slog.Warn("Weaviate unavailable, using in-process vector index", "error", err)
		return vectors.NewMemoryIndex()
	}
	if err := index.EnsureSchema(ctx); err != nil {
		slog.Warn("Failed to ensure Weaviate schema", "error", err)
	}
	return index
}

func (s *Service) initAgents(deps *routes.Deps, client *llm.OpenAIClient, blocks *core.BlockManager) error {
	planner, err := agent.NewPlanningCrew(client, ops.Default())
	if err != nil {
		return fmt.Errorf("failed to create planning crew: %w", err)
	}
	researcher, err := agent.NewResearchCrew(client, client, blocks)
	if err != nil {
		return fmt.Errorf("failed to create research crew: %w", err)
	}

	if s.config.BadgerPath == "" {
		s.sessionsDB, err = badger.OpenInMemory()
	} else {
		s.sessionsDB, err = badger.Open(badger.DefaultConfig(s.config.BadgerPath))
	}
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}

	deps.Planner = planner
	deps.Researcher = researcher
	deps.Sessions = agent.NewSessionStore(s.sessionsDB, s.config.SessionTTL)
	return nil
}

func (s *Service) defaultOptions(apiKeys *core.APIKeyManager) extensions.ServiceOptions {
	var chain extensions.ChainAuthProvider
	if s.config.ServiceToken != "" {
		chain = append(chain, &extensions.StaticTokenProvider{Token: s.config.ServiceToken, Caller: "orchestrator"})
	}
	chain = append(chain, apiKeys)

	return extensions.DefaultOptions().
		WithAuth(chain).
		WithAuthz(extensions.NewRoleAuthzProvider(DefaultAuthzRules())).
		WithSecurityLogger(&extensions.SlogSecurityLogger{})
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
		slog.Info("Starting API server", "port", s.config.Port)
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
	slog.Info("Shutting down API server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown error", "error", err)
	}
	return nil
}

func (s *Service) Router() *gin.Engine { return s.router }

// Close releases the database pool, the session store and the tracer.
func (s *Service) Close() {
	if s.sessionsDB != nil {
		if err := s.sessionsDB.Close(); err != nil {
			slog.Warn("session store close error", "error", err)
		}
		s.sessionsDB = nil
	}
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}
