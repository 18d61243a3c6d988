// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	envcfg "github.com/ConstellationAI/constellation/pkg/config"
)

// DefaultPath is ~/.constellation/constellationctl.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".constellation", "constellationctl.yaml"), nil
}

// LoadFrom reads one config file, creating it with defaults when missing,
// then applies environment overrides.
//
// # Inputs
//
//   - path: Config file location.
//
// # Outputs
//
//   - CtlConfig: Parsed config with DATABASE_URL, SECRET_KEY,
//     ORCHESTRATOR_URL, ORCHESTRATOR_TOKEN and OPENAI_API_KEY applied.
//   - error: Unreadable or malformed file.
func LoadFrom(path string) (CtlConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Info("First run detected, creating the config", "path", path)
		if err := createDefault(path); err != nil {
			return CtlConfig{}, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return CtlConfig{}, fmt.Errorf("failed to read the config file %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return CtlConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *CtlConfig) {
	cfg.Database.URL = envcfg.String("DATABASE_URL", cfg.Database.URL)
	cfg.Database.SecretKey = envcfg.Secret("SECRET_KEY", "secret_key", cfg.Database.SecretKey)
	cfg.Orchestrator.URL = envcfg.String("ORCHESTRATOR_URL", cfg.Orchestrator.URL)
	cfg.Orchestrator.Token = envcfg.Secret("ORCHESTRATOR_TOKEN", "orchestrator_token", cfg.Orchestrator.Token)
	cfg.OpenAI.APIKey = envcfg.String("OPENAI_API_KEY", cfg.OpenAI.APIKey)
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
