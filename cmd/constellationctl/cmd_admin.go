// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/ConstellationAI/constellation/services/api"
	"github.com/ConstellationAI/constellation/services/api/core"
	"github.com/ConstellationAI/constellation/services/api/datatypes"
	"github.com/ConstellationAI/constellation/services/api/store"
)

const cliActor = "constellationctl"

// openStore is swapped in tests.
var openStore = func(ctx context.Context) (*store.Store, func(), error) {
	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("no database: set database.url or DATABASE_URL")
	}
	st, pool, err := store.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	return st, pool.Close, nil
}

func secretKey() []byte {
	if cfg.Database.SecretKey == "" {
		printer.Warning("SECRET_KEY not set, hashing with the development default")
		return []byte(api.DefaultSecretKey)
	}
	return []byte(cfg.Database.SecretKey)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	st, closeDB, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer closeDB()
	return printer.WithSpinner("Applying schema", func() error {
		return st.Migrate(cmd.Context())
	})
}

func runUserCreate(cmd *cobra.Command, _ []string) error {
	password := userPassword
	if password == "" {
		password = os.Getenv("CONSTELLATION_PASSWORD")
	}
	if password == "" {
		return fmt.Errorf("no password: pass --password or set CONSTELLATION_PASSWORD")
	}

	st, closeDB, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer closeDB()

	users := core.NewUserManager(st, bcrypt.DefaultCost, nil)
	u, err := users.Create(cmd.Context(), cliActor, &datatypes.UserCreateRequest{
		Username: userName,
		Email:    userEmail,
		Password: password,
		Role:     userRole,
	})
	if err != nil {
		return err
	}
	printer.Success("created user " + u.Username)
	printer.Fields(map[string]string{
		"id":   u.ID.String(),
		"role": string(u.Role),
	})
	return nil
}

func runAPIKeyCreate(cmd *cobra.Command, _ []string) error {
	uid, err := uuid.Parse(keyUserID)
	if err != nil {
		return fmt.Errorf("invalid --user: %w", err)
	}

	st, closeDB, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer closeDB()

	keys := core.NewAPIKeyManager(st, secretKey(), nil)
	created, err := keys.Create(cmd.Context(), cliActor, uid, &datatypes.APIKeyCreateRequest{ExpiresInDays: keyDays})
	if err != nil {
		return err
	}
	printer.Success("issued API key " + created.ID.String())
	printer.Warning("the key is shown once")
	printer.Box("api_key", created.Key)
	return nil
}
