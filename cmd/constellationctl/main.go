// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command constellationctl is the operator CLI.
//
// # Usage
//
//	constellationctl scrape --topic "graph neural networks" --max-results 50
//	constellationctl embed-pdf paper.pdf --query "attention heads"
//	constellationctl plan --query "classify my images" --blocks-file blocks.json --out plan.json
//	constellationctl run plan.json
//	constellationctl submit plan.json --wait
//	constellationctl migrate
//	constellationctl user create --username admin --email admin@example.com --role admin
//	constellationctl apikey create --user <user-id>
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	pkgconfig "github.com/ConstellationAI/constellation/pkg/config"
)

func main() {
	if err := pkgconfig.LoadDotEnv(); err != nil {
		printer.Error(err.Error())
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		printer.Error(err.Error())
		os.Exit(1)
	}
}
