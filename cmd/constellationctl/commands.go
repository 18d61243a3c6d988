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
	"os"

	"github.com/spf13/cobra"

	"github.com/ConstellationAI/constellation/cmd/constellationctl/config"
	"github.com/ConstellationAI/constellation/pkg/logging"
	"github.com/ConstellationAI/constellation/pkg/ux"
)

var (
	cfg     config.CtlConfig
	printer = ux.NewPrinter(nil, nil, ux.ModePlain)
	logger  *logging.Logger

	// --- Global flags ---
	configPath string
	outputMode string
	verbose    bool

	// --- scrape ---
	scrapeTopics     []string
	scrapeMaxResults int
	scrapeOutDir     string
	scrapeStart      string
	scrapeEnd        string
	scrapeCatalog    bool

	// --- embed-pdf ---
	embedQuery string
	embedTopK  int
	embedOut   string

	// --- plan ---
	planQuery      string
	planBlocksFile string
	planOut        string

	// --- submit ---
	submitWait     bool
	submitInterval int

	// --- user / apikey ---
	userName     string
	userEmail    string
	userPassword string
	userRole     string
	keyUserID    string
	keyDays      int

	rootCmd = &cobra.Command{
		Use:   "constellationctl",
		Short: "Operator tool for Constellation",
		Long: `constellationctl drives the Constellation platform from a terminal.
It scrapes arXiv, embeds PDFs, plans and runs pipelines, and administers
the catalog database.`,
		PersistentPreRunE: setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if logger != nil {
				_ = logger.Close()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// --- Papers ---
	scrapeCmd = &cobra.Command{
		Use:   "scrape",
		Short: "Download arXiv metadata for one or more topics",
		RunE:  runScrape,
	}
	embedCmd = &cobra.Command{
		Use:   "embed-pdf <file.pdf>",
		Short: "Embed a PDF's paragraphs and optionally rank them against a query",
		Args:  cobra.ExactArgs(1),
		RunE:  runEmbedPDF,
	}

	// --- Pipelines ---
	runCmd = &cobra.Command{
		Use:   "run <instructions.json>",
		Short: "Run pipeline instructions locally",
		Args:  cobra.ExactArgs(1),
		RunE:  runLocal,
	}
	submitCmd = &cobra.Command{
		Use:   "submit <instructions.json>",
		Short: "Submit pipeline instructions to the orchestrator",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubmit,
	}
	statusCmd = &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show one orchestrator run, or the most recent runs",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatus,
	}
	opsCmd = &cobra.Command{
		Use:   "ops",
		Short: "List the operations pipelines may use",
		RunE:  runOps,
	}
	planCmd = &cobra.Command{
		Use:   "plan",
		Short: "Ask the planning agent for pipeline instructions",
		RunE:  runPlan,
	}

	// --- Administration ---
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply the catalog schema",
		RunE:  runMigrate,
	}
	userCmd = &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	userCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Create a user, e.g. the first admin",
		RunE:  runUserCreate,
	}
	apikeyCmd = &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	apikeyCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Issue an API key for a user",
		RunE:  runAPIKeyCreate,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.constellation/constellationctl.yaml)")
	pf.StringVarP(&outputMode, "output", "o", "", "output style: styled, plain or machine")
	pf.BoolVarP(&verbose, "verbose", "v", false, "log debug detail to stderr")

	scrapeCmd.Flags().StringSliceVarP(&scrapeTopics, "topic", "t", nil, "topic to search (repeatable, default from config)")
	scrapeCmd.Flags().IntVar(&scrapeMaxResults, "max-results", 0, "results per topic")
	scrapeCmd.Flags().StringVar(&scrapeOutDir, "out", "", "directory for paper JSON files")
	scrapeCmd.Flags().StringVar(&scrapeStart, "start", "", "earliest publication date, YYYY-MM-DD")
	scrapeCmd.Flags().StringVar(&scrapeEnd, "end", "", "latest publication date, YYYY-MM-DD")
	scrapeCmd.Flags().BoolVar(&scrapeCatalog, "catalog", false, "also store papers in the catalog database")

	embedCmd.Flags().StringVarP(&embedQuery, "query", "q", "", "rank paragraphs against this query")
	embedCmd.Flags().IntVar(&embedTopK, "top", 5, "matches to show")
	embedCmd.Flags().StringVar(&embedOut, "out", "", "write paragraph embeddings as JSON")

	submitCmd.Flags().BoolVarP(&submitWait, "wait", "w", false, "poll until the run finishes")
	submitCmd.Flags().IntVar(&submitInterval, "interval", 2, "seconds between polls")

	planCmd.Flags().StringVarP(&planQuery, "query", "q", "", "what the pipeline should do")
	planCmd.Flags().StringVar(&planBlocksFile, "blocks-file", "", "JSON array of blocks to plan over")
	planCmd.Flags().StringVar(&planOut, "out", "", "write the instructions to this file")
	_ = planCmd.MarkFlagRequired("query")

	userCreateCmd.Flags().StringVar(&userName, "username", "", "login name")
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "email address")
	userCreateCmd.Flags().StringVar(&userPassword, "password", "", "password (default $CONSTELLATION_PASSWORD)")
	userCreateCmd.Flags().StringVar(&userRole, "role", "user", "admin or user")
	_ = userCreateCmd.MarkFlagRequired("username")
	_ = userCreateCmd.MarkFlagRequired("email")

	apikeyCreateCmd.Flags().StringVar(&keyUserID, "user", "", "owning user id")
	apikeyCreateCmd.Flags().IntVar(&keyDays, "days", 0, "lifetime in days (default 30)")
	_ = apikeyCreateCmd.MarkFlagRequired("user")

	userCmd.AddCommand(userCreateCmd)
	apikeyCmd.AddCommand(apikeyCreateCmd)
	rootCmd.AddCommand(scrapeCmd, embedCmd, runCmd, submitCmd, statusCmd, opsCmd, planCmd, migrateCmd, userCmd, apikeyCmd)
}

// setup loads the config and prepares the printer and logger.
func setup(cmd *cobra.Command, _ []string) error {
	path := configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}

	lc := logging.FromEnv("constellationctl")
	lc.Output = cmd.ErrOrStderr()
	if os.Getenv("LOG_FORMAT") == "" {
		lc.Format = logging.FormatText
	}
	if verbose {
		lc.Level = logging.LevelDebug
	} else if os.Getenv("LOG_LEVEL") == "" {
		lc.Level = logging.LevelWarn
	}
	logger = logging.New(lc)
	logger.SetDefault()

	loaded, err := config.LoadFrom(path)
	if err != nil {
		return err
	}
	cfg = loaded

	mode := ux.DetectMode(os.Stdout)
	for _, m := range []string{outputMode, cfg.Output} {
		if parsed, ok := ux.ParseMode(m); ok {
			mode = parsed
			break
		}
	}
	printer = ux.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)
	return nil
}
