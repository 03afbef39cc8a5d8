package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Mindburn-Labs/tribunal/pkg/audit"
	"github.com/Mindburn-Labs/tribunal/pkg/chain"
	"github.com/Mindburn-Labs/tribunal/pkg/config"
	"github.com/Mindburn-Labs/tribunal/pkg/llm"
	"github.com/Mindburn-Labs/tribunal/pkg/personas"
	"github.com/Mindburn-Labs/tribunal/pkg/pipeline"
)

// runReviewCmd implements `tribunal run`.
//
// Reads the case context from a file (or stdin with --case -), runs the full
// stage sequence plus the arbiter tribunal, audits the result and prints the
// run export as JSON.
//
// Exit codes:
//
//	0 = run completed and was approved
//	1 = run completed but was blocked or rejected
//	2 = runtime error
func runReviewCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		casePath    string
		profilePath string
	)
	cmd.StringVar(&casePath, "case", "", "Path to the case context file, or '-' for stdin (REQUIRED)")
	cmd.StringVar(&profilePath, "profile", "", "Optional YAML deployment profile")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if casePath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --case is required")
		return 2
	}

	caseContext, err := readCase(casePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	cfg := config.Load()
	var profile *config.Profile
	if profilePath != "" {
		profile, err = config.LoadProfile(profilePath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		profile.Apply(cfg)
	}

	logger := newLogger(stderr, cfg.LogLevel)

	catalog := personas.Default()
	if cfg.PersonasPath != "" {
		catalog, err = personas.Load(cfg.PersonasPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	sink, closeSink, err := openSink(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closeSink()

	caller := buildCaller(cfg, profile)
	orch := pipeline.New(caller, catalog, sink, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	export, err := orch.Run(ctx, caseContext)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: run failed: %v\n", err)
		return 2
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(export); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: encode export: %v\n", err)
		return 2
	}

	if export.Status == chain.RunCompleted && export.FinalDecision == "APPROVED" {
		return 0
	}
	return 1
}

func readCase(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read case from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read case file: %w", err)
	}
	return string(data), nil
}

// buildCaller wires the default HTTP backend and any per-stage routes from
// the profile.
func buildCaller(cfg *config.Config, profile *config.Profile) llm.Caller {
	def := llm.NewHTTPCaller(cfg.ModelEndpoint, cfg.APIKey, cfg.Model)
	if profile == nil || len(profile.Routes) == 0 {
		return def
	}
	router := llm.NewRouter(def)
	for stageName, model := range profile.Routes {
		router.Route(stageName, llm.NewHTTPCaller(cfg.ModelEndpoint, cfg.APIKey, model))
	}
	return router
}

// openSink picks the audit backend: Postgres when DATABASE_URL is set,
// SQLite when AUDIT_PATH is set, in-memory otherwise.
func openSink(cfg *config.Config) (audit.Sink, func(), error) {
	switch {
	case cfg.DatabaseURL != "":
		s, err := audit.OpenPostgresSink(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case cfg.AuditPath != "":
		s, err := audit.OpenSQLiteSink(cfg.AuditPath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return audit.NewMemorySink(), func() {}, nil
	}
}
