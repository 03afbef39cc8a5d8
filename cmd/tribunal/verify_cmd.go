package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/tribunal/pkg/audit"
	"github.com/Mindburn-Labs/tribunal/pkg/chain"
	"github.com/Mindburn-Labs/tribunal/pkg/config"
)

// runVerifyCmd implements `tribunal verify`.
//
// With --export it re-checks an exported run file: every step hash is
// recomputed and the chain linkage walked from genesis. With --audit or a
// DATABASE_URL it verifies the audit log's record chain instead.
//
// Exit codes:
//
//	0 = verification passed
//	1 = verification failed
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		exportPath string
		auditPath  string
		jsonOutput bool
	)
	cmd.StringVar(&exportPath, "export", "", "Path to an exported run JSON file")
	cmd.StringVar(&auditPath, "audit", "", "Path to a SQLite audit log")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the verification result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if exportPath != "" {
		return verifyExportFile(exportPath, jsonOutput, stdout, stderr)
	}
	if auditPath == "" {
		auditPath = config.Load().AuditPath
	}
	if auditPath != "" {
		return verifyAuditLog(auditPath, stdout, stderr)
	}

	_, _ = fmt.Fprintln(stderr, "Error: --export or --audit is required")
	return 2
}

func verifyExportFile(path string, jsonOutput bool, stdout, stderr io.Writer) int {
	data, err := os.ReadFile(path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read export: %v\n", err)
		return 2
	}

	var export chain.RunExport
	if err := json.Unmarshal(data, &export); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: parse export: %v\n", err)
		return 2
	}

	result := chain.VerifyExport(&export)
	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	} else if result.Valid {
		_, _ = fmt.Fprintf(stdout, "OK: %d steps verified\n", result.Count)
	} else {
		_, _ = fmt.Fprintf(stdout, "FAILED: chain broken at step %d\n", *result.TamperedIndex)
	}

	if result.Valid {
		return 0
	}
	return 1
}

func verifyAuditLog(path string, stdout, stderr io.Writer) int {
	sink, err := audit.OpenSQLiteSink(path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open audit log: %v\n", err)
		return 2
	}
	defer func() { _ = sink.Close() }()

	result, err := sink.Verify(context.Background())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if !result.Valid {
		_, _ = fmt.Fprintf(stdout, "FAILED: audit chain broken at record %d\n", *result.TamperedIndex)
		return 1
	}

	head, err := sink.LastHash(context.Background())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "OK: %d audit records verified, head %s\n", result.Count, head)
	return 0
}
