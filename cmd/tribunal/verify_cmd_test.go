package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/tribunal/pkg/chain"
)

func writeExportFile(t *testing.T, export chain.RunExport) string {
	t.Helper()
	data, err := json.Marshal(export)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func buildExport(t *testing.T, chainID string, tamper bool) chain.RunExport {
	t.Helper()
	ledger := chain.NewLedger()
	_, err := ledger.Append("Scribe", "case", "normalized record", 0.9, 12, nil, nil)
	require.NoError(t, err)
	_, err = ledger.Append("Kinetics", "case", "kinetics fine", 0.85, 20, nil, nil)
	require.NoError(t, err)

	export := ledger.Export(chainID)
	export.Status = chain.RunCompleted
	if tamper {
		export.Steps[1].Response = "forged"
	}
	return export
}

func TestVerifyCmd_ValidExport(t *testing.T) {
	path := writeExportFile(t, buildExport(t, "run-1", false))

	var stdout, stderr bytes.Buffer
	code := Run([]string{"tribunal", "verify", "--export", path}, &stdout, &stderr)

	assert.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "OK: 2 steps verified")
}

func TestVerifyCmd_TamperedExport(t *testing.T) {
	path := writeExportFile(t, buildExport(t, "run-1", true))

	var stdout, stderr bytes.Buffer
	code := Run([]string{"tribunal", "verify", "--export", path}, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stdout.String(), "chain broken at step 1")
}

func TestVerifyCmd_JSONOutput(t *testing.T) {
	path := writeExportFile(t, buildExport(t, "run-1", false))

	var stdout, stderr bytes.Buffer
	code := Run([]string{"tribunal", "verify", "--export", path, "--json"}, &stdout, &stderr)
	require.Equal(t, 0, code)

	var result chain.VerifyResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
	assert.True(t, result.Valid)
	assert.Equal(t, 2, result.Count)
}

func TestVerifyCmd_MissingArgs(t *testing.T) {
	t.Setenv("AUDIT_PATH", "")
	var stdout, stderr bytes.Buffer
	code := Run([]string{"tribunal", "verify"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
}

func TestRun_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"tribunal", "frobnicate"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "Unknown command")
}
