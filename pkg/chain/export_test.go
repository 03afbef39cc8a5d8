package chain

import (
	"encoding/json"
	"testing"
)

func TestExportCarriesVerification(t *testing.T) {
	l := NewLedger().WithClock(testClock())
	l.Append("Scribe", "p1", "r1", 0.9, 1, map[string]any{"soap": "note"}, nil)
	l.Append(StageArbiter, "p2", "r2", 0.82, 1, nil, nil)

	e := l.Export("chain-123")
	if e.ChainID != "chain-123" {
		t.Fatalf("unexpected chain id %s", e.ChainID)
	}
	if e.GenesisHash != Genesis {
		t.Fatalf("unexpected genesis %s", e.GenesisHash)
	}
	if len(e.Steps) != 2 {
		t.Fatalf("expected 2 exported steps, got %d", len(e.Steps))
	}
	if !e.Verified {
		t.Fatal("export of an intact ledger must be verified")
	}
}

func TestVerifyExportRoundTrip(t *testing.T) {
	l := NewLedger().WithClock(testClock())
	l.Append("Scribe", "p1", "r1", 0.9, 1, nil, nil)
	l.Append("Kinetics", "p2", "r2", 0.9, 1, nil, nil)

	e := l.Export("chain-rt")
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}

	var back RunExport
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}

	res := VerifyExport(&back)
	if !res.Valid || res.Count != 2 {
		t.Fatalf("round-tripped export must verify, got %+v", res)
	}

	back.Steps[0].Response = "tampered"
	res = VerifyExport(&back)
	if res.Valid || res.TamperedIndex == nil || *res.TamperedIndex != 0 {
		t.Fatalf("tampered export must fail at index 0, got %+v", res)
	}
}

func TestExportJSONFieldNames(t *testing.T) {
	l := NewLedger().WithClock(testClock())
	l.Append("Scribe", "p", "r", 0.9, 1, nil, nil)

	e := l.Export("chain-json")
	e.Status = RunCompleted
	e.FinalDecision = "APPROVED"
	e.FinalConfidence = 0.9

	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"chainId", "genesisHash", "steps", "verified", "finalDecision", "finalConfidence", "status"} {
		if _, ok := m[key]; !ok {
			t.Fatalf("export JSON missing required field %q", key)
		}
	}

	steps := m["steps"].([]any)
	step := steps[0].(map[string]any)
	for _, key := range []string{"stepName", "prompt", "response", "timestamp", "prevHash", "stepHash", "confidence", "structuredData", "allVotes"} {
		if _, ok := step[key]; !ok {
			t.Fatalf("step JSON missing required field %q", key)
		}
	}
}
