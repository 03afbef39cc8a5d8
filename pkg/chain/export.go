package chain

// RunStatus is the terminal state of a pipeline run.
type RunStatus string

const (
	RunCompleted RunStatus = "COMPLETED"
	RunRejected  RunStatus = "REJECTED"
)

// StepExport is the interop JSON view of a committed step. The field set is
// fixed; downstream verifiers recompute hashes from exactly these fields.
type StepExport struct {
	StepName       string         `json:"stepName"`
	Prompt         string         `json:"prompt"`
	Response       string         `json:"response"`
	Timestamp      string         `json:"timestamp"`
	PrevHash       string         `json:"prevHash"`
	StepHash       string         `json:"stepHash"`
	Confidence     float64        `json:"confidence"`
	StructuredData map[string]any `json:"structuredData"`
	AllVotes       []PersonaVote  `json:"allVotes"`
}

// RunExport is the immutable end-of-run record handed to the audit sink.
// It is produced exactly once per run, for both completed and rejected paths.
type RunExport struct {
	ChainID         string       `json:"chainId"`
	GenesisHash     string       `json:"genesisHash"`
	Steps           []StepExport `json:"steps"`
	Verified        bool         `json:"verified"`
	FinalDecision   string       `json:"finalDecision"`
	FinalConfidence float64      `json:"finalConfidence"`
	Status          RunStatus    `json:"status"`
	ErrorDetail     string       `json:"errorDetail,omitempty"`
}

// Export snapshots the ledger into the interop form, running verification so
// the export carries its own integrity attestation. Partial ledgers from
// rejected runs export the same way; every committed step stays verifiable.
func (l *Ledger) Export(chainID string) RunExport {
	steps := l.Steps()
	verified := l.Verify().Valid

	out := make([]StepExport, len(steps))
	for i, s := range steps {
		out[i] = StepExport{
			StepName:       s.StepName,
			Prompt:         s.Prompt,
			Response:       s.Response,
			Timestamp:      s.Timestamp,
			PrevHash:       s.PrevHash,
			StepHash:       s.StepHash,
			Confidence:     s.Confidence,
			StructuredData: s.StructuredData,
			AllVotes:       s.AllVotes,
		}
	}

	return RunExport{
		ChainID:     chainID,
		GenesisHash: Genesis,
		Steps:       out,
		Verified:    verified,
	}
}

// VerifyExport re-checks an exported chain without access to the ledger that
// produced it, e.g. after round-tripping through an audit sink.
func VerifyExport(e *RunExport) VerifyResult {
	steps := make([]Step, len(e.Steps))
	for i, s := range e.Steps {
		steps[i] = Step{
			StepName:  s.StepName,
			Prompt:    s.Prompt,
			Response:  s.Response,
			Timestamp: s.Timestamp,
			PrevHash:  s.PrevHash,
			StepHash:  s.StepHash,
		}
	}
	return verifySteps(steps)
}
