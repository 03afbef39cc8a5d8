// Package chain implements the tamper-evident reasoning ledger: an ordered,
// append-only sequence of hash-linked steps, one per pipeline stage.
//
// Each step is linked to its predecessor by SHA-256 over the JCS-canonicalized
// step fields, so any post-hoc mutation of a committed step is detectable.
package chain

import (
	"fmt"

	"github.com/Mindburn-Labs/tribunal/pkg/canonicalize"
)

// Genesis is the well-known sentinel used as the previous hash of the first step.
const Genesis = "GENESIS_CHAIN"

// StageArbiter is the final tribunal stage. It is exempt from the per-stage
// confidence gate; its outcome is governed by the consensus rule instead.
const StageArbiter = "ArbiterTribunal"

// PersonaVote is one persona's raw contribution to a stage. Votes live only
// inside the owning step's archive; they are never persisted independently.
type PersonaVote struct {
	Persona    string         `json:"persona"`
	Response   string         `json:"response"`
	Structured map[string]any `json:"structured,omitempty"`
	Err        string         `json:"error,omitempty"`
}

// Step is one immutable, hash-linked record of a stage's execution.
// Steps are only created by Ledger.Append; the hash is computed at
// construction and never recomputed into the stored field afterwards.
type Step struct {
	StepName        string         `json:"stepName"`
	Prompt          string         `json:"prompt"`
	Response        string         `json:"response"`
	Timestamp       string         `json:"timestamp"`
	PrevHash        string         `json:"prevHash"`
	StepHash        string         `json:"stepHash"`
	Confidence      float64        `json:"confidence"`
	ExecutionTimeMs int64          `json:"executionTimeMs"`
	StructuredData  map[string]any `json:"structuredData,omitempty"`
	AllVotes        []PersonaVote  `json:"allVotes,omitempty"`
}

// newStep computes the step hash and returns a fully-formed step. The hash is
// computed before the value escapes, so an unhashed step cannot be observed.
func newStep(name, prompt, response, timestamp, prevHash string, confidence float64,
	execMs int64, structured map[string]any, votes []PersonaVote) (Step, error) {

	hash, err := computeStepHash(name, prompt, response, timestamp, prevHash)
	if err != nil {
		return Step{}, fmt.Errorf("%w: %v", ErrChainIntegrity, err)
	}

	return Step{
		StepName:        name,
		Prompt:          prompt,
		Response:        response,
		Timestamp:       timestamp,
		PrevHash:        prevHash,
		StepHash:        hash,
		Confidence:      confidence,
		ExecutionTimeMs: execMs,
		StructuredData:  structured,
		AllVotes:        votes,
	}, nil
}

// computeStepHash hashes the hash-relevant fields of a step. The timestamp is
// the exact string stored on the step; recomputing it later would make the
// chain unverifiable.
func computeStepHash(name, prompt, response, timestamp, prevHash string) (string, error) {
	return canonicalize.CanonicalHash(map[string]interface{}{
		"step_name": name,
		"prompt":    prompt,
		"response":  response,
		"timestamp": timestamp,
		"prev_hash": prevHash,
	})
}
