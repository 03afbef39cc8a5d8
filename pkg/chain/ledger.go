package chain

import (
	"sync"
	"time"
)

// DefaultMinConfidence is the gate threshold applied to every stage except
// the arbiter tribunal.
const DefaultMinConfidence = 0.80

// Ledger is the append-only, hash-chained record of one pipeline run.
// One ledger is exclusively owned by one run; it is never shared.
type Ledger struct {
	mu            sync.RWMutex
	steps         []Step
	minConfidence float64
	exemptStage   string
	clock         func() time.Time
}

// NewLedger creates an empty ledger with the default confidence gate.
func NewLedger() *Ledger {
	return &Ledger{
		steps:         make([]Step, 0),
		minConfidence: DefaultMinConfidence,
		exemptStage:   StageArbiter,
		clock:         time.Now,
	}
}

// WithClock overrides the clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// WithMinConfidence overrides the gate threshold.
func (l *Ledger) WithMinConfidence(min float64) *Ledger {
	l.minConfidence = min
	return l
}

// MinConfidence returns the gate threshold.
func (l *Ledger) MinConfidence() float64 {
	return l.minConfidence
}

// Append records one stage execution as a new hash-linked step.
//
// The timestamp is captured exactly once and reused verbatim for hashing and
// storage. Every stage except the arbiter tribunal must meet the confidence
// gate; a gated result below threshold returns *GateError and appends nothing,
// so a rejected run stops at a step boundary, never mid-step.
func (l *Ledger) Append(stepName, prompt, response string, confidence float64,
	execMs int64, structured map[string]any, votes []PersonaVote) (*Step, error) {

	l.mu.Lock()
	defer l.mu.Unlock()

	if stepName != l.exemptStage && confidence < l.minConfidence {
		return nil, &GateError{Stage: stepName, Confidence: confidence, Threshold: l.minConfidence}
	}

	timestamp := l.clock().UTC().Format(time.RFC3339Nano)
	step, err := newStep(stepName, prompt, response, timestamp, l.lastHashLocked(),
		confidence, execMs, structured, votes)
	if err != nil {
		return nil, err
	}

	l.steps = append(l.steps, step)
	return &step, nil
}

// LastHash returns the genesis sentinel for an empty ledger, else the hash of
// the most recent step.
func (l *Ledger) LastHash() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastHashLocked()
}

func (l *Ledger) lastHashLocked() string {
	if len(l.steps) == 0 {
		return Genesis
	}
	return l.steps[len(l.steps)-1].StepHash
}

// Length returns the number of committed steps.
func (l *Ledger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.steps)
}

// Steps returns a copy of the committed steps in append order.
func (l *Ledger) Steps() []Step {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Step, len(l.steps))
	copy(out, l.steps)
	return out
}

// VerifyResult localizes chain corruption: TamperedIndex is the first index
// whose linkage or recomputed hash fails, or nil when the chain is intact.
type VerifyResult struct {
	Valid         bool `json:"valid"`
	Count         int  `json:"count"`
	TamperedIndex *int `json:"tamperedIndex,omitempty"`
}

// Verify walks the chain, checking each step's linkage to its predecessor and
// recomputing each step's hash from its stored fields. It is side-effect-free
// and idempotent.
func (l *Ledger) Verify() VerifyResult {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verifySteps(l.steps)
}

func verifySteps(steps []Step) VerifyResult {
	res := VerifyResult{Valid: true, Count: len(steps)}

	expectedPrev := Genesis
	for i := range steps {
		step := &steps[i]
		if step.PrevHash != expectedPrev {
			idx := i
			return VerifyResult{Valid: false, Count: len(steps), TamperedIndex: &idx}
		}

		computed, err := computeStepHash(step.StepName, step.Prompt, step.Response,
			step.Timestamp, step.PrevHash)
		if err != nil || computed != step.StepHash {
			idx := i
			return VerifyResult{Valid: false, Count: len(steps), TamperedIndex: &idx}
		}

		expectedPrev = step.StepHash
	}

	return res
}
