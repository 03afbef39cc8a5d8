package chain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfidenceGate marks a stage result rejected at the confidence gate.
	// It is an expected business outcome, handled at the orchestrator boundary.
	ErrConfidenceGate = errors.New("confidence below gate threshold")

	// ErrChainIntegrity marks a hash mismatch in a committed step. It is a
	// fatal condition and must never be swallowed or auto-repaired.
	ErrChainIntegrity = errors.New("chain integrity violation")
)

// GateError reports which stage failed the confidence gate and by how much.
type GateError struct {
	Stage      string
	Confidence float64
	Threshold  float64
}

func (e *GateError) Error() string {
	return fmt.Sprintf("stage %s rejected: confidence %.3f below threshold %.3f",
		e.Stage, e.Confidence, e.Threshold)
}

func (e *GateError) Unwrap() error { return ErrConfidenceGate }
