// Package stage runs one pipeline stage: every persona is invoked against the
// model backend, results are joined at a barrier and aggregated strictly by
// persona list index so that repeated runs with identical inputs hash
// identically.
package stage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/tribunal/pkg/chain"
	"github.com/Mindburn-Labs/tribunal/pkg/llm"
)

const tracerName = "tribunal/stage"

// Outcome is the deterministic aggregate of one stage execution.
type Outcome struct {
	// Response is the primary persona's text (list index 0, never the first
	// arrival), the only content fed into the hash function.
	Response   string
	Confidence float64
	Votes      []chain.PersonaVote
	Duration   time.Duration
}

// Executor fans persona calls out to the model backend.
type Executor struct {
	caller      llm.Caller
	callTimeout time.Duration
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewExecutor creates an executor. callTimeout bounds each individual persona
// call; a timeout counts as a call failure.
func NewExecutor(caller llm.Caller, callTimeout time.Duration, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		caller:      caller,
		callTimeout: callTimeout,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
	}
}

// RunStage invokes every persona concurrently and joins on all of them before
// aggregating. A failed primary persona fails the stage; failed secondaries
// are recorded as error markers in the vote archive and are non-fatal.
func (e *Executor) RunStage(ctx context.Context, stageName string, personas []string, contextPrompt string) (*Outcome, error) {
	if len(personas) == 0 {
		return nil, fmt.Errorf("stage %s: no personas configured", stageName)
	}

	ctx, span := e.tracer.Start(ctx, "stage.run",
		trace.WithAttributes(
			attribute.String("stage.name", stageName),
			attribute.Int("stage.personas", len(personas)),
		))
	defer span.End()

	start := time.Now()
	votes := make([]chain.PersonaVote, len(personas))
	errs := make([]error, len(personas))

	var wg sync.WaitGroup
	for i, persona := range personas {
		wg.Add(1)
		go func(idx int, p string) {
			defer wg.Done()
			votes[idx], errs[idx] = e.callPersona(ctx, stageName, p, contextPrompt)
		}(i, persona)
	}
	// Barrier: hashing and aggregation never start before every call returns.
	wg.Wait()

	if errs[0] != nil {
		return nil, fmt.Errorf("stage %s: primary persona: %w", stageName, errs[0])
	}
	for i := 1; i < len(personas); i++ {
		if errs[i] != nil {
			e.logger.Warn("secondary persona failed",
				"stage", stageName, "persona_index", i, "error", errs[i])
		}
	}

	return &Outcome{
		Response:   votes[0].Response,
		Confidence: primaryConfidence(votes[0]),
		Votes:      votes,
		Duration:   time.Since(start),
	}, nil
}

func (e *Executor) callPersona(ctx context.Context, stageName, persona, contextPrompt string) (chain.PersonaVote, error) {
	callCtx := ctx
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}

	res, err := e.caller.Call(callCtx, persona, contextPrompt, stageName)
	if err != nil {
		return chain.PersonaVote{Persona: persona, Err: err.Error()}, err
	}
	return chain.PersonaVote{
		Persona:    persona,
		Response:   res.Text,
		Structured: res.Structured,
	}, nil
}

// primaryConfidence extracts the stage confidence from the primary persona's
// structured fields. An unparsed response defaults to fully confident; the
// gate exists to catch weak self-reports, not parser gaps.
func primaryConfidence(primary chain.PersonaVote) float64 {
	if v, ok := primary.Structured["perspective_strength"].(float64); ok {
		return llm.NormalizeStrength(v)
	}
	if v, ok := primary.Structured["confidence"].(float64); ok && v >= 0 && v <= 1 {
		return v
	}
	return 1.0
}
