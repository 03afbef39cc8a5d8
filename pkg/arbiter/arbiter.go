// Package arbiter resolves the final tribunal stage: every arbiter persona
// votes, per-voter credences are fused by mean and population dispersion, and
// the decision fails closed. Ties, disagreement and unreadable votes never
// resolve to approval.
package arbiter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/tribunal/pkg/chain"
	"github.com/Mindburn-Labs/tribunal/pkg/llm"
)

const tracerName = "tribunal/arbiter"

// Decision is the tribunal outcome.
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionBlocked  Decision = "BLOCKED"
	DecisionMoreData Decision = "MORE_DATA_NEEDED"
)

// Default thresholds for the consensus rule.
const (
	DefaultConsensusThreshold  = 0.70
	DefaultDispersionThreshold = 0.08
)

// defaultCredence is the explicit "uncertain" fallback for an unreadable
// vote. It is deliberately NOT the executor's 1.0 default: an unparsed
// arbiter vote must not silently count as confident.
const defaultCredence = 0.5

// VoterCredence is one voter's contribution to the fused decision.
type VoterCredence struct {
	Index    int     `json:"index"`
	Credence float64 `json:"credence"`
	Parsed   bool    `json:"parsed"`
}

// Verdict is the computed consensus outcome, embedded in the arbiter step's
// structured data and the final export.
type Verdict struct {
	Decision        Decision        `json:"decision"`
	FusedConfidence float64         `json:"fusedConfidence"`
	Dispersion      float64         `json:"dispersion"`
	NVotes          int             `json:"nVotes"`
	Breakdown       []VoterCredence `json:"breakdown"`

	// Response is the representative (persona-0) text; Votes is the full
	// archive for the arbiter's chain step.
	Response string              `json:"-"`
	Votes    []chain.PersonaVote `json:"-"`
	Duration time.Duration       `json:"-"`
}

// StructuredData renders the verdict for embedding in a chain step.
func (v *Verdict) StructuredData() map[string]any {
	breakdown := make([]any, len(v.Breakdown))
	for i, b := range v.Breakdown {
		breakdown[i] = map[string]any{"index": b.Index, "credence": b.Credence, "parsed": b.Parsed}
	}
	return map[string]any{
		"decision":        string(v.Decision),
		"fusedConfidence": v.FusedConfidence,
		"dispersion":      v.Dispersion,
		"nVotes":          v.NVotes,
		"breakdown":       breakdown,
	}
}

// Arbiter runs the tribunal.
type Arbiter struct {
	caller              llm.Caller
	callTimeout         time.Duration
	consensusThreshold  float64
	dispersionThreshold float64
	tracer              trace.Tracer
}

// New creates an arbiter with the default thresholds.
func New(caller llm.Caller, callTimeout time.Duration) *Arbiter {
	return &Arbiter{
		caller:              caller,
		callTimeout:         callTimeout,
		consensusThreshold:  DefaultConsensusThreshold,
		dispersionThreshold: DefaultDispersionThreshold,
		tracer:              otel.Tracer(tracerName),
	}
}

// WithThresholds overrides the consensus and dispersion bounds.
func (a *Arbiter) WithThresholds(consensus, dispersion float64) *Arbiter {
	a.consensusThreshold = consensus
	a.dispersionThreshold = dispersion
	return a
}

// Resolve calls every arbiter persona and fuses their credences. Unlike the
// gated stages, the tribunal requires a full quorum: any voter failure fails
// resolution.
func (a *Arbiter) Resolve(ctx context.Context, personas []string, contextPrompt string) (*Verdict, error) {
	if len(personas) == 0 {
		return nil, fmt.Errorf("arbiter: no tribunal personas configured")
	}

	ctx, span := a.tracer.Start(ctx, "arbiter.resolve",
		trace.WithAttributes(attribute.Int("arbiter.voters", len(personas))))
	defer span.End()

	start := time.Now()
	votes := make([]chain.PersonaVote, len(personas))
	errs := make([]error, len(personas))

	var wg sync.WaitGroup
	for i, persona := range personas {
		wg.Add(1)
		go func(idx int, p string) {
			defer wg.Done()
			votes[idx], errs[idx] = a.callVoter(ctx, p, contextPrompt)
		}(i, persona)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("arbiter: voter %d: %w", i, err)
		}
	}

	verdict := a.fuse(votes)
	verdict.Duration = time.Since(start)
	span.SetAttributes(
		attribute.String("arbiter.decision", string(verdict.Decision)),
		attribute.Float64("arbiter.fused_confidence", verdict.FusedConfidence),
		attribute.Float64("arbiter.dispersion", verdict.Dispersion),
	)
	return verdict, nil
}

func (a *Arbiter) callVoter(ctx context.Context, persona, contextPrompt string) (chain.PersonaVote, error) {
	callCtx := ctx
	if a.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.callTimeout)
		defer cancel()
	}

	res, err := a.caller.Call(callCtx, persona, contextPrompt, chain.StageArbiter)
	if err != nil {
		return chain.PersonaVote{Persona: persona, Err: err.Error()}, err
	}
	return chain.PersonaVote{Persona: persona, Response: res.Text, Structured: res.Structured}, nil
}

// fuse aggregates voter credences in persona list order and applies the
// fail-closed decision rule.
func (a *Arbiter) fuse(votes []chain.PersonaVote) *Verdict {
	credences := make([]float64, len(votes))
	breakdown := make([]VoterCredence, len(votes))
	for i, vote := range votes {
		c, parsed := voterCredence(vote)
		credences[i] = c
		breakdown[i] = VoterCredence{Index: i, Credence: c, Parsed: parsed}
	}

	mu := mean(credences)
	sigma := populationStdDev(credences)
	representative := votes[0].Response

	decision := DecisionBlocked
	if sigma <= a.dispersionThreshold && mu >= a.consensusThreshold {
		switch {
		case hasRejectionSignal(representative):
			decision = DecisionBlocked
		case hasMoreDataSignal(representative):
			decision = DecisionMoreData
		default:
			decision = DecisionApproved
		}
	}

	return &Verdict{
		Decision:        decision,
		FusedConfidence: mu,
		Dispersion:      sigma,
		NVotes:          len(credences),
		Breakdown:       breakdown,
		Response:        representative,
		Votes:           votes,
	}
}

func voterCredence(vote chain.PersonaVote) (float64, bool) {
	if v, ok := vote.Structured["credence"].(float64); ok && v >= 0 && v <= 1 {
		return v, true
	}
	return defaultCredence, false
}

// Rejection and more-data vocabularies come from the production personas:
// the blue team rejects with "VIOLATION:", bounded personas concede with
// "[CONCEDE:", and the tribunal asks for more data in plain words.
func hasRejectionSignal(text string) bool {
	upper := strings.ToUpper(text)
	return strings.Contains(upper, "[CONCEDE:") ||
		strings.Contains(upper, "VIOLATION:") ||
		strings.Contains(upper, "REJECT") ||
		strings.Contains(upper, "DO NOT PROCEED")
}

func hasMoreDataSignal(text string) bool {
	upper := strings.ToUpper(text)
	return strings.Contains(upper, "MORE DATA") ||
		strings.Contains(upper, "MORE_DATA") ||
		strings.Contains(upper, "INSUFFICIENT DATA")
}
