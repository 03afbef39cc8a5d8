// Package pipeline drives a full review run: every gated stage in order,
// then the arbiter tribunal, committing each stage into the hash chain and
// handing the finished export to the audit sink exactly once.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/tribunal/pkg/arbiter"
	"github.com/Mindburn-Labs/tribunal/pkg/audit"
	"github.com/Mindburn-Labs/tribunal/pkg/chain"
	"github.com/Mindburn-Labs/tribunal/pkg/config"
	"github.com/Mindburn-Labs/tribunal/pkg/llm"
	"github.com/Mindburn-Labs/tribunal/pkg/personas"
	"github.com/Mindburn-Labs/tribunal/pkg/stage"
)

const tracerName = "tribunal/pipeline"

// Orchestrator wires the stage executor, the arbiter and the audit sink into
// a single run loop.
type Orchestrator struct {
	executor *stage.Executor
	arb      *arbiter.Arbiter
	catalog  *personas.Catalog
	sink     audit.Sink
	cfg      *config.Config
	logger   *slog.Logger
	tracer   trace.Tracer
}

func New(caller llm.Caller, catalog *personas.Catalog, sink audit.Sink, cfg *config.Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		executor: stage.NewExecutor(caller, cfg.CallTimeout, logger),
		arb: arbiter.New(caller, cfg.CallTimeout).
			WithThresholds(cfg.ConsensusThreshold, cfg.DispersionThreshold),
		catalog: catalog,
		sink:    sink,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}
}

// Run executes the full review for one case. A confidence-gate rejection or
// a primary model-call failure is a terminal run outcome: the partial chain
// is exported with REJECTED status and audited like a completed run. An
// error return means the run could not be recorded at all (misconfiguration
// or an audit failure) and nothing was audited.
func (o *Orchestrator) Run(ctx context.Context, caseContext string) (*chain.RunExport, error) {
	chainID := uuid.New().String()
	ctx, span := o.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("run.chain_id", chainID)))
	defer span.End()

	ledger := chain.NewLedger().WithMinConfidence(o.cfg.MinConfidence)
	o.logger.Info("run started", "chain_id", chainID)

	for _, stageName := range personas.GatedStages {
		roster, err := o.catalog.Personas(stageName)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", chainID, err)
		}

		prompt := composePrompt(caseContext, ledger.Steps())
		outcome, err := o.executor.RunStage(ctx, stageName, roster, prompt)
		if err != nil {
			return o.abort(ctx, chainID, ledger, stageName, err)
		}

		step, err := ledger.Append(stageName, prompt, outcome.Response, outcome.Confidence,
			outcome.Duration.Milliseconds(), outcome.Votes[0].Structured, outcome.Votes)
		if err != nil {
			var gateErr *chain.GateError
			if errors.As(err, &gateErr) {
				return o.reject(ctx, chainID, ledger, gateErr)
			}
			return nil, fmt.Errorf("run %s: commit %s: %w", chainID, stageName, err)
		}

		o.logger.Info("stage committed",
			"chain_id", chainID,
			"stage", stageName,
			"confidence", step.Confidence,
			"step_hash", step.StepHash)
	}

	return o.resolve(ctx, chainID, caseContext, ledger)
}

// resolve runs the arbiter tribunal over the completed chain and finalizes
// the export.
func (o *Orchestrator) resolve(ctx context.Context, chainID, caseContext string, ledger *chain.Ledger) (*chain.RunExport, error) {
	roster, err := o.catalog.Personas(personas.StageArbiter)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", chainID, err)
	}

	prompt := composePrompt(caseContext, ledger.Steps())
	verdict, err := o.arb.Resolve(ctx, roster, prompt)
	if err != nil {
		return o.abort(ctx, chainID, ledger, personas.StageArbiter, err)
	}

	// The tribunal is exempt from the gate: its fused confidence is the
	// outcome, not an admission criterion.
	_, err = ledger.Append(personas.StageArbiter, prompt, verdict.Response, verdict.FusedConfidence,
		verdict.Duration.Milliseconds(), verdict.StructuredData(), verdict.Votes)
	if err != nil {
		return nil, fmt.Errorf("run %s: commit verdict: %w", chainID, err)
	}

	export := ledger.Export(chainID)
	export.FinalDecision = string(verdict.Decision)
	export.FinalConfidence = verdict.FusedConfidence
	export.Status = chain.RunCompleted

	o.logger.Info("run completed",
		"chain_id", chainID,
		"decision", verdict.Decision,
		"fused_confidence", verdict.FusedConfidence,
		"dispersion", verdict.Dispersion)

	return o.commit(ctx, &export)
}

// abort finalizes a run stopped by a model-call failure. The committed steps
// stay verifiable and the rejected run is audited with the failure detail.
func (o *Orchestrator) abort(ctx context.Context, chainID string, ledger *chain.Ledger, stageName string, cause error) (*chain.RunExport, error) {
	export := ledger.Export(chainID)
	export.FinalDecision = string(arbiter.DecisionBlocked)
	export.Status = chain.RunRejected
	export.ErrorDetail = cause.Error()

	o.logger.Error("run aborted",
		"chain_id", chainID,
		"stage", stageName,
		"error", cause)

	return o.commit(ctx, &export)
}

// reject finalizes a run stopped by the confidence gate. The partial chain
// is still exported and audited.
func (o *Orchestrator) reject(ctx context.Context, chainID string, ledger *chain.Ledger, gateErr *chain.GateError) (*chain.RunExport, error) {
	export := ledger.Export(chainID)
	export.FinalDecision = string(arbiter.DecisionBlocked)
	export.FinalConfidence = gateErr.Confidence
	export.Status = chain.RunRejected
	export.ErrorDetail = gateErr.Error()

	o.logger.Warn("run rejected at confidence gate",
		"chain_id", chainID,
		"stage", gateErr.Stage,
		"confidence", gateErr.Confidence,
		"threshold", gateErr.Threshold)

	return o.commit(ctx, &export)
}

// commit hands the finished export to the audit sink. This is the single
// audit write of the run.
func (o *Orchestrator) commit(ctx context.Context, export *chain.RunExport) (*chain.RunExport, error) {
	rec, err := o.sink.Append(ctx, export)
	if err != nil {
		return nil, fmt.Errorf("run %s: audit: %w", export.ChainID, err)
	}
	o.logger.Info("run audited",
		"chain_id", export.ChainID,
		"status", export.Status,
		"record_hash", rec.RecordHash)
	return export, nil
}
