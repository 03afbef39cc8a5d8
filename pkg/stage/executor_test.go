package stage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/tribunal/pkg/llm"
)

// scriptedCaller answers per persona, with optional per-persona delay to
// scramble completion order.
type scriptedCaller struct {
	responses map[string]*llm.Result
	failures  map[string]error
	delays    map[string]time.Duration
	calls     atomic.Int64
}

func (s *scriptedCaller) Call(ctx context.Context, persona, ctxPrompt, stageHint string) (*llm.Result, error) {
	s.calls.Add(1)
	if d, ok := s.delays[persona]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", llm.ErrTimeout, ctx.Err())
		}
	}
	if err, ok := s.failures[persona]; ok {
		return nil, err
	}
	if res, ok := s.responses[persona]; ok {
		return res, nil
	}
	return &llm.Result{Text: "ok"}, nil
}

func TestRunStageCallsEveryPersona(t *testing.T) {
	caller := &scriptedCaller{responses: map[string]*llm.Result{
		"p0": {Text: "primary answer", Structured: map[string]any{"perspective_strength": 8.0}},
	}}
	e := NewExecutor(caller, time.Second, nil)

	out, err := e.RunStage(context.Background(), "Kinetics", []string{"p0", "p1", "p2"}, "case")
	require.NoError(t, err)
	assert.EqualValues(t, 3, caller.calls.Load())
	assert.Len(t, out.Votes, 3)
	assert.Equal(t, "primary answer", out.Response)
	assert.InDelta(t, 0.8, out.Confidence, 1e-9)
}

func TestRepresentativeIsIndexZeroNotFirstArrival(t *testing.T) {
	caller := &scriptedCaller{
		responses: map[string]*llm.Result{
			"slow-primary": {Text: "primary"},
			"fast-second":  {Text: "secondary"},
		},
		delays: map[string]time.Duration{"slow-primary": 50 * time.Millisecond},
	}
	e := NewExecutor(caller, time.Second, nil)

	out, err := e.RunStage(context.Background(), "Scribe", []string{"slow-primary", "fast-second"}, "case")
	require.NoError(t, err)
	assert.Equal(t, "primary", out.Response)
	assert.Equal(t, "primary", out.Votes[0].Response)
	assert.Equal(t, "secondary", out.Votes[1].Response)
}

func TestPrimaryFailureFailsStage(t *testing.T) {
	caller := &scriptedCaller{failures: map[string]error{"p0": llm.ErrModelUnavailable}}
	e := NewExecutor(caller, time.Second, nil)

	_, err := e.RunStage(context.Background(), "RedTeam", []string{"p0", "p1"}, "case")
	assert.ErrorIs(t, err, llm.ErrModelUnavailable)
}

func TestSecondaryFailureIsRecordedNotFatal(t *testing.T) {
	caller := &scriptedCaller{
		responses: map[string]*llm.Result{"p0": {Text: "fine"}},
		failures:  map[string]error{"p1": llm.ErrTimeout},
	}
	e := NewExecutor(caller, time.Second, nil)

	out, err := e.RunStage(context.Background(), "RedTeam", []string{"p0", "p1"}, "case")
	require.NoError(t, err)
	assert.Empty(t, out.Votes[0].Err)
	assert.NotEmpty(t, out.Votes[1].Err)
	assert.Empty(t, out.Votes[1].Response)
}

func TestPrimaryTimeoutFailsStage(t *testing.T) {
	caller := &scriptedCaller{
		delays: map[string]time.Duration{"p0": 200 * time.Millisecond},
	}
	e := NewExecutor(caller, 10*time.Millisecond, nil)

	_, err := e.RunStage(context.Background(), "Kinetics", []string{"p0"}, "case")
	assert.ErrorIs(t, err, llm.ErrTimeout)
}

func TestConfidenceDefaultsToFullWhenUnparsed(t *testing.T) {
	caller := &scriptedCaller{responses: map[string]*llm.Result{
		"p0": {Text: "no trailer here"},
	}}
	e := NewExecutor(caller, time.Second, nil)

	out, err := e.RunStage(context.Background(), "Literature", []string{"p0"}, "case")
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.Confidence)
}

func TestNoPersonas(t *testing.T) {
	e := NewExecutor(&scriptedCaller{}, time.Second, nil)
	_, err := e.RunStage(context.Background(), "Kinetics", nil, "case")
	assert.Error(t, err)
}

func TestStageErrorNamesStage(t *testing.T) {
	caller := &scriptedCaller{failures: map[string]error{"p0": errors.New("boom")}}
	e := NewExecutor(caller, time.Second, nil)

	_, err := e.RunStage(context.Background(), "BlueTeam", []string{"p0"}, "case")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BlueTeam")
}
