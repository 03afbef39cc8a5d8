package arbiter

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

// votingCaller returns a scripted credence per voter, in call order by
// persona name.
type votingCaller struct {
	responses map[string]*llm.Result
	failures  map[string]error
	calls     atomic.Int64
}

func (c *votingCaller) Call(_ context.Context, persona, _, _ string) (*llm.Result, error) {
	c.calls.Add(1)
	if err, ok := c.failures[persona]; ok {
		return nil, err
	}
	if res, ok := c.responses[persona]; ok {
		return res, nil
	}
	return &llm.Result{Text: "no opinion"}, nil
}

func credenceResult(text string, credence float64) *llm.Result {
	return &llm.Result{Text: text, Structured: map[string]any{"credence": credence}}
}

func tribunal() []string {
	return []string{"arbiter-alpha", "arbiter-beta", "arbiter-gamma"}
}

func TestTightConsensusApproves(t *testing.T) {
	caller := &votingCaller{responses: map[string]*llm.Result{
		"arbiter-alpha": credenceResult("The protocol is sound. Proceed.", 0.90),
		"arbiter-beta":  credenceResult("Agreed.", 0.92),
		"arbiter-gamma": credenceResult("Concur.", 0.88),
	}}

	v, err := New(caller, time.Second).Resolve(context.Background(), tribunal(), "case")
	require.NoError(t, err)

	assert.Equal(t, DecisionApproved, v.Decision)
	assert.InDelta(t, 0.90, v.FusedConfidence, 1e-9)
	assert.InDelta(t, 0.0163, v.Dispersion, 1e-3)
	assert.Equal(t, 3, v.NVotes)
	assert.Equal(t, int64(3), caller.calls.Load())
}

func TestDissentBlocks(t *testing.T) {
	caller := &votingCaller{responses: map[string]*llm.Result{
		"arbiter-alpha": credenceResult("Looks fine.", 0.90),
		"arbiter-beta":  credenceResult("This is dangerous.", 0.10),
		"arbiter-gamma": credenceResult("Fine by me.", 0.95),
	}}

	v, err := New(caller, time.Second).Resolve(context.Background(), tribunal(), "case")
	require.NoError(t, err)

	// High dispersion fails closed regardless of the mean.
	assert.Equal(t, DecisionBlocked, v.Decision)
	assert.Greater(t, v.Dispersion, DefaultDispersionThreshold)
}

func TestLowMeanBlocks(t *testing.T) {
	caller := &votingCaller{responses: map[string]*llm.Result{
		"arbiter-alpha": credenceResult("Weak evidence.", 0.60),
		"arbiter-beta":  credenceResult("Weak evidence.", 0.62),
		"arbiter-gamma": credenceResult("Weak evidence.", 0.58),
	}}

	v, err := New(caller, time.Second).Resolve(context.Background(), tribunal(), "case")
	require.NoError(t, err)

	assert.Equal(t, DecisionBlocked, v.Decision)
	assert.LessOrEqual(t, v.Dispersion, DefaultDispersionThreshold)
	assert.Less(t, v.FusedConfidence, DefaultConsensusThreshold)
}

func TestUnparsedVoteDefaultsToHalf(t *testing.T) {
	caller := &votingCaller{responses: map[string]*llm.Result{
		"arbiter-alpha": credenceResult("Approve.", 0.95),
		"arbiter-beta":  {Text: "rambling prose with no trailer"},
		"arbiter-gamma": credenceResult("Approve.", 0.95),
	}}

	v, err := New(caller, time.Second).Resolve(context.Background(), tribunal(), "case")
	require.NoError(t, err)

	require.Len(t, v.Breakdown, 3)
	assert.Equal(t, 0.5, v.Breakdown[1].Credence)
	assert.False(t, v.Breakdown[1].Parsed)
	// 0.5 drags dispersion above the bound: unreadable votes cannot
	// resolve to approval.
	assert.Equal(t, DecisionBlocked, v.Decision)
}

func TestVoterFailureFailsResolution(t *testing.T) {
	boom := fmt.Errorf("backend: %w", llm.ErrModelUnavailable)
	caller := &votingCaller{
		responses: map[string]*llm.Result{
			"arbiter-alpha": credenceResult("Approve.", 0.90),
			"arbiter-gamma": credenceResult("Approve.", 0.90),
		},
		failures: map[string]error{"arbiter-beta": boom},
	}

	v, err := New(caller, time.Second).Resolve(context.Background(), tribunal(), "case")
	require.Error(t, err)
	assert.Nil(t, v)
	assert.True(t, errors.Is(err, llm.ErrModelUnavailable))
	assert.Contains(t, err.Error(), "voter 1")
}

func TestUncertainBucketVotersBlock(t *testing.T) {
	// Every voter answers with the trailer's middle bucket. The parsed
	// credence is the interval midpoint 0.5, so a unanimously uncertain
	// tribunal sits below the consensus threshold and must block, even
	// though its dispersion is zero.
	text := "Evidence is mixed.\nCredence: 25-75%"
	vote := &llm.Result{Text: text, Structured: llm.ParseStructured(text)}
	caller := &votingCaller{responses: map[string]*llm.Result{
		"arbiter-alpha": vote,
		"arbiter-beta":  vote,
		"arbiter-gamma": vote,
	}}

	v, err := New(caller, time.Second).Resolve(context.Background(), tribunal(), "case")
	require.NoError(t, err)

	assert.Equal(t, DecisionBlocked, v.Decision)
	assert.InDelta(t, 0.5, v.FusedConfidence, 1e-9)
	assert.InDelta(t, 0.0, v.Dispersion, 1e-9)
}

func TestRejectionSignalOverridesConsensus(t *testing.T) {
	caller := &votingCaller{responses: map[string]*llm.Result{
		"arbiter-alpha": credenceResult("VIOLATION: dosing exceeds the ceiling.", 0.90),
		"arbiter-beta":  credenceResult("Concur.", 0.91),
		"arbiter-gamma": credenceResult("Concur.", 0.89),
	}}

	v, err := New(caller, time.Second).Resolve(context.Background(), tribunal(), "case")
	require.NoError(t, err)
	assert.Equal(t, DecisionBlocked, v.Decision)
}

func TestMoreDataSignal(t *testing.T) {
	caller := &votingCaller{responses: map[string]*llm.Result{
		"arbiter-alpha": credenceResult("We need more data on renal clearance.", 0.85),
		"arbiter-beta":  credenceResult("Concur.", 0.86),
		"arbiter-gamma": credenceResult("Concur.", 0.84),
	}}

	v, err := New(caller, time.Second).Resolve(context.Background(), tribunal(), "case")
	require.NoError(t, err)
	assert.Equal(t, DecisionMoreData, v.Decision)
}

func TestNoPersonas(t *testing.T) {
	_, err := New(&votingCaller{}, time.Second).Resolve(context.Background(), nil, "case")
	require.Error(t, err)
}

func TestStructuredDataShape(t *testing.T) {
	caller := &votingCaller{responses: map[string]*llm.Result{
		"arbiter-alpha": credenceResult("Approve.", 0.90),
		"arbiter-beta":  credenceResult("Approve.", 0.92),
		"arbiter-gamma": credenceResult("Approve.", 0.88),
	}}

	v, err := New(caller, time.Second).Resolve(context.Background(), tribunal(), "case")
	require.NoError(t, err)

	sd := v.StructuredData()
	assert.Equal(t, "APPROVED", sd["decision"])
	assert.Equal(t, 3, sd["nVotes"])
	assert.Len(t, sd["breakdown"], 3)
}
