// Package llm abstracts model backends behind a single persona-call interface.
// The reasoning core depends only on Caller; backend selection, retries and
// vendor wire formats stay on this side of the boundary.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrModelUnavailable indicates the backend could not serve the call.
	ErrModelUnavailable = errors.New("llm: model unavailable")

	// ErrTimeout indicates the call exceeded its deadline.
	ErrTimeout = errors.New("llm: call timed out")
)

// Result is one persona's model output: the raw text plus any structured
// fields extracted from it (perspective strength, credence, concession flags).
type Result struct {
	Text       string         `json:"text"`
	Structured map[string]any `json:"structured,omitempty"`
}

// Caller invokes one persona against one backend model. The persona is the
// system prompt; context is the case-specific input. stageHint names the
// calling stage for routing purposes; implementations are free to ignore it.
type Caller interface {
	Call(ctx context.Context, persona, context, stageHint string) (*Result, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, persona, context, stageHint string) (*Result, error)

func (f CallerFunc) Call(ctx context.Context, persona, ctxPrompt, stageHint string) (*Result, error) {
	return f(ctx, persona, ctxPrompt, stageHint)
}
