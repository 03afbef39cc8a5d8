package llm

import (
	"context"
	"fmt"
)

// Router directs each stage to the backend best suited for its cognitive
// function, with a diversity fallback: if the routed backend fails, the call
// is retried once on the default backend. Stage retries beyond that are not
// the router's concern.
type Router struct {
	routes map[string]Caller
	def    Caller
}

// NewRouter creates a router with a mandatory default backend.
func NewRouter(def Caller) *Router {
	return &Router{routes: make(map[string]Caller), def: def}
}

// Route binds a stage hint to a backend.
func (r *Router) Route(stageHint string, c Caller) *Router {
	r.routes[stageHint] = c
	return r
}

func (r *Router) Call(ctx context.Context, persona, ctxPrompt, stageHint string) (*Result, error) {
	if r.def == nil {
		return nil, fmt.Errorf("%w: router has no default backend", ErrModelUnavailable)
	}

	primary, ok := r.routes[stageHint]
	if !ok {
		return r.def.Call(ctx, persona, ctxPrompt, stageHint)
	}

	res, err := primary.Call(ctx, persona, ctxPrompt, stageHint)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		// Deadline already spent; falling back would just time out again.
		return nil, err
	}
	return r.def.Call(ctx, persona, ctxPrompt, stageHint)
}
