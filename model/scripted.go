package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentweave/core"
)

// ScriptedGateway is a deterministic in-memory Gateway for tests and
// examples. Candidates are consumed from a queue in order; every received
// request is recorded for assertions.
type ScriptedGateway struct {
	mu       sync.Mutex
	info     Info
	queue    []*Candidate
	requests []*Request

	// Hook, when set, observes each request before a candidate is served.
	Hook func(req *Request)
}

// NewScriptedGateway creates a gateway that will serve the given candidates
// in order.
func NewScriptedGateway(candidates ...*Candidate) *ScriptedGateway {
	return &ScriptedGateway{
		info:  Info{Name: "scripted", Provider: "scripted", SupportsTools: true},
		queue: append([]*Candidate{}, candidates...),
	}
}

// Enqueue appends candidates to the script.
func (g *ScriptedGateway) Enqueue(candidates ...*Candidate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queue = append(g.queue, candidates...)
}

// Generate implements Gateway by serving the next scripted candidate.
// Exhausting the script is an error so tests fail loudly on unexpected
// extra calls.
func (g *ScriptedGateway) Generate(_ context.Context, req *Request) (*Candidate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.Hook != nil {
		g.Hook(req)
	}

	recorded := *req
	recorded.History = append([]core.Content{}, req.History...)
	recorded.Tools = append([]ToolSchema{}, req.Tools...)
	g.requests = append(g.requests, &recorded)

	if len(g.queue) == 0 {
		return nil, fmt.Errorf("model: script exhausted after %d calls", len(g.requests))
	}
	next := g.queue[0]
	g.queue = g.queue[1:]
	return next, nil
}

// Info implements Gateway.
func (g *ScriptedGateway) Info() Info { return g.info }

// Requests returns the recorded requests in call order.
func (g *ScriptedGateway) Requests() []*Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Request{}, g.requests...)
}

// CallCount returns how many Generate calls the gateway has served.
func (g *ScriptedGateway) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// Remaining returns how many scripted candidates are still queued.
func (g *ScriptedGateway) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// TextCandidate builds a finishing text candidate.
func TextCandidate(text string) *Candidate {
	return &Candidate{
		Content:      core.NewModelText(text),
		FinishReason: FinishStop,
	}
}

// CallCandidate builds a candidate requesting the given actions, optionally
// prefixed with thought text.
func CallCandidate(thought string, calls ...core.ActionCall) *Candidate {
	parts := make([]core.Part, 0, len(calls)+1)
	if thought != "" {
		parts = append(parts, core.TextPart{Text: thought})
	}
	for _, call := range calls {
		if call.ID == "" {
			call.ID = core.NewID()
		}
		parts = append(parts, core.ActionCallPart{Call: call})
	}
	return &Candidate{
		Content:      core.Content{Role: core.RoleModel, Parts: parts},
		FinishReason: FinishToolCalls,
	}
}

// MalformedCandidate builds a candidate the control loop must treat as a
// protocol violation.
func MalformedCandidate(diagnostic string) *Candidate {
	return &Candidate{
		Content:      core.Content{Role: core.RoleModel},
		FinishReason: FinishMalformed,
		Diagnostic:   diagnostic,
	}
}
