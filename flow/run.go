package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agentweave/agent"
	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/internal/schema"
	"github.com/hupe1980/agentweave/logging"
	"github.com/hupe1980/agentweave/model"
	"github.com/hupe1980/agentweave/substrate"
)

// Execute runs one agent instance to completion. It implements
// substrate.Workflow.
func (m *Machine) Execute(wctx substrate.Context, input []byte) (any, error) {
	var in Input
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("flow: decode input: %w", err)
	}

	node, ok := m.tree.Node(in.AgentName)
	if !ok {
		return nil, fmt.Errorf("flow: agent %q is not part of the compiled tree", in.AgentName)
	}

	r := &run{
		machine:  m,
		wctx:     wctx,
		node:     node,
		in:       in,
		logger:   wctx.Logger(),
		conv:     core.NewConversation(in.History),
		thoughts: core.NewThoughtLog(),
		pending:  &core.PendingResponse{},
		limiter:  core.NewModelLimiter(m.opts.MaxModelCalls),
		wake:     make(chan struct{}, 1),
	}
	r.register()

	out, err := r.loop()
	if err != nil {
		r.pending.Abort(err)
		r.logger.Error("flow.instance.failed", "agent", in.AgentName, "error", err.Error())
		return nil, err
	}
	return out, nil
}

// run is the mutable state of one executing instance. The loop methods run
// on the workflow goroutine; handlers run on caller goroutines and touch
// only the synchronized core types, the wake channel and the atomics.
type run struct {
	machine *Machine
	wctx    substrate.Context
	node    *agent.Node
	in      Input
	logger  logging.Logger

	conv     *core.Conversation
	thoughts *core.ThoughtLog
	pending  *core.PendingResponse
	limiter  *core.ModelLimiter

	wake        chan struct{}
	terminating atomic.Bool
	thoughtSeq  atomic.Uint64

	childSeq  int
	finalText string
}

// loop drives the conversation: await input, call the gateway, branch on the
// candidate, dispatch actions, repeat.
func (r *run) loop() (*Output, error) {
	if r.in.Root {
		if err := r.awaitWake(); err != nil {
			return nil, err
		}
	} else {
		// The delta a child reports starts at the parent's history length,
		// so the synthesized prompt entry is part of it.
		r.conv.MarkDelta()
		r.conv.Append(core.NewUserText(r.in.Prompt))
	}

	malformed := 0
	for !r.terminating.Load() {
		candidate, err := r.generate()
		if err != nil {
			return nil, err
		}

		if candidate.FinishReason == model.FinishMalformed {
			malformed++
			diagnostic := candidate.Diagnostic
			if diagnostic == "" {
				diagnostic = "the previous response could not be interpreted"
			}
			r.logger.Warn("flow.candidate.malformed",
				"agent", r.in.AgentName,
				"attempt", malformed,
				"diagnostic", diagnostic)
			if malformed >= r.machine.opts.MaxProtocolRetries {
				return nil, &core.ProtocolError{
					Agent:      r.in.AgentName,
					Attempts:   malformed,
					Diagnostic: diagnostic,
				}
			}
			r.conv.Append(core.NewUserText(diagnostic))
			continue
		}
		malformed = 0

		entry := candidate.Content
		r.conv.Append(entry)
		r.publishThoughts(entry)

		calls := entry.ActionCalls()
		if len(calls) == 0 {
			r.finalText = entry.Text()
			if !r.in.Root {
				return &Output{Entries: r.conv.Delta(), Text: r.finalText}, nil
			}
			r.pending.Resolve(r.finalText)
			r.limiter.Reset()
			if err := r.awaitWake(); err != nil {
				return nil, err
			}
			continue
		}

		results, err := r.dispatch(calls)
		if err != nil {
			return nil, err
		}
		r.conv.Append(results)
	}

	r.pending.Resolve("")
	r.logger.Info("flow.instance.terminated", "agent", r.in.AgentName, "entries", r.conv.Len())
	return &Output{Entries: r.conv.Entries(), Text: r.finalText}, nil
}

// awaitWake blocks until a handler nudges the loop or the instance is torn
// down.
func (r *run) awaitWake() error {
	select {
	case <-r.wake:
		return nil
	case <-r.wctx.Done():
		return context.Cause(r.wctx)
	}
}

// nudge wakes the loop without blocking; a pending nudge is enough.
func (r *run) nudge() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *run) beginTerminate() {
	r.terminating.Store(true)
	r.nudge()
}

// generate runs the gateway call activity over the current history.
func (r *run) generate() (*model.Candidate, error) {
	if err := r.limiter.Increment(); err != nil {
		return nil, fmt.Errorf("flow: agent %q: %w", r.in.AgentName, err)
	}

	start := time.Now()
	res, err := r.wctx.ExecuteActivity(ActivityGenerate,
		GenerateInput{Agent: r.in.AgentName, History: r.conv.Entries()},
		substrate.WithStartToCloseTimeout(r.machine.opts.CallTimeout),
		substrate.WithMaxAttempts(r.machine.opts.CallAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("flow: generate for agent %q: %w", r.in.AgentName, err)
	}

	var candidate model.Candidate
	if err := res.Get(&candidate); err != nil {
		return nil, fmt.Errorf("flow: decode candidate for agent %q: %w", r.in.AgentName, err)
	}

	r.logger.Debug("flow.generate.completed",
		"agent", r.in.AgentName,
		"finish_reason", string(candidate.FinishReason),
		"duration_ms", time.Since(start).Milliseconds())
	return &candidate, nil
}

// dispatch resolves and executes every requested action in request order and
// folds the results into one user entry, result order matching request order.
func (r *run) dispatch(calls []core.ActionCall) (core.Content, error) {
	start := time.Now()
	results := make([]core.ActionResult, 0, len(calls))

	for _, call := range calls {
		binding, ok := r.node.Binding(call.Name)
		if !ok {
			return core.Content{}, &core.UnknownActionError{Agent: r.in.AgentName, Action: call.Name}
		}

		var (
			result core.ActionResult
			err    error
		)
		switch binding.Kind {
		case agent.BindLocalTool:
			result, err = r.callTool(call)
		case agent.BindChildAgent:
			result, err = r.callChild(call, binding.Child)
		default:
			err = fmt.Errorf("flow: unhandled binding kind %d for action %q", binding.Kind, call.Name)
		}
		if err != nil {
			return core.Content{}, err
		}
		results = append(results, result)
	}

	r.logger.Info("flow.dispatch.completed",
		"agent", r.in.AgentName,
		"actions", len(calls),
		"duration_ms", time.Since(start).Milliseconds())
	return core.NewActionResults(results...), nil
}

// callTool runs a local tool as an activity.
func (r *run) callTool(call core.ActionCall) (core.ActionResult, error) {
	res, err := r.wctx.ExecuteActivity(call.Name,
		ToolInput{
			InstanceID: r.wctx.InstanceID(),
			Agent:      r.in.AgentName,
			CallID:     call.ID,
			Arguments:  call.Arguments,
		},
		substrate.WithStartToCloseTimeout(r.machine.opts.CallTimeout),
		substrate.WithMaxAttempts(r.machine.opts.CallAttempts),
	)
	if err != nil {
		return core.ActionResult{}, fmt.Errorf("flow: tool %q for agent %q: %w", call.Name, r.in.AgentName, err)
	}

	var payload any
	if err := res.Get(&payload); err != nil {
		return core.ActionResult{}, fmt.Errorf("flow: decode result of tool %q: %w", call.Name, err)
	}
	return core.ActionResult{ID: call.ID, Name: call.Name, Payload: payload}, nil
}

// callChild delegates to a child agent instance and blocks until it returns.
// The child's delta becomes the action result payload.
func (r *run) callChild(call core.ActionCall, childName string) (core.ActionResult, error) {
	args, err := json.Marshal(call.Arguments)
	if err != nil {
		return core.ActionResult{}, fmt.Errorf("flow: serialize arguments for child %q: %w", childName, err)
	}

	r.childSeq++
	childID := fmt.Sprintf("%s-%s-%d", childName, r.wctx.InstanceID(), r.childSeq)

	res, err := r.wctx.ExecuteChild(WorkflowName,
		Input{
			AgentName: childName,
			History:   r.conv.Entries(),
			Prompt:    string(args),
			ParentID:  r.wctx.InstanceID(),
		},
		substrate.WithChildID(childID),
	)
	if err != nil {
		return core.ActionResult{}, fmt.Errorf("flow: child agent %q: %w", childName, err)
	}

	var out Output
	if err := res.Get(&out); err != nil {
		return core.ActionResult{}, fmt.Errorf("flow: decode result of child %q: %w", childName, err)
	}
	return core.ActionResult{ID: call.ID, Name: call.Name, Payload: out.Entries}, nil
}

// publishThoughts records the entry's text lines and, for a child instance,
// signals each line to the parent.
func (r *run) publishThoughts(entry core.Content) {
	for _, line := range core.ThoughtLines(entry.Text()) {
		r.thoughts.Append(line)
		if !r.in.Root {
			r.sendThought(line)
		}
	}
}

// sendThought signals one line to the parent instance. Delivery is fire and
// forget; the per-sender sequence lets the parent drop duplicates.
func (r *run) sendThought(line string) {
	sig := ThoughtSignal{
		Sender: r.wctx.InstanceID(),
		Seq:    r.thoughtSeq.Add(1),
		Line:   line,
	}
	if err := r.wctx.SignalExternal(r.in.ParentID, SignalThought, sig); err != nil {
		r.logger.Debug("flow.thought.signal_failed",
			"parent", r.in.ParentID, "error", err.Error())
	}
}

// register wires the instance's handlers. Every instance answers thought
// queries and accepts thought and terminate signals; only the root accepts
// prompt updates.
func (r *run) register() {
	r.wctx.HandleQuery(QueryThoughts, r.handleThoughtsQuery)
	r.wctx.HandleSignal(SignalThought, r.handleThoughtSignal)
	r.wctx.HandleSignal(SignalTerminate, func([]byte) {
		r.logger.Info("flow.terminate.signal", "agent", r.in.AgentName)
		r.beginTerminate()
	})
	if r.in.Root {
		r.wctx.HandleUpdate(UpdatePrompt, r.handlePrompt)
	}
}

// handlePrompt ingests one prompt and blocks the caller until the machine
// resolves it with finishing text. Runs on the caller's goroutine.
func (r *run) handlePrompt(ctx context.Context, payload []byte) ([]byte, error) {
	text, structured, err := DecodePrompt(payload)
	if err != nil {
		return nil, err
	}

	if structured != nil {
		if s := r.node.Def.InputSchema(); s != nil {
			if err := schema.Validate(structured, s); err != nil {
				return nil, fmt.Errorf("flow: prompt rejected: %w", err)
			}
		}
	}

	if text == EndSentinel {
		r.logger.Info("flow.terminate.sentinel", "agent", r.in.AgentName)
		r.beginTerminate()
		return json.Marshal("")
	}

	waiter, err := r.pending.Arm()
	if err != nil {
		return nil, err
	}

	r.conv.Append(core.NewUserText(text))
	r.logger.Debug("flow.prompt.received", "agent", r.in.AgentName, "chars", len(text))
	r.nudge()

	select {
	case out := <-waiter:
		if out.Err != nil {
			return nil, out.Err
		}
		return json.Marshal(out.Text)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.wctx.Done():
		return nil, context.Cause(r.wctx)
	}
}

// handleThoughtSignal ingests a child's line and bubbles newly seen lines
// further upward.
func (r *run) handleThoughtSignal(payload []byte) {
	var sig ThoughtSignal
	if err := json.Unmarshal(payload, &sig); err != nil {
		r.logger.Warn("flow.thought.malformed_signal", "agent", r.in.AgentName, "error", err.Error())
		return
	}
	if sig.Sender == "" || sig.Line == "" {
		return
	}
	if r.thoughts.Ingest(sig.Sender, sig.Seq, sig.Line) && !r.in.Root {
		r.sendThought(sig.Line)
	}
}

// handleThoughtsQuery serves the thought log from a watermark.
func (r *run) handleThoughtsQuery(args []byte) (any, error) {
	watermark := 0
	if len(args) > 0 {
		if err := json.Unmarshal(args, &watermark); err != nil {
			return nil, fmt.Errorf("flow: thoughts watermark must be an integer: %w", err)
		}
	}
	return r.thoughts.Since(watermark), nil
}
