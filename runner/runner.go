package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/agentweave/agent"
	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/flow"
	"github.com/hupe1980/agentweave/logging"
	"github.com/hupe1980/agentweave/model"
	"github.com/hupe1980/agentweave/substrate"
	"github.com/hupe1980/agentweave/tool"
	"github.com/hupe1980/agentweave/transcript"
)

// Options holds dependency and configuration overrides passed to New.
type Options struct {
	// Engine hosts the workflow instances. Defaults to a LocalEngine owned
	// by the runner.
	Engine substrate.Engine

	// Gateway serves agents whose definition does not bind its own.
	Gateway model.Gateway

	// Logger receives runner, machine and engine logs.
	Logger logging.Logger

	// Transcripts records completed exchanges. Defaults to an in-memory
	// store.
	Transcripts transcript.Store

	// MaxConcurrentInstances caps concurrently executing instances when the
	// runner builds its own engine. Zero means the engine default.
	MaxConcurrentInstances int64

	// CallTimeout bounds each gateway and tool call. Zero means the machine
	// default.
	CallTimeout time.Duration

	// CallAttempts is the retry budget per gateway and tool call. Zero
	// means the machine default.
	CallAttempts int

	// MaxProtocolRetries caps consecutive malformed candidates before the
	// instance fails. Zero means the machine default.
	MaxProtocolRetries int

	// MaxModelCalls caps gateway calls per prompt. Zero means unlimited.
	MaxModelCalls int
}

// Runner binds a compiled agent tree to an engine and starts sessions
// against it. Public methods are safe for concurrent use.
type Runner struct {
	tree        *agent.Tree
	engine      substrate.Engine
	ownsEngine  bool
	gateway     model.Gateway
	logger      logging.Logger
	transcripts transcript.Store
}

// New compiles the root definition, registers the agent workflow plus all
// activities on the engine and returns a ready Runner.
func New(root *agent.Definition, optFns ...func(o *Options)) (*Runner, error) {
	opts := Options{
		Logger:      logging.NoOpLogger{},
		Transcripts: transcript.NewInMemoryStore(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	tree, err := agent.Compile(root)
	if err != nil {
		return nil, fmt.Errorf("runner: compile agent tree: %w", err)
	}

	for _, name := range tree.Names() {
		node, _ := tree.Node(name)
		if node.Def.Gateway() == nil && opts.Gateway == nil {
			return nil, fmt.Errorf("runner: agent %q has no gateway and no default is configured", name)
		}
	}

	engine := opts.Engine
	ownsEngine := false
	if engine == nil {
		ownsEngine = true
		engine = substrate.NewLocalEngine(func(o *substrate.Options) {
			o.Logger = opts.Logger
			if opts.MaxConcurrentInstances > 0 {
				o.MaxConcurrentInstances = opts.MaxConcurrentInstances
			}
		})
	}

	r := &Runner{
		tree:        tree,
		engine:      engine,
		ownsEngine:  ownsEngine,
		gateway:     opts.Gateway,
		logger:      opts.Logger,
		transcripts: opts.Transcripts,
	}

	machine := flow.NewMachine(tree, func(o *flow.Options) {
		if opts.CallTimeout > 0 {
			o.CallTimeout = opts.CallTimeout
		}
		if opts.CallAttempts > 0 {
			o.CallAttempts = opts.CallAttempts
		}
		if opts.MaxProtocolRetries > 0 {
			o.MaxProtocolRetries = opts.MaxProtocolRetries
		}
		if opts.MaxModelCalls > 0 {
			o.MaxModelCalls = opts.MaxModelCalls
		}
	})
	if err := engine.RegisterWorkflow(machine); err != nil {
		return nil, fmt.Errorf("runner: register workflow: %w", err)
	}
	if err := engine.RegisterActivity(flow.ActivityGenerate, substrate.Activity(r.generate)); err != nil {
		return nil, fmt.Errorf("runner: register generate activity: %w", err)
	}
	for name, tl := range tree.Tools() {
		if err := engine.RegisterActivity(name, r.toolActivity(tl)); err != nil {
			return nil, fmt.Errorf("runner: register tool activity %q: %w", name, err)
		}
	}

	r.logger.Info("runner.ready",
		"root", tree.Root(),
		"agents", len(tree.Names()),
		"tools", len(tree.Tools()))
	return r, nil
}

// Engine returns the engine the runner registered on.
func (r *Runner) Engine() substrate.Engine { return r.engine }

// Close shuts down the engine when the runner created it. An engine passed
// in through Options stays up, its owner closes it.
func (r *Runner) Close() {
	if !r.ownsEngine {
		return
	}
	if closer, ok := r.engine.(interface{ Close() }); ok {
		closer.Close()
	}
}

// Tree returns the compiled agent tree.
func (r *Runner) Tree() *agent.Tree { return r.tree }

// Transcripts returns the exchange store sessions record to.
func (r *Runner) Transcripts() transcript.Store { return r.transcripts }

// generate is the shared activity performing one gateway call for any agent
// in the tree.
func (r *Runner) generate(ctx context.Context, in flow.GenerateInput) (any, error) {
	node, ok := r.tree.Node(in.Agent)
	if !ok {
		return nil, fmt.Errorf("runner: agent %q is not part of the compiled tree", in.Agent)
	}

	gateway := node.Def.Gateway()
	if gateway == nil {
		gateway = r.gateway
	}

	req := &model.Request{
		Model:       node.Def.ModelID(),
		Instruction: node.Def.Instruction(),
		History:     in.History,
		Tools:       node.Schemas(),
	}

	start := time.Now()
	candidate, err := gateway.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("runner: generate for agent %q: %w", in.Agent, err)
	}

	fields := []any{
		"agent", in.Agent,
		"provider", gateway.Info().Provider,
		"finish_reason", string(candidate.FinishReason),
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if candidate.Usage != nil {
		fields = append(fields, "total_tokens", candidate.Usage.TotalTokens)
	}
	r.logger.Debug("runner.model.generated", fields...)

	return candidate, nil
}

// toolActivity adapts one local tool into an activity.
func (r *Runner) toolActivity(tl tool.Tool) substrate.ActivityFunc {
	return substrate.Activity(func(ctx context.Context, in flow.ToolInput) (any, error) {
		toolCtx := core.NewToolContext(ctx, in.InstanceID, in.Agent, in.CallID, r.logger)
		return tl.Call(toolCtx, in.Arguments)
	})
}

// StartOptions configure a session start.
type StartOptions struct {
	// SessionID pins the root instance ID. Empty means a generated
	// <root-name>-<hex> ID.
	SessionID string
}

// StartSession launches a root instance and returns its session handle.
func (r *Runner) StartSession(ctx context.Context, optFns ...func(o *StartOptions)) (*Session, error) {
	opts := StartOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	id := opts.SessionID
	if id == "" {
		id = fmt.Sprintf("%s-%s", r.tree.Root(), uuid.NewString()[:6])
	}

	inst, err := r.engine.Start(ctx, flow.WorkflowName,
		flow.Input{AgentName: r.tree.Root(), Root: true},
		substrate.WithInstanceID(id),
	)
	if err != nil {
		return nil, fmt.Errorf("runner: start session: %w", err)
	}

	r.logger.Info("runner.session.started", "session_id", id, "agent", r.tree.Root())
	return &Session{runner: r, inst: inst, agent: r.tree.Root()}, nil
}

// Session is the client handle to one live conversation.
type Session struct {
	runner *Runner
	inst   substrate.Instance
	agent  string
}

// ID returns the session's instance ID.
func (s *Session) ID() string { return s.inst.ID() }

// SubmitPrompt sends one prompt and blocks until the finishing response
// arrives. The prompt may be a plain string or any JSON-serializable value
// validated against the root agent's input schema.
func (s *Session) SubmitPrompt(ctx context.Context, prompt any) (string, error) {
	raw, err := s.inst.Update(ctx, flow.UpdatePrompt, prompt)
	if err != nil {
		return "", err
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return "", fmt.Errorf("runner: decode prompt response: %w", err)
	}

	s.runner.recordExchange(ctx, s, prompt, text)
	return text, nil
}

// PollThoughts returns the thought lines recorded after the watermark.
func (s *Session) PollThoughts(ctx context.Context, watermark int) ([]string, error) {
	raw, err := s.inst.Query(ctx, flow.QueryThoughts, watermark)
	if err != nil {
		return nil, err
	}

	var thoughts []string
	if err := json.Unmarshal(raw, &thoughts); err != nil {
		return nil, fmt.Errorf("runner: decode thoughts: %w", err)
	}
	return thoughts, nil
}

// Terminate ends the session and waits for the instance to wind down.
func (s *Session) Terminate(ctx context.Context) error {
	if _, err := s.inst.Update(ctx, flow.UpdatePrompt, flow.EndSentinel); err != nil {
		return err
	}
	_, err := s.inst.Result(ctx)
	return err
}

// Result blocks until the session's instance completes and returns its
// failure, if any.
func (s *Session) Result(ctx context.Context) error {
	_, err := s.inst.Result(ctx)
	return err
}

// recordExchange saves a completed exchange. Recording is best-effort and
// never fails the exchange itself.
func (r *Runner) recordExchange(ctx context.Context, s *Session, prompt any, response string) {
	if r.transcripts == nil {
		return
	}

	text, ok := prompt.(string)
	if !ok {
		raw, err := json.Marshal(prompt)
		if err != nil {
			r.logger.Warn("runner.transcript.encode_failed", "session_id", s.ID(), "error", err.Error())
			return
		}
		text = string(raw)
	}

	if err := r.transcripts.SaveExchange(ctx, transcript.Exchange{
		SessionID: s.ID(),
		Agent:     s.agent,
		Prompt:    text,
		Response:  response,
	}); err != nil {
		r.logger.Warn("runner.transcript.save_failed", "session_id", s.ID(), "error", err.Error())
	}
}
