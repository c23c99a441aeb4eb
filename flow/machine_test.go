package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/agentweave/agent"
	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/internal/testutil"
	"github.com/hupe1980/agentweave/model"
	"github.com/hupe1980/agentweave/substrate"
	"github.com/hupe1980/agentweave/tool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// generateScript serves pre-scripted candidates per agent and records the
// history each gateway call saw.
type generateScript struct {
	mu        sync.Mutex
	queues    map[string][]model.Candidate
	histories map[string][][]core.Content
}

func newGenerateScript() *generateScript {
	return &generateScript{
		queues:    make(map[string][]model.Candidate),
		histories: make(map[string][][]core.Content),
	}
}

func (s *generateScript) add(agentName string, candidates ...model.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[agentName] = append(s.queues[agentName], candidates...)
}

func (s *generateScript) activity(_ context.Context, payload []byte) (any, error) {
	var in GenerateInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[in.Agent] = append(s.histories[in.Agent], in.History)

	queue := s.queues[in.Agent]
	if len(queue) == 0 {
		return nil, fmt.Errorf("no scripted candidate left for agent %q", in.Agent)
	}
	s.queues[in.Agent] = queue[1:]
	return queue[0], nil
}

func (s *generateScript) history(agentName string, call int) []core.Content {
	s.mu.Lock()
	defer s.mu.Unlock()
	if call >= len(s.histories[agentName]) {
		return nil
	}
	return s.histories[agentName][call]
}

func (s *generateScript) calls(agentName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.histories[agentName])
}

func stopCandidate(text string) model.Candidate {
	return model.Candidate{Content: core.NewModelText(text), FinishReason: model.FinishStop}
}

func callCandidate(text string, calls ...core.ActionCall) model.Candidate {
	b := testutil.NewContentBuilder()
	if text != "" {
		b.Text(text)
	}
	for _, call := range calls {
		b.ActionCall(call.ID, call.Name, call.Arguments)
	}
	return model.Candidate{Content: b.Build(), FinishReason: model.FinishToolCalls}
}

func malformedCandidate(diagnostic string) model.Candidate {
	return model.Candidate{FinishReason: model.FinishMalformed, Diagnostic: diagnostic}
}

// bindingTool declares a dispatchable tool. Execution happens through the
// activity registered under the same name, so the function body must never
// run inside machine tests.
func bindingTool(name string) tool.Tool {
	return tool.NewFunctionTool(name, "Test tool "+name,
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(*core.ToolContext, map[string]any) (any, error) {
			return nil, fmt.Errorf("tool %s must run as an activity", name)
		})
}

func newMachineEngine(t *testing.T, tree *agent.Tree, script *generateScript, activities map[string]substrate.ActivityFunc, optFns ...func(o *Options)) *substrate.LocalEngine {
	t.Helper()

	engine := substrate.NewLocalEngine()
	t.Cleanup(engine.Close)

	require.NoError(t, engine.RegisterWorkflow(NewMachine(tree, optFns...)))
	require.NoError(t, engine.RegisterActivity(ActivityGenerate, script.activity))
	for name, fn := range activities {
		require.NoError(t, engine.RegisterActivity(name, fn))
	}
	return engine
}

func startRoot(t *testing.T, engine *substrate.LocalEngine, agentName, id string) substrate.Instance {
	t.Helper()

	inst, err := engine.Start(context.Background(), WorkflowName,
		Input{AgentName: agentName, Root: true}, substrate.WithInstanceID(id))
	require.NoError(t, err)
	return inst
}

func submitPrompt(t *testing.T, inst substrate.Instance, prompt any) string {
	t.Helper()

	raw, err := inst.Update(context.Background(), UpdatePrompt, prompt)
	require.NoError(t, err)

	var text string
	require.NoError(t, json.Unmarshal(raw, &text))
	return text
}

func queryThoughts(t *testing.T, inst substrate.Instance, watermark int) []string {
	t.Helper()

	raw, err := inst.Query(context.Background(), QueryThoughts, watermark)
	require.NoError(t, err)

	var thoughts []string
	require.NoError(t, json.Unmarshal(raw, &thoughts))
	return thoughts
}

func TestMachineSinglePromptExchange(t *testing.T) {
	script := newGenerateScript()
	script.add("greeter",
		stopCandidate("Hello there!"),
		stopCandidate("Still here."),
	)

	tree := agent.MustCompile(agent.New("greeter"))
	engine := newMachineEngine(t, tree, script, nil)
	inst := startRoot(t, engine, "greeter", "greeter-main")

	assert.Equal(t, "Hello there!", submitPrompt(t, inst, "Hi"))
	assert.Equal(t, "Still here.", submitPrompt(t, inst, "You around?"))

	first := script.history("greeter", 0)
	require.Len(t, first, 1)
	assert.Equal(t, core.RoleUser, first[0].Role)
	assert.Equal(t, "Hi", first[0].Text())

	second := script.history("greeter", 1)
	require.Len(t, second, 3)
	assert.Equal(t, core.RoleModel, second[1].Role)
	assert.Equal(t, "Hello there!", second[1].Text())
	assert.Equal(t, "You around?", second[2].Text())

	// The sentinel ends the session without another gateway call and
	// without entering the history.
	assert.Equal(t, "", submitPrompt(t, inst, EndSentinel))

	res, err := inst.Result(context.Background())
	require.NoError(t, err)

	var out Output
	require.NoError(t, res.Get(&out))
	assert.Equal(t, "Still here.", out.Text)
	assert.Len(t, out.Entries, 4)
	assert.Equal(t, 2, script.calls("greeter"))
}

func TestMachineStructuredPrompt(t *testing.T) {
	script := newGenerateScript()
	script.add("intake", stopCandidate("Ticket filed."))

	def := agent.New("intake", func(o *agent.Options) {
		o.InputSchema = map[string]any{
			"type": "object",
			"properties": map[string]any{
				"subject": map[string]any{"type": "string"},
			},
			"required": []string{"subject"},
		}
	})
	engine := newMachineEngine(t, agent.MustCompile(def), script, nil)
	inst := startRoot(t, engine, "intake", "intake-main")

	_, err := inst.Update(context.Background(), UpdatePrompt, map[string]any{"priority": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt rejected")
	assert.Equal(t, 0, script.calls("intake"))

	assert.Equal(t, "Ticket filed.", submitPrompt(t, inst, map[string]any{"subject": "login broken"}))

	first := script.history("intake", 0)
	require.Len(t, first, 1)
	assert.JSONEq(t, `{"subject":"login broken"}`, first[0].Text())
}

func TestMachineToolDispatch(t *testing.T) {
	script := newGenerateScript()
	script.add("orders",
		callCandidate("Checking the order.", core.ActionCall{
			ID:        "call-1",
			Name:      "lookup_order",
			Arguments: map[string]any{"order_id": "A-7"},
		}),
		stopCandidate("Order A-7 has shipped."),
	)

	received := make(chan ToolInput, 1)
	lookup := func(_ context.Context, payload []byte) (any, error) {
		var in ToolInput
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, err
		}
		received <- in
		return map[string]any{"status": "shipped"}, nil
	}

	def := agent.New("orders", func(o *agent.Options) {
		o.Tools = []tool.Tool{bindingTool("lookup_order")}
	})
	engine := newMachineEngine(t, agent.MustCompile(def), script,
		map[string]substrate.ActivityFunc{"lookup_order": lookup})
	inst := startRoot(t, engine, "orders", "orders-main")

	assert.Equal(t, "Order A-7 has shipped.", submitPrompt(t, inst, "Where is order A-7?"))

	in := <-received
	assert.Equal(t, "orders-main", in.InstanceID)
	assert.Equal(t, "orders", in.Agent)
	assert.Equal(t, "call-1", in.CallID)
	assert.Equal(t, map[string]any{"order_id": "A-7"}, in.Arguments)

	second := script.history("orders", 1)
	require.Len(t, second, 3)

	calls := second[1].ActionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "lookup_order", calls[0].Name)

	assert.Equal(t, core.RoleUser, second[2].Role)
	results := second[2].ActionResults()
	require.Len(t, results, 1)
	assert.Equal(t, "call-1", results[0].ID)
	assert.Equal(t, "lookup_order", results[0].Name)
	assert.Equal(t, map[string]any{"status": "shipped"}, results[0].Payload)
}

func TestMachineToolFailureFailsInstance(t *testing.T) {
	script := newGenerateScript()
	script.add("orders", callCandidate("", core.ActionCall{
		ID:        "call-1",
		Name:      "lookup_order",
		Arguments: map[string]any{"order_id": "A-7"},
	}))

	failing := func(context.Context, []byte) (any, error) {
		return nil, errors.New("backend down")
	}

	def := agent.New("orders", func(o *agent.Options) {
		o.Tools = []tool.Tool{bindingTool("lookup_order")}
	})
	engine := newMachineEngine(t, agent.MustCompile(def), script,
		map[string]substrate.ActivityFunc{"lookup_order": failing},
		func(o *Options) { o.CallAttempts = 1 })
	inst := startRoot(t, engine, "orders", "orders-main")

	_, err := inst.Update(context.Background(), UpdatePrompt, "Where is order A-7?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")

	// The failure surfaced to the caller, never to the model.
	assert.Equal(t, 1, script.calls("orders"))

	_, err = inst.Result(context.Background())
	require.Error(t, err)
}

func TestMachineChildDelegation(t *testing.T) {
	script := newGenerateScript()
	script.add("front",
		callCandidate("Delegating to billing.", core.ActionCall{
			ID:        "call-1",
			Name:      "billing",
			Arguments: map[string]any{"request": "refund order A-7"},
		}),
		stopCandidate("Refund is on its way."),
	)
	script.add("billing", stopCandidate("Refund issued for order A-7."))

	billing := agent.New("billing")
	front := agent.New("front", func(o *agent.Options) {
		o.SubAgents = []*agent.Definition{billing}
	})
	engine := newMachineEngine(t, agent.MustCompile(front), script, nil)
	inst := startRoot(t, engine, "front", "front-main")

	assert.Equal(t, "Refund is on its way.", submitPrompt(t, inst, "Please refund order A-7."))

	// The child saw the parent history plus its synthesized prompt entry.
	childFirst := script.history("billing", 0)
	require.Len(t, childFirst, 3)
	assert.Equal(t, core.RoleUser, childFirst[2].Role)
	assert.JSONEq(t, `{"request":"refund order A-7"}`, childFirst[2].Text())

	_, ok := engine.Lookup("billing-front-main-1")
	assert.True(t, ok)

	// The child's delta rides inside the single tool result part.
	parentSecond := script.history("front", 1)
	require.Len(t, parentSecond, 3)
	results := parentSecond[2].ActionResults()
	require.Len(t, results, 1)
	assert.Equal(t, "billing", results[0].Name)

	raw, err := json.Marshal(results[0].Payload)
	require.NoError(t, err)
	var delta []core.Content
	require.NoError(t, json.Unmarshal(raw, &delta))
	require.Len(t, delta, 2)
	assert.JSONEq(t, `{"request":"refund order A-7"}`, delta[0].Text())
	assert.Equal(t, "Refund issued for order A-7.", delta[1].Text())

	// The child's thinking surfaced in the root thought log, in order.
	assert.Equal(t, []string{
		"Delegating to billing.",
		"Refund issued for order A-7.",
		"Refund is on its way.",
	}, queryThoughts(t, inst, 0))
	assert.Equal(t, []string{"Refund is on its way."}, queryThoughts(t, inst, 2))
}

func TestMachineThoughtBubblingDepth(t *testing.T) {
	script := newGenerateScript()
	script.add("front",
		callCandidate("Routing to support.", core.ActionCall{
			ID:        "c1",
			Name:      "support",
			Arguments: map[string]any{"request": "refund A-7"},
		}),
		stopCandidate("All done."),
	)
	script.add("support",
		callCandidate("Escalating to billing.", core.ActionCall{
			ID:        "c2",
			Name:      "billing",
			Arguments: map[string]any{"request": "issue refund"},
		}),
		stopCandidate("Refund complete."),
	)
	script.add("billing", stopCandidate("Refund issued."))

	billing := agent.New("billing")
	support := agent.New("support", func(o *agent.Options) {
		o.SubAgents = []*agent.Definition{billing}
	})
	front := agent.New("front", func(o *agent.Options) {
		o.SubAgents = []*agent.Definition{support}
	})
	engine := newMachineEngine(t, agent.MustCompile(front), script, nil)
	inst := startRoot(t, engine, "front", "front-main")

	assert.Equal(t, "All done.", submitPrompt(t, inst, "I want a refund for A-7."))

	// Grandchild lines bubble hop by hop to the root.
	assert.Equal(t, []string{
		"Routing to support.",
		"Escalating to billing.",
		"Refund issued.",
		"Refund complete.",
		"All done.",
	}, queryThoughts(t, inst, 0))

	// The intermediate hop holds its own view of the subtree.
	mid, ok := engine.Lookup("support-front-main-1")
	require.True(t, ok)
	assert.Equal(t, []string{
		"Escalating to billing.",
		"Refund issued.",
		"Refund complete.",
	}, queryThoughts(t, mid, 0))
}

func TestMachineMultiLineThoughts(t *testing.T) {
	script := newGenerateScript()
	script.add("poet", stopCandidate("Line one.\n\nLine two."))

	engine := newMachineEngine(t, agent.MustCompile(agent.New("poet")), script, nil)
	inst := startRoot(t, engine, "poet", "poet-main")

	assert.Equal(t, "Line one.\n\nLine two.", submitPrompt(t, inst, "Recite"))
	assert.Equal(t, []string{"Line one.", "Line two."}, queryThoughts(t, inst, 0))
}

func TestMachineMalformedRecovery(t *testing.T) {
	script := newGenerateScript()
	script.add("parser",
		malformedCandidate(`arguments for action "lookup" are not a JSON object`),
		stopCandidate("Recovered."),
	)

	engine := newMachineEngine(t, agent.MustCompile(agent.New("parser")), script, nil)
	inst := startRoot(t, engine, "parser", "parser-main")

	assert.Equal(t, "Recovered.", submitPrompt(t, inst, "Go"))

	// The diagnostic went back to the model as a user entry.
	second := script.history("parser", 1)
	require.Len(t, second, 2)
	assert.Equal(t, core.RoleUser, second[1].Role)
	assert.Contains(t, second[1].Text(), "not a JSON object")
}

func TestMachineMalformedCapFailsInstance(t *testing.T) {
	script := newGenerateScript()
	script.add("parser",
		malformedCandidate("bad output"),
		malformedCandidate("bad output"),
		malformedCandidate("bad output"),
	)

	engine := newMachineEngine(t, agent.MustCompile(agent.New("parser")), script, nil)
	inst := startRoot(t, engine, "parser", "parser-main")

	_, err := inst.Update(context.Background(), UpdatePrompt, "Go")
	require.Error(t, err)

	var protoErr *core.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, 3, protoErr.Attempts)
	assert.Equal(t, 3, script.calls("parser"))

	_, err = inst.Result(context.Background())
	require.ErrorAs(t, err, &protoErr)
}

func TestMachineBusyReject(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slowGenerate := func(context.Context, []byte) (any, error) {
		close(started)
		<-release
		return stopCandidate("Done waiting."), nil
	}

	engine := substrate.NewLocalEngine()
	t.Cleanup(engine.Close)
	require.NoError(t, engine.RegisterWorkflow(NewMachine(agent.MustCompile(agent.New("solo")))))
	require.NoError(t, engine.RegisterActivity(ActivityGenerate, slowGenerate))
	inst := startRoot(t, engine, "solo", "solo-main")

	errCh := make(chan error, 1)
	go func() {
		_, err := inst.Update(context.Background(), UpdatePrompt, "first")
		errCh <- err
	}()

	<-started
	_, err := inst.Update(context.Background(), UpdatePrompt, "second")
	require.ErrorIs(t, err, core.ErrBusy)

	close(release)
	require.NoError(t, <-errCh)
}

func TestMachineUnknownActionFatal(t *testing.T) {
	script := newGenerateScript()
	script.add("rogue", callCandidate("", core.ActionCall{ID: "x1", Name: "charge_card"}))

	engine := newMachineEngine(t, agent.MustCompile(agent.New("rogue")), script, nil)
	inst := startRoot(t, engine, "rogue", "rogue-main")

	_, err := inst.Update(context.Background(), UpdatePrompt, "Buy it")
	require.Error(t, err)

	var unknownErr *core.UnknownActionError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "rogue", unknownErr.Agent)
	assert.Equal(t, "charge_card", unknownErr.Action)
}

func TestMachineModelCallBudget(t *testing.T) {
	script := newGenerateScript()
	script.add("looper",
		callCandidate("", core.ActionCall{ID: "c1", Name: "noop", Arguments: map[string]any{}}),
		stopCandidate("never reached"),
	)

	noop := func(context.Context, []byte) (any, error) { return "ok", nil }
	def := agent.New("looper", func(o *agent.Options) {
		o.Tools = []tool.Tool{bindingTool("noop")}
	})
	engine := newMachineEngine(t, agent.MustCompile(def), script,
		map[string]substrate.ActivityFunc{"noop": noop},
		func(o *Options) { o.MaxModelCalls = 1 })
	inst := startRoot(t, engine, "looper", "looper-main")

	_, err := inst.Update(context.Background(), UpdatePrompt, "go")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded max model calls")
}

func TestMachineTerminate(t *testing.T) {
	t.Run("signal while idle", func(t *testing.T) {
		script := newGenerateScript()
		engine := newMachineEngine(t, agent.MustCompile(agent.New("idle")), script, nil)
		inst := startRoot(t, engine, "idle", "idle-main")

		require.NoError(t, inst.Signal(context.Background(), SignalTerminate, nil))

		res, err := inst.Result(context.Background())
		require.NoError(t, err)

		var out Output
		require.NoError(t, res.Get(&out))
		assert.Empty(t, out.Entries)
		assert.Equal(t, "", out.Text)
		assert.Equal(t, 0, script.calls("idle"))
	})

	t.Run("end sentinel as first prompt", func(t *testing.T) {
		script := newGenerateScript()
		engine := newMachineEngine(t, agent.MustCompile(agent.New("idle")), script, nil)
		inst := startRoot(t, engine, "idle", "idle-main")

		assert.Equal(t, "", submitPrompt(t, inst, EndSentinel))

		res, err := inst.Result(context.Background())
		require.NoError(t, err)

		var out Output
		require.NoError(t, res.Get(&out))
		assert.Empty(t, out.Entries)
		assert.Equal(t, 0, script.calls("idle"))
	})
}

func TestDecodePrompt(t *testing.T) {
	t.Run("string", func(t *testing.T) {
		text, structured, err := DecodePrompt([]byte(`"hello"`))
		require.NoError(t, err)
		assert.Equal(t, "hello", text)
		assert.Nil(t, structured)
	})

	t.Run("object", func(t *testing.T) {
		text, structured, err := DecodePrompt([]byte(`{"subject": "billing", "urgent": true}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"subject":"billing","urgent":true}`, text)
		assert.Equal(t, map[string]any{"subject": "billing", "urgent": true}, structured)
	})

	t.Run("invalid", func(t *testing.T) {
		_, _, err := DecodePrompt([]byte(`[1, 2]`))
		require.Error(t, err)
	})
}
