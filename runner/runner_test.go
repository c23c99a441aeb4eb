package runner

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/agentweave/agent"
	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/model"
	"github.com/hupe1980/agentweave/tool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunnerSessionExchange(t *testing.T) {
	var (
		mu          sync.Mutex
		gotInstance string
		gotAgent    string
		gotCall     string
	)
	statusTool := tool.NewFunctionTool(
		"check_status",
		"Look up the shipping status of an order.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"order_id": map[string]any{"type": "string"},
			},
			"required": []string{"order_id"},
		},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			gotInstance = toolCtx.InstanceID()
			gotAgent = toolCtx.AgentName()
			gotCall = toolCtx.CallID()
			return map[string]any{"status": "shipped"}, nil
		},
	)

	gateway := model.NewScriptedGateway(
		model.CallCandidate("Checking the order.",
			core.ActionCall{ID: "call-1", Name: "check_status", Arguments: map[string]any{"order_id": "A-7"}}),
		model.TextCandidate("Order A-7 has shipped."),
	)

	root := agent.New("concierge", func(o *agent.Options) {
		o.Instruction = "You are the order concierge."
		o.Model = "test-model"
		o.Gateway = gateway
		o.Tools = []tool.Tool{statusTool}
	})

	r, err := New(root)
	require.NoError(t, err)
	t.Cleanup(r.Close)

	ctx := context.Background()
	session, err := r.StartSession(ctx)
	require.NoError(t, err)

	response, err := session.SubmitPrompt(ctx, "Where is order A-7?")
	require.NoError(t, err)
	assert.Equal(t, "Order A-7 has shipped.", response)

	mu.Lock()
	assert.Equal(t, session.ID(), gotInstance)
	assert.Equal(t, "concierge", gotAgent)
	assert.Equal(t, "call-1", gotCall)
	mu.Unlock()

	requests := gateway.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, "You are the order concierge.", requests[0].Instruction)
	assert.Equal(t, "test-model", requests[0].Model)
	require.Len(t, requests[0].Tools, 1)
	assert.Equal(t, "check_status", requests[0].Tools[0].Name)

	require.Len(t, requests[0].History, 1)
	assert.Equal(t, "Where is order A-7?", requests[0].History[0].Text())
	// Prompt, model turn, folded result.
	assert.Len(t, requests[1].History, 3)

	exchanges, err := r.Transcripts().ListExchanges(ctx, session.ID())
	require.NoError(t, err)
	require.Len(t, exchanges, 1)
	assert.Equal(t, "concierge", exchanges[0].Agent)
	assert.Equal(t, "Where is order A-7?", exchanges[0].Prompt)
	assert.Equal(t, "Order A-7 has shipped.", exchanges[0].Response)

	require.NoError(t, session.Terminate(ctx))
}

func TestRunnerGatewayFallback(t *testing.T) {
	parentGateway := model.NewScriptedGateway(
		model.CallCandidate("",
			core.ActionCall{ID: "call-1", Name: "billing", Arguments: map[string]any{"request": "refund order A-7"}}),
		model.TextCandidate("The refund is underway."),
	)
	defaultGateway := model.NewScriptedGateway(
		model.TextCandidate("Refund issued."),
	)

	billing := agent.New("billing", func(o *agent.Options) {
		o.Instruction = "You handle refunds."
	})
	root := agent.New("front", func(o *agent.Options) {
		o.Gateway = parentGateway
		o.SubAgents = []*agent.Definition{billing}
	})

	r, err := New(root, func(o *Options) {
		o.Gateway = defaultGateway
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)

	ctx := context.Background()
	session, err := r.StartSession(ctx)
	require.NoError(t, err)

	response, err := session.SubmitPrompt(ctx, "I want a refund for order A-7.")
	require.NoError(t, err)
	assert.Equal(t, "The refund is underway.", response)

	requests := defaultGateway.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "You handle refunds.", requests[0].Instruction)

	require.NoError(t, session.Terminate(ctx))
}

func TestRunnerNewMissingGateway(t *testing.T) {
	billing := agent.New("billing")
	root := agent.New("front", func(o *agent.Options) {
		o.Gateway = model.NewScriptedGateway()
		o.SubAgents = []*agent.Definition{billing}
	})

	_, err := New(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `agent "billing" has no gateway`)
}

func TestRunnerSessionIDs(t *testing.T) {
	newRunner := func(t *testing.T) *Runner {
		t.Helper()

		root := agent.New("greeter", func(o *agent.Options) {
			o.Gateway = model.NewScriptedGateway(model.TextCandidate("Hello!"))
		})
		r, err := New(root)
		require.NoError(t, err)
		t.Cleanup(r.Close)
		return r
	}

	t.Run("generated", func(t *testing.T) {
		r := newRunner(t)

		session, err := r.StartSession(context.Background())
		require.NoError(t, err)
		assert.Regexp(t, `^greeter-[0-9a-f]{6}$`, session.ID())

		require.NoError(t, session.Terminate(context.Background()))
	})

	t.Run("pinned", func(t *testing.T) {
		r := newRunner(t)

		session, err := r.StartSession(context.Background(), func(o *StartOptions) {
			o.SessionID = "greeter-pinned"
		})
		require.NoError(t, err)
		assert.Equal(t, "greeter-pinned", session.ID())

		response, err := session.SubmitPrompt(context.Background(), "Hi")
		require.NoError(t, err)
		assert.Equal(t, "Hello!", response)

		require.NoError(t, session.Terminate(context.Background()))
	})
}

func TestRunnerStructuredPromptRecorded(t *testing.T) {
	root := agent.New("intake", func(o *agent.Options) {
		o.Gateway = model.NewScriptedGateway(model.TextCandidate("Ticket filed."))
		o.InputSchema = map[string]any{
			"type": "object",
			"properties": map[string]any{
				"subject": map[string]any{"type": "string"},
			},
			"required": []string{"subject"},
		}
	})

	r, err := New(root)
	require.NoError(t, err)
	t.Cleanup(r.Close)

	ctx := context.Background()
	session, err := r.StartSession(ctx)
	require.NoError(t, err)

	response, err := session.SubmitPrompt(ctx, map[string]any{"subject": "login broken"})
	require.NoError(t, err)
	assert.Equal(t, "Ticket filed.", response)

	exchanges, err := r.Transcripts().ListExchanges(ctx, session.ID())
	require.NoError(t, err)
	require.Len(t, exchanges, 1)
	assert.JSONEq(t, `{"subject":"login broken"}`, exchanges[0].Prompt)

	require.NoError(t, session.Terminate(ctx))
}

func TestRunnerPollThoughts(t *testing.T) {
	gateway := model.NewScriptedGateway(
		model.TextCandidate("First thing.\nSecond thing."),
	)
	root := agent.New("thinker", func(o *agent.Options) {
		o.Gateway = gateway
	})

	r, err := New(root)
	require.NoError(t, err)
	t.Cleanup(r.Close)

	ctx := context.Background()
	session, err := r.StartSession(ctx)
	require.NoError(t, err)

	_, err = session.SubmitPrompt(ctx, "Think out loud.")
	require.NoError(t, err)

	thoughts, err := session.PollThoughts(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"First thing.", "Second thing."}, thoughts)

	rest, err := session.PollThoughts(ctx, len(thoughts))
	require.NoError(t, err)
	assert.Empty(t, rest)

	require.NoError(t, session.Terminate(ctx))
}
