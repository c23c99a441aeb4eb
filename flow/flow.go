// Package flow implements the per-agent conversation state machine that runs
// on the durable execution substrate.
//
// One Machine is built per worker from a compiled agent tree; every workflow
// instance (the root conversation and each delegated child) executes the same
// Machine with its own Input. The loop alternates between gateway calls and
// action dispatch until the model produces finishing text, synchronizing the
// result back to whichever caller is waiting: the blocked prompt update for
// the root, or the parent instance for a child.
package flow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/agentweave/agent"
	"github.com/hupe1980/agentweave/core"
)

// Substrate-visible names. Tool activities are registered under their tool
// name next to these.
const (
	// WorkflowName is the workflow type every agent instance runs as.
	WorkflowName = "agent"

	// ActivityGenerate is the gateway call activity.
	ActivityGenerate = "generate"

	// UpdatePrompt is the blocking update a root instance accepts prompts on.
	UpdatePrompt = "prompt"

	// QueryThoughts reads the thought log from a watermark.
	QueryThoughts = "thoughts"

	// SignalThought carries one thought line from a child to its parent.
	SignalThought = "thought"

	// SignalTerminate asks an instance to drain and stop.
	SignalTerminate = "terminate"
)

// EndSentinel is the prompt text that terminates a conversation. It is never
// appended to history and triggers no further gateway calls.
const EndSentinel = "END"

// Input starts one machine instance. It crosses the workflow serialization
// boundary, so it carries only data; the compiled tree lives in the Machine.
type Input struct {
	// AgentName selects the agent inside the machine's compiled tree.
	AgentName string `json:"agent_name"`

	// History seeds the conversation. For a child this is the parent's full
	// history at dispatch time.
	History []core.Content `json:"history,omitempty"`

	// Prompt is the serialized arguments a parent delegated with. Empty for
	// root instances, which receive prompts through the update handler.
	Prompt string `json:"prompt,omitempty"`

	// ParentID is the instance to signal thoughts to. Empty for roots.
	ParentID string `json:"parent_id,omitempty"`

	// Root marks the externally driven instance of the conversation.
	Root bool `json:"root"`
}

// Output is an instance's result. A child's Entries hold only its delta: the
// synthesized prompt entry plus everything the child appended after it. A
// root's Entries hold the full conversation at termination.
type Output struct {
	Entries []core.Content `json:"entries"`
	Text    string         `json:"text,omitempty"`
}

// GenerateInput is the payload of the gateway call activity.
type GenerateInput struct {
	Agent   string         `json:"agent"`
	History []core.Content `json:"history"`
}

// ToolInput is the payload of a local tool activity.
type ToolInput struct {
	InstanceID string         `json:"instance_id"`
	Agent      string         `json:"agent"`
	CallID     string         `json:"call_id"`
	Arguments  map[string]any `json:"arguments"`
}

// ThoughtSignal carries one thought line upward. Seq is a per-sender
// sequence number; receivers drop deliveries that do not advance it.
type ThoughtSignal struct {
	Sender string `json:"sender"`
	Seq    uint64 `json:"seq"`
	Line   string `json:"line"`
}

// DecodePrompt interprets a prompt update payload. Plain JSON strings pass
// through as text; JSON objects are returned structured alongside their
// compact serialization, which is what enters the conversation.
func DecodePrompt(payload []byte) (string, map[string]any, error) {
	var text string
	if err := json.Unmarshal(payload, &text); err == nil {
		return text, nil, nil
	}

	var structured map[string]any
	if err := json.Unmarshal(payload, &structured); err == nil {
		compact, err := json.Marshal(structured)
		if err != nil {
			return "", nil, fmt.Errorf("flow: reserialize prompt object: %w", err)
		}
		return string(compact), structured, nil
	}

	return "", nil, fmt.Errorf("flow: prompt must be a JSON string or object")
}

// Options configure a Machine.
//
// Use functional options with NewMachine to override defaults.
type Options struct {
	// CallTimeout bounds each gateway and tool call.
	CallTimeout time.Duration

	// CallAttempts is the substrate retry budget per gateway and tool call.
	CallAttempts int

	// MaxProtocolRetries is how many consecutive malformed candidates are
	// fed back as diagnostics before the instance fails.
	MaxProtocolRetries int

	// MaxModelCalls caps gateway calls per prompt. Zero means unlimited.
	MaxModelCalls int
}

// Machine is the workflow implementation shared by every agent instance. It
// holds the compiled tree, which is read-only after construction, so one
// Machine serves any number of concurrent instances.
type Machine struct {
	tree *agent.Tree
	opts Options
}

// NewMachine creates the agent workflow for a compiled tree.
func NewMachine(tree *agent.Tree, optFns ...func(o *Options)) *Machine {
	opts := Options{
		CallTimeout:        60 * time.Second,
		CallAttempts:       3,
		MaxProtocolRetries: 3,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Machine{tree: tree, opts: opts}
}

// Name implements substrate.Workflow.
func (m *Machine) Name() string { return WorkflowName }
