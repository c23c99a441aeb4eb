package model

import (
	"context"

	"github.com/hupe1980/agentweave/core"
)

// ToolSchema declaratively exposes a callable action to the model: a local
// tool's flattened argument fields, or a sub-agent's input schema under the
// sub-agent's name.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema object
}

// Request captures the normalized gateway input produced by the control
// loop.
type Request struct {
	Model       string         `json:"model,omitempty"` // Provider model override
	Instruction string         `json:"instruction"`     // System instruction
	History     []core.Content `json:"history"`         // Full conversation so far
	Tools       []ToolSchema   `json:"tools,omitempty"` // Dispatchable actions
}

// TokenUsage captures token usage statistics for a candidate.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FinishReason classifies how a candidate ended.
type FinishReason string

const (
	// FinishStop marks a finishing text answer.
	FinishStop FinishReason = "stop"
	// FinishToolCalls marks a candidate requesting one or more actions.
	FinishToolCalls FinishReason = "tool_calls"
	// FinishMalformed marks provider output the adapter could not map to
	// the content model (unparsable tool arguments, empty payloads). The
	// control loop treats it as recoverable up to its retry cap.
	FinishMalformed FinishReason = "malformed"
)

// Candidate is the single decoded completion of one gateway call.
type Candidate struct {
	Content      core.Content `json:"content"`
	FinishReason FinishReason `json:"finish_reason"`
	Diagnostic   string       `json:"diagnostic,omitempty"` // Set for FinishMalformed
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a gateway implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "gemini", "openai", "anthropic", "scripted", ...
	SupportsTools bool   `json:"supports_tools"`
}

// Gateway is the minimal interface the control loop needs to drive
// generation. Implementations must decode deterministically (temperature 0,
// single candidate) so identical histories produce identical candidates.
type Gateway interface {
	// Generate performs one model call. Transport failures are returned as
	// errors (and retried by the substrate); content-level problems are
	// expressed through FinishMalformed candidates.
	Generate(ctx context.Context, req *Request) (*Candidate, error)

	// Info returns information about the gateway implementation.
	Info() Info
}
