// Package openai provides a model.Gateway implementation backed by the
// OpenAI Chat Completions API (function/tool calling included). It adapts
// AgentWeave's normalized Request/Candidate structures into the SDK's
// message format and back.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/model"
)

// Options configure the OpenAI gateway adapter.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; extend via functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
}

// Gateway wraps the OpenAI Chat Completions API behind the generic
// model.Gateway interface.
type Gateway struct {
	client *openai.Client
	opts   Options
}

// New creates a new OpenAI gateway using the official client. Temperature
// defaults to zero so that replaying the same history decodes the same
// candidate.
func New(optFns ...func(o *Options)) *Gateway {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)

	return &Gateway{client: &client, opts: opts}
}

// NewFromClient creates a new OpenAI gateway from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Gateway {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Gateway{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0,
		MaxCompletionTokens: 4096,
	}
}

// Generate performs a single non-streaming chat completion and decodes the
// first choice into a candidate. Tool call arguments that fail to parse as
// a JSON object are reported as a malformed candidate rather than an error,
// so the caller can feed the diagnostic back to the model.
func (g *Gateway) Generate(ctx context.Context, req *model.Request) (*model.Candidate, error) {
	resp, err := g.client.Chat.Completions.New(ctx, g.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices returned")
	}

	candidate := decodeChoice(resp.Choices[0])
	candidate.Usage = &model.TokenUsage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	return candidate, nil
}

// Info returns metadata describing this OpenAI gateway.
func (g *Gateway) Info() model.Info {
	return model.Info{
		Name:          g.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}

// buildParams assembles the request parameters including tool definitions.
func (g *Gateway) buildParams(req *model.Request) openai.ChatCompletionNewParams {
	modelID := g.opts.Model
	if req.Model != "" {
		modelID = req.Model
	}
	params := openai.ChatCompletionNewParams{
		Messages:            g.buildMessages(req),
		Model:               modelID,
		Temperature:         openai.Float(g.opts.Temperature),
		MaxCompletionTokens: openai.Int(g.opts.MaxCompletionTokens),
	}
	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, t := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  t.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

// buildMessages converts the normalized history to the SDK message format.
// Action results are emitted as tool messages before any free text of the
// same entry, so each tool message directly follows the assistant turn that
// requested it.
func (g *Gateway) buildMessages(req *model.Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+1)
	if req.Instruction != "" {
		messages = append(messages, openai.SystemMessage(req.Instruction))
	}

	for _, c := range req.History {
		switch c.Role {
		case core.RoleModel:
			messages = append(messages, assistantMessage(c))
		default:
			for _, r := range c.ActionResults() {
				messages = append(messages, openai.ToolMessage(encodeResult(r), r.ID))
			}
			if text := c.Text(); text != "" {
				messages = append(messages, openai.UserMessage(text))
			}
		}
	}
	return messages
}

// assistantMessage renders a model-role entry. Entries carrying action calls
// become an assistant message with tool_calls; plain entries become text.
func assistantMessage(c core.Content) openai.ChatCompletionMessageParamUnion {
	calls := c.ActionCalls()
	if len(calls) == 0 {
		return openai.AssistantMessage(c.Text())
	}

	toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(calls))
	for i, call := range calls {
		args, err := json.Marshal(call.Arguments)
		if err != nil {
			args = []byte("{}")
		}
		toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
			ID:   call.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Name,
				Arguments: string(args),
			},
		}
	}

	param := &openai.ChatCompletionAssistantMessageParam{
		Role:      "assistant",
		ToolCalls: toolCalls,
	}
	if text := c.Text(); text != "" {
		param.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: openai.String(text),
		}
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: param}
}

// decodeChoice maps a completion choice onto a candidate, classifying the
// finish reason by what the message actually carried.
func decodeChoice(choice openai.ChatCompletionChoice) *model.Candidate {
	msg := choice.Message

	var parts []core.Part
	if msg.Content != "" {
		parts = append(parts, core.TextPart{Text: msg.Content})
	}

	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return &model.Candidate{
					Content:      core.Content{Role: core.RoleModel},
					FinishReason: model.FinishMalformed,
					Diagnostic: fmt.Sprintf(
						"arguments for action %q are not a JSON object: %v", tc.Function.Name, err),
				}
			}
		}
		parts = append(parts, core.ActionCallPart{Call: core.ActionCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		}})
	}

	content := core.Content{Role: core.RoleModel, Parts: parts}
	switch {
	case len(msg.ToolCalls) > 0:
		return &model.Candidate{Content: content, FinishReason: model.FinishToolCalls}
	case msg.Content != "":
		return &model.Candidate{Content: content, FinishReason: model.FinishStop}
	default:
		return &model.Candidate{
			Content:      content,
			FinishReason: model.FinishMalformed,
			Diagnostic:   "completion contained neither text nor action requests",
		}
	}
}

// encodeResult renders an action result payload as tool message text.
func encodeResult(r core.ActionResult) string {
	if r.Error != "" {
		return "error: " + r.Error
	}
	switch v := r.Payload.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
