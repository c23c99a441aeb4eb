// Package anthropic provides a model.Gateway implementation backed by the
// Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/model"
)

// Options configures the Anthropic gateway adapter (model id, sampling,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Gateway wraps the Anthropic Messages API behind the generic model.Gateway
// interface.
type Gateway struct {
	client *anthropic.Client
	opts   Options
}

// New creates a new Anthropic gateway using the official client. Temperature
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
	client := anthropic.NewClient(clientOpts...)

	return &Gateway{client: &client, opts: opts}
}

// NewFromClient creates a new Anthropic gateway from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Gateway {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Gateway{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0,
		MaxTokens:   4096,
	}
}

// Generate performs a single non-streaming message call and decodes the
// response into a candidate. Tool input that fails to parse as a JSON
// object is reported as a malformed candidate rather than an error.
func (g *Gateway) Generate(ctx context.Context, req *model.Request) (*model.Candidate, error) {
	modelID := g.opts.Model
	if req.Model != "" {
		modelID = anthropic.Model(req.Model)
	}

	params := anthropic.MessageNewParams{
		Model:       modelID,
		Messages:    buildMessages(req.History),
		MaxTokens:   g.opts.MaxTokens,
		Temperature: anthropic.Float(g.opts.Temperature),
	}
	if req.Instruction != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instruction}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	candidate := decodeMessage(resp)
	candidate.Usage = &model.TokenUsage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	return candidate, nil
}

// Info returns metadata describing this Anthropic gateway.
func (g *Gateway) Info() model.Info {
	return model.Info{
		Name:          string(g.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}

// buildMessages converts the normalized history to the Messages API format.
// Action results become tool_result blocks inside the user message, placed
// ahead of any free text of the same entry.
func buildMessages(history []core.Content) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(history))

	for _, c := range history {
		var blocks []anthropic.ContentBlockParamUnion

		switch c.Role {
		case core.RoleModel:
			for _, line := range c.TextLines() {
				blocks = append(blocks, anthropic.NewTextBlock(line))
			}
			for _, call := range c.ActionCalls() {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, call.Arguments, call.Name))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			for _, r := range c.ActionResults() {
				blocks = append(blocks, anthropic.NewToolResultBlock(r.ID, encodeResult(r), r.Error != ""))
			}
			for _, line := range c.TextLines() {
				blocks = append(blocks, anthropic.NewTextBlock(line))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewUserMessage(blocks...))
			}
		}
	}
	return messages
}

// buildTools converts action schemas to the Anthropic tool format.
func buildTools(tools []model.ToolSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if t.Parameters != nil {
			if properties, ok := t.Parameters["properties"]; ok {
				inputSchema.Properties = properties
			}
			inputSchema.Required = requiredFields(t.Parameters["required"])
		}
		out[i] = anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: inputSchema,
		}}
	}
	return out
}

// requiredFields normalizes the required list, which may arrive as []string
// or as []any after a JSON round trip.
func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// decodeMessage maps a Messages API response onto a candidate, classifying
// the finish reason by what the content blocks actually carried.
func decodeMessage(resp *anthropic.Message) *model.Candidate {
	var parts []core.Part

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			textBlock := block.AsText()
			if textBlock.Text != "" {
				parts = append(parts, core.TextPart{Text: textBlock.Text})
			}
		case "tool_use":
			toolBlock := block.AsToolUse()
			args := map[string]any{}
			if toolBlock.Input != nil {
				raw, err := json.Marshal(toolBlock.Input)
				if err == nil {
					err = json.Unmarshal(raw, &args)
				}
				if err != nil {
					return &model.Candidate{
						Content:      core.Content{Role: core.RoleModel},
						FinishReason: model.FinishMalformed,
						Diagnostic: fmt.Sprintf(
							"input for action %q is not a JSON object: %v", toolBlock.Name, err),
					}
				}
			}
			parts = append(parts, core.ActionCallPart{Call: core.ActionCall{
				ID:        toolBlock.ID,
				Name:      toolBlock.Name,
				Arguments: args,
			}})
		}
	}

	content := core.Content{Role: core.RoleModel, Parts: parts}
	switch {
	case len(content.ActionCalls()) > 0:
		return &model.Candidate{Content: content, FinishReason: model.FinishToolCalls}
	case content.Text() != "":
		return &model.Candidate{Content: content, FinishReason: model.FinishStop}
	default:
		return &model.Candidate{
			Content:      content,
			FinishReason: model.FinishMalformed,
			Diagnostic:   "response contained neither text nor action requests",
		}
	}
}

// encodeResult renders an action result payload as tool_result text.
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
