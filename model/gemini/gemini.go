// Package gemini provides a model.Gateway implementation backed by the
// Google Gemini API via the google.golang.org/genai SDK.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/model"
)

// Options configures the Gemini gateway adapter. Backend selects between
// the Gemini API and Vertex AI; the zero value uses the Gemini API with
// the ambient GOOGLE_API_KEY.
type Options struct {
	Model           string
	Temperature     float32
	MaxOutputTokens int32
	APIKey          string
	Backend         genai.Backend
}

// Gateway wraps the Gemini GenerateContent API behind the generic
// model.Gateway interface.
type Gateway struct {
	client *genai.Client
	opts   Options
}

// New creates a new Gemini gateway. Client construction reaches out to
// resolve credentials, so it takes a context and can fail. Temperature
// defaults to zero so that replaying the same history decodes the same
// candidate.
func New(ctx context.Context, optFns ...func(o *Options)) (*Gateway, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: opts.Backend,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Gateway{client: client, opts: opts}, nil
}

// NewFromClient creates a new Gemini gateway from an existing client.
func NewFromClient(client *genai.Client, optFns ...func(o *Options)) *Gateway {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Gateway{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:           "gemini-2.0-flash",
		Temperature:     0,
		MaxOutputTokens: 4096,
		Backend:         genai.BackendGeminiAPI,
	}
}

// Generate performs a single GenerateContent call and decodes the first
// candidate.
func (g *Gateway) Generate(ctx context.Context, req *model.Request) (*model.Candidate, error) {
	modelID := g.opts.Model
	if req.Model != "" {
		modelID = req.Model
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(g.opts.Temperature),
		MaxOutputTokens: g.opts.MaxOutputTokens,
	}
	if req.Instruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.Instruction}},
		}
	}
	if len(req.Tools) > 0 {
		config.Tools = buildTools(req.Tools)
	}

	resp, err := g.client.Models.GenerateContent(ctx, modelID, buildContents(req.History), config)
	if err != nil {
		return nil, fmt.Errorf("gemini api error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini: no candidates returned")
	}

	candidate := decodeCandidate(resp.Candidates[0])
	if resp.UsageMetadata != nil {
		candidate.Usage = &model.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return candidate, nil
}

// Info returns metadata describing this Gemini gateway.
func (g *Gateway) Info() model.Info {
	return model.Info{
		Name:          g.opts.Model,
		Provider:      "gemini",
		SupportsTools: true,
	}
}

// buildContents converts the normalized history to genai contents. Roles
// map one to one; action results become function response parts placed
// ahead of any free text of the same entry.
func buildContents(history []core.Content) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))

	for _, c := range history {
		var parts []*genai.Part

		switch c.Role {
		case core.RoleModel:
			for _, line := range c.TextLines() {
				parts = append(parts, &genai.Part{Text: line})
			}
			for _, call := range c.ActionCalls() {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Name,
					Args: call.Arguments,
				}})
			}
		default:
			for _, r := range c.ActionResults() {
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       r.ID,
					Name:     r.Name,
					Response: encodeResult(r),
				}})
			}
			for _, line := range c.TextLines() {
				parts = append(parts, &genai.Part{Text: line})
			}
		}

		if len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: string(c.Role), Parts: parts})
		}
	}
	return contents
}

// buildTools converts action schemas to genai function declarations. All
// declarations share one Tool entry as the API expects.
func buildTools(tools []model.ToolSchema) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		decls[i] = &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toSchema(t.Parameters),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// toSchema converts a JSON schema map to the genai schema type. Unknown
// keywords are dropped; Gemini accepts only the OpenAPI subset.
func toSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}

	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = schemaType(t)
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]any); ok {
				s.Properties[name] = toSchema(sub)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = toSchema(items)
	}
	switch req := m["required"].(type) {
	case []string:
		s.Required = req
	case []any:
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	switch enum := m["enum"].(type) {
	case []string:
		s.Enum = enum
	case []any:
		for _, e := range enum {
			if v, ok := e.(string); ok {
				s.Enum = append(s.Enum, v)
			}
		}
	}
	return s
}

func schemaType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeUnspecified
	}
}

// decodeCandidate maps a genai candidate onto a model candidate. Function
// call IDs are optional in the Gemini API, so missing ones are assigned
// fresh IDs to keep call/result pairing stable.
func decodeCandidate(c *genai.Candidate) *model.Candidate {
	var parts []core.Part

	for _, p := range c.Content.Parts {
		switch {
		case p == nil:
		case p.FunctionCall != nil:
			args := p.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			id := p.FunctionCall.ID
			if id == "" {
				id = core.NewID()
			}
			parts = append(parts, core.ActionCallPart{Call: core.ActionCall{
				ID:        id,
				Name:      p.FunctionCall.Name,
				Arguments: args,
			}})
		case p.Text != "":
			parts = append(parts, core.TextPart{Text: p.Text})
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
			Diagnostic:   "candidate contained neither text nor action requests",
		}
	}
}

// encodeResult renders an action result as a function response payload.
// The API requires a JSON object, so scalar payloads are wrapped.
func encodeResult(r core.ActionResult) map[string]any {
	if r.Error != "" {
		return map[string]any{"error": r.Error}
	}
	if m, ok := r.Payload.(map[string]any); ok {
		return m
	}
	return map[string]any{"result": r.Payload}
}
