package testutil

import "github.com/hupe1980/agentweave/core"

// ContentBuilder provides a fluent helper for constructing conversation
// entries in tests.
// Example:
//
//	entry := testutil.NewContentBuilder().Model().Text("done").Build()
//
// Chain only the parts you need.
type ContentBuilder struct {
	role  core.Role
	parts []core.Part
}

// NewContentBuilder creates a builder with default role model.
func NewContentBuilder() *ContentBuilder { return &ContentBuilder{role: core.RoleModel} }

// User sets the entry role to user (chainable).
func (b *ContentBuilder) User() *ContentBuilder { b.role = core.RoleUser; return b }

// Model sets the entry role to model (chainable).
func (b *ContentBuilder) Model() *ContentBuilder { b.role = core.RoleModel; return b }

// Text appends a text part (chainable).
func (b *ContentBuilder) Text(text string) *ContentBuilder {
	b.parts = append(b.parts, core.TextPart{Text: text})
	return b
}

// ActionCall appends an action call part (chainable).
func (b *ContentBuilder) ActionCall(id, name string, args map[string]any) *ContentBuilder {
	b.parts = append(b.parts, core.ActionCallPart{
		Call: core.ActionCall{ID: id, Name: name, Arguments: args},
	})
	return b
}

// ActionResult appends a successful action result part (chainable).
func (b *ContentBuilder) ActionResult(id, name string, payload any) *ContentBuilder {
	b.parts = append(b.parts, core.ActionResultPart{
		Result: core.ActionResult{ID: id, Name: name, Payload: payload},
	})
	return b
}

// ActionError appends a failed action result part (chainable).
func (b *ContentBuilder) ActionError(id, name, message string) *ContentBuilder {
	b.parts = append(b.parts, core.ActionResultPart{
		Result: core.ActionResult{ID: id, Name: name, Error: message},
	})
	return b
}

// Build assembles the content entry.
func (b *ContentBuilder) Build() core.Content {
	return core.Content{Role: b.role, Parts: append([]core.Part(nil), b.parts...)}
}
