package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "already normalized", in: "greeter", want: "greeter"},
		{name: "spaces become hyphens", in: "Order Desk", want: "order-desk"},
		{name: "punctuation collapses", in: "A  B!!c", want: "a-b-c"},
		{name: "leading and trailing junk trimmed", in: "  tool: Refund! ", want: "tool-refund"},
		{name: "digits kept", in: "Tier 2 Support", want: "tier-2-support"},
		{name: "only junk", in: "!!!", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeName(tt.in))
		})
	}
}

func TestDefinitionDefaults(t *testing.T) {
	d := New("Order Desk")

	assert.Equal(t, "order-desk", d.Name())
	assert.Equal(t, "Agent order-desk", d.Description())
	assert.Contains(t, d.Instruction(), "order-desk")
	assert.Empty(t, d.ModelID())
	assert.Nil(t, d.Gateway())
	assert.Empty(t, d.Tools())
	assert.Empty(t, d.SubAgents())
}

func TestDefinitionOptions(t *testing.T) {
	child := New("refunds")

	d := New("order-desk", func(o *Options) {
		o.Description = "Handles order questions"
		o.Instruction = "You handle orders."
		o.Model = "gemini-2.0-flash"
		o.SubAgents = []*Definition{child}
		o.InputSchema = map[string]any{"type": "object"}
	})

	assert.Equal(t, "Handles order questions", d.Description())
	assert.Equal(t, "You handle orders.", d.Instruction())
	assert.Equal(t, "gemini-2.0-flash", d.ModelID())
	assert.Equal(t, map[string]any{"type": "object"}, d.InputSchema())

	subs := d.SubAgents()
	assert.Len(t, subs, 1)
	assert.Same(t, child, subs[0])

	// Mutating the returned slice must not affect the definition.
	subs[0] = nil
	assert.Same(t, child, d.SubAgents()[0])
}

func TestInputSchemaFor(t *testing.T) {
	type refundRequest struct {
		OrderID string `json:"order_id" jsonschema:"description=Order to refund"`
		Reason  string `json:"reason,omitempty"`
	}

	d := New("refunds", func(o *Options) {
		o.InputSchema = MustInputSchemaFor(refundRequest{})
	})

	schema := d.InputSchema()
	assert.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]any)
	assert.True(t, ok)
	assert.Contains(t, props, "order_id")
	assert.Contains(t, props, "reason")
}
