package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		content Content
	}{
		{
			name:    "user text",
			content: NewUserText("hello"),
		},
		{
			name: "model action call",
			content: Content{Role: RoleModel, Parts: []Part{
				TextPart{Text: "let me check"},
				ActionCallPart{Call: ActionCall{
					ID:        "call-1",
					Name:      "get-order-status",
					Arguments: map[string]any{"order_id": "A-100"},
				}},
			}},
		},
		{
			name: "action results",
			content: NewActionResults(
				ActionResult{ID: "call-1", Name: "get-order-status", Payload: map[string]any{"status": "shipped"}},
				ActionResult{ID: "call-2", Name: "refund", Error: "not eligible"},
			),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.content)
			require.NoError(t, err)

			var got Content
			require.NoError(t, json.Unmarshal(data, &got))

			assert.Equal(t, tt.content.Role, got.Role)
			require.Len(t, got.Parts, len(tt.content.Parts))
			assert.Equal(t, tt.content.Text(), got.Text())
			assert.Equal(t, len(tt.content.ActionCalls()), len(got.ActionCalls()))
			assert.Equal(t, len(tt.content.ActionResults()), len(got.ActionResults()))
		})
	}
}

func TestUnmarshalPartUnknownType(t *testing.T) {
	_, err := UnmarshalPart([]byte(`{"type":"hologram"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown part type")
}

func TestContentAccessors(t *testing.T) {
	content := Content{Role: RoleModel, Parts: []Part{
		TextPart{Text: "first"},
		ActionCallPart{Call: ActionCall{Name: "lookup", Arguments: map[string]any{"id": "1"}}},
		TextPart{Text: "second"},
		ActionResultPart{Result: ActionResult{Name: "lookup", Payload: 42}},
	}}

	assert.Equal(t, "first\nsecond", content.Text())
	assert.Equal(t, []string{"first", "second"}, content.TextLines())

	calls := content.ActionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "lookup", calls[0].Name)

	results := content.ActionResults()
	require.Len(t, results, 1)
	assert.Equal(t, 42, results[0].Payload)
}

func TestContentCloneIsolatesArguments(t *testing.T) {
	original := Content{Role: RoleModel, Parts: []Part{
		ActionCallPart{Call: ActionCall{Name: "lookup", Arguments: map[string]any{"id": "1"}}},
	}}

	clone := original.Clone()
	clone.Parts[0].(ActionCallPart).Call.Arguments["id"] = "2"

	assert.Equal(t, "1", original.ActionCalls()[0].Arguments["id"])
}
