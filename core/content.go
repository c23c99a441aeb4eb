package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies the author side of a conversation entry. The model only
// ever sees two roles: the user (including tool results fed back to it) and
// itself.
type Role string

const (
	// RoleUser marks entries supplied to the model: prompts, dispatched
	// action results and protocol diagnostics.
	RoleUser Role = "user"
	// RoleModel marks entries produced by the model.
	RoleModel Role = "model"
)

// Content holds a role plus ordered heterogeneous parts. It is the unit the
// Conversation appends and the gateway consumes.
type Content struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// NewUserText builds a user entry containing a single text part.
func NewUserText(text string) Content {
	return Content{Role: RoleUser, Parts: []Part{TextPart{Text: text}}}
}

// NewModelText builds a model entry containing a single text part.
func NewModelText(text string) Content {
	return Content{Role: RoleModel, Parts: []Part{TextPart{Text: text}}}
}

// NewActionResults builds the single user entry that folds the outcomes of a
// dispatch round back into the conversation. Result order must match the
// request order of the originating calls.
func NewActionResults(results ...ActionResult) Content {
	parts := make([]Part, 0, len(results))
	for _, r := range results {
		parts = append(parts, ActionResultPart{Result: r})
	}
	return Content{Role: RoleUser, Parts: parts}
}

// Text returns the concatenation of all text parts, joined by newlines.
// Non-text parts are ignored.
func (c Content) Text() string {
	var lines []string
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok && tp.Text != "" {
			lines = append(lines, tp.Text)
		}
	}
	return strings.Join(lines, "\n")
}

// TextLines returns the non-empty text parts as individual lines.
func (c Content) TextLines() []string {
	var lines []string
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok && tp.Text != "" {
			lines = append(lines, tp.Text)
		}
	}
	return lines
}

// ActionCalls extracts all action call parts in order.
func (c Content) ActionCalls() []ActionCall {
	var calls []ActionCall
	for _, p := range c.Parts {
		if cp, ok := p.(ActionCallPart); ok {
			calls = append(calls, cp.Call)
		}
	}
	return calls
}

// ActionResults extracts all action result parts in order.
func (c Content) ActionResults() []ActionResult {
	var results []ActionResult
	for _, p := range c.Parts {
		if rp, ok := p.(ActionResultPart); ok {
			results = append(results, rp.Result)
		}
	}
	return results
}

// Clone returns a deep copy of the content. Parts are value types except for
// argument and payload maps, which are copied shallowly one level down.
func (c Content) Clone() Content {
	out := Content{Role: c.Role, Parts: make([]Part, len(c.Parts))}
	for i, p := range c.Parts {
		switch v := p.(type) {
		case ActionCallPart:
			call := v.Call
			if call.Arguments != nil {
				args := make(map[string]any, len(call.Arguments))
				for k, val := range call.Arguments {
					args[k] = val
				}
				call.Arguments = args
			}
			out.Parts[i] = ActionCallPart{Call: call}
		default:
			out.Parts[i] = p
		}
	}
	return out
}

// MarshalJSON encodes the content with typed part envelopes.
func (c Content) MarshalJSON() ([]byte, error) {
	parts := make([]json.RawMessage, len(c.Parts))
	for i, p := range c.Parts {
		raw, err := MarshalPart(p)
		if err != nil {
			return nil, err
		}
		parts[i] = raw
	}
	return json.Marshal(struct {
		Role  Role              `json:"role"`
		Parts []json.RawMessage `json:"parts"`
	}{Role: c.Role, Parts: parts})
}

// UnmarshalJSON decodes the content, reconstructing concrete part types from
// their envelopes.
func (c *Content) UnmarshalJSON(data []byte) error {
	var wire struct {
		Role  Role              `json:"role"`
		Parts []json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("core: decode content: %w", err)
	}
	c.Role = wire.Role
	c.Parts = make([]Part, len(wire.Parts))
	for i, raw := range wire.Parts {
		p, err := UnmarshalPart(raw)
		if err != nil {
			return err
		}
		c.Parts[i] = p
	}
	return nil
}
