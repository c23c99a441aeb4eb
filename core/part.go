package core

import (
	"encoding/json"
	"fmt"
)

// Part represents a polymorphic segment of role-based content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text string // Plain UTF-8 text
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// ActionCall describes a model-requested action: either a local tool
// invocation or the activation of a sub-agent. Arguments are carried as a
// structured map, never as an opaque serialized string, so dispatch and
// validation can inspect them without a second parse.
type ActionCall struct {
	ID        string         `json:"id,omitempty"` // Stable id correlating call and result
	Name      string         `json:"name"`         // Tool or sub-agent name
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ActionCallPart wraps an ActionCall as a content part.
type ActionCallPart struct {
	Call ActionCall
}

// isPart implements the Part interface for ActionCallPart.
func (ActionCallPart) isPart() {}

// ActionResult describes the outcome of a dispatched action. Exactly one of
// Payload or Error is meaningful; Error non-empty marks a failure surfaced to
// the model.
type ActionResult struct {
	ID      string `json:"id,omitempty"` // Matches the originating ActionCall ID
	Name    string `json:"name"`         // Action name
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ActionResultPart wraps an ActionResult as a content part.
type ActionResultPart struct {
	Result ActionResult
}

// isPart implements the Part interface for ActionResultPart.
func (ActionResultPart) isPart() {}

// partEnvelope is the wire form of a Part. The Type discriminator selects the
// concrete shape on decode.
type partEnvelope struct {
	Type   string        `json:"type"`
	Text   string        `json:"text,omitempty"`
	Call   *ActionCall   `json:"call,omitempty"`
	Result *ActionResult `json:"result,omitempty"`
}

const (
	partTypeText         = "text"
	partTypeActionCall   = "action_call"
	partTypeActionResult = "action_result"
)

// MarshalPart encodes a single part into its envelope form.
func MarshalPart(p Part) ([]byte, error) {
	switch v := p.(type) {
	case TextPart:
		return json.Marshal(partEnvelope{Type: partTypeText, Text: v.Text})
	case ActionCallPart:
		call := v.Call
		return json.Marshal(partEnvelope{Type: partTypeActionCall, Call: &call})
	case ActionResultPart:
		result := v.Result
		return json.Marshal(partEnvelope{Type: partTypeActionResult, Result: &result})
	default:
		return nil, fmt.Errorf("core: cannot marshal part of type %T", p)
	}
}

// UnmarshalPart decodes a single part from its envelope form. An unknown type
// discriminator is an error, never a silent skip.
func UnmarshalPart(data []byte) (Part, error) {
	var env partEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("core: decode part envelope: %w", err)
	}
	switch env.Type {
	case partTypeText:
		return TextPart{Text: env.Text}, nil
	case partTypeActionCall:
		if env.Call == nil {
			return nil, fmt.Errorf("core: action_call part missing call body")
		}
		return ActionCallPart{Call: *env.Call}, nil
	case partTypeActionResult:
		if env.Result == nil {
			return nil, fmt.Errorf("core: action_result part missing result body")
		}
		return ActionResultPart{Result: *env.Result}, nil
	default:
		return nil, fmt.Errorf("core: unknown part type %q", env.Type)
	}
}
