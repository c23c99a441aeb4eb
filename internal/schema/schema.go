// Package schema derives JSON schemas from Go argument structs and validates
// model-emitted argument maps against them. Derivation flattens a struct into
// named top-level fields so a gateway tool declaration carries exactly the
// fields the dispatcher will hand back to the tool.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// For reflects a JSON schema from a struct exemplar and flattens it to the
// plain map form gateways consume: type, properties, required. Descriptions
// come from jsonschema struct tags; optional fields are those marked
// omitempty.
func For(v any) (map[string]any, error) {
	if v == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}, nil
	}

	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := reflector.Reflect(v)

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal reflected schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("schema: decode reflected schema: %w", err)
	}

	// Gateways want the bare parameter object, not a standalone document.
	delete(out, "$schema")
	delete(out, "$id")
	delete(out, "$defs")
	delete(out, "additionalProperties")
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out, nil
}
