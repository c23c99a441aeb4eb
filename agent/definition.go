package agent

import (
	"fmt"
	"strings"

	"github.com/hupe1980/agentweave/internal/schema"
	"github.com/hupe1980/agentweave/model"
	"github.com/hupe1980/agentweave/tool"
)

// Options configures an agent definition.
//
// Use functional options with New to override defaults.
type Options struct {
	// Description tells parent agents what this agent is for. It becomes
	// the action description when the agent is exposed to its parent.
	Description string

	// Instruction is the system instruction sent with every gateway call.
	Instruction string

	// Model names the gateway model to decode with. Empty selects the
	// gateway's default.
	Model string

	// Gateway overrides the runner's default gateway for this agent.
	Gateway model.Gateway

	// Tools are the local actions this agent can request, in the order
	// they are presented to the model.
	Tools []tool.Tool

	// SubAgents are child agents this agent can delegate to.
	SubAgents []*Definition

	// InputSchema describes the arguments a parent must supply when
	// delegating to this agent. Empty selects the free-form request
	// schema.
	InputSchema map[string]any
}

// Definition is the static description of a single agent: its identity,
// instruction, local tools and children. Definitions are immutable after
// construction; compile them into a Tree before execution.
type Definition struct {
	name        string
	description string
	instruction string
	modelID     string
	gateway     model.Gateway
	tools       []tool.Tool
	subAgents   []*Definition
	inputSchema map[string]any
}

// New creates an agent definition. The name is normalized to kebab case so
// it can double as a workflow and action identifier.
func New(name string, optFns ...func(o *Options)) *Definition {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	normalized := normalizeName(name)
	if opts.Description == "" {
		opts.Description = fmt.Sprintf("Agent %s", normalized)
	}
	if opts.Instruction == "" {
		opts.Instruction = fmt.Sprintf("You are %s, a helpful assistant.", normalized)
	}

	return &Definition{
		name:        normalized,
		description: opts.Description,
		instruction: opts.Instruction,
		modelID:     opts.Model,
		gateway:     opts.Gateway,
		tools:       append([]tool.Tool(nil), opts.Tools...),
		subAgents:   append([]*Definition(nil), opts.SubAgents...),
		inputSchema: opts.InputSchema,
	}
}

// Name returns the normalized agent name.
func (d *Definition) Name() string { return d.name }

// Description returns what this agent is for.
func (d *Definition) Description() string { return d.description }

// Instruction returns the system instruction.
func (d *Definition) Instruction() string { return d.instruction }

// ModelID returns the gateway model name, or empty for the gateway default.
func (d *Definition) ModelID() string { return d.modelID }

// Gateway returns the per-agent gateway override, or nil.
func (d *Definition) Gateway() model.Gateway { return d.gateway }

// Tools returns the local tools in presentation order.
func (d *Definition) Tools() []tool.Tool {
	return append([]tool.Tool(nil), d.tools...)
}

// SubAgents returns the child definitions in presentation order.
func (d *Definition) SubAgents() []*Definition {
	return append([]*Definition(nil), d.subAgents...)
}

// InputSchema returns the delegation schema, or nil for the default.
func (d *Definition) InputSchema() map[string]any { return d.inputSchema }

// InputSchemaFor derives an input schema from a struct exemplar, for agents
// whose prompts arrive as typed payloads. The struct's fields become the
// named schema fields a parent (or external caller) fills in, the same way
// tool.NewFunctionToolFromStruct flattens tool arguments.
func InputSchemaFor(v any) (map[string]any, error) {
	params, err := schema.For(v)
	if err != nil {
		return nil, fmt.Errorf("agent: derive input schema: %w", err)
	}
	return params, nil
}

// MustInputSchemaFor is InputSchemaFor for composition-time declarations of
// known-good exemplars.
func MustInputSchemaFor(v any) map[string]any {
	params, err := InputSchemaFor(v)
	if err != nil {
		panic(err)
	}
	return params
}

// normalizeName lowercases a name and collapses every run of characters
// outside [a-z0-9] into a single hyphen, mirroring parameterized slugs.
func normalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	pendingHyphen := false
	for _, r := range strings.ToLower(name) {
		isWord := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isWord {
			pendingHyphen = b.Len() > 0
			continue
		}
		if pendingHyphen {
			b.WriteByte('-')
			pendingHyphen = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
