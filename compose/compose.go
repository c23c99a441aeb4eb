// Package compose loads agent hierarchies from YAML blueprints.
//
// A blueprint describes the static shape of a tree: names, instructions,
// models, tool references and nested child agents. Tools and gateways stay
// code-side; a Binder resolves the names a blueprint mentions into the
// concrete values registered by the host program.
package compose

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentweave/agent"
	"github.com/hupe1980/agentweave/model"
	"github.com/hupe1980/agentweave/tool"
)

// Binder resolves the names a blueprint references into runtime values.
type Binder interface {
	// Tool resolves a tool name listed under tools.
	Tool(name string) (tool.Tool, error)

	// Gateway resolves the gateway serving a model name. A nil gateway
	// defers the agent to the runner's default.
	Gateway(modelID string) (model.Gateway, error)
}

// MapBinder is a Binder backed by plain maps.
type MapBinder struct {
	// Tools maps tool names to implementations.
	Tools map[string]tool.Tool

	// Gateways maps model names to gateways. Models without an entry fall
	// back to the runner default.
	Gateways map[string]model.Gateway
}

// Tool implements Binder.
func (b MapBinder) Tool(name string) (tool.Tool, error) {
	tl, ok := b.Tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	return tl, nil
}

// Gateway implements Binder.
func (b MapBinder) Gateway(modelID string) (model.Gateway, error) {
	return b.Gateways[modelID], nil
}

// blueprint is the YAML shape of one agent node.
type blueprint struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Model       string         `yaml:"model"`
	Instruction string         `yaml:"instruction"`
	InputSchema map[string]any `yaml:"input_schema"`
	Tools       []string       `yaml:"tools"`
	Agents      []blueprint    `yaml:"agents"`
}

// Load reads a YAML blueprint and builds the definition hierarchy it
// describes. Unknown YAML fields are rejected so typos fail loudly. The
// returned definition still needs to pass agent.Compile, which the runner
// performs on construction.
func Load(r io.Reader, binder Binder) (*agent.Definition, error) {
	if binder == nil {
		return nil, fmt.Errorf("compose: binder is nil")
	}

	var bp blueprint
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&bp); err != nil {
		return nil, fmt.Errorf("compose: decode blueprint: %w", err)
	}
	return build(&bp, binder, "")
}

// LoadFile is Load for a blueprint on disk.
func LoadFile(path string, binder Binder) (*agent.Definition, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, fmt.Errorf("compose: missing blueprint path")
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("compose: open blueprint: %w", err)
	}
	defer f.Close()

	return Load(f, binder)
}

// build turns one blueprint node and its subtree into definitions. The path
// argument locates the node in the document for error messages.
func build(bp *blueprint, binder Binder, path string) (*agent.Definition, error) {
	at := func(field string) string {
		if path == "" {
			return field
		}
		return path + "." + field
	}

	if strings.TrimSpace(bp.Name) == "" {
		return nil, fmt.Errorf("compose: %s is required", at("name"))
	}

	gateway, err := binder.Gateway(bp.Model)
	if err != nil {
		return nil, fmt.Errorf("compose: %s: %w", at("model"), err)
	}

	tools := make([]tool.Tool, 0, len(bp.Tools))
	for i, name := range bp.Tools {
		tl, err := binder.Tool(name)
		if err != nil {
			return nil, fmt.Errorf("compose: %s[%d]: %w", at("tools"), i, err)
		}
		tools = append(tools, tl)
	}

	children := make([]*agent.Definition, 0, len(bp.Agents))
	for i := range bp.Agents {
		child, err := build(&bp.Agents[i], binder, fmt.Sprintf("%s[%d]", at("agents"), i))
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	return agent.New(bp.Name, func(o *agent.Options) {
		o.Description = bp.Description
		o.Instruction = bp.Instruction
		o.Model = bp.Model
		o.Gateway = gateway
		o.Tools = tools
		o.SubAgents = children
		o.InputSchema = bp.InputSchema
	}), nil
}
