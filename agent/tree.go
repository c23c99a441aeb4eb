package agent

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/hupe1980/agentweave/model"
	"github.com/hupe1980/agentweave/tool"
)

// BindKind discriminates how a requested action is dispatched.
type BindKind int

const (
	// BindLocalTool routes the action to a local tool invocation.
	BindLocalTool BindKind = iota + 1

	// BindChildAgent routes the action to a child agent instance.
	BindChildAgent
)

// Binding resolves one action name an agent may request.
type Binding struct {
	Kind  BindKind
	Tool  tool.Tool // set when Kind is BindLocalTool
	Child string    // child agent name when Kind is BindChildAgent
}

// Node is one compiled agent inside a Tree.
type Node struct {
	Def      *Definition
	Parent   string // empty for the root
	Children []string

	bindings map[string]Binding
	schemas  []model.ToolSchema
}

// Binding resolves an action name requested by this agent.
func (n *Node) Binding(action string) (Binding, bool) {
	b, ok := n.bindings[action]
	return b, ok
}

// Schemas returns the action schemas presented to the model: local tools
// first, then children, each in definition order.
func (n *Node) Schemas() []model.ToolSchema {
	return append([]model.ToolSchema(nil), n.schemas...)
}

// Tree is a compiled, validated agent hierarchy keyed by agent name.
// Compilation happens once; a Tree is read-only afterwards and safe for
// concurrent use.
type Tree struct {
	root  string
	nodes map[string]*Node
	tools map[string]tool.Tool
}

// Compile validates a definition hierarchy and computes each agent's action
// bindings and schemas. It rejects repeated definitions, duplicate agent
// names, and action name collisions.
func Compile(root *Definition) (*Tree, error) {
	if root == nil {
		return nil, fmt.Errorf("agent: root definition is nil")
	}

	t := &Tree{
		root:  root.Name(),
		nodes: make(map[string]*Node),
		tools: make(map[string]tool.Tool),
	}

	visited := make(map[*Definition]bool)
	if err := t.compile(root, "", visited); err != nil {
		return nil, err
	}
	return t, nil
}

// MustCompile is like Compile but panics on error. Intended for wiring up
// static hierarchies in package initialization.
func MustCompile(root *Definition) *Tree {
	t, err := Compile(root)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Tree) compile(d *Definition, parent string, visited map[*Definition]bool) error {
	if visited[d] {
		return fmt.Errorf("agent: definition %q appears more than once in the hierarchy", d.Name())
	}
	visited[d] = true

	name := d.Name()
	if name == "" {
		return fmt.Errorf("agent: definition under %q has a name that normalizes to empty", parent)
	}
	if _, exists := t.nodes[name]; exists {
		return fmt.Errorf("agent: duplicate agent name %q", name)
	}

	node := &Node{
		Def:      d,
		Parent:   parent,
		bindings: make(map[string]Binding),
	}
	t.nodes[name] = node

	for _, tl := range d.tools {
		toolName := tl.Name()
		if toolName == "" {
			return fmt.Errorf("agent %q: tool with empty name", name)
		}
		if _, exists := node.bindings[toolName]; exists {
			return fmt.Errorf("agent %q: duplicate tool name %q", name, toolName)
		}
		if prev, exists := t.tools[toolName]; exists && !sameTool(prev, tl) {
			return fmt.Errorf("agent %q: tool name %q already bound to a different tool elsewhere in the hierarchy", name, toolName)
		}
		t.tools[toolName] = tl
		node.bindings[toolName] = Binding{Kind: BindLocalTool, Tool: tl}
		node.schemas = append(node.schemas, model.ToolSchema{
			Name:        toolName,
			Description: tl.Description(),
			Parameters:  tl.Parameters(),
		})
	}

	for _, child := range d.subAgents {
		childName := child.Name()
		if _, exists := node.bindings[childName]; exists {
			return fmt.Errorf("agent %q: action name %q is already bound to another tool or sub-agent", name, childName)
		}
		node.bindings[childName] = Binding{Kind: BindChildAgent, Child: childName}
		node.schemas = append(node.schemas, model.ToolSchema{
			Name:        childName,
			Description: child.Description(),
			Parameters:  childInputSchema(child),
		})
		node.Children = append(node.Children, childName)

		if err := t.compile(child, name, visited); err != nil {
			return err
		}
	}
	return nil
}

// Root returns the root agent name.
func (t *Tree) Root() string { return t.root }

// Node looks up a compiled agent by name.
func (t *Tree) Node(name string) (*Node, bool) {
	n, ok := t.nodes[name]
	return n, ok
}

// Names returns all agent names in sorted order.
func (t *Tree) Names() []string {
	names := make([]string, 0, len(t.nodes))
	for name := range t.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tools returns every local tool in the hierarchy keyed by tool name.
func (t *Tree) Tools() map[string]tool.Tool {
	out := make(map[string]tool.Tool, len(t.tools))
	for name, tl := range t.tools {
		out[name] = tl
	}
	return out
}

// childInputSchema returns the schema a parent model sees for delegating to
// a child. Children without an explicit schema accept a free-form request.
func childInputSchema(child *Definition) map[string]any {
	if s := child.InputSchema(); s != nil {
		return s
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"request": map[string]any{
				"type":        "string",
				"description": "What you want the agent to do.",
			},
		},
		"required": []string{"request"},
	}
}

// sameTool reports whether two tools are the same instance. Implementations
// are expected to be pointers; non-pointer tools never compare equal.
func sameTool(a, b tool.Tool) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() == reflect.Pointer && vb.Kind() == reflect.Pointer {
		return va.Pointer() == vb.Pointer()
	}
	return false
}
