// Package agent describes agent hierarchies and compiles them for
// execution. The package focuses on two concerns:
//
//  1. Definition: the immutable description of one agent (name,
//     instruction, model, gateway override, local tools, children and an
//     optional delegation input schema)
//  2. Tree: the compiled form, a validated hierarchy with per-agent action
//     bindings (tool vs child) and the schemas presented to the model
//
// Design principles:
//   - Definitions are plain values wired with functional options; nesting a
//     definition under SubAgents is the whole composition story
//   - Compile validates once (duplicate names, action collisions, tool
//     identity) so execution never re-checks
//   - The compiled Tree is read-only and safe for concurrent use across
//     every live instance
//
// Execution concerns live elsewhere: the flow package drives instances, the
// runner package binds a Tree to an engine.
package agent
