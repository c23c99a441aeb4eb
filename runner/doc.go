// Package runner wires a compiled agent tree onto an execution engine and
// hands out live sessions.
//
// The Runner registers the agent workflow, the shared generate activity and
// one activity per local tool, then mints Session handles bound to root
// instances. A Session is the only surface a front end needs: submit a
// prompt, poll thoughts, terminate. Completed exchanges are recorded to the
// configured transcript store.
package runner
