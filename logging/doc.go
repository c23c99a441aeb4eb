// Package logging provides a tiny abstraction over slog so downstream code
// can depend on a minimal interface (Logger) while allowing users to plug any
// structured logger. It also offers a richer AgentWeaveLogger with contextual
// helpers (session, instance, component) and domain specific helpers for
// model calls, action dispatch and instance lifecycle.
package logging
