// Package core provides the foundational domain types used by AgentWeave. It
// defines the building blocks every other package composes:
//
//   - Parts and Content (role-based conversation entries made of text,
//     action calls and action results)
//   - Conversation (the append-only per-instance history with delta tracking)
//   - ThoughtLog (the observable stream of model text with watermark reads)
//   - PendingResponse (the single-slot prompt/response synchronizer)
//   - Shared error values and typed errors for the control loop
//
// The package intentionally keeps implementation concerns (model gateways,
// the execution substrate, dispatch) out of scope. Types here are safe to
// serialize across activity and child-instance boundaries; mutable containers
// guard their state so handler goroutines can touch them while the owning
// control loop runs.
package core
