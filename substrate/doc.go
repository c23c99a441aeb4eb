// Package substrate defines the durable execution contract agent instances
// run on: workflows with a single logical thread, retryable activities,
// blocking child workflows, fire-and-forget signals, blocking updates and
// read-only queries.
//
// The contract is deliberately host-neutral. LocalEngine provides a complete
// in-process implementation for tests and embedded use; a remote durable
// engine can be substituted by implementing Engine, Context and Instance.
// Workflow code must treat the substrate as its only source of side effects:
// all external work goes through activities, all cross-instance
// communication through signals, updates and queries.
package substrate
