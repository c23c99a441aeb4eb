// Package model defines the gateway abstraction between agent instances and
// LLM providers. A Gateway performs one deterministic, non-streaming
// generation per call: it receives the full conversation history plus the
// agent's tool schemas and returns a single candidate that either finishes
// with text or requests actions.
//
// Sub-packages provide concrete adapters (gemini, openai, anthropic); the
// ScriptedGateway in this package drives tests and examples without network
// access.
package model
