package core

import (
	"context"

	"github.com/hupe1980/agentweave/logging"
)

// ToolContext carries the execution scope for a single dispatched tool call.
// Tools run inside activities on the substrate, so the context is plain and
// cancellable; the identifiers correlate a tool execution with the requesting
// instance and the originating action call.
type ToolContext struct {
	context.Context
	*loggerAdapter

	instanceID string
	agentName  string
	callID     string
}

// NewToolContext creates the scope for one tool execution.
func NewToolContext(ctx context.Context, instanceID, agentName, callID string, logger logging.Logger) *ToolContext {
	return &ToolContext{
		Context:       ctx,
		loggerAdapter: newLoggerAdapter(logger),
		instanceID:    instanceID,
		agentName:     agentName,
		callID:        callID,
	}
}

// InstanceID returns the identifier of the instance that dispatched the call.
func (t *ToolContext) InstanceID() string { return t.instanceID }

// AgentName returns the name of the agent that requested the call.
func (t *ToolContext) AgentName() string { return t.agentName }

// CallID returns the identifier correlating this execution with the model's
// action call.
func (t *ToolContext) CallID() string { return t.callID }
