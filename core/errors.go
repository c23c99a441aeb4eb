package core

import (
	"errors"
	"fmt"
)

// ErrBusy is returned when a prompt is submitted while a previous prompt is
// still in flight. Callers retry after the pending exchange resolves.
var ErrBusy = errors.New("core: a prompt is already in flight")

// ProtocolError reports that the model repeatedly produced output the
// control loop could not interpret, exhausting the recovery budget.
type ProtocolError struct {
	Agent      string // Agent whose gateway produced the output
	Attempts   int    // Consecutive malformed candidates observed
	Diagnostic string // Last diagnostic fed back to the model
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("core: model protocol violation for agent %q after %d attempts: %s",
		e.Agent, e.Attempts, e.Diagnostic)
}

// UnknownActionError reports a model-requested action name that resolves to
// neither a local tool nor a direct sub-agent. Composition validates the
// dispatch surface, so hitting this at run time is a fatal instance error.
type UnknownActionError struct {
	Agent  string
	Action string
}

// Error implements the error interface.
func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("core: agent %q requested unknown action %q", e.Agent, e.Action)
}
