package substrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentweave/logging"
)

// Common substrate errors.
var (
	// ErrUnknownWorkflow is returned when starting a workflow type that was
	// never registered.
	ErrUnknownWorkflow = errors.New("substrate: unknown workflow")
	// ErrUnknownActivity is returned when a workflow schedules an activity
	// name that was never registered.
	ErrUnknownActivity = errors.New("substrate: unknown activity")
	// ErrDuplicateID is returned when starting an instance with an ID that
	// is already live.
	ErrDuplicateID = errors.New("substrate: instance id already exists")
	// ErrInstanceNotFound is returned by lookups for unknown instance IDs.
	ErrInstanceNotFound = errors.New("substrate: instance not found")
	// ErrNoSuchHandler is returned by queries and signals targeting a
	// handler the instance never registered.
	ErrNoSuchHandler = errors.New("substrate: no such handler")
	// ErrTerminated is the failure cause of instances killed by an
	// operator.
	ErrTerminated = errors.New("substrate: instance terminated")
)

// Workflow is a durable function hosted by an engine. Execute runs on a
// single logical thread; every suspension (activity, child, waiting on a
// handler-fed channel) is explicit. The returned value is serialized as the
// instance result.
type Workflow interface {
	// Name identifies the workflow type for registration and child starts.
	Name() string
	// Execute runs the workflow body to completion. The input is the
	// JSON-serialized start argument.
	Execute(wctx Context, input []byte) (any, error)
}

// Context is the scope a workflow body executes in. It embeds the instance's
// lifecycle context: cancellation means the instance is being torn down.
type Context interface {
	context.Context

	// InstanceID returns the unique identifier of this instance.
	InstanceID() string

	// Logger returns the instance-scoped logger.
	Logger() logging.Logger

	// ExecuteActivity schedules a registered activity and blocks until it
	// completes or its retry budget is exhausted. The argument is serialized
	// to JSON for the activity.
	ExecuteActivity(name string, arg any, opts ...ActivityOption) (Result, error)

	// ExecuteChild starts a child instance of the named workflow type and
	// blocks until it completes. The child's failure propagates as the
	// returned error.
	ExecuteChild(workflow string, input any, opts ...ChildOption) (Result, error)

	// SignalExternal delivers a fire-and-forget signal to another live
	// instance. Delivery is at-least-once; a missing target is not an error.
	SignalExternal(instanceID, signal string, payload any) error

	// HandleSignal registers the handler for a named signal. Signals
	// received before registration are buffered and replayed in order.
	HandleSignal(name string, fn func(payload []byte))

	// HandleUpdate registers the handler for a named blocking update. The
	// handler runs on the submitting caller's goroutine; its return value
	// resolves the caller.
	HandleUpdate(name string, fn func(ctx context.Context, payload []byte) ([]byte, error))

	// HandleQuery registers the handler for a named read-only query.
	HandleQuery(name string, fn func(args []byte) (any, error))
}

// Instance is the client-side handle to a running or finished workflow.
type Instance interface {
	// ID returns the instance identifier.
	ID() string
	// Signal delivers a fire-and-forget signal.
	Signal(ctx context.Context, name string, payload any) error
	// Update submits a blocking update and returns the handler's response.
	Update(ctx context.Context, name string, payload any) ([]byte, error)
	// Query runs a read-only query against the live instance.
	Query(ctx context.Context, name string, args any) ([]byte, error)
	// Result blocks until the instance completes and returns its result.
	Result(ctx context.Context) (Result, error)
	// Terminate forcibly stops the instance with the given reason.
	Terminate(reason string)
}

// Engine hosts workflow instances and the activity registry.
type Engine interface {
	// RegisterWorkflow makes a workflow type startable.
	RegisterWorkflow(w Workflow) error
	// RegisterActivity binds an activity name to its function.
	RegisterActivity(name string, fn ActivityFunc) error
	// Start launches a new root instance.
	Start(ctx context.Context, workflow string, input any, opts ...StartOption) (Instance, error)
	// Lookup finds a live or finished instance by ID.
	Lookup(id string) (Instance, bool)
}

// ActivityFunc is a registered activity implementation. The payload is the
// JSON-serialized argument; the returned value is serialized as the activity
// result.
type ActivityFunc func(ctx context.Context, payload []byte) (any, error)

// Activity adapts a typed function into an ActivityFunc, decoding the
// payload into T before the function runs.
func Activity[T any](fn func(ctx context.Context, in T) (any, error)) ActivityFunc {
	return func(ctx context.Context, payload []byte) (any, error) {
		var in T
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, fmt.Errorf("substrate: decode activity input: %w", err)
		}
		return fn(ctx, in)
	}
}

// Result wraps a JSON-serialized workflow, child or activity outcome.
type Result struct {
	data []byte
}

// NewResult wraps an already-serialized payload.
func NewResult(data []byte) Result { return Result{data: data} }

// Get decodes the result into out.
func (r Result) Get(out any) error {
	if len(r.data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.data, out); err != nil {
		return fmt.Errorf("substrate: decode result: %w", err)
	}
	return nil
}

// Raw returns the serialized payload.
func (r Result) Raw() []byte { return r.data }

// ActivityOption customizes a single activity execution.
type ActivityOption func(*ActivityOptions)

// ActivityOptions carries per-call activity settings.
type ActivityOptions struct {
	// StartToCloseTimeout bounds one attempt. Zero means the engine default.
	StartToCloseTimeout time.Duration
	// MaxAttempts bounds retries on error. Zero means the engine default.
	MaxAttempts int
}

// WithStartToCloseTimeout bounds each activity attempt.
func WithStartToCloseTimeout(d time.Duration) ActivityOption {
	return func(o *ActivityOptions) { o.StartToCloseTimeout = d }
}

// WithMaxAttempts sets the retry budget for an activity call.
func WithMaxAttempts(n int) ActivityOption {
	return func(o *ActivityOptions) { o.MaxAttempts = n }
}

// ChildOption customizes a child instance start.
type ChildOption func(*ChildOptions)

// ChildOptions carries child start settings.
type ChildOptions struct {
	// InstanceID overrides the generated child instance ID.
	InstanceID string
}

// WithChildID pins the child's instance ID.
func WithChildID(id string) ChildOption {
	return func(o *ChildOptions) { o.InstanceID = id }
}

// StartOption customizes a root instance start.
type StartOption func(*StartOptions)

// StartOptions carries root start settings.
type StartOptions struct {
	// InstanceID overrides the generated instance ID.
	InstanceID string
}

// WithInstanceID pins the root instance ID.
func WithInstanceID(id string) StartOption {
	return func(o *StartOptions) { o.InstanceID = id }
}
