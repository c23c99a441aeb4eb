package substrate

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/agentweave/logging"
)

// Options configures a LocalEngine.
type Options struct {
	// MaxConcurrentInstances caps instances executing at once. A parent
	// blocked on a child releases its slot, so tree depth does not consume
	// concurrency.
	MaxConcurrentInstances int64

	// DefaultActivityTimeout bounds each activity attempt unless overridden
	// per call.
	DefaultActivityTimeout time.Duration

	// DefaultActivityAttempts is the retry budget per activity call unless
	// overridden.
	DefaultActivityAttempts int

	// RetryBackoff is the fixed delay between activity attempts.
	RetryBackoff time.Duration

	// Logger receives engine and instance lifecycle logs.
	Logger logging.Logger
}

// LocalEngine is a complete in-process implementation of Engine. Instances
// run as goroutines; handlers execute on their caller's goroutine; payloads
// cross every boundary as JSON so no live pointers are shared between
// instances.
type LocalEngine struct {
	opts Options
	sem  *semaphore.Weighted

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu         sync.RWMutex
	workflows  map[string]Workflow
	activities map[string]ActivityFunc
	instances  map[string]*localInstance
	closed     bool

	wg sync.WaitGroup
}

// NewLocalEngine creates an engine with the given options applied over
// defaults (32 concurrent instances, 1 activity attempt, 1m activity
// timeout).
func NewLocalEngine(optFns ...func(o *Options)) *LocalEngine {
	opts := Options{
		MaxConcurrentInstances:  32,
		DefaultActivityTimeout:  time.Minute,
		DefaultActivityAttempts: 1,
		RetryBackoff:            200 * time.Millisecond,
		Logger:                  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.MaxConcurrentInstances <= 0 {
		opts.MaxConcurrentInstances = 32
	}
	if opts.DefaultActivityAttempts <= 0 {
		opts.DefaultActivityAttempts = 1
	}
	if opts.DefaultActivityTimeout <= 0 {
		opts.DefaultActivityTimeout = time.Minute
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())

	return &LocalEngine{
		opts:       opts,
		sem:        semaphore.NewWeighted(opts.MaxConcurrentInstances),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		workflows:  make(map[string]Workflow),
		activities: make(map[string]ActivityFunc),
		instances:  make(map[string]*localInstance),
	}
}

// RegisterWorkflow makes a workflow type startable.
func (e *LocalEngine) RegisterWorkflow(w Workflow) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.workflows[w.Name()]; exists {
		return fmt.Errorf("substrate: workflow %q already registered", w.Name())
	}
	e.workflows[w.Name()] = w
	return nil
}

// RegisterActivity binds an activity name to its function.
func (e *LocalEngine) RegisterActivity(name string, fn ActivityFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.activities[name]; exists {
		return fmt.Errorf("substrate: activity %q already registered", name)
	}
	e.activities[name] = fn
	return nil
}

// Start launches a new root instance. The instance's lifetime is bound to
// the engine, not to the caller's context.
func (e *LocalEngine) Start(_ context.Context, workflow string, input any, opts ...StartOption) (Instance, error) {
	so := StartOptions{}
	for _, fn := range opts {
		fn(&so)
	}
	return e.start(e.baseCtx, workflow, input, so.InstanceID)
}

// Lookup finds a live or finished instance by ID.
func (e *LocalEngine) Lookup(id string) (Instance, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	inst, ok := e.instances[id]
	return inst, ok
}

// Close terminates every live instance and waits for their goroutines to
// drain. The engine cannot be reused afterwards.
func (e *LocalEngine) Close() {
	e.mu.Lock()
	e.closed = true
	insts := make([]*localInstance, 0, len(e.instances))
	for _, inst := range e.instances {
		insts = append(insts, inst)
	}
	e.mu.Unlock()

	for _, inst := range insts {
		inst.Terminate("engine closed")
	}
	e.baseCancel()
	e.wg.Wait()
}

func (e *LocalEngine) start(parentCtx context.Context, workflow string, input any, id string) (*localInstance, error) {
	e.mu.RLock()
	wf, ok := e.workflows[workflow]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorkflow, workflow)
	}

	if id == "" {
		id = workflow + "-" + uuid.NewString()
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("substrate: encode input for %q: %w", id, err)
	}

	inst := newLocalInstance(e, parentCtx, id)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		inst.cancel(ErrTerminated)
		return nil, fmt.Errorf("substrate: engine is closed")
	}
	if _, exists := e.instances[id]; exists {
		e.mu.Unlock()
		inst.cancel(ErrTerminated)
		return nil, fmt.Errorf("%w: %q", ErrDuplicateID, id)
	}
	e.instances[id] = inst
	e.wg.Add(1)
	e.mu.Unlock()

	e.opts.Logger.Debug("substrate.instance.start", "instance_id", id, "workflow", workflow)

	go e.runInstance(inst, wf, payload)

	return inst, nil
}

func (e *LocalEngine) runInstance(inst *localInstance, wf Workflow, input []byte) {
	defer e.wg.Done()

	if err := e.sem.Acquire(inst.ctx, 1); err != nil {
		inst.complete(nil, context.Cause(inst.ctx))
		return
	}

	wctx := &workflowContext{Context: inst.ctx, engine: e, inst: inst, slotHeld: true}

	var out any
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				e.opts.Logger.Error("substrate.instance.panic",
					"instance_id", inst.id, "panic", r, "stack", string(debug.Stack()))
				err = fmt.Errorf("substrate: workflow instance %s panicked: %v", inst.id, r)
			}
		}()
		out, err = wf.Execute(wctx, input)
	}()

	if wctx.slotHeld {
		e.sem.Release(1)
	}

	if err == nil && inst.ctx.Err() != nil {
		err = context.Cause(inst.ctx)
	}
	inst.complete(out, err)

	e.opts.Logger.Debug("substrate.instance.done", "instance_id", inst.id, "error", errString(err))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// localInstance is both the running state and the client handle of one
// workflow instance.
type localInstance struct {
	id     string
	engine *LocalEngine
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu             sync.Mutex
	signalHandlers map[string]func(payload []byte)
	signalBacklog  map[string][][]byte
	updateHandlers map[string]func(ctx context.Context, payload []byte) ([]byte, error)
	queryHandlers  map[string]func(args []byte) (any, error)
	registered     chan struct{}

	done   chan struct{}
	once   sync.Once
	result Result
	err    error
}

func newLocalInstance(e *LocalEngine, parentCtx context.Context, id string) *localInstance {
	ctx, cancel := context.WithCancelCause(parentCtx)
	return &localInstance{
		id:             id,
		engine:         e,
		ctx:            ctx,
		cancel:         cancel,
		signalHandlers: make(map[string]func([]byte)),
		signalBacklog:  make(map[string][][]byte),
		updateHandlers: make(map[string]func(context.Context, []byte) ([]byte, error)),
		queryHandlers:  make(map[string]func([]byte) (any, error)),
		registered:     make(chan struct{}),
		done:           make(chan struct{}),
	}
}

func (i *localInstance) complete(out any, err error) {
	i.once.Do(func() {
		if err == nil {
			if data, mErr := json.Marshal(out); mErr != nil {
				err = fmt.Errorf("substrate: encode result of %s: %w", i.id, mErr)
			} else {
				i.result = NewResult(data)
			}
		}
		i.err = err
		i.cancel(nil)
		close(i.done)
	})
}

// ID returns the instance identifier.
func (i *localInstance) ID() string { return i.id }

// Signal delivers a fire-and-forget signal. Signals arriving before the
// instance registers a handler are buffered and replayed in order.
func (i *localInstance) Signal(_ context.Context, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("substrate: encode signal %q: %w", name, err)
	}
	i.deliverSignal(name, data)
	return nil
}

func (i *localInstance) deliverSignal(name string, payload []byte) {
	i.mu.Lock()
	h, ok := i.signalHandlers[name]
	if !ok {
		i.signalBacklog[name] = append(i.signalBacklog[name], payload)
		i.mu.Unlock()
		return
	}
	i.mu.Unlock()
	h(payload)
}

// Update submits a blocking update. The handler runs on this caller's
// goroutine; if the instance has not registered the handler yet the call
// waits for registration.
func (i *localInstance) Update(ctx context.Context, name string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("substrate: encode update %q: %w", name, err)
	}

	for {
		i.mu.Lock()
		h, ok := i.updateHandlers[name]
		reg := i.registered
		i.mu.Unlock()

		if ok {
			return h(ctx, data)
		}

		select {
		case <-reg:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-i.done:
			if i.err != nil {
				return nil, i.err
			}
			return nil, fmt.Errorf("substrate: instance %s completed before handling update %q", i.id, name)
		}
	}
}

// Query runs a read-only query. Queries remain answerable after the
// instance completes.
func (i *localInstance) Query(_ context.Context, name string, args any) ([]byte, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("substrate: encode query %q: %w", name, err)
	}

	i.mu.Lock()
	h, ok := i.queryHandlers[name]
	i.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: query %q on instance %s", ErrNoSuchHandler, name, i.id)
	}

	out, err := h(data)
	if err != nil {
		return nil, err
	}
	resp, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("substrate: encode query %q response: %w", name, err)
	}
	return resp, nil
}

// Result blocks until the instance completes.
func (i *localInstance) Result(ctx context.Context) (Result, error) {
	select {
	case <-i.done:
		return i.result, i.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Terminate forcibly stops the instance.
func (i *localInstance) Terminate(reason string) {
	i.cancel(fmt.Errorf("%w: %s", ErrTerminated, reason))
}

func (i *localInstance) notifyRegisteredLocked() {
	close(i.registered)
	i.registered = make(chan struct{})
}

// workflowContext implements Context for one running instance. Execute runs
// single-threaded, so slotHeld needs no lock.
type workflowContext struct {
	context.Context
	engine   *LocalEngine
	inst     *localInstance
	slotHeld bool
}

// InstanceID returns the unique identifier of this instance.
func (w *workflowContext) InstanceID() string { return w.inst.id }

// Logger returns the engine logger; instance correlation travels in log
// fields supplied by callers.
func (w *workflowContext) Logger() logging.Logger { return w.engine.opts.Logger }

// ExecuteActivity runs a registered activity inline with timeout and retry.
func (w *workflowContext) ExecuteActivity(name string, arg any, opts ...ActivityOption) (Result, error) {
	o := ActivityOptions{
		StartToCloseTimeout: w.engine.opts.DefaultActivityTimeout,
		MaxAttempts:         w.engine.opts.DefaultActivityAttempts,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.StartToCloseTimeout <= 0 {
		o.StartToCloseTimeout = w.engine.opts.DefaultActivityTimeout
	}

	w.engine.mu.RLock()
	fn, ok := w.engine.activities[name]
	w.engine.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownActivity, name)
	}

	payload, err := json.Marshal(arg)
	if err != nil {
		return Result{}, fmt.Errorf("substrate: encode activity %q argument: %w", name, err)
	}

	var lastErr error
	for attempt := 1; attempt <= o.MaxAttempts; attempt++ {
		actx, cancel := context.WithTimeout(w.inst.ctx, o.StartToCloseTimeout)
		out, err := fn(actx, payload)
		cancel()

		if err == nil {
			data, mErr := json.Marshal(out)
			if mErr != nil {
				return Result{}, fmt.Errorf("substrate: encode activity %q result: %w", name, mErr)
			}
			return NewResult(data), nil
		}
		lastErr = err

		w.engine.opts.Logger.Warn("substrate.activity.attempt_failed",
			"instance_id", w.inst.id, "activity", name, "attempt", attempt, "error", err.Error())

		if w.inst.ctx.Err() != nil {
			return Result{}, context.Cause(w.inst.ctx)
		}
		if attempt < o.MaxAttempts {
			select {
			case <-time.After(w.engine.opts.RetryBackoff):
			case <-w.inst.ctx.Done():
				return Result{}, context.Cause(w.inst.ctx)
			}
		}
	}

	return Result{}, fmt.Errorf("substrate: activity %q failed after %d attempts: %w", name, o.MaxAttempts, lastErr)
}

// ExecuteChild starts a child instance and blocks until it completes. The
// child's context derives from this instance, so terminating the parent
// tears down the subtree. The parent's execution slot is released while it
// waits.
func (w *workflowContext) ExecuteChild(workflow string, input any, opts ...ChildOption) (Result, error) {
	co := ChildOptions{}
	for _, fn := range opts {
		fn(&co)
	}

	child, err := w.engine.start(w.inst.ctx, workflow, input, co.InstanceID)
	if err != nil {
		return Result{}, err
	}

	w.engine.sem.Release(1)
	w.slotHeld = false

	res, childErr := child.Result(w.inst.ctx)

	if err := w.engine.sem.Acquire(w.inst.ctx, 1); err != nil {
		return Result{}, context.Cause(w.inst.ctx)
	}
	w.slotHeld = true

	return res, childErr
}

// SignalExternal delivers a signal to another live instance. A missing
// target is dropped, not an error.
func (w *workflowContext) SignalExternal(instanceID, signal string, payload any) error {
	target, ok := w.engine.Lookup(instanceID)
	if !ok {
		w.engine.opts.Logger.Debug("substrate.signal.dropped",
			"instance_id", w.inst.id, "target", instanceID, "signal", signal)
		return nil
	}
	return target.Signal(w.inst.ctx, signal, payload)
}

// HandleSignal registers a signal handler and replays any backlog in order.
func (w *workflowContext) HandleSignal(name string, fn func(payload []byte)) {
	i := w.inst
	i.mu.Lock()
	backlog := i.signalBacklog[name]
	delete(i.signalBacklog, name)
	i.signalHandlers[name] = fn
	i.notifyRegisteredLocked()
	i.mu.Unlock()

	for _, payload := range backlog {
		fn(payload)
	}
}

// HandleUpdate registers an update handler and wakes callers waiting for it.
func (w *workflowContext) HandleUpdate(name string, fn func(ctx context.Context, payload []byte) ([]byte, error)) {
	i := w.inst
	i.mu.Lock()
	i.updateHandlers[name] = fn
	i.notifyRegisteredLocked()
	i.mu.Unlock()
}

// HandleQuery registers a query handler.
func (w *workflowContext) HandleQuery(name string, fn func(args []byte) (any, error)) {
	i := w.inst
	i.mu.Lock()
	i.queryHandlers[name] = fn
	i.notifyRegisteredLocked()
	i.mu.Unlock()
}
