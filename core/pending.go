package core

import "sync"

// PromptOutcome is delivered to the goroutine awaiting a prompt's final
// response. Err is non-nil when the instance failed or was torn down before
// a finishing answer arrived.
type PromptOutcome struct {
	Text string
	Err  error
}

// PendingResponse is the single-slot synchronizer between a blocking prompt
// submission and the control loop that eventually produces the finishing
// text. At most one prompt may be in flight: arming an armed slot is
// rejected with ErrBusy rather than queued, which keeps the loop's state
// machine single-tracked.
type PendingResponse struct {
	mu     sync.Mutex
	waiter chan PromptOutcome
}

// Arm claims the slot and returns the channel the outcome will arrive on.
// The channel receives exactly one value per successful Arm. A second Arm
// while armed returns ErrBusy.
func (p *PendingResponse) Arm() (<-chan PromptOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waiter != nil {
		return nil, ErrBusy
	}
	p.waiter = make(chan PromptOutcome, 1)
	return p.waiter, nil
}

// Resolve completes the armed waiter with the finishing text and frees the
// slot. Resolving an idle slot is a no-op so the termination path can call
// it unconditionally. Reports whether a waiter was completed.
func (p *PendingResponse) Resolve(text string) bool {
	return p.complete(PromptOutcome{Text: text})
}

// Abort fails the armed waiter and frees the slot. Reports whether a waiter
// was completed.
func (p *PendingResponse) Abort(err error) bool {
	return p.complete(PromptOutcome{Err: err})
}

// Armed reports whether a prompt is currently in flight.
func (p *PendingResponse) Armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiter != nil
}

func (p *PendingResponse) complete(out PromptOutcome) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waiter == nil {
		return false
	}
	p.waiter <- out
	p.waiter = nil
	return true
}
