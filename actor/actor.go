// Minimal mailbox-actor runtime used by the moderation core.
//
// Each actor is one goroutine draining an ordered mailbox, processing a
// single message at a time. There is no ambient global namespace: actors are
// addressed through explicit [Ref] handles, optionally published in a
// [Registry]. Failure (a returned error or a panic) terminates only the
// failing actor; owners learn about exits through the OnExit option.
package actor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Worker is the behavior of a single actor. All three methods are invoked
// from the actor's own goroutine, never concurrently with each other.
type Worker interface {
	// Start runs before any message is processed. Returning an error fails
	// the actor without entering the receive loop.
	Start(ctx context.Context, self *Ref) error

	// Receive handles one mailbox message. Returning an error fails the
	// actor; remaining mailbox messages are discarded.
	Receive(ctx context.Context, self *Ref, msg any) error

	// Stopped runs exactly once after the receive loop exits, for both
	// normal stops and failures, with the stop reason.
	Stopped(reason string)
}

const defaultMailboxSize = 256

// ExitFunc is invoked (from the actor's goroutine, after Stopped) when the
// actor terminates. err is nil for a normal stop.
type ExitFunc func(ref *Ref, reason string, err error)

type options struct {
	mailbox int
	onExit  ExitFunc
}

type Option func(*options)

// WithMailbox overrides the mailbox buffer size.
func WithMailbox(n int) Option {
	return func(o *options) { o.mailbox = n }
}

// WithOnExit registers an exit notification callback.
func WithOnExit(fn ExitFunc) Option {
	return func(o *options) { o.onExit = fn }
}

// Ref is a handle to a running actor.
type Ref struct {
	name    string
	mailbox chan any
	done    chan struct{} // closed once a stop has been requested
	exited  chan struct{} // closed when the goroutine has finished

	stopOnce sync.Once
	mu       sync.Mutex
	reason   string

	cancel context.CancelFunc
}

// Spawn starts a new actor running w and returns its handle. The actor's
// context is derived from ctx and cancelled when the actor terminates.
func Spawn(ctx context.Context, name string, w Worker, opts ...Option) *Ref {
	o := options{mailbox: defaultMailboxSize}
	for _, opt := range opts {
		opt(&o)
	}
	actx, cancel := context.WithCancel(ctx)
	r := &Ref{
		name:    name,
		mailbox: make(chan any, o.mailbox),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
		cancel:  cancel,
	}
	go r.run(actx, w, o)
	return r
}

func (r *Ref) Name() string { return r.name }

// Alive reports whether the actor goroutine is still running.
func (r *Ref) Alive() bool {
	select {
	case <-r.exited:
		return false
	default:
		return true
	}
}

// Done is closed when the actor has fully terminated.
func (r *Ref) Done() <-chan struct{} { return r.exited }

// Send enqueues a message, preserving sender-relative order. It returns false
// if the actor has stopped (or stops while the mailbox is full); such
// messages are silently dropped.
func (r *Ref) Send(msg any) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.mailbox <- msg:
		return true
	case <-r.done:
		return false
	}
}

// Stop requests termination with the given reason. The first call wins;
// later calls (and calls on an already-stopped actor) are no-ops. The actor
// finishes its in-flight message before stopping.
func (r *Ref) Stop(reason string) {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.reason = reason
		r.mu.Unlock()
		close(r.done)
	})
}

// StopReason returns the recorded stop reason, or "" while still running.
func (r *Ref) StopReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

func (r *Ref) run(ctx context.Context, w Worker, o options) {
	var failure error

	if err := protect(func() error { return w.Start(ctx, r) }); err != nil {
		failure = err
		r.Stop("start failed")
	}

loop:
	for failure == nil {
		// a requested stop takes effect before the next mailbox message
		select {
		case <-r.done:
			break loop
		default:
		}
		select {
		case <-r.done:
			break loop
		case msg := <-r.mailbox:
			if err := protect(func() error { return w.Receive(ctx, r, msg) }); err != nil {
				failure = err
				r.Stop("receive failed")
			}
		}
	}

	reason := r.StopReason()
	if reason == "" {
		reason = "stopped"
	}
	protectStopped(w, reason)
	r.cancel()
	close(r.exited)
	if o.onExit != nil {
		o.onExit(r, reason, failure)
	}
}

// protect converts panics in worker code into actor failures, so one
// misbehaving monitor cannot take down the process.
func protect(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("actor panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return fn()
}

func protectStopped(w Worker, reason string) {
	defer func() {
		recover()
	}()
	w.Stopped(reason)
}
