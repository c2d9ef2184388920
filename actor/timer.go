package actor

import (
	"sync"
	"time"
)

// Timer is an explicit handle for a scheduled self-message. A timer that
// fires after its target has stopped is a no-op (the send is dropped), but
// callers on early terminal transitions should Cancel anyway.
type Timer struct {
	once  sync.Once
	timer *time.Timer   // one-shot
	quit  chan struct{} // periodic
}

// Cancel stops the timer. Safe to call multiple times, and after firing.
func (t *Timer) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		if t.timer != nil {
			t.timer.Stop()
		}
		if t.quit != nil {
			close(t.quit)
		}
	})
}

// SendAfter delivers msg to the actor's own mailbox once, after d.
func (r *Ref) SendAfter(d time.Duration, msg any) *Timer {
	return &Timer{
		timer: time.AfterFunc(d, func() {
			r.Send(msg)
		}),
	}
}

// SendEvery delivers msg to the actor's own mailbox every d until the timer
// is cancelled or the actor terminates.
func (r *Ref) SendEvery(d time.Duration, msg any) *Timer {
	t := &Timer{quit: make(chan struct{})}
	go func() {
		tick := time.NewTicker(d)
		defer tick.Stop()
		for {
			select {
			case <-t.quit:
				return
			case <-r.exited:
				return
			case <-tick.C:
				r.Send(msg)
			}
		}
	}()
	return t
}
