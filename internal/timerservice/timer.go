// Package timerservice implements a cancellable one-shot timer on top of
// the Go runtime's own timer goroutines: TimerService/Timer in the
// reference implementation, which drove a dedicated boost::asio
// io_service thread instead. time.AfterFunc already gives every timer
// its own independent callback goroutine, so there is no need to pin a
// single background thread the way the source did — the one property
// worth preserving by hand is that a Stop() racing with an in-flight
// fire must not let the callback run after cancellation, which a
// generation counter on each Timer guards against.
package timerservice

import (
	"sync"
	"sync/atomic"
	"time"
)

// Callback receives the Timer that fired, mirroring the source's
// callback(this) invocation.
type Callback func(*Timer)

// Service creates timers. A single Service may be shared by every
// connector in a process; unlike the source's singleton TimerService it
// carries no process-wide uniqueness constraint, since Go's runtime
// timers need no dedicated background thread to multiplex onto.
type Service struct{}

// New constructs a Service.
func New() *Service { return &Service{} }

// CreateTimer allocates a Timer bound to callback. The timer does
// nothing until Start is called.
func (s *Service) CreateTimer(callback Callback) *Timer {
	return &Timer{callback: callback}
}

// Timer is a cancellable one-shot alarm. Zero value is not usable;
// construct via Service.CreateTimer.
type Timer struct {
	mu       sync.Mutex
	callback Callback
	timer    *time.Timer
	gen      uint64
}

// Start arms the timer to fire callback(t) after duration elapses. A
// second Start call re-arms it, invalidating any pending fire from a
// previous Start.
func (t *Timer) Start(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	gen := atomic.AddUint64(&t.gen, 1)
	t.timer = time.AfterFunc(duration, func() {
		if atomic.LoadUint64(&t.gen) != gen {
			return
		}
		t.callback(t)
	})
}

// Stop cancels any pending fire. A fire already in flight when Stop is
// called is suppressed by the generation check rather than raced
// against, matching the source's operation_aborted handling.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	atomic.AddUint64(&t.gen, 1)
	if t.timer != nil {
		t.timer.Stop()
	}
}
