package timerservice

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerFires(t *testing.T) {
	t.Parallel()
	s := New()
	fired := make(chan struct{}, 1)
	timer := s.CreateTimer(func(*Timer) { fired <- struct{}{} })

	timer.Start(10 * time.Millisecond)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestStopBeforeFirePreventsCallback(t *testing.T) {
	t.Parallel()
	s := New()
	var calls int32
	timer := s.CreateTimer(func(*Timer) { atomic.AddInt32(&calls, 1) })

	timer.Start(50 * time.Millisecond)
	timer.Stop()

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("callback fired %d times after Stop, want 0", calls)
	}
}

func TestRestartInvalidatesPreviousFire(t *testing.T) {
	t.Parallel()
	s := New()
	var calls int32
	timer := s.CreateTimer(func(*Timer) { atomic.AddInt32(&calls, 1) })

	timer.Start(10 * time.Millisecond)
	timer.Start(200 * time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("restart should invalidate the earlier fire, got %d calls early", calls)
	}

	time.Sleep(250 * time.Millisecond)
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("restarted timer should fire exactly once, got %d", calls)
	}
}
