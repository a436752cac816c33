package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTaskRunsAndReschedules(t *testing.T) {
	var runs atomic.Int32

	b := NewBuilder()
	b.Workers(2)
	b.Resolution(5 * time.Millisecond)
	b.AddTask(NewTask(func() time.Duration {
		runs.Add(1)
		return 10 * time.Millisecond
	}, 0))

	s := b.Build()
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 runs, got %d", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestAtMostOneInFlight(t *testing.T) {
	var inFlight atomic.Int32
	var maxSeen atomic.Int32

	b := NewBuilder()
	b.Workers(4)
	b.Resolution(time.Millisecond)
	// The job outlives many ticks; the driver must not dispatch it again
	// while it runs.
	b.AddTask(NewTask(func() time.Duration {
		n := inFlight.Add(1)
		for {
			old := maxSeen.Load()
			if n <= old || maxSeen.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return 0
	}, 0))

	s := b.Build()
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	if maxSeen.Load() > 1 {
		t.Fatalf("task was in flight %d times concurrently", maxSeen.Load())
	}
}

func TestPanicDoesNotKillDriver(t *testing.T) {
	var runs atomic.Int32

	b := NewBuilder()
	b.Workers(1)
	b.Resolution(time.Millisecond)
	b.AddTask(NewTask(func() time.Duration {
		if runs.Add(1) == 1 {
			panic("boom")
		}
		return time.Millisecond
	}, 0))

	s := b.Build()
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("driver stopped dispatching after panic, runs=%d", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStopDrainsInFlightJobs(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool

	b := NewBuilder()
	b.Workers(1)
	b.Resolution(time.Millisecond)

	var once sync.Once
	b.AddTask(NewTask(func() time.Duration {
		once.Do(func() { close(started) })
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
		return time.Hour
	}, 0))

	s := b.Build()
	<-started
	s.Stop()

	if !finished.Load() {
		t.Fatal("Stop returned before the in-flight job completed")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	b := NewBuilder()
	b.Resolution(time.Millisecond)
	s := b.Build()
	s.Stop()
	s.Stop()
}
