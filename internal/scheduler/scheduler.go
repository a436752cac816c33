// Package scheduler runs user-defined-period tasks on a fixed worker pool.
//
// Every task owns a job function that returns the delay until its next run,
// which gives each feed a backoff-and-retry loop for free: return the long
// period on success and a short one on failure. A driver goroutine wakes at a
// fixed resolution and dispatches tasks whose deadline has passed. A task is
// never in flight twice; while its job runs the driver skips it.
package scheduler

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/neurowhai/firemap/internal/logging"
)

// Task is a periodic job. The job returns the delay until the next run.
type Task struct {
	mu        sync.Mutex
	job       func() time.Duration
	nextTime  time.Time
	running   bool
	lastDelay time.Duration
}

// NewTask creates a task that first becomes ready after initialDelay.
func NewTask(job func() time.Duration, initialDelay time.Duration) *Task {
	return &Task{
		job:       job,
		nextTime:  time.Now().Add(initialDelay),
		lastDelay: initialDelay,
	}
}

// tryAcquire marks the task busy if it is ready at now.
func (t *Task) tryAcquire(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running || now.Before(t.nextTime) {
		return false
	}
	t.running = true
	return true
}

func (t *Task) finish(delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextTime = time.Now().Add(delay)
	t.lastDelay = delay
	t.running = false
}

// run invokes the job and reschedules the task. A panicking job must not
// take down the worker, so it is trapped here; the task is rescheduled with
// its last delay.
func (t *Task) run() {
	delay := t.lastDelay
	func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Op().Error("task panicked", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		delay = t.job()
	}()
	if delay < 0 {
		delay = 0
	}
	t.finish(delay)
}

// Builder accumulates tasks and pool settings before the scheduler starts.
type Builder struct {
	tasks      []*Task
	workers    int
	resolution time.Duration
}

// NewBuilder returns a Builder with 4 workers and a 1 second resolution.
func NewBuilder() *Builder {
	return &Builder{
		workers:    4,
		resolution: time.Second,
	}
}

// Workers sets the worker pool size.
func (b *Builder) Workers(n int) *Builder {
	if n > 0 {
		b.workers = n
	}
	return b
}

// Resolution sets how often the driver checks task deadlines.
func (b *Builder) Resolution(d time.Duration) *Builder {
	if d > 0 {
		b.resolution = d
	}
	return b
}

// AddTask registers a task. Must be called before Build.
func (b *Builder) AddTask(t *Task) {
	b.tasks = append(b.tasks, t)
}

// Build starts the driver and worker pool and returns the running scheduler.
func (b *Builder) Build() *Scheduler {
	s := &Scheduler{
		tasks:      b.tasks,
		resolution: b.resolution,
		// One slot per task is enough: a running task is never re-queued.
		jobs:   make(chan *Task, len(b.tasks)),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}

	for i := 0; i < b.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	go s.drive()

	return s
}

// Scheduler drives registered tasks until Stop is called.
type Scheduler struct {
	tasks      []*Task
	resolution time.Duration
	jobs       chan *Task
	stopCh     chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
	wg         sync.WaitGroup
}

func (s *Scheduler) drive() {
	defer close(s.done)

	ticker := time.NewTicker(s.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			close(s.jobs)
			return
		case now := <-ticker.C:
			for _, t := range s.tasks {
				if t.tryAcquire(now) {
					s.jobs <- t
				}
			}
		}
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for t := range s.jobs {
		t.run()
	}
}

// Stop halts the driver at the next tick and waits for in-flight jobs to
// finish. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.done
	s.wg.Wait()
}
