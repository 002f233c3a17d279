// Package schedule runs named one-shot and recurring tasks. Each task
// gets its own goroutine and a context that is cancelled when the task
// is cancelled or the scheduler shuts down; that is the only concurrency
// model in this package.
package schedule

import (
	"context"
	"fmt"
	log "log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sharedcode/gamecore"
)

// TaskFunc is the unit of scheduled work. The context is cancelled on
// Cancel and on Shutdown; long-running tasks should honor it.
type TaskFunc func(ctx context.Context) error

// TaskInfo describes a registered task.
type TaskInfo struct {
	ID        string
	Name      string
	Recurring bool
	Interval  time.Duration
	CreatedAt time.Time
}

// Clock abstracts the scheduler's time source so tests can drive task
// schedules deterministically.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type task struct {
	info   TaskInfo
	cancel context.CancelFunc
}

// Scheduler owns a registry of live tasks. It starts stopped; Start
// enables scheduling and Shutdown cancels everything and waits for the
// task goroutines to drain.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*task
	clock   Clock
	counter uint64
	running bool
	ctx     context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

func New() *Scheduler {
	return &Scheduler{
		tasks: make(map[string]*task),
		clock: systemClock{},
	}
}

// WithClock swaps the time source. Call before Start.
func (s *Scheduler) WithClock(c Clock) *Scheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = c
	return s
}

// Start enables scheduling. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.stop = context.WithCancel(context.Background())
	s.running = true
	log.Debug("scheduler started")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Once schedules fn to run a single time after delay. The task is
// removed from the registry when it finishes, whether it ran, errored
// or was cancelled during the delay.
func (s *Scheduler) Once(name string, delay time.Duration, fn TaskFunc) (string, error) {
	return s.schedule(name, fn, false, 0, delay)
}

// Every schedules fn to run every interval. A negative initialDelay
// means "wait one interval first"; zero runs the first iteration
// immediately. Iteration errors are logged and the loop continues.
func (s *Scheduler) Every(name string, interval, initialDelay time.Duration, fn TaskFunc) (string, error) {
	if interval <= 0 {
		return "", gamecore.Errorf(gamecore.Validation, "interval must be positive, got %v", interval)
	}
	if initialDelay < 0 {
		initialDelay = interval
	}
	return s.schedule(name, fn, true, interval, initialDelay)
}

func (s *Scheduler) schedule(name string, fn TaskFunc, recurring bool, interval, delay time.Duration) (string, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return "", gamecore.Errorf(gamecore.Validation, "scheduler is not running, call Start first")
	}
	s.counter++
	id := fmt.Sprintf("task_%d_%d", s.counter, s.clock.Now().UnixNano())
	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{
		info: TaskInfo{
			ID:        id,
			Name:      name,
			Recurring: recurring,
			Interval:  interval,
			CreatedAt: s.clock.Now(),
		},
		cancel: cancel,
	}
	s.tasks[id] = t
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(ctx, t, fn, delay)

	log.Debug("task scheduled", "taskId", id, "name", name, "recurring", recurring)
	return id, nil
}

func (s *Scheduler) run(ctx context.Context, t *task, fn TaskFunc, delay time.Duration) {
	defer s.wg.Done()
	defer s.remove(t.info.ID)

	if delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(delay):
		}
	}

	if !t.info.Recurring {
		if ctx.Err() == nil {
			s.invoke(ctx, t, fn)
		}
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		s.invoke(ctx, t, fn)
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(t.info.Interval):
		}
	}
}

// invoke runs one task iteration. Panics are contained so a bad task
// cannot take down the scheduler; a panicking recurring task keeps its
// schedule.
func (s *Scheduler) invoke(ctx context.Context, t *task, fn TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("scheduled task panicked", "taskId", t.info.ID, "name", t.info.Name, "panic", r)
		}
	}()
	if err := fn(ctx); err != nil {
		log.Error("scheduled task failed", "taskId", t.info.ID, "name", t.info.Name, "error", err)
	}
}

func (s *Scheduler) remove(id string) {
	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
}

// Cancel stops the task with the given id. Returns false when the id is
// not registered.
func (s *Scheduler) Cancel(taskID string) bool {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	s.mu.Unlock()
	if !ok {
		log.Warn("cancel requested for unknown task", "taskId", taskID)
		return false
	}
	t.cancel()
	return true
}

// ActiveTasks snapshots the registry, sorted by task id.
func (s *Scheduler) ActiveTasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Shutdown cancels every task and waits for their goroutines, bounded
// by ctx. The scheduler can be Started again afterwards.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stop := s.stop
	s.mu.Unlock()

	stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Debug("scheduler stopped")
		return nil
	case <-ctx.Done():
		return gamecore.Errorf(gamecore.Internal, "scheduler shutdown timed out, %d task(s) still running", s.ActiveCount())
	}
}
