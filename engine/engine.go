package engine

import (
	"context"
	log "log/slog"
	"time"

	"github.com/sharedcode/gamecore"
	"github.com/sharedcode/gamecore/data"
	"github.com/sharedcode/gamecore/event"
	"github.com/sharedcode/gamecore/schedule"
	"github.com/sharedcode/gamecore/store"
)

// Options configure an Engine. Repository is the only required field;
// everything else gets a default at construction.
type Options struct {
	// Repository is the persistence backend.
	Repository gamecore.Repository
	// Cache is an optional second-level cache in front of the repository.
	// Hosts typically obtain one from gamecore.NewCacheClient.
	Cache gamecore.Cache
	// LockTimeout bounds dependency lock acquisition per command.
	// Defaults to 5s.
	LockTimeout time.Duration
	// AutoFlush writes direct store mutations through to the repository
	// as they happen. Transactions persist at commit regardless.
	AutoFlush bool
	// DataDir roots the static template loader. Empty leaves the engine
	// without one.
	DataDir string
	// HistoryLimit caps the event bus history ring. Defaults to 100.
	HistoryLimit int
}

// Engine is the explicit root owning the runtime pieces. There are no
// package-level singletons; hosts construct an Engine and pass it
// around.
type Engine struct {
	store     *store.Store
	locks     *store.LockManager
	txns      *store.TxManager
	bus       *event.Bus
	scheduler *schedule.Scheduler
	executor  *Executor
	loader    *data.Loader
}

// New wires a ready-to-run Engine and starts its scheduler.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Repository == nil {
		return nil, gamecore.Errorf(gamecore.Validation, "engine requires a repository")
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}

	st := store.NewStore(opts.Repository, store.Options{
		AutoFlush: opts.AutoFlush,
		Cache:     opts.Cache,
	})

	var bus *event.Bus
	if opts.HistoryLimit > 0 {
		bus = event.NewBusWithHistory(opts.HistoryLimit)
	} else {
		bus = event.NewBus()
	}

	e := &Engine{
		store:     st,
		locks:     store.NewLockManager(),
		txns:      store.NewTxManager(),
		bus:       bus,
		scheduler: schedule.New(),
	}
	e.executor = NewExecutor(e.store, e.locks, e.txns, e.bus, ExecutorOptions{
		LockTimeout: opts.LockTimeout,
	})
	if opts.DataDir != "" {
		e.loader = data.NewLoader(opts.DataDir)
	}

	e.scheduler.Start()
	log.Debug("engine ready", "autoFlush", opts.AutoFlush, "lockTimeout", opts.LockTimeout)
	return e, nil
}

func (e *Engine) Store() *store.Store            { return e.store }
func (e *Engine) Locks() *store.LockManager      { return e.locks }
func (e *Engine) Bus() *event.Bus                { return e.bus }
func (e *Engine) Scheduler() *schedule.Scheduler { return e.scheduler }
func (e *Engine) Executor() *Executor            { return e.executor }

// Data returns the static template loader, nil when no DataDir was
// configured.
func (e *Engine) Data() *data.Loader { return e.loader }

// Run executes one command through the executor.
func (e *Engine) Run(ctx context.Context, cmd Command) Result {
	return e.executor.Execute(ctx, cmd)
}

// RunBatch executes the commands concurrently; results are
// index-aligned with cmds.
func (e *Engine) RunBatch(ctx context.Context, cmds []Command) []Result {
	return e.executor.ExecuteBatch(ctx, cmds)
}

// Close shuts the scheduler down and rolls back any transaction still
// active. Hosts running with AutoFlush off should Flush the store
// themselves before closing.
func (e *Engine) Close(ctx context.Context) error {
	err := e.scheduler.Shutdown(ctx)
	if n := e.txns.RollbackAll(); n > 0 {
		log.Warn("rolled back transactions left active at close", "count", n)
	}
	return err
}
