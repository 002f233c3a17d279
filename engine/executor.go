package engine

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"time"

	"github.com/sharedcode/gamecore"
	"github.com/sharedcode/gamecore/event"
	"github.com/sharedcode/gamecore/store"
)

// ExecutorOptions tune command execution.
type ExecutorOptions struct {
	// LockTimeout is the shared budget for acquiring all of one command's
	// dependency locks. Defaults to 5s.
	LockTimeout time.Duration
	// BatchConcurrency caps the goroutines ExecuteBatch fans out to.
	// Defaults to the batch size.
	BatchConcurrency int
}

const defaultLockTimeout = 5 * time.Second

// Executor runs commands with the lock then transact discipline: lock
// the declared dependencies, execute inside a copy-on-write
// transaction, commit, then publish the events the command queued.
// Rollback drops the queued events.
type Executor struct {
	store *store.Store
	locks *store.LockManager
	txns  *store.TxManager
	bus   *event.Bus
	opts  ExecutorOptions
}

func NewExecutor(s *store.Store, locks *store.LockManager, txns *store.TxManager, bus *event.Bus, opts ExecutorOptions) *Executor {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	return &Executor{store: s, locks: locks, txns: txns, bus: bus, opts: opts}
}

// Execute runs one command to completion. The returned Result carries
// either the command's data or a classified error; Execute itself never
// panics, a panicking command yields an Internal result.
func (x *Executor) Execute(ctx context.Context, cmd Command) Result {
	deps := cmd.Dependencies()

	// Warm the working set so lock hold time excludes repository reads.
	if len(deps) > 0 {
		if _, err := x.store.GetBulk(ctx, deps); err != nil {
			return failure(classify(err))
		}
	}

	locks, err := x.locks.Acquire(ctx, deps, x.opts.LockTimeout)
	if err != nil {
		return failure(classify(err))
	}
	defer locks.Release()

	txn := x.txns.Begin(x.store)
	ctx, queue := withEventQueue(ctx)

	data, err := runCommand(ctx, cmd, txn.Store())
	if err != nil {
		if rbErr := txn.Rollback(); rbErr != nil {
			log.Error("rollback failed", "error", rbErr)
		}
		return failure(classify(err))
	}

	if err := txn.Commit(ctx); err != nil {
		if rbErr := txn.Rollback(); rbErr != nil {
			log.Error("rollback after failed commit failed", "error", rbErr)
		}
		return failure(classify(err))
	}

	// Release before publishing: handlers run synchronously and may issue
	// follow-up commands against the same entities.
	locks.Release()
	for _, e := range queue.drain() {
		x.bus.Publish(e)
	}
	return Result{Success: true, Data: data}
}

// runCommand contains command panics so one bad command cannot take the
// caller down.
func runCommand(ctx context.Context, cmd Command, s *store.TxStore) (data map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = gamecore.Errorf(gamecore.Internal, "unexpected error: command panicked: %v", r)
		}
	}()
	return cmd.Execute(ctx, s)
}

// ExecuteBatch runs the commands concurrently. The result slice is
// index-aligned with cmds and one command's failure never affects its
// siblings.
func (x *Executor) ExecuteBatch(ctx context.Context, cmds []Command) []Result {
	results := make([]Result, len(cmds))
	if len(cmds) == 0 {
		return results
	}

	limit := x.opts.BatchConcurrency
	if limit <= 0 || limit > len(cmds) {
		limit = len(cmds)
	}
	runner := gamecore.NewTaskRunner(ctx, limit)
	for i, cmd := range cmds {
		i, cmd := i, cmd
		runner.Go(func() error {
			results[i] = x.Execute(ctx, cmd)
			return nil
		})
	}
	// Tasks never return errors; failures land in their result slot.
	if err := runner.Wait(); err != nil {
		log.Error("batch runner failed", "error", err)
	}
	return results
}

// LockStats reports (total, held) lock entries for host diagnostics.
func (x *Executor) LockStats() (total, held int) {
	return x.locks.Stats()
}

func failure(err error) Result {
	return Result{Success: false, Err: err}
}

// classify maps an execution error onto the gamecore code taxonomy.
// Errors already carrying a code pass through untouched; everything
// else is an Internal with context.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var coded gamecore.Error
	if errors.As(err, &coded) {
		return err
	}
	return gamecore.NewError(gamecore.Internal, fmt.Errorf("unexpected error: %w", err))
}
