package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sharedcode/gamecore"
)

// LockManager serializes access to entities by id. Acquisition is ordered
// (ids are sorted before locking) so two goroutines can never hold pieces of
// each other's sets, and the timeout is a single shared budget across the
// whole acquisition rather than per id.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// lockEntry is a one-slot channel semaphore. refs counts holders plus
// waiters so GC never removes an entry somebody is blocked on.
type lockEntry struct {
	ch   chan struct{}
	refs int
}

func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*lockEntry),
	}
}

// LockSet is the handle returned by Acquire. Release is idempotent.
type LockSet struct {
	mgr  *LockManager
	ids  []string
	once sync.Once
}

// IDs returns the sorted, deduplicated ids this set holds.
func (ls *LockSet) IDs() []string {
	out := make([]string, len(ls.ids))
	copy(out, ls.ids)
	return out
}

// Release frees every lock in the set. Safe to call more than once; only the
// first call does anything.
func (ls *LockSet) Release() {
	ls.once.Do(func() {
		for _, id := range ls.ids {
			ls.mgr.release(id)
		}
	})
}

func (m *LockManager) entry(id string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[id]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		m.locks[id] = e
	}
	e.refs++
	return e
}

func (m *LockManager) unref(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.locks[id]; ok {
		e.refs--
	}
}

func (m *LockManager) release(id string) {
	m.mu.Lock()
	e, ok := m.locks[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	// Non-blocking drain keeps release idempotent at the channel level.
	select {
	case <-e.ch:
	default:
	}
	m.unref(id)
}

// Acquire locks the given ids (deduplicated, lexicographically sorted) and
// returns the set handle. Every wait draws down the same timeout budget; on
// failure everything acquired by this call is released and an error with
// code LockAcquisitionFailure names the id that could not be locked.
func (m *LockManager) Acquire(ctx context.Context, ids []string, timeout time.Duration) (*LockSet, error) {
	sorted := dedupe(ids)
	sort.Strings(sorted)

	ls := &LockSet{mgr: m}
	if len(sorted) == 0 {
		return ls, nil
	}

	deadline := time.Now().Add(timeout)
	for i, id := range sorted {
		e := m.entry(id)

		remaining := time.Until(deadline)
		if remaining <= 0 {
			m.unref(id)
			m.bail(ls, sorted[:i])
			return nil, gamecore.Errorf(gamecore.LockAcquisitionFailure,
				"lock budget %v exhausted before acquiring %s", timeout, id)
		}

		timer := time.NewTimer(remaining)
		select {
		case e.ch <- struct{}{}:
			timer.Stop()
			// The ref taken in entry() transfers to the holder.
		case <-timer.C:
			m.unref(id)
			m.bail(ls, sorted[:i])
			return nil, gamecore.Errorf(gamecore.LockAcquisitionFailure,
				"timed out waiting for lock on %s (budget %v)", id, timeout)
		case <-ctx.Done():
			timer.Stop()
			m.unref(id)
			m.bail(ls, sorted[:i])
			return nil, gamecore.Error{
				Code: gamecore.LockAcquisitionFailure,
				Err:  ctx.Err(),
			}
		}
	}

	ls.ids = sorted
	return ls, nil
}

// bail releases the partial acquisition after a failed Acquire.
func (m *LockManager) bail(ls *LockSet, acquired []string) {
	for _, id := range acquired {
		m.release(id)
	}
}

// WithLock runs fn while holding the given ids, releasing on every path.
func (m *LockManager) WithLock(ctx context.Context, ids []string, timeout time.Duration, fn func() error) error {
	ls, err := m.Acquire(ctx, ids, timeout)
	if err != nil {
		return err
	}
	defer ls.Release()
	return fn()
}

// IsLocked reports whether the id is currently held.
func (m *LockManager) IsLocked(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[id]
	return ok && len(e.ch) == 1
}

// GC drops entries nobody holds or waits on and returns how many were
// removed. Long-lived engines call this periodically via the scheduler.
func (m *LockManager) GC() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, e := range m.locks {
		if e.refs <= 0 && len(e.ch) == 0 {
			delete(m.locks, id)
			removed++
		}
	}
	return removed
}

// Stats returns the number of lock entries and how many are currently held.
func (m *LockManager) Stats() (total, held int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.locks {
		if len(e.ch) == 1 {
			held++
		}
	}
	return len(m.locks), held
}
