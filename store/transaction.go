package store

import (
	"context"
	"sort"
	"sync"

	"github.com/sharedcode/gamecore"
)

// TxState is a transaction's lifecycle state. Transitions are one-way:
// active -> committed or active -> rolled back, never out of a final state.
type TxState int

const (
	TxActive TxState = iota
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled_back"
	}
	return "unknown"
}

// Transaction buffers writes in a copy-on-write overlay over a Store. Reads
// pass through (overlay first), writes stage into the overlay, and nothing
// touches the store or the repository until Commit. Commit persists the
// overlay to the repository first, so an optimistic conflict leaves the
// shared working set exactly as it was.
type Transaction struct {
	store *Store
	mgr   *TxManager

	mu      sync.Mutex
	state   TxState
	overlay map[string]*gamecore.Entity
	deleted map[string]bool
}

// Begin opens a transaction over the store.
func Begin(s *Store) *Transaction {
	return &Transaction{
		store:   s,
		overlay: make(map[string]*gamecore.Entity),
		deleted: make(map[string]bool),
	}
}

// Store returns the transaction's working view. Commands receive this and
// never the underlying Store.
func (t *Transaction) Store() *TxStore {
	return &TxStore{tx: t}
}

// State returns the lifecycle state.
func (t *Transaction) State() TxState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) IsActive() bool     { return t.State() == TxActive }
func (t *Transaction) IsCommitted() bool  { return t.State() == TxCommitted }
func (t *Transaction) IsRolledBack() bool { return t.State() == TxRolledBack }

var errFinalized = gamecore.Errorf(gamecore.Validation, "transaction already finalized")

// Commit persists the overlay (tombstones first, then dirty entities in id
// order) and merges it into the store. On a repository error the store is
// untouched and the transaction STAYS ACTIVE so the caller can roll back.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TxActive {
		return errFinalized
	}

	deleted := make([]string, 0, len(t.deleted))
	for id := range t.deleted {
		deleted = append(deleted, id)
	}
	sort.Strings(deleted)
	for _, id := range deleted {
		if err := t.store.persistDelete(ctx, id); err != nil {
			return err
		}
	}

	dirty := make([]*gamecore.Entity, 0, len(t.overlay))
	for _, e := range t.overlay {
		dirty = append(dirty, e)
	}
	sort.Slice(dirty, func(i, j int) bool { return dirty[i].ID < dirty[j].ID })
	for _, e := range dirty {
		// persistSave reflects the repository's version bump into e, which
		// lives in the overlay and lands in the store on merge.
		if err := t.store.persistSave(ctx, e); err != nil {
			return err
		}
	}

	t.store.applyOverlay(t.overlay, t.deleted)
	t.state = TxCommitted
	t.unregister()
	return nil
}

// Rollback discards the overlay. The store was never touched.
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TxActive {
		return errFinalized
	}
	t.overlay = nil
	t.deleted = nil
	t.state = TxRolledBack
	t.unregister()
	return nil
}

func (t *Transaction) unregister() {
	if t.mgr != nil {
		t.mgr.remove(t)
	}
}

// TxStore is the working view commands execute against. It mirrors the
// Store's operation surface but routes writes into the transaction overlay.
type TxStore struct {
	tx *Transaction
}

func (w *TxStore) guard() error {
	if w.tx.state != TxActive {
		return errFinalized
	}
	return nil
}

// Get reads overlay first, then the underlying store. Tombstoned ids read
// as absent. Like the store, it returns clones.
func (w *TxStore) Get(ctx context.Context, id string) (*gamecore.Entity, error) {
	w.tx.mu.Lock()
	if err := w.guard(); err != nil {
		w.tx.mu.Unlock()
		return nil, err
	}
	if w.tx.deleted[id] {
		w.tx.mu.Unlock()
		return nil, nil
	}
	if e, ok := w.tx.overlay[id]; ok {
		c := e.Clone()
		w.tx.mu.Unlock()
		return c, nil
	}
	w.tx.mu.Unlock()
	return w.tx.store.Get(ctx, id)
}

// GetBulk resolves overlay hits locally and the rest through the store.
func (w *TxStore) GetBulk(ctx context.Context, ids []string) (map[string]*gamecore.Entity, error) {
	out := make(map[string]*gamecore.Entity, len(ids))
	var through []string

	w.tx.mu.Lock()
	if err := w.guard(); err != nil {
		w.tx.mu.Unlock()
		return nil, err
	}
	for _, id := range dedupe(ids) {
		if w.tx.deleted[id] {
			continue
		}
		if e, ok := w.tx.overlay[id]; ok {
			out[id] = e.Clone()
		} else {
			through = append(through, id)
		}
	}
	w.tx.mu.Unlock()

	if len(through) > 0 {
		rest, err := w.tx.store.GetBulk(ctx, through)
		if err != nil {
			return nil, err
		}
		for id, e := range rest {
			out[id] = e
		}
	}
	return out, nil
}

// Set stages the entity in the overlay. Versions follow the store rule:
// never bumped here, defaulted to 1.
func (w *TxStore) Set(ctx context.Context, id string, e *gamecore.Entity) error {
	if e == nil {
		return gamecore.Errorf(gamecore.Validation, "cannot store a nil entity under %s", id)
	}
	w.tx.mu.Lock()
	defer w.tx.mu.Unlock()
	if err := w.guard(); err != nil {
		return err
	}
	e.ID = id
	if e.Version <= 0 {
		e.Version = 1
	}
	w.tx.overlay[id] = e.Clone()
	delete(w.tx.deleted, id)
	return nil
}

// Delete tombstones the id. Idempotent.
func (w *TxStore) Delete(ctx context.Context, id string) error {
	w.tx.mu.Lock()
	defer w.tx.mu.Unlock()
	if err := w.guard(); err != nil {
		return err
	}
	delete(w.tx.overlay, id)
	w.tx.deleted[id] = true
	return nil
}

// Exists consults the overlay, tombstones, then the store.
func (w *TxStore) Exists(ctx context.Context, id string) (bool, error) {
	w.tx.mu.Lock()
	if err := w.guard(); err != nil {
		w.tx.mu.Unlock()
		return false, err
	}
	if w.tx.deleted[id] {
		w.tx.mu.Unlock()
		return false, nil
	}
	if _, ok := w.tx.overlay[id]; ok {
		w.tx.mu.Unlock()
		return true, nil
	}
	w.tx.mu.Unlock()
	return w.tx.store.Exists(ctx, id)
}

// ByType merges the store's view with the overlay (overlay wins, tombstones
// filtered).
func (w *TxStore) ByType(ctx context.Context, entityType string) ([]*gamecore.Entity, error) {
	base, err := w.tx.store.ByType(ctx, entityType)
	if err != nil {
		return nil, err
	}

	w.tx.mu.Lock()
	defer w.tx.mu.Unlock()
	if err := w.guard(); err != nil {
		return nil, err
	}
	byID := make(map[string]*gamecore.Entity, len(base))
	for _, e := range base {
		if !w.tx.deleted[e.ID] {
			byID[e.ID] = e
		}
	}
	for id, e := range w.tx.overlay {
		if e.Type == entityType {
			byID[id] = e.Clone()
		}
	}
	out := make([]*gamecore.Entity, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// TxManager tracks open transactions so an engine can roll back everything
// on shutdown.
type TxManager struct {
	mu     sync.Mutex
	active map[*Transaction]bool
}

func NewTxManager() *TxManager {
	return &TxManager{active: make(map[*Transaction]bool)}
}

// Begin opens a tracked transaction over the store.
func (m *TxManager) Begin(s *Store) *Transaction {
	t := Begin(s)
	t.mgr = m
	m.mu.Lock()
	m.active[t] = true
	m.mu.Unlock()
	return t
}

func (m *TxManager) remove(t *Transaction) {
	m.mu.Lock()
	delete(m.active, t)
	m.mu.Unlock()
}

// ActiveCount returns how many tracked transactions are still open.
func (m *TxManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// RollbackAll force-rolls-back every open transaction (shutdown path) and
// returns how many were closed.
func (m *TxManager) RollbackAll() int {
	m.mu.Lock()
	open := make([]*Transaction, 0, len(m.active))
	for t := range m.active {
		open = append(open, t)
	}
	m.mu.Unlock()

	n := 0
	for _, t := range open {
		if err := t.Rollback(); err == nil {
			n++
		}
	}
	return n
}
