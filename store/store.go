// Package store implements the engine's working set: an in-memory entity map
// with lazy load-through from a Repository, entity-level locking, and
// copy-on-write transactions.
//
// The store never hands out references into its map; every Get returns a deep
// clone and every Set copies in. Isolation bugs cannot travel through it.
package store

import (
	"context"
	"fmt"
	log "log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sharedcode/gamecore"
)

// Options configures a Store.
type Options struct {
	// AutoFlush writes Set/Delete/Clear through to the repository as they
	// happen. Transactions persist at commit regardless of this setting.
	AutoFlush bool
	// Cache is an optional second-level cache consulted between the working
	// set and the repository. Failures are logged and tolerated.
	Cache gamecore.Cache
	// CacheDuration is the TTL for second-level cache entries.
	CacheDuration time.Duration
}

// DefaultOptions returns the options used when a zero Options is given.
func DefaultOptions() Options {
	return Options{
		AutoFlush:     true,
		CacheDuration: 30 * time.Minute,
	}
}

// Store is the in-memory working set over a Repository.
type Store struct {
	mu       sync.RWMutex
	entities map[string]*gamecore.Entity
	// resolved marks ids whose repository answer is known, including
	// negative answers; a resolved id with no entity is a known miss and is
	// not re-queried.
	resolved map[string]bool
	repo     gamecore.Repository
	opts     Options
}

// NewStore creates a working set over the given repository.
func NewStore(repo gamecore.Repository, opts Options) *Store {
	if opts.CacheDuration <= 0 {
		opts.CacheDuration = DefaultOptions().CacheDuration
	}
	return &Store{
		entities: make(map[string]*gamecore.Entity),
		resolved: make(map[string]bool),
		repo:     repo,
		opts:     opts,
	}
}

// Repository exposes the backing repository (used by services that bypass
// the working set, e.g. leaderboard reads).
func (s *Store) Repository() gamecore.Repository {
	return s.repo
}

func (s *Store) cacheKey(id string) string {
	// Prefix to namespace entity payloads on shared cache backends.
	return fmt.Sprintf("E%s", id)
}

// Get returns a deep clone of the entity, loading through memory, the
// second-level cache, then the repository. A repository miss is remembered;
// the id is not re-queried until something writes it again.
func (s *Store) Get(ctx context.Context, id string) (*gamecore.Entity, error) {
	s.mu.RLock()
	if e, ok := s.entities[id]; ok {
		c := e.Clone()
		s.mu.RUnlock()
		return c, nil
	}
	if s.resolved[id] {
		s.mu.RUnlock()
		return nil, nil
	}
	s.mu.RUnlock()

	if s.opts.Cache != nil {
		var m map[string]any
		found, err := s.opts.Cache.GetStruct(ctx, s.cacheKey(id), &m)
		if err != nil {
			log.Warn("entity cache read failed", "id", id, "error", err)
		} else if found {
			e := gamecore.FromMap(m)
			return s.admit(id, e), nil
		}
	}

	e, err := s.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	c := s.admit(id, e)
	if e != nil && s.opts.Cache != nil {
		if err := s.opts.Cache.SetStruct(ctx, s.cacheKey(id), e.ToMap(), s.opts.CacheDuration); err != nil {
			log.Warn("entity cache write failed", "id", id, "error", err)
		}
	}
	return c, nil
}

// admit records a load result (which may be nil for a miss) and returns the
// caller's clone. A concurrent load of the same id keeps whichever entity
// got admitted first.
func (s *Store) admit(id string, e *gamecore.Entity) *gamecore.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entities[id]; ok {
		return existing.Clone()
	}
	s.resolved[id] = true
	if e == nil {
		return nil
	}
	s.entities[id] = e.Clone()
	return e.Clone()
}

// GetBulk resolves many ids with a single repository round trip for the
// unresolved subset. Absent ids are omitted and remembered as misses.
func (s *Store) GetBulk(ctx context.Context, ids []string) (map[string]*gamecore.Entity, error) {
	out := make(map[string]*gamecore.Entity, len(ids))
	var missing []string

	s.mu.RLock()
	for _, id := range dedupe(ids) {
		if e, ok := s.entities[id]; ok {
			out[id] = e.Clone()
		} else if !s.resolved[id] {
			missing = append(missing, id)
		}
	}
	s.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}
	loaded, err := s.repo.LoadBulk(ctx, missing)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	for _, id := range missing {
		s.resolved[id] = true
	}
	for _, e := range loaded {
		if _, ok := s.entities[e.ID]; !ok {
			s.entities[e.ID] = e.Clone()
		}
		out[e.ID] = s.entities[e.ID].Clone()
	}
	s.mu.Unlock()
	return out, nil
}

// Set inserts or replaces the entity in the working set. The store never
// bumps versions; it only ensures the never-saved default of 1. With
// auto-flush the entity is saved through and the repository's version bump
// is reflected back into both the caller's copy and the working set.
func (s *Store) Set(ctx context.Context, id string, e *gamecore.Entity) error {
	if e == nil {
		return gamecore.Errorf(gamecore.Validation, "cannot store a nil entity under %s", id)
	}
	e.ID = id
	if e.Version <= 0 {
		e.Version = 1
	}

	if s.opts.AutoFlush {
		// Save first so a conflict leaves the working set untouched.
		if err := s.repo.Save(ctx, e); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.entities[id] = e.Clone()
	s.resolved[id] = true
	s.mu.Unlock()

	if s.opts.Cache != nil {
		if err := s.opts.Cache.SetStruct(ctx, s.cacheKey(id), e.ToMap(), s.opts.CacheDuration); err != nil {
			log.Warn("entity cache write failed", "id", id, "error", err)
		}
	}
	return nil
}

// Delete removes the entity from the working set. With auto-flush the
// repository row is deleted too and the miss is remembered; without it the
// id's resolution is cleared so a later Get consults the repository again.
func (s *Store) Delete(ctx context.Context, id string) error {
	if s.opts.AutoFlush {
		if err := s.repo.Delete(ctx, id); err != nil {
			return err
		}
	}

	s.mu.Lock()
	delete(s.entities, id)
	if s.opts.AutoFlush {
		s.resolved[id] = true
	} else {
		delete(s.resolved, id)
	}
	s.mu.Unlock()

	if s.opts.Cache != nil {
		if _, err := s.opts.Cache.Delete(ctx, []string{s.cacheKey(id)}); err != nil {
			log.Warn("entity cache invalidation failed", "id", id, "error", err)
		}
	}
	return nil
}

// Exists reports whether the id is in memory or stored, honoring the
// negative cache.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	if _, ok := s.entities[id]; ok {
		s.mu.RUnlock()
		return true, nil
	}
	if s.resolved[id] {
		s.mu.RUnlock()
		return false, nil
	}
	s.mu.RUnlock()
	return s.repo.Exists(ctx, id)
}

// Count returns the repository's entity count (the durable truth).
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

// Loaded returns how many entities sit in the working set.
func (s *Store) Loaded() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// ByType merges the repository's entities of a type with the working set's;
// the working set wins per id since it may hold unflushed changes.
func (s *Store) ByType(ctx context.Context, entityType string) ([]*gamecore.Entity, error) {
	stored, err := s.repo.ListByType(ctx, entityType)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*gamecore.Entity, len(stored))
	for _, e := range stored {
		byID[e.ID] = e
	}

	s.mu.RLock()
	for id, e := range s.entities {
		if e.Type == entityType {
			byID[id] = e.Clone()
		}
	}
	s.mu.RUnlock()

	out := make([]*gamecore.Entity, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Clear wipes the working set and, with auto-flush, the repository and the
// second-level cache.
func (s *Store) Clear(ctx context.Context) error {
	if s.opts.AutoFlush {
		if err := s.repo.Clear(ctx); err != nil {
			return err
		}
		if s.opts.Cache != nil {
			if err := s.opts.Cache.Clear(ctx); err != nil {
				log.Warn("entity cache clear failed", "error", err)
			}
		}
	}
	s.mu.Lock()
	s.entities = make(map[string]*gamecore.Entity)
	s.resolved = make(map[string]bool)
	s.mu.Unlock()
	return nil
}

// Flush saves every in-memory entity to the repository, reflecting version
// bumps back into the working set. Flush is not atomic; on error, entities
// saved before the failure stay saved.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.RLock()
	snapshot := make([]*gamecore.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		snapshot = append(snapshot, e.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })

	for _, e := range snapshot {
		if err := s.repo.Save(ctx, e); err != nil {
			return err
		}
		s.mu.Lock()
		if cur, ok := s.entities[e.ID]; ok {
			cur.Version = e.Version
		}
		s.mu.Unlock()
	}
	return nil
}

// Reload drops the in-memory copy and re-resolves the id from the
// repository. The second-level cache entry is invalidated so the read is
// fresh.
func (s *Store) Reload(ctx context.Context, id string) (*gamecore.Entity, error) {
	if s.opts.Cache != nil {
		if _, err := s.opts.Cache.Delete(ctx, []string{s.cacheKey(id)}); err != nil {
			log.Warn("entity cache invalidation failed", "id", id, "error", err)
		}
	}
	s.mu.Lock()
	delete(s.entities, id)
	delete(s.resolved, id)
	s.mu.Unlock()
	return s.Get(ctx, id)
}

// persistSave writes an entity straight to the repository (transaction
// commit path) and keeps the second-level cache in step.
func (s *Store) persistSave(ctx context.Context, e *gamecore.Entity) error {
	if err := s.repo.Save(ctx, e); err != nil {
		return err
	}
	if s.opts.Cache != nil {
		if err := s.opts.Cache.SetStruct(ctx, s.cacheKey(e.ID), e.ToMap(), s.opts.CacheDuration); err != nil {
			log.Warn("entity cache write failed", "id", e.ID, "error", err)
		}
	}
	return nil
}

// persistDelete removes an id straight from the repository (transaction
// commit path) and invalidates the second-level cache.
func (s *Store) persistDelete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.opts.Cache != nil {
		if _, err := s.opts.Cache.Delete(ctx, []string{s.cacheKey(id)}); err != nil {
			log.Warn("entity cache invalidation failed", "id", id, "error", err)
		}
	}
	return nil
}

// applyOverlay merges a committed transaction's dirty set and tombstones
// into the working set in one critical section.
func (s *Store) applyOverlay(dirty map[string]*gamecore.Entity, deleted map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range deleted {
		delete(s.entities, id)
		s.resolved[id] = true
	}
	for id, e := range dirty {
		s.entities[id] = e.Clone()
		s.resolved[id] = true
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
