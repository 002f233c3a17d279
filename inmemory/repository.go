// Package inmemory provides a map-backed Repository for ephemeral worlds and
// tests. It honors the full optimistic-version contract so code exercised
// against it behaves identically over sqlite or cassandra.
package inmemory

import (
	"context"
	"sync"

	"github.com/sharedcode/gamecore"
)

type Repository struct {
	mu       sync.RWMutex
	entities map[string]*gamecore.Entity
}

func NewRepository() *Repository {
	return &Repository{
		entities: make(map[string]*gamecore.Entity),
	}
}

// Save applies the optimistic version rule: inserts keep the caller's
// version (default 1), updates require a match and bump by one, reflected
// back into the caller's entity.
func (r *Repository) Save(ctx context.Context, e *gamecore.Entity) error {
	if e == nil || e.ID == "" {
		return gamecore.Errorf(gamecore.Validation, "entity with empty id cannot be saved")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.entities[e.ID]
	if !ok {
		if e.Version <= 0 {
			e.Version = 1
		}
		r.entities[e.ID] = e.Clone()
		return nil
	}
	if e.Version != stored.Version {
		return gamecore.Errorf(gamecore.Conflict,
			"version conflict on %s: caller has %d, stored is %d", e.ID, e.Version, stored.Version)
	}
	e.Version++
	r.entities[e.ID] = e.Clone()
	return nil
}

func (r *Repository) Load(ctx context.Context, id string) (*gamecore.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entities[id].Clone(), nil
}

func (r *Repository) LoadBulk(ctx context.Context, ids []string) ([]*gamecore.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*gamecore.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.entities[id]; ok {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entities, id)
	return nil
}

func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entities[id]
	return ok, nil
}

func (r *Repository) ListByType(ctx context.Context, entityType string) ([]*gamecore.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*gamecore.Entity
	for _, e := range r.entities {
		if e.Type == entityType {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

func (r *Repository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities), nil
}

func (r *Repository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities = make(map[string]*gamecore.Entity)
	return nil
}

func (r *Repository) AddReferral(ctx context.Context, referrerID, referredID string) (bool, error) {
	return gamecore.AddReferralOver(ctx, r, referrerID, referredID)
}

func (r *Repository) Referrer(ctx context.Context, playerID string) (string, error) {
	return gamecore.ReferrerOver(ctx, r, playerID)
}

func (r *Repository) DirectReferrals(ctx context.Context, playerID string) ([]string, error) {
	return gamecore.DirectReferralsOver(ctx, r, playerID)
}

func (r *Repository) ReferralTree(ctx context.Context, playerID string, maxDepth int, withStats bool) (*gamecore.ReferralTree, error) {
	return gamecore.ReferralTreeOver(ctx, r, playerID, maxDepth, withStats)
}
