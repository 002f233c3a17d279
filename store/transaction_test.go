package store

import (
	"context"
	"sync"
	"testing"

	"github.com/sharedcode/gamecore"
)

func TestCommitPersistsAndMerges(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(false)

	seed := gamecore.NewEntity("p", "player")
	seed.Set("gold", int64(0))
	repo.Save(ctx, seed)

	tx := Begin(s)
	w := tx.Store()

	got, _ := w.Get(ctx, "p")
	got.Set("gold", got.GetInt("gold", 0)+10)
	w.Set(ctx, "p", got)
	w.Set(ctx, "new_item", gamecore.NewEntity("new_item", "item"))

	// Nothing visible outside before commit.
	outside, _ := s.Get(ctx, "p")
	if outside.GetInt("gold", 0) != 0 {
		t.Fatal("staged write leaked before commit")
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if !tx.IsCommitted() {
		t.Error("state should be committed")
	}

	merged, _ := s.Get(ctx, "p")
	if merged.GetInt("gold", 0) != 10 {
		t.Errorf("merged gold = %d", merged.GetInt("gold", 0))
	}
	if merged.Version != 2 {
		t.Errorf("commit should reflect the repository bump, version = %d", merged.Version)
	}
	stored, _ := repo.Load(ctx, "new_item")
	if stored == nil {
		t.Error("inserted entity not persisted")
	}
}

func TestRollbackDiscardsOverlay(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(false)
	seed := gamecore.NewEntity("p", "player")
	seed.Set("gold", int64(100))
	repo.Save(ctx, seed)

	tx := Begin(s)
	w := tx.Store()
	got, _ := w.Get(ctx, "p")
	got.Set("gold", int64(0))
	w.Set(ctx, "p", got)
	w.Delete(ctx, "p")

	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}
	if !tx.IsRolledBack() {
		t.Error("state should be rolled_back")
	}

	after, _ := s.Get(ctx, "p")
	if after == nil || after.GetInt("gold", 0) != 100 {
		t.Errorf("rollback touched the store: %+v", after)
	}
}

func TestFinalizedTransitionsAreTerminal(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(false)

	tx := Begin(s)
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); !gamecore.IsCode(err, gamecore.Validation) {
		t.Errorf("double commit should be Validation, got %v", err)
	}
	if err := tx.Rollback(); !gamecore.IsCode(err, gamecore.Validation) {
		t.Errorf("rollback after commit should be Validation, got %v", err)
	}

	tx2 := Begin(s)
	tx2.Rollback()
	if err := tx2.Commit(ctx); !gamecore.IsCode(err, gamecore.Validation) {
		t.Errorf("commit after rollback should be Validation, got %v", err)
	}

	// The working view refuses finalized transactions too.
	if _, err := tx2.Store().Get(ctx, "x"); !gamecore.IsCode(err, gamecore.Validation) {
		t.Errorf("finalized view read should be Validation, got %v", err)
	}
	if err := tx2.Store().Set(ctx, "x", gamecore.NewEntity("x", "item")); !gamecore.IsCode(err, gamecore.Validation) {
		t.Errorf("finalized view write should be Validation, got %v", err)
	}
}

func TestCommitConflictLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(false)
	seed := gamecore.NewEntity("p", "player")
	seed.Set("gold", int64(5))
	repo.Save(ctx, seed)

	tx := Begin(s)
	w := tx.Store()
	mine, _ := w.Get(ctx, "p")
	mine.Set("gold", int64(50))
	w.Set(ctx, "p", mine)

	// A competing writer bumps the stored version before we commit.
	theirs, _ := repo.Load(ctx, "p")
	theirs.Set("gold", int64(7))
	repo.Save(ctx, theirs)

	err := tx.Commit(ctx)
	if !gamecore.IsCode(err, gamecore.Conflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
	// Still active: the executor owns the rollback decision.
	if !tx.IsActive() {
		t.Error("failed commit must leave the transaction active")
	}

	outside, _ := s.Get(ctx, "p")
	if outside.GetInt("gold", 0) == 50 {
		t.Error("conflicting commit leaked into the store")
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}
}

func TestTombstonesReadAsAbsent(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(false)
	repo.Save(ctx, gamecore.NewEntity("m", "mob"))

	tx := Begin(s)
	w := tx.Store()
	w.Delete(ctx, "m")

	if e, _ := w.Get(ctx, "m"); e != nil {
		t.Error("tombstoned id should read as absent in the view")
	}
	if ok, _ := w.Exists(ctx, "m"); ok {
		t.Error("tombstoned id should not exist in the view")
	}
	// Still visible outside.
	if e, _ := s.Get(ctx, "m"); e == nil {
		t.Error("tombstone leaked before commit")
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if ok, _ := repo.Exists(ctx, "m"); ok {
		t.Error("commit did not persist the delete")
	}
	if e, _ := s.Get(ctx, "m"); e != nil {
		t.Error("commit did not merge the delete")
	}
}

func TestViewByTypeSeesOverlay(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(false)
	repo.Save(ctx, gamecore.NewEntity("m1", "mob"))
	repo.Save(ctx, gamecore.NewEntity("m2", "mob"))

	tx := Begin(s)
	w := tx.Store()
	w.Delete(ctx, "m1")
	w.Set(ctx, "m3", gamecore.NewEntity("m3", "mob"))

	mobs, err := w.ByType(ctx, "mob")
	if err != nil {
		t.Fatal(err)
	}
	if len(mobs) != 2 {
		t.Fatalf("view mobs = %d", len(mobs))
	}
	if mobs[0].ID != "m2" || mobs[1].ID != "m3" {
		t.Errorf("view = [%s %s]", mobs[0].ID, mobs[1].ID)
	}
	tx.Rollback()
}

func TestDisjointConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(false)

	// Each goroutine owns a distinct id; overlay merges must not clobber
	// each other the way whole-map swaps would.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		id := gamecore.NewID("player")
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			tx := Begin(s)
			w := tx.Store()
			e := gamecore.NewEntity(id, "player")
			e.Set("gold", int64(1))
			if err := w.Set(ctx, id, e); err != nil {
				t.Error(err)
				return
			}
			if err := tx.Commit(ctx); err != nil {
				t.Error(err)
			}
		}(id)
	}
	wg.Wait()

	n, _ := s.Count(ctx)
	if n != 8 {
		t.Errorf("players persisted = %d, want 8", n)
	}
}

func TestTxManagerTracksAndRollsBack(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(false)
	m := NewTxManager()

	t1 := m.Begin(s)
	t2 := m.Begin(s)
	t3 := m.Begin(s)
	if m.ActiveCount() != 3 {
		t.Fatalf("active = %d", m.ActiveCount())
	}

	t1.Commit(ctx)
	if m.ActiveCount() != 2 {
		t.Errorf("commit should unregister, active = %d", m.ActiveCount())
	}

	n := m.RollbackAll()
	if n != 2 {
		t.Errorf("rolled back %d, want 2", n)
	}
	if m.ActiveCount() != 0 {
		t.Errorf("active after RollbackAll = %d", m.ActiveCount())
	}
	if !t2.IsRolledBack() || !t3.IsRolledBack() {
		t.Error("transactions not rolled back")
	}
}
