package store

import (
	"context"
	"sync"
	"testing"

	"github.com/sharedcode/gamecore"
	"github.com/sharedcode/gamecore/inmemory"
)

func newTestStore(autoFlush bool) (*Store, *inmemory.Repository) {
	repo := inmemory.NewRepository()
	s := NewStore(repo, Options{AutoFlush: autoFlush})
	return s, repo
}

func TestGetLoadsThroughOnce(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(true)

	e := gamecore.NewEntity("player_1", "player")
	e.Set("gold", int64(50))
	repo.Save(ctx, e)

	got, err := s.Get(ctx, "player_1")
	if err != nil || got == nil {
		t.Fatalf("Get = (%v, %v)", got, err)
	}
	if got.GetInt("gold", 0) != 50 {
		t.Errorf("gold = %d", got.GetInt("gold", 0))
	}
	if s.Loaded() != 1 {
		t.Errorf("working set size = %d", s.Loaded())
	}

	// Mutate the repository row behind the store's back; the working set
	// copy must win on the next Get.
	fresh, _ := repo.Load(ctx, "player_1")
	fresh.Set("gold", int64(999))
	repo.Save(ctx, fresh)

	again, _ := s.Get(ctx, "player_1")
	if again.GetInt("gold", 0) != 50 {
		t.Error("second Get re-queried the repository instead of memory")
	}
}

type countingRepo struct {
	*inmemory.Repository
	mu    sync.Mutex
	loads int
}

func (c *countingRepo) Load(ctx context.Context, id string) (*gamecore.Entity, error) {
	c.mu.Lock()
	c.loads++
	c.mu.Unlock()
	return c.Repository.Load(ctx, id)
}

func (c *countingRepo) loadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

func TestNegativeResolutionIsCached(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{Repository: inmemory.NewRepository()}
	s := NewStore(repo, Options{AutoFlush: true})

	for i := 0; i < 3; i++ {
		got, err := s.Get(ctx, "ghost")
		if err != nil || got != nil {
			t.Fatalf("Get(ghost) = (%v, %v)", got, err)
		}
	}
	if n := repo.loadCount(); n != 1 {
		t.Errorf("repository consulted %d times for a known miss, want 1", n)
	}

	// A Set makes the id real again.
	s.Set(ctx, "ghost", gamecore.NewEntity("ghost", "mob"))
	got, _ := s.Get(ctx, "ghost")
	if got == nil {
		t.Error("Set did not clear the negative resolution")
	}
}

func TestGetReturnsIsolatedClones(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(true)
	e := gamecore.NewEntity("p", "player")
	e.Set("bag", map[string]any{"slots": int64(3)})
	s.Set(ctx, "p", e)

	a, _ := s.Get(ctx, "p")
	a.GetMap("bag")["slots"] = int64(99)
	a.Set("gold", int64(1))

	b, _ := s.Get(ctx, "p")
	if b.GetMap("bag")["slots"] != int64(3) {
		t.Error("working set aliased by a returned clone")
	}
	if _, ok := b.Get("gold"); ok {
		t.Error("unstaged mutation leaked into the working set")
	}
}

func TestSetNeverBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(false) // no auto-flush: pure memory write

	e := gamecore.NewEntity("p", "player")
	e.Version = 0
	if err := s.Set(ctx, "p", e); err != nil {
		t.Fatal(err)
	}
	if e.Version != 1 {
		t.Errorf("Set should default version to 1, got %d", e.Version)
	}
	s.Set(ctx, "p", e)
	if e.Version != 1 {
		t.Errorf("Set bumped the version to %d", e.Version)
	}
	if ok, _ := repo.Exists(ctx, "p"); ok {
		t.Error("Set wrote through without auto-flush")
	}
}

func TestSetAutoFlushReflectsRepositoryBump(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(true)

	e := gamecore.NewEntity("p", "player")
	s.Set(ctx, "p", e) // insert keeps 1
	if e.Version != 1 {
		t.Fatalf("insert version = %d", e.Version)
	}
	e.Set("gold", int64(10))
	s.Set(ctx, "p", e) // update bumps
	if e.Version != 2 {
		t.Errorf("update should reflect version 2, got %d", e.Version)
	}
	stored, _ := repo.Load(ctx, "p")
	if stored.Version != 2 {
		t.Errorf("repository version = %d", stored.Version)
	}
	mem, _ := s.Get(ctx, "p")
	if mem.Version != 2 {
		t.Errorf("working set version = %d", mem.Version)
	}
}

func TestGetBulkSingleRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(true)
	repo.Save(ctx, gamecore.NewEntity("a", "item"))
	repo.Save(ctx, gamecore.NewEntity("b", "item"))

	got, err := s.GetBulk(ctx, []string{"a", "b", "missing", "a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("bulk result = %v", got)
	}
	if _, ok := got["missing"]; ok {
		t.Error("absent id should be omitted")
	}

	// The miss is remembered.
	repoCount := 0
	if e, _ := s.Get(ctx, "missing"); e != nil {
		repoCount++
	}
	if repoCount != 0 {
		t.Error("negative bulk resolution not honored")
	}
}

func TestDeleteSemantics(t *testing.T) {
	ctx := context.Background()

	// Auto-flush: the delete is durable and remembered.
	s, repo := newTestStore(true)
	s.Set(ctx, "m", gamecore.NewEntity("m", "mob"))
	if err := s.Delete(ctx, "m"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := repo.Exists(ctx, "m"); ok {
		t.Error("auto-flush delete should reach the repository")
	}
	if e, _ := s.Get(ctx, "m"); e != nil {
		t.Error("deleted id resurfaced")
	}
	if err := s.Delete(ctx, "m"); err != nil {
		t.Errorf("second delete should be a no-op: %v", err)
	}

	// Without auto-flush the repository keeps the row and a later Get
	// resolves it again.
	s2, repo2 := newTestStore(false)
	seed := gamecore.NewEntity("m", "mob")
	repo2.Save(ctx, seed)
	if e, _ := s2.Get(ctx, "m"); e == nil {
		t.Fatal("seed not visible")
	}
	s2.Delete(ctx, "m")
	if e, _ := s2.Get(ctx, "m"); e == nil {
		t.Error("without auto-flush, delete should only drop the memory copy")
	}
}

func TestExistsAndCount(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(true)
	repo.Save(ctx, gamecore.NewEntity("stored", "item"))

	if ok, _ := s.Exists(ctx, "stored"); !ok {
		t.Error("Exists should consult the repository")
	}
	if ok, _ := s.Exists(ctx, "nope"); ok {
		t.Error("Exists invented an entity")
	}
	n, _ := s.Count(ctx)
	if n != 1 {
		t.Errorf("count = %d", n)
	}
}

func TestByTypeMergesWorkingSet(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(false)
	repo.Save(ctx, gamecore.NewEntity("m1", "mob"))
	stale := gamecore.NewEntity("m2", "mob")
	stale.Set("hp", int64(10))
	repo.Save(ctx, stale)

	// Unflushed working-set state must win over the stored row.
	mem := gamecore.NewEntity("m2", "mob")
	mem.Set("hp", int64(1))
	s.Set(ctx, "m2", mem)
	s.Set(ctx, "m3", gamecore.NewEntity("m3", "mob"))

	mobs, err := s.ByType(ctx, "mob")
	if err != nil {
		t.Fatal(err)
	}
	if len(mobs) != 3 {
		t.Fatalf("mobs = %d", len(mobs))
	}
	for _, m := range mobs {
		if m.ID == "m2" && m.GetInt("hp", 0) != 1 {
			t.Error("working set did not win the merge")
		}
	}
}

func TestFlushSavesEverythingAndReflects(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(false)

	a := gamecore.NewEntity("a", "item")
	b := gamecore.NewEntity("b", "item")
	s.Set(ctx, "a", a)
	s.Set(ctx, "b", b)

	if n, _ := repo.Count(ctx); n != 0 {
		t.Fatal("nothing should be saved yet")
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := repo.Count(ctx); n != 2 {
		t.Errorf("repository count = %d", n)
	}

	// A second flush is an update round: versions bump and reflect.
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, "a")
	if got.Version != 2 {
		t.Errorf("flushed version not reflected, got %d", got.Version)
	}
}

func TestReloadDropsLocalChanges(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(false)

	seed := gamecore.NewEntity("p", "player")
	seed.Set("gold", int64(100))
	repo.Save(ctx, seed)

	got, _ := s.Get(ctx, "p")
	got.Set("gold", int64(5))
	s.Set(ctx, "p", got)

	back, err := s.Reload(ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	if back.GetInt("gold", 0) != 100 {
		t.Errorf("reload kept the local copy: %d", back.GetInt("gold", 0))
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(true)
	s.Set(ctx, "a", gamecore.NewEntity("a", "item"))
	s.Set(ctx, "b", gamecore.NewEntity("b", "item"))

	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if s.Loaded() != 0 {
		t.Error("working set survived Clear")
	}
	if n, _ := repo.Count(ctx); n != 0 {
		t.Error("auto-flush Clear should empty the repository")
	}
}

func TestConcurrentGetSingleAdmission(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(true)
	seed := gamecore.NewEntity("p", "player")
	seed.Set("gold", int64(7))
	repo.Save(ctx, seed)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := s.Get(ctx, "p")
			if err != nil || e == nil || e.GetInt("gold", 0) != 7 {
				t.Errorf("concurrent Get = (%v, %v)", e, err)
			}
		}()
	}
	wg.Wait()
	if s.Loaded() != 1 {
		t.Errorf("racing loads admitted %d copies", s.Loaded())
	}
}
