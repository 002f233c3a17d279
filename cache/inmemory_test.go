package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sharedcode/gamecore"
)

var ctx = context.Background()

func TestSetGet(t *testing.T) {
	c := NewInMemory()

	if err := c.Set(ctx, "k1", "v1", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	found, v, err := c.Get(ctx, "k1")
	if err != nil || !found || v != "v1" {
		t.Fatalf("Get = (%v, %q, %v), want (true, v1, nil)", found, v, err)
	}

	found, _, err = c.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get miss: %v", err)
	}
	if found {
		t.Error("Get reported a phantom key")
	}
}

func TestStructRoundTrip(t *testing.T) {
	c := NewInMemory()

	e := gamecore.NewEntity("player_1", "player")
	e.Set("gold", int64(250))
	if err := c.SetStruct(ctx, "E_player_1", e, time.Minute); err != nil {
		t.Fatalf("SetStruct: %v", err)
	}

	var got gamecore.Entity
	found, err := c.GetStruct(ctx, "E_player_1", &got)
	if err != nil || !found {
		t.Fatalf("GetStruct = (%v, %v), want (true, nil)", found, err)
	}
	if got.ID != "player_1" || got.GetInt("gold", 0) != 250 {
		t.Errorf("round-tripped entity = %+v", got)
	}
}

func TestExpiry(t *testing.T) {
	c := NewInMemory()

	if err := c.Set(ctx, "fleeting", "x", 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if found, _, _ := c.Get(ctx, "fleeting"); !found {
		t.Fatal("entry missing before TTL")
	}

	time.Sleep(25 * time.Millisecond)
	if found, _, _ := c.Get(ctx, "fleeting"); found {
		t.Error("entry survived its TTL")
	}

	// Zero expiration never lapses.
	c.Set(ctx, "pinned", "y", 0)
	time.Sleep(5 * time.Millisecond)
	if found, _, _ := c.Get(ctx, "pinned"); !found {
		t.Error("zero-TTL entry expired")
	}
}

func TestNegativeExpirationSkipsWrite(t *testing.T) {
	c := NewInMemory()

	if err := c.Set(ctx, "skip", "x", -1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if found, _, _ := c.Get(ctx, "skip"); found {
		t.Error("negative expiration still cached the value")
	}
}

func TestDeleteReportsMembership(t *testing.T) {
	c := NewInMemory()
	c.Set(ctx, "a", "1", 0)

	found, err := c.Delete(ctx, []string{"a", "b"})
	if err != nil || !found {
		t.Fatalf("Delete = (%v, %v), want (true, nil)", found, err)
	}
	if found, _, _ := c.Get(ctx, "a"); found {
		t.Error("key survived delete")
	}

	found, err = c.Delete(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if found {
		t.Error("Delete reported phantom keys")
	}
}

func TestClear(t *testing.T) {
	c := NewInMemory()
	c.Set(ctx, "a", "1", 0)
	c.Set(ctx, "b", "2", 0)

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if found, _, _ := c.Get(ctx, "a"); found {
		t.Error("key survived Clear")
	}
	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := NewInMemory()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", j%10)
				c.Set(ctx, key, "v", time.Millisecond)
				c.Get(ctx, key)
				if j%25 == 0 {
					c.Delete(ctx, []string{key})
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestFactoryRegistration(t *testing.T) {
	gamecore.SetCacheFactory(gamecore.InMemory)
	if c := gamecore.NewCacheClient(); c == nil {
		t.Fatal("NewCacheClient returned nil after selecting the in-memory factory")
	}
}
