package engine

import (
	"context"
	"testing"
	"time"

	"github.com/sharedcode/gamecore"
	"github.com/sharedcode/gamecore/event"
	"github.com/sharedcode/gamecore/inmemory"
)

func TestNewRequiresRepository(t *testing.T) {
	if _, err := New(ctx, Options{}); !gamecore.IsCode(err, gamecore.Validation) {
		t.Errorf("expected Validation without repository, got %v", err)
	}
}

func TestEngineRunAndClose(t *testing.T) {
	e, err := New(ctx, Options{Repository: inmemory.NewRepository(), AutoFlush: true})
	if err != nil {
		t.Fatal(err)
	}

	res := e.Run(ctx, addGold{playerID: "player_1", amount: 42})
	if !res.Success {
		t.Fatalf("Run failed: %v", res.Err)
	}
	p, _ := e.Store().Get(ctx, "player_1")
	if p == nil || p.GetInt("gold", 0) != 42 {
		t.Error("command result not visible through engine store")
	}

	results := e.RunBatch(ctx, []Command{
		addGold{playerID: "player_2", amount: 1},
		addGold{playerID: "player_3", amount: 2},
	})
	if len(results) != 2 || !results[0].Success || !results[1].Success {
		t.Errorf("batch results %+v", results)
	}

	if !e.Scheduler().IsRunning() {
		t.Error("scheduler not started by New")
	}
	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if e.Scheduler().IsRunning() {
		t.Error("scheduler still running after Close")
	}
}

func TestEngineSchedulerIsUsable(t *testing.T) {
	e, err := New(ctx, Options{Repository: inmemory.NewRepository()})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close(ctx)

	done := make(chan struct{})
	if _, err := e.Scheduler().Once("ping", time.Millisecond, func(ctx context.Context) error {
		close(done)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduled task never ran")
	}
}

func TestEngineHistoryLimit(t *testing.T) {
	e, err := New(ctx, Options{Repository: inmemory.NewRepository(), HistoryLimit: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close(ctx)

	e.Bus().Publish(event.New("a", nil))
	e.Bus().Publish(event.New("b", nil))
	e.Bus().Publish(event.New("c", nil))
	hist := e.Bus().History()
	if len(hist) != 2 || hist[0].Topic != "b" || hist[1].Topic != "c" {
		t.Errorf("history ring wrong: %+v", hist)
	}
}

func TestEngineDataLoader(t *testing.T) {
	e, err := New(ctx, Options{Repository: inmemory.NewRepository()})
	if err != nil {
		t.Fatal(err)
	}
	if e.Data() != nil {
		t.Error("Data() should be nil without DataDir")
	}
	e.Close(ctx)

	e, err = New(ctx, Options{Repository: inmemory.NewRepository(), DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close(ctx)
	if e.Data() == nil {
		t.Error("Data() nil despite DataDir")
	}
}
