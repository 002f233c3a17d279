// Package engine executes game commands under entity locks and
// copy-on-write transactions, and wires the core runtime (store, locks,
// bus, scheduler) behind a single root object.
package engine

import (
	"context"

	"github.com/sharedcode/gamecore/store"
)

// Command is one unit of game logic. The executor locks the command's
// dependencies, opens a transaction and runs Execute against its
// isolated store view; writes become visible only on commit.
type Command interface {
	// Dependencies lists the entity ids the command will read or write.
	// The executor locks them before Execute runs. May be empty.
	Dependencies() []string
	// Execute runs the command. The returned map is handed to the caller
	// on success; an error rolls the transaction back.
	Execute(ctx context.Context, s *store.TxStore) (map[string]any, error)
}

// Result is the outcome of one command execution.
type Result struct {
	Success bool
	Data    map[string]any
	// Err carries a gamecore.Error whose code callers can switch on via
	// gamecore.IsCode. Nil on success.
	Err error
}

// CommandFunc adapts a bare function into a Command with no
// dependencies.
type CommandFunc func(ctx context.Context, s *store.TxStore) (map[string]any, error)

func (f CommandFunc) Dependencies() []string { return nil }

func (f CommandFunc) Execute(ctx context.Context, s *store.TxStore) (map[string]any, error) {
	return f(ctx, s)
}
