// Package sqlite provides the reference durable Repository over a SQLite
// database file. It is the default backend for single-node deployments and
// the one the engine's semantics are defined against: optimistic versioning
// is enforced with a compare-and-swap UPDATE inside a transaction.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sharedcode/gamecore"
)

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	entity_id   TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	data        TEXT NOT NULL,
	version     INTEGER NOT NULL DEFAULT 1,
	updated_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_entity_type ON entities(entity_type);
`

// Repository stores entities in a SQLite database. The entity envelope lives
// in dedicated columns and the attribute map is serialized into the data
// column, so version checks never parse JSON.
type Repository struct {
	db *sql.DB
}

// Open creates or opens the database at path and ensures the schema exists.
// Pass ":memory:" for an ephemeral store in tests. File-backed databases run
// in WAL mode for concurrent readers.
func Open(path string) (*Repository, error) {
	if path == "" {
		return nil, gamecore.Errorf(gamecore.Validation, "sqlite path can't be empty, use \":memory:\" for an ephemeral store")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, gamecore.NewError(gamecore.Internal, fmt.Errorf("open sqlite %s: %w", path, err))
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, gamecore.NewError(gamecore.Internal, fmt.Errorf("connect sqlite %s: %w", path, err))
	}

	// SQLite allows a single writer; a one-connection pool avoids
	// SQLITE_BUSY and keeps ":memory:" databases from evaporating when a
	// pooled connection is recycled.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if path != ":memory:" && !strings.Contains(path, "mode=memory") {
		for _, pragma := range []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA busy_timeout = 5000",
		} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, gamecore.NewError(gamecore.Internal, fmt.Errorf("apply %q: %w", pragma, err))
			}
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, gamecore.NewError(gamecore.Internal, fmt.Errorf("apply sqlite schema: %w", err))
	}
	return &Repository{db: db}, nil
}

// Close releases the underlying database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Save inserts or updates under the optimistic version rule. Inserts keep the
// caller's version (default 1). Updates require the caller's version to match
// the stored row and bump it by one, reflected back into the caller's entity.
// The check and the write share one transaction so a concurrent writer can
// never slip between them.
func (r *Repository) Save(ctx context.Context, e *gamecore.Entity) error {
	if e == nil || e.ID == "" {
		return gamecore.Errorf(gamecore.Validation, "entity with empty id cannot be saved")
	}
	data, err := gamecore.DefaultMarshaler.Marshal(e.Attributes)
	if err != nil {
		return gamecore.NewError(gamecore.Internal, fmt.Errorf("marshal %s: %w", e.ID, err))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return gamecore.NewError(gamecore.Internal, fmt.Errorf("begin save %s: %w", e.ID, err))
	}
	defer tx.Rollback()

	var stored int64
	err = tx.QueryRowContext(ctx, "SELECT version FROM entities WHERE entity_id = ?", e.ID).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		if e.Version <= 0 {
			e.Version = 1
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO entities (entity_id, entity_type, data, version) VALUES (?, ?, ?, ?)",
			e.ID, e.Type, string(data), e.Version)
		if err != nil {
			return gamecore.NewError(gamecore.Internal, fmt.Errorf("insert %s: %w", e.ID, err))
		}
	case err != nil:
		return gamecore.NewError(gamecore.Internal, fmt.Errorf("read version of %s: %w", e.ID, err))
	default:
		if e.Version != stored {
			return gamecore.Errorf(gamecore.Conflict,
				"version conflict on %s: caller has %d, stored is %d", e.ID, e.Version, stored)
		}
		res, err := tx.ExecContext(ctx,
			"UPDATE entities SET data = ?, version = ?, updated_at = CURRENT_TIMESTAMP WHERE entity_id = ? AND version = ?",
			string(data), e.Version+1, e.ID, e.Version)
		if err != nil {
			return gamecore.NewError(gamecore.Internal, fmt.Errorf("update %s: %w", e.ID, err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return gamecore.NewError(gamecore.Internal, fmt.Errorf("update %s: %w", e.ID, err))
		}
		if n == 0 {
			return gamecore.Errorf(gamecore.Conflict,
				"version conflict on %s: row changed under the transaction", e.ID)
		}
		e.Version++
	}
	if err := tx.Commit(); err != nil {
		return gamecore.NewError(gamecore.Internal, fmt.Errorf("commit save %s: %w", e.ID, err))
	}
	return nil
}

// Load fetches an entity by id, (nil, nil) when absent.
func (r *Repository) Load(ctx context.Context, id string) (*gamecore.Entity, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT entity_id, entity_type, data, version FROM entities WHERE entity_id = ?", id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, gamecore.NewError(gamecore.Internal, fmt.Errorf("load %s: %w", id, err))
	}
	return e, nil
}

// LoadBulk fetches the given ids in one query; absent ids are skipped.
func (r *Repository) LoadBulk(ctx context.Context, ids []string) ([]*gamecore.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT entity_id, entity_type, data, version FROM entities WHERE entity_id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, gamecore.NewError(gamecore.Internal, fmt.Errorf("load bulk: %w", err))
	}
	defer rows.Close()
	return collectEntities(rows)
}

// Delete removes an entity; deleting an absent id is a no-op.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM entities WHERE entity_id = ?", id); err != nil {
		return gamecore.NewError(gamecore.Internal, fmt.Errorf("delete %s: %w", id, err))
	}
	return nil
}

// Exists reports whether the id is stored.
func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM entities WHERE entity_id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, gamecore.NewError(gamecore.Internal, fmt.Errorf("exists %s: %w", id, err))
	}
	return true, nil
}

// ListByType returns every entity of the given envelope type.
func (r *Repository) ListByType(ctx context.Context, entityType string) ([]*gamecore.Entity, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT entity_id, entity_type, data, version FROM entities WHERE entity_type = ?", entityType)
	if err != nil {
		return nil, gamecore.NewError(gamecore.Internal, fmt.Errorf("list %s: %w", entityType, err))
	}
	defer rows.Close()
	return collectEntities(rows)
}

// Count returns the number of stored entities.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entities").Scan(&n); err != nil {
		return 0, gamecore.NewError(gamecore.Internal, fmt.Errorf("count: %w", err))
	}
	return n, nil
}

// Clear removes every stored entity.
func (r *Repository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM entities"); err != nil {
		return gamecore.NewError(gamecore.Internal, fmt.Errorf("clear: %w", err))
	}
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*gamecore.Entity, error) {
	var (
		id, entityType, data string
		version              int64
	)
	if err := row.Scan(&id, &entityType, &data, &version); err != nil {
		return nil, err
	}
	attrs := map[string]any{}
	if err := gamecore.DefaultMarshaler.Unmarshal([]byte(data), &attrs); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", id, err)
	}
	return &gamecore.Entity{ID: id, Type: entityType, Version: version, Attributes: attrs}, nil
}

func collectEntities(rows *sql.Rows) ([]*gamecore.Entity, error) {
	var out []*gamecore.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, gamecore.NewError(gamecore.Internal, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, gamecore.NewError(gamecore.Internal, err)
	}
	return out, nil
}
