// Package cassandra contains the clustered Repository implementation over a
// Cassandra entities table. Optimistic versioning rides on lightweight
// transactions: inserts are conditioned on the row being absent, updates on
// the stored version matching the caller's. An optional cache (typically the
// redis package's client) is written through on save and consulted on load;
// cache failures are tolerated and only logged, Cassandra stays the truth.
package cassandra

import (
	"context"
	"fmt"
	log "log/slog"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/sharedcode/gamecore"
)

var entityCacheDuration time.Duration = time.Duration(15 * time.Minute)

// SetEntityCacheDuration allows the write-through cache duration to get set globally.
func SetEntityCacheDuration(duration time.Duration) {
	if duration < time.Minute {
		duration = time.Duration(15 * time.Minute)
	}
	entityCacheDuration = duration
}

// Repository stores entities in the singleton connection's keyspace. Open the
// connection before use; every method fails when it is closed.
type Repository struct {
	cache gamecore.Cache
}

// NewRepository returns a Repository that reads and writes Cassandra only.
func NewRepository() *Repository {
	return &Repository{}
}

// NewCachedRepository returns a Repository that writes saved entities through
// to the given cache and serves loads from it when possible. Pass the redis
// package's client to share entity state across processes.
func NewCachedRepository(cache gamecore.Cache) *Repository {
	return &Repository{cache: cache}
}

func errClosed() error {
	return gamecore.Errorf(gamecore.Internal, "Cassandra connection is closed, 'call OpenConnection(config) to open it")
}

// Save inserts or updates under the optimistic version rule. Inserts keep the
// caller's version (default 1) and are conditioned on the row being absent;
// updates run as a lightweight transaction conditioned on the stored version,
// bump it by one and reflect it back into the caller's entity.
func (r *Repository) Save(ctx context.Context, e *gamecore.Entity) error {
	if connection == nil {
		return errClosed()
	}
	if e == nil || e.ID == "" {
		return gamecore.Errorf(gamecore.Validation, "entity with empty id cannot be saved")
	}
	data, err := gamecore.DefaultMarshaler.Marshal(e.Attributes)
	if err != nil {
		return gamecore.NewError(gamecore.Internal, fmt.Errorf("marshal %s: %w", e.ID, err))
	}
	if e.Version <= 0 {
		e.Version = 1
	}

	insertStatement := fmt.Sprintf("INSERT INTO %s.entities (id, type, data, version) VALUES(?,?,?,?) IF NOT EXISTS;",
		connection.Config.Keyspace)
	qry := connection.Session.Query(insertStatement, e.ID, e.Type, string(data), e.Version).WithContext(ctx)
	if connection.Config.ConsistencyBook.EntityAdd > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.EntityAdd)
	}

	previous := map[string]interface{}{}
	applied, err := qry.MapScanCAS(previous)
	if err != nil {
		return gamecore.NewError(gamecore.Internal, fmt.Errorf("insert %s: %w", e.ID, err))
	}
	if applied {
		r.cacheSave(ctx, e)
		return nil
	}

	// Row exists; take the update path conditioned on the stored version.
	updateStatement := fmt.Sprintf("UPDATE %s.entities SET type = ?, data = ?, version = ? WHERE id = ? IF version = ?;",
		connection.Config.Keyspace)
	qry = connection.Session.Query(updateStatement, e.Type, string(data), e.Version+1, e.ID, e.Version).WithContext(ctx)
	if connection.Config.ConsistencyBook.EntityUpdate > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.EntityUpdate)
	}

	previous = map[string]interface{}{}
	applied, err = qry.MapScanCAS(previous)
	if err != nil {
		return gamecore.NewError(gamecore.Internal, fmt.Errorf("update %s: %w", e.ID, err))
	}
	if !applied {
		if stored, ok := previous["version"].(int64); ok {
			return gamecore.Errorf(gamecore.Conflict,
				"version conflict on %s: caller has %d, stored is %d", e.ID, e.Version, stored)
		}
		return gamecore.Errorf(gamecore.Conflict,
			"version conflict on %s: row changed under the write", e.ID)
	}
	e.Version++
	r.cacheSave(ctx, e)
	return nil
}

// Load fetches an entity by id, (nil, nil) when absent. The cache, when
// attached, is consulted first and backfilled on a Cassandra hit.
func (r *Repository) Load(ctx context.Context, id string) (*gamecore.Entity, error) {
	if connection == nil {
		return nil, errClosed()
	}
	if e, ok := r.cacheLoad(ctx, id); ok {
		return e, nil
	}

	selectStatement := fmt.Sprintf("SELECT type, data, version FROM %s.entities WHERE id = ?;",
		connection.Config.Keyspace)
	qry := connection.Session.Query(selectStatement, id).WithContext(ctx)
	if connection.Config.ConsistencyBook.EntityGet > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.EntityGet)
	}

	var (
		entityType, data string
		version          int64
	)
	if err := qry.Scan(&entityType, &data, &version); err != nil {
		if err == gocql.ErrNotFound {
			return nil, nil
		}
		return nil, gamecore.NewError(gamecore.Internal, fmt.Errorf("load %s: %w", id, err))
	}
	e, err := unmarshalEntity(id, entityType, data, version)
	if err != nil {
		return nil, err
	}
	r.cacheSave(ctx, e)
	return e, nil
}

// LoadBulk fetches the given ids in one query; absent ids are skipped.
// Cached entities are served without touching Cassandra.
func (r *Repository) LoadBulk(ctx context.Context, ids []string) ([]*gamecore.Entity, error) {
	if connection == nil {
		return nil, errClosed()
	}
	if len(ids) == 0 {
		return nil, nil
	}

	out := make([]*gamecore.Entity, 0, len(ids))
	paramQ := make([]string, 0, len(ids))
	idsAsIntfs := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.cacheLoad(ctx, id); ok {
			out = append(out, e)
			continue
		}
		paramQ = append(paramQ, "?")
		idsAsIntfs = append(idsAsIntfs, interface{}(id))
	}
	if len(paramQ) == 0 {
		return out, nil
	}

	selectStatement := fmt.Sprintf("SELECT id, type, data, version FROM %s.entities WHERE id in (%v);",
		connection.Config.Keyspace, strings.Join(paramQ, ", "))
	qry := connection.Session.Query(selectStatement, idsAsIntfs...).WithContext(ctx)
	if connection.Config.ConsistencyBook.EntityGet > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.EntityGet)
	}

	iter := qry.Iter()
	var (
		id, entityType, data string
		version              int64
	)
	for iter.Scan(&id, &entityType, &data, &version) {
		e, err := unmarshalEntity(id, entityType, data, version)
		if err != nil {
			return nil, err
		}
		r.cacheSave(ctx, e)
		out = append(out, e)
	}
	if err := iter.Close(); err != nil {
		return nil, gamecore.NewError(gamecore.Internal, fmt.Errorf("load bulk: %w", err))
	}
	return out, nil
}

// Delete removes an entity; deleting an absent id is a no-op.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if connection == nil {
		return errClosed()
	}
	deleteStatement := fmt.Sprintf("DELETE FROM %s.entities WHERE id = ?;", connection.Config.Keyspace)
	qry := connection.Session.Query(deleteStatement, id).WithContext(ctx)
	if connection.Config.ConsistencyBook.EntityRemove > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.EntityRemove)
	}

	err := qry.Exec()
	// Flush the record from cache whether or not the delete went through.
	r.cacheDelete(ctx, id)
	if err != nil {
		return gamecore.NewError(gamecore.Internal, fmt.Errorf("delete %s: %w", id, err))
	}
	return nil
}

// Exists reports whether the id is stored. The cache is bypassed so a stale
// entry can never resurrect a deleted entity.
func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	if connection == nil {
		return false, errClosed()
	}
	selectStatement := fmt.Sprintf("SELECT version FROM %s.entities WHERE id = ?;", connection.Config.Keyspace)
	qry := connection.Session.Query(selectStatement, id).WithContext(ctx)
	if connection.Config.ConsistencyBook.EntityGet > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.EntityGet)
	}

	var version int64
	if err := qry.Scan(&version); err != nil {
		if err == gocql.ErrNotFound {
			return false, nil
		}
		return false, gamecore.NewError(gamecore.Internal, fmt.Errorf("exists %s: %w", id, err))
	}
	return true, nil
}

// ListByType returns every entity of the given envelope type, served by the
// secondary index on the type column.
func (r *Repository) ListByType(ctx context.Context, entityType string) ([]*gamecore.Entity, error) {
	if connection == nil {
		return nil, errClosed()
	}
	selectStatement := fmt.Sprintf("SELECT id, type, data, version FROM %s.entities WHERE type = ?;",
		connection.Config.Keyspace)
	qry := connection.Session.Query(selectStatement, entityType).WithContext(ctx)
	if connection.Config.ConsistencyBook.EntityGet > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.EntityGet)
	}

	var out []*gamecore.Entity
	iter := qry.Iter()
	var (
		id, etype, data string
		version         int64
	)
	for iter.Scan(&id, &etype, &data, &version) {
		e, err := unmarshalEntity(id, etype, data, version)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := iter.Close(); err != nil {
		return nil, gamecore.NewError(gamecore.Internal, fmt.Errorf("list %s: %w", entityType, err))
	}
	return out, nil
}

// Count returns the number of stored entities.
func (r *Repository) Count(ctx context.Context) (int, error) {
	if connection == nil {
		return 0, errClosed()
	}
	selectStatement := fmt.Sprintf("SELECT COUNT(*) FROM %s.entities;", connection.Config.Keyspace)
	qry := connection.Session.Query(selectStatement).WithContext(ctx)
	if connection.Config.ConsistencyBook.EntityGet > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.EntityGet)
	}

	var n int64
	if err := qry.Scan(&n); err != nil {
		return 0, gamecore.NewError(gamecore.Internal, fmt.Errorf("count: %w", err))
	}
	return int(n), nil
}

// Clear truncates the entities table and flushes the attached cache.
func (r *Repository) Clear(ctx context.Context) error {
	if connection == nil {
		return errClosed()
	}
	if err := connection.Session.Query(fmt.Sprintf("TRUNCATE %s.entities;", connection.Config.Keyspace)).WithContext(ctx).Exec(); err != nil {
		return gamecore.NewError(gamecore.Internal, fmt.Errorf("clear: %w", err))
	}
	if r.cache != nil {
		// Tolerate cache failure.
		if err := r.cache.Clear(ctx); err != nil {
			log.Error(fmt.Sprintf("entity clear (cache clear) failed, details: %v", err))
		}
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

// cacheSave writes the entity through to the cache. Tolerate cache failure.
func (r *Repository) cacheSave(ctx context.Context, e *gamecore.Entity) {
	if r.cache == nil {
		return
	}
	if err := r.cache.SetStruct(ctx, e.ID, e, entityCacheDuration); err != nil {
		log.Error(fmt.Sprintf("entity save (cache setstruct) failed, details: %v", err))
	}
}

// cacheLoad reads the entity from the cache. Tolerate cache failure.
func (r *Repository) cacheLoad(ctx context.Context, id string) (*gamecore.Entity, bool) {
	if r.cache == nil {
		return nil, false
	}
	var e gamecore.Entity
	found, err := r.cache.GetStruct(ctx, id, &e)
	if err != nil {
		log.Error(fmt.Sprintf("entity load (cache getstruct) failed, details: %v", err))
		return nil, false
	}
	if !found {
		return nil, false
	}
	return &e, true
}

// cacheDelete flushes the entity from the cache. Tolerate cache failure.
func (r *Repository) cacheDelete(ctx context.Context, id string) {
	if r.cache == nil {
		return
	}
	if _, err := r.cache.Delete(ctx, []string{id}); err != nil {
		log.Error(fmt.Sprintf("entity delete (cache delete) failed, details: %v", err))
	}
}

func unmarshalEntity(id, entityType, data string, version int64) (*gamecore.Entity, error) {
	attrs := map[string]any{}
	if err := gamecore.DefaultMarshaler.Unmarshal([]byte(data), &attrs); err != nil {
		return nil, gamecore.NewError(gamecore.Internal, fmt.Errorf("unmarshal %s: %w", id, err))
	}
	return &gamecore.Entity{ID: id, Type: entityType, Version: version, Attributes: attrs}, nil
}
