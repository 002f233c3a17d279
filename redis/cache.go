package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sharedcode/gamecore"
)

func init() {
	gamecore.RegisterCache(gamecore.Redis, NewClient)
}

type client struct {
	conn    *Connection
	isOwner bool
}

// NewClient returns a cache backed by the singleton connection. Call
// OpenConnection first; operations on a client without an open
// connection fail with an error.
func NewClient() gamecore.Cache {
	return &client{
		conn: connection,
	}
}

// NewConnectionClient opens a new Redis connection then returns a client
// wrapper for it. The returned wrapper has a "Close" method you can call
// when you don't need it anymore.
//
// This ctor was provided for the case of wanting to use another separate
// Redis cluster, e.g. one dedicated to hot entity state while the
// singleton serves the store's read-through cache.
func NewConnectionClient(options Options) gamecore.CloseableCache {
	c := openConnection(options)
	return &client{
		conn:    c,
		isOwner: true,
	}
}

// Close this client's connection. No-op on clients sharing the singleton.
func (c *client) Close() error {
	if !c.isOwner || c.conn == nil {
		return nil
	}
	err := closeConnection(c.conn)
	c.conn = nil
	return err
}

// keyNotFound will detect whether error signifies key not found by Redis.
func (c client) keyNotFound(err error) bool {
	return err == redis.Nil
}

func (c client) notOpen() error {
	return fmt.Errorf("redis connection is not open, 'can't serve the call")
}

// Ping tests connectivity for redis (PONG should be returned).
func (c client) Ping(ctx context.Context) error {
	if c.conn == nil {
		return c.notOpen()
	}
	return c.conn.Client.Ping(ctx).Err()
}

// Clear the cache. Be cautious calling this method as it will flush the Redis DB.
func (c client) Clear(ctx context.Context) error {
	if c.conn == nil {
		return c.notOpen()
	}
	return c.conn.Client.FlushDB(ctx).Err()
}

// Set executes the redis Set command.
func (c client) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	if c.conn == nil {
		return c.notOpen()
	}
	// No caching if expiration < 0.
	if expiration < 0 {
		return nil
	}
	return c.conn.Client.Set(ctx, key, value, expiration).Err()
}

// Get executes the redis Get command.
func (c client) Get(ctx context.Context, key string) (bool, string, error) {
	if c.conn == nil {
		return false, "", c.notOpen()
	}
	s, err := c.conn.Client.Get(ctx, key).Result()
	// Convert key not found into returning false and nil err.
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	}
	return r, s, err
}

// SetStruct marshals value with the default marshaler then executes the redis Set command.
func (c client) SetStruct(ctx context.Context, key string, value any, expiration time.Duration) error {
	if c.conn == nil {
		return c.notOpen()
	}
	// No caching if expiration < 0.
	if expiration < 0 {
		return nil
	}
	ba, err := gamecore.DefaultMarshaler.Marshal(value)
	if err != nil {
		return err
	}
	return c.conn.Client.Set(ctx, key, ba, expiration).Err()
}

// GetStruct executes the redis Get command and unmarshals into target.
func (c client) GetStruct(ctx context.Context, key string, target any) (bool, error) {
	if c.conn == nil {
		return false, c.notOpen()
	}
	if target == nil {
		return false, fmt.Errorf("target can't be nil")
	}
	ba, err := c.conn.Client.Get(ctx, key).Bytes()
	if err == nil {
		err = gamecore.DefaultMarshaler.Unmarshal(ba, target)
	}

	// Convert key not found into returning false and nil err.
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	}
	return r, err
}

// Delete executes the redis Del command. The bool reports whether any of
// the keys were actually cached.
func (c client) Delete(ctx context.Context, keys []string) (bool, error) {
	if c.conn == nil {
		return false, c.notOpen()
	}
	rs := c.conn.Client.Del(ctx, keys...)

	err := rs.Err()
	// Convert key not found into returning false and nil err.
	if c.keyNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rs.Val() > 0, nil
}
