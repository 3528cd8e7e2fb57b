// Package store defines the capability surface the matching engine needs
// from the shared key-value store, independent of any one backend. The
// production implementation (RedisStore, in redis.go) backs it with
// github.com/redis/go-redis/v9; tests back it with miniredis so the
// engine's logic can be exercised without a live Redis instance.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps every error surfaced by a Store method when the
// underlying connection is lost or an operation times out, per the
// capability contract: "fails with StoreError when the connection is lost
// or the operation times out".
var ErrUnavailable = errors.New("store: unavailable")

// ErrNotFound is returned by the single-key read helpers when the key (or
// hash field) does not exist. It is a normal, expected outcome, not a
// connectivity failure.
var ErrNotFound = errors.New("store: not found")

// Tx is the set of write operations available inside an atomic
// transaction submitted via Store.Txn. Every call queues a command; none
// take effect until the Txn callback returns without error, at which
// point all queued commands are applied as a single all-or-nothing unit.
type Tx interface {
	HashSet(key string, fields map[string]string)
	ZAdd(key string, score float64, member string)
	ZRem(key string, member string)
	ListPushLeft(key string, value string)
	ListTrim(key string, start, stop int64)
	SetAdd(key string, member string)
}

// Store is the capability surface of §4.5: atomic multi-writes,
// sorted-set range/rank queries, hash get/set, list push/pop/trim,
// blocking pop, and set membership. Every method may block on a network
// round-trip to the backing store.
type Store interface {
	// Txn executes fn's queued writes atomically: all-or-nothing.
	Txn(ctx context.Context, fn func(tx Tx) error) error

	HashGet(ctx context.Context, key, field string) (string, error)
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	HashSet(ctx context.Context, key string, fields map[string]string) error

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key string, member string) error
	// ZRangeByScore returns members with score in [min, max], ascending.
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	// ZRange returns members ordered by score; ascending selects lowest
	// first, descending (ascending=false) selects highest first.
	ZRange(ctx context.Context, key string, start, stop int64, ascending bool) ([]string, error)
	ZCard(ctx context.Context, key string) (int64, error)

	ListPushLeft(ctx context.Context, key string, value string) error
	ListTrim(ctx context.Context, key string, start, stop int64) error
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ListLen(ctx context.Context, key string) (int64, error)
	// ListBPopRight blocks up to timeout for a value to become available
	// at the tail of the list. Returns ("", false, nil) on timeout.
	ListBPopRight(ctx context.Context, key string, timeout time.Duration) (string, bool, error)

	SetAdd(ctx context.Context, key string, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)

	// Keys lists keys matching pattern. Avoided on hot paths; used only
	// by telemetry.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Ping reports whether the store is currently reachable, used by the
	// HTTP /health endpoint.
	Ping(ctx context.Context) error

	Close() error
}
