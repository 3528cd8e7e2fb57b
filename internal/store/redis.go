package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore adapts a redis.Cmdable (either a standalone *redis.Client or
// a *redis.ClusterClient) to the Store interface. Connection pooling is
// delegated entirely to go-redis: redis.Options.PoolSize bounds the
// number of concurrent connections, and every command acquires one from
// the pool and releases it on return (including on error), which is the
// scoped-acquisition guarantee §9 requires without any extra bookkeeping
// here.
type RedisStore struct {
	client redis.Cmdable
}

// Config configures the underlying Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// New connects to a standalone Redis instance sized for PoolSize
// concurrent callers (symbol processors plus API handlers, per §4.5).
func New(cfg Config) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return &RedisStore{client: client}
}

// NewFromClient wraps an already-constructed redis.Cmdable, e.g. a
// *redis.Client pointed at miniredis in tests.
func NewFromClient(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func wrapErr(err error) error {
	if err == nil || err == redis.Nil {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// redisTx queues commands against a redis.Pipeliner for TxPipelined.
type redisTx struct {
	pipe redis.Pipeliner
}

func (t *redisTx) HashSet(key string, fields map[string]string) {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	t.pipe.HSet(context.Background(), key, args...)
}

func (t *redisTx) ZAdd(key string, score float64, member string) {
	t.pipe.ZAdd(context.Background(), key, redis.Z{Score: score, Member: member})
}

func (t *redisTx) ZRem(key string, member string) {
	t.pipe.ZRem(context.Background(), key, member)
}

func (t *redisTx) ListPushLeft(key string, value string) {
	t.pipe.LPush(context.Background(), key, value)
}

func (t *redisTx) ListTrim(key string, start, stop int64) {
	t.pipe.LTrim(context.Background(), key, start, stop)
}

func (t *redisTx) SetAdd(key string, member string) {
	t.pipe.SAdd(context.Background(), key, member)
}

// Txn submits fn's queued writes as a single MULTI/EXEC transaction.
func (s *RedisStore) Txn(ctx context.Context, fn func(tx Tx) error) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return fn(&redisTx{pipe: pipe})
	})
	return wrapErr(err)
}

func (s *RedisStore) HashGet(ctx context.Context, key, field string) (string, error) {
	v, err := s.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", wrapErr(err)
	}
	return v, nil
}

func (s *RedisStore) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(m) == 0 {
		return nil, ErrNotFound
	}
	return m, nil
}

func (s *RedisStore) HashSet(ctx context.Context, key string, fields map[string]string) error {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return wrapErr(s.client.HSet(ctx, key, args...).Err())
}

func (s *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return wrapErr(s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

func (s *RedisStore) ZRem(ctx context.Context, key string, member string) error {
	return wrapErr(s.client.ZRem(ctx, key, member).Err())
}

func (s *RedisStore) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	res, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatFloat(min, 'f', -1, 64),
		Max: strconv.FormatFloat(max, 'f', -1, 64),
	}).Result()
	return res, wrapErr(err)
}

func (s *RedisStore) ZRange(ctx context.Context, key string, start, stop int64, ascending bool) ([]string, error) {
	if ascending {
		res, err := s.client.ZRange(ctx, key, start, stop).Result()
		return res, wrapErr(err)
	}
	res, err := s.client.ZRevRange(ctx, key, start, stop).Result()
	return res, wrapErr(err)
}

func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	return n, wrapErr(err)
}

func (s *RedisStore) ListPushLeft(ctx context.Context, key string, value string) error {
	return wrapErr(s.client.LPush(ctx, key, value).Err())
}

func (s *RedisStore) ListTrim(ctx context.Context, key string, start, stop int64) error {
	return wrapErr(s.client.LTrim(ctx, key, start, stop).Err())
}

func (s *RedisStore) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	res, err := s.client.LRange(ctx, key, start, stop).Result()
	return res, wrapErr(err)
}

func (s *RedisStore) ListLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.LLen(ctx, key).Result()
	return n, wrapErr(err)
}

func (s *RedisStore) ListBPopRight(ctx context.Context, key string, timeout time.Duration) (string, bool, error) {
	res, err := s.client.BRPop(ctx, timeout, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr(err)
	}
	// BRPop returns [key, value].
	if len(res) != 2 {
		return "", false, nil
	}
	return res[1], true, nil
}

func (s *RedisStore) SetAdd(ctx context.Context, key string, member string) error {
	return wrapErr(s.client.SAdd(ctx, key, member).Err())
}

func (s *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	res, err := s.client.SMembers(ctx, key).Result()
	return res, wrapErr(err)
}

func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	res, err := s.client.Keys(ctx, pattern).Result()
	return res, wrapErr(err)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return wrapErr(s.client.Ping(ctx).Err())
}

func (s *RedisStore) Close() error {
	if closer, ok := s.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
