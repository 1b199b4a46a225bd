package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript bumps a window counter and arms its expiry on the first hit in
// one atomic step, so two racing requests can never observe count 1 twice
// within a window.
var incrScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {count, ttl}
`)

// Redis is the remote backend. Its methods return errors; the Failover
// wrapper translates those into the fail-open sentinels callers see.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis builds a client from a redis:// URL. The connection itself is
// lazy: an unreachable server is a runtime condition for the failover, not
// a construction error.
func NewRedis(rawURL, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("cache: invalid CACHE_URL: %w", err)
	}
	// Rate decisions sit on the request hot path; fail fast and let the
	// sentinel discipline take over rather than stalling admissions.
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	return &Redis{rdb: redis.NewClient(opts), prefix: prefix}, nil
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := incrScript.Run(ctx, r.rdb, []string{r.key(key)}, window.Milliseconds()).Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("cache: unexpected incr reply length %d", len(res))
	}
	count, _ := res[0].(int64)
	ttlMs, _ := res[1].(int64)
	if ttlMs < 0 {
		ttlMs = window.Milliseconds()
	}
	return count, time.Duration(ttlMs) * time.Millisecond, nil
}

func (r *Redis) get(ctx context.Context, key string) (int64, time.Duration, bool, error) {
	pipe := r.rdb.Pipeline()
	getCmd := pipe.Get(ctx, r.key(key))
	ttlCmd := pipe.PTTL(ctx, r.key(key))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, false, err
	}
	if errors.Is(getCmd.Err(), redis.Nil) {
		return 0, 0, false, nil
	}
	count, err := strconv.ParseInt(getCmd.Val(), 10, 64)
	if err != nil {
		return 0, 0, false, nil
	}
	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}
	return count, ttl, true, nil
}

func (r *Redis) reset(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.key(key)).Err()
}

func (r *Redis) addCounter(ctx context.Context, name string, delta int64) error {
	pipe := r.rdb.Pipeline()
	pipe.IncrBy(ctx, r.key(metricKey(name)), delta)
	pipe.Expire(ctx, r.key(metricKey(name)), metricsTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) getCounter(ctx context.Context, name string) (int64, error) {
	v, err := r.rdb.Get(ctx, r.key(metricKey(name))).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	count, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, nil
	}
	return count, nil
}

func (r *Redis) setKV(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return r.rdb.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *Redis) getKV(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) deleteKV(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.key(key)).Err()
}

// flush deletes every key under the prefix in batches. Used by the admin
// cache-flush operation, never on the hot path.
func (r *Redis) flush(ctx context.Context) error {
	iter := r.rdb.Scan(ctx, 0, r.prefix+"*", 200).Iterator()
	batch := make([]string, 0, 200)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 200 {
			if err := r.rdb.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return r.rdb.Del(ctx, batch...).Err()
	}
	return nil
}

func (r *Redis) ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (r *Redis) close() error { return r.rdb.Close() }
