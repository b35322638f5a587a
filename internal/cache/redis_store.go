package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds configuration for the Redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key. Defaults to "modeflow:cache:".
	Prefix string
}

// RedisStore keeps each entry in a hash, with sorted sets indexing access
// and expiry times and one set per tier. Mutations run in MULTI/EXEC.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// maxTxRetries bounds optimistic-lock retries in Put.
const maxTxRetries = 5

// NewRedisStore connects to Redis and validates the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStoreFromClient(rdb, cfg.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "modeflow:cache:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) Name() string { return "redis" }

func (s *RedisStore) entryKey(key string) string { return s.prefix + "e:" + key }
func (s *RedisStore) accessedKey() string        { return s.prefix + "accessed" }
func (s *RedisStore) expiresKey() string         { return s.prefix + "expires" }
func (s *RedisStore) tiersKey() string           { return s.prefix + "tiers" }
func (s *RedisStore) tierKey(tier string) string { return s.prefix + "tier:" + tier }

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	fields, err := s.rdb.HGetAll(ctx, s.entryKey(key)).Result()
	if err != nil {
		return nil, backendErr(s.Name(), "get", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	e, err := decodeHash(key, fields)
	return e, backendErr(s.Name(), "get", err)
}

func decodeHash(key string, f map[string]string) (*Entry, error) {
	e := &Entry{Key: key, Value: json.RawMessage(f["value"]), Tier: f["tier"]}
	ints := make(map[string]int64, 4)
	for _, name := range []string{"ttl_ns", "created_at", "accessed_at", "access_count"} {
		v, err := strconv.ParseInt(f[name], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s of %q: %w", name, key, err)
		}
		ints[name] = v
	}
	e.TTL = time.Duration(ints["ttl_ns"])
	e.CreatedAt = time.Unix(0, ints["created_at"])
	e.AccessedAt = time.Unix(0, ints["accessed_at"])
	e.AccessCount = ints["access_count"]
	if m := f["metadata"]; m != "" && m != "{}" {
		if err := json.Unmarshal([]byte(m), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %q: %w", key, err)
		}
	}
	return e, nil
}

func (s *RedisStore) Put(ctx context.Context, e *Entry, maxEntries int) (int, error) {
	metadata := []byte("{}")
	if len(e.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(e.Metadata); err != nil {
			return 0, fmt.Errorf("encode metadata: %w", err)
		}
	}

	entryKey := s.entryKey(e.Key)
	var evicted int
	txf := func(tx *redis.Tx) error {
		evicted = 0
		oldTier, err := tx.HGet(ctx, entryKey, "tier").Result()
		exists := err == nil
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		var victims []string
		if !exists && maxEntries > 0 {
			count, err := tx.ZCard(ctx, s.accessedKey()).Result()
			if err != nil {
				return err
			}
			if int(count) >= maxEntries {
				victims, err = tx.ZRange(ctx, s.accessedKey(), 0, int64(evictCount(int(count))-1)).Result()
				if err != nil {
					return err
				}
			}
		}
		victimTiers, err := s.tiersOf(ctx, tx, victims)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, v := range victims {
				s.queueDelete(ctx, pipe, v, victimTiers[i])
			}
			if exists && oldTier != e.Tier {
				pipe.SRem(ctx, s.tierKey(oldTier), e.Key)
			}
			pipe.Del(ctx, entryKey)
			pipe.HSet(ctx, entryKey,
				"value", []byte(e.Value),
				"tier", e.Tier,
				"ttl_ns", int64(e.TTL),
				"created_at", e.CreatedAt.UnixNano(),
				"accessed_at", e.AccessedAt.UnixNano(),
				"access_count", e.AccessCount,
				"metadata", string(metadata),
			)
			pipe.ZAdd(ctx, s.accessedKey(), redis.Z{Score: float64(e.AccessedAt.UnixNano()), Member: e.Key})
			pipe.ZAdd(ctx, s.expiresKey(), redis.Z{Score: float64(e.ExpiresAt().UnixNano()), Member: e.Key})
			pipe.SAdd(ctx, s.tierKey(e.Tier), e.Key)
			pipe.SAdd(ctx, s.tiersKey(), e.Tier)
			return nil
		})
		if err == nil {
			evicted = len(victims)
		}
		return err
	}

	var err error
	for range maxTxRetries {
		err = s.rdb.Watch(ctx, txf, s.accessedKey(), entryKey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return 0, backendErr(s.Name(), "put", err)
	}
	return evicted, nil
}

type pipelinedCmdable interface {
	Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// tiersOf reads the tier field of each key.
func (s *RedisStore) tiersOf(ctx context.Context, c pipelinedCmdable, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.StringCmd, len(keys))
	_, err := c.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HGet(ctx, s.entryKey(k), "tier")
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	tiers := make([]string, len(keys))
	for i, cmd := range cmds {
		tiers[i] = cmd.Val()
	}
	return tiers, nil
}

func (s *RedisStore) queueDelete(ctx context.Context, pipe redis.Pipeliner, key, tier string) *redis.IntCmd {
	del := pipe.Del(ctx, s.entryKey(key))
	pipe.ZRem(ctx, s.accessedKey(), key)
	pipe.ZRem(ctx, s.expiresKey(), key)
	pipe.SRem(ctx, s.tierKey(tier), key)
	return del
}

// deleteKeys removes keys and their index entries in one transaction.
func (s *RedisStore) deleteKeys(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	tiers, err := s.tiersOf(ctx, s.rdb, keys)
	if err != nil {
		return 0, err
	}
	dels := make([]*redis.IntCmd, len(keys))
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			dels[i] = s.queueDelete(ctx, pipe, k, tiers[i])
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range dels {
		n += int(d.Val())
	}
	return n, nil
}

func (s *RedisStore) Touch(ctx context.Context, key string, at time.Time) error {
	entryKey := s.entryKey(key)
	exists, err := s.rdb.Exists(ctx, entryKey).Result()
	if err != nil {
		return backendErr(s.Name(), "touch", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, entryKey, "accessed_at", at.UnixNano())
		pipe.HIncrBy(ctx, entryKey, "access_count", 1)
		pipe.ZAdd(ctx, s.accessedKey(), redis.Z{Score: float64(at.UnixNano()), Member: key})
		return nil
	})
	return backendErr(s.Name(), "touch", err)
}

func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.deleteKeys(ctx, []string{key})
	if err != nil {
		return false, backendErr(s.Name(), "delete", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Clear(ctx context.Context, tier string) (int, error) {
	var (
		keys []string
		err  error
	)
	if tier == "" {
		keys, err = s.rdb.ZRange(ctx, s.accessedKey(), 0, -1).Result()
	} else {
		keys, err = s.rdb.SMembers(ctx, s.tierKey(tier)).Result()
	}
	if err != nil {
		return 0, backendErr(s.Name(), "clear", err)
	}
	n, err := s.deleteKeys(ctx, keys)
	if err != nil {
		return 0, backendErr(s.Name(), "clear", err)
	}
	if tier == "" {
		if err := s.rdb.Del(ctx, s.tiersKey()).Err(); err != nil {
			return n, backendErr(s.Name(), "clear", err)
		}
	}
	return n, nil
}

func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	keys, err := s.rdb.ZRangeByScore(ctx, s.expiresKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixNano(), 10),
	}).Result()
	if err != nil {
		return 0, backendErr(s.Name(), "delete expired", err)
	}
	n, err := s.deleteKeys(ctx, keys)
	return n, backendErr(s.Name(), "delete expired", err)
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.rdb.ZCard(ctx, s.accessedKey()).Result()
	if err != nil {
		return 0, backendErr(s.Name(), "count", err)
	}
	return int(n), nil
}

func (s *RedisStore) Stats(ctx context.Context) (StoreStats, error) {
	keys, err := s.rdb.ZRange(ctx, s.accessedKey(), 0, -1).Result()
	if err != nil {
		return StoreStats{ByTier: map[string]int{}}, backendErr(s.Name(), "stats", err)
	}
	cmds := make([]*redis.SliceCmd, len(keys))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HMGet(ctx, s.entryKey(k), "tier", "ttl_ns", "created_at")
		}
		return nil
	})
	if err != nil {
		return StoreStats{ByTier: map[string]int{}}, backendErr(s.Name(), "stats", err)
	}

	entries := make([]*Entry, 0, len(keys))
	for i, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) != 3 || vals[0] == nil {
			continue
		}
		tier, _ := vals[0].(string)
		ttl, _ := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
		created, _ := strconv.ParseInt(fmt.Sprint(vals[2]), 10, 64)
		entries = append(entries, &Entry{
			Key:       keys[i],
			Tier:      tier,
			TTL:       time.Duration(ttl),
			CreatedAt: time.Unix(0, created),
		})
	}
	return summarize(entries), nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
