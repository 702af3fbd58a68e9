package lookup

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ssw-labs/flowcore/pkg/apperr"
	"github.com/ssw-labs/flowcore/pkg/record"
)

// RedisConfig configures a sharded redis-backed Store.
type RedisConfig struct {
	Addrs       []string      `yaml:"addrs"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

func (c *RedisConfig) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 2 * time.Second
	}
}

// RedisStore implements Store over one or more redis instances, sharded by
// ShardRing so a given (table,key) always lands on the same node.
type RedisStore struct {
	config  RedisConfig
	logger  *logrus.Logger
	ring    *ShardRing
	clients map[string]*redis.Client

	hits   int64
	misses int64
	errs   int64
}

// NewRedisStore dials one client per address and builds the shard ring
// used to route (table,key) lookups.
func NewRedisStore(config RedisConfig, logger *logrus.Logger) (*RedisStore, error) {
	config.applyDefaults()
	if len(config.Addrs) == 0 {
		return nil, apperr.Compile("lookup", "redis_store", "no redis addresses configured")
	}

	clients := make(map[string]*redis.Client, len(config.Addrs))
	for _, addr := range config.Addrs {
		clients[addr] = redis.NewClient(&redis.Options{
			Addr:        addr,
			Password:    config.Password,
			DB:          config.DB,
			DialTimeout: config.DialTimeout,
			ReadTimeout: config.ReadTimeout,
		})
	}

	logger.WithFields(logrus.Fields{
		"nodes": config.Addrs,
	}).Info("lookup store: redis shard ring initialized")

	return &RedisStore{
		config:  config,
		logger:  logger,
		ring:    NewShardRing(config.Addrs),
		clients: clients,
	}, nil
}

func (s *RedisStore) clientFor(key string) *redis.Client {
	return s.clients[s.ring.Lookup(key)]
}

func redisKey(table, key string) string {
	return table + ":" + key
}

// Get fetches one field, returning (value, false, nil) on a cache miss.
func (s *RedisStore) Get(ctx context.Context, table, key string) (record.Value, bool, error) {
	full := redisKey(table, key)
	client := s.clientFor(full)
	if client == nil {
		return record.Ignore, false, apperr.SinkIO("lookup", "get", "no redis node available")
	}

	val, err := client.Get(ctx, full).Result()
	if err == redis.Nil {
		atomic.AddInt64(&s.misses, 1)
		return record.Ignore, false, nil
	}
	if err != nil {
		atomic.AddInt64(&s.errs, 1)
		return record.Ignore, false, apperr.SinkIO("lookup", "get", "redis get failed").Wrap(err)
	}
	atomic.AddInt64(&s.hits, 1)
	return record.Chars(val), true, nil
}

// Set writes one field with no expiry; callers wanting TTL semantics wrap
// this with their own scheduled refresh.
func (s *RedisStore) Set(ctx context.Context, table, key string, v record.Value) error {
	full := redisKey(table, key)
	client := s.clientFor(full)
	if client == nil {
		return apperr.SinkIO("lookup", "set", "no redis node available")
	}
	str, _ := v.AsChars()
	if err := client.Set(ctx, full, str, 0).Err(); err != nil {
		atomic.AddInt64(&s.errs, 1)
		return apperr.SinkIO("lookup", "set", "redis set failed").Wrap(err)
	}
	return nil
}

// Select implements MDL's select_expr against a redis hash named table.
// The where predicate is read as "key = <rec-field>" or "key = 'literal'":
// only the text after the first "=" is used, as the hash key, and a
// predicate with no "=" fails here at query time. STRICT_SQL's compile-time
// token check does not reject predicates of other forms.
func (s *RedisStore) Select(table string, cols []string, where string, rec *record.Record) ([]record.Value, error) {
	key, err := resolveWhereKey(where, rec)
	if err != nil {
		return nil, err
	}
	client := s.clientFor(redisKey(table, key))
	if client == nil {
		return nil, apperr.SinkIO("lookup", "select", "no redis node available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ReadTimeout)
	defer cancel()

	if len(cols) == 1 && cols[0] == "*" {
		fields, err := client.HGetAll(ctx, redisKey(table, key)).Result()
		if err != nil {
			atomic.AddInt64(&s.errs, 1)
			return nil, apperr.SinkIO("lookup", "select", "redis hgetall failed").Wrap(err)
		}
		obj := record.NewObject()
		for k, v := range fields {
			obj.Set(k, record.Chars(v))
		}
		atomic.AddInt64(&s.hits, 1)
		return []record.Value{record.ObjectValue(obj)}, nil
	}

	vals, err := client.HMGet(ctx, redisKey(table, key), cols...).Result()
	if err != nil {
		atomic.AddInt64(&s.errs, 1)
		return nil, apperr.SinkIO("lookup", "select", "redis hmget failed").Wrap(err)
	}
	out := make([]record.Value, len(vals))
	for i, v := range vals {
		if v == nil {
			out[i] = record.Ignore
			continue
		}
		out[i] = record.Chars(fmt.Sprint(v))
	}
	atomic.AddInt64(&s.hits, 1)
	return out, nil
}

// resolveWhereKey extracts the right-hand side of a "<col> = <ident|lit>"
// predicate, resolving a bare identifier against rec when it names a field.
func resolveWhereKey(where string, rec *record.Record) (string, error) {
	parts := strings.SplitN(where, "=", 2)
	if len(parts) != 2 {
		return "", apperr.Transform("lookup", "select", "unsupported where predicate: "+where)
	}
	rhs := strings.TrimSpace(strings.Trim(parts[1], "'\""))
	if rec != nil {
		if v, ok := rec.Get(rhs); ok {
			if s, ok := v.AsChars(); ok {
				return s, nil
			}
		}
	}
	return rhs, nil
}

// StoreStats reports cumulative hit/miss/error counters.
func (s *RedisStore) StoreStats() Stats {
	return Stats{
		Hits:   atomic.LoadInt64(&s.hits),
		Misses: atomic.LoadInt64(&s.misses),
		Errors: atomic.LoadInt64(&s.errs),
	}
}

// Close releases every underlying client connection.
func (s *RedisStore) Close() error {
	var firstErr error
	for _, c := range s.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
