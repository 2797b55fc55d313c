package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/rlerrors"
	"github.com/secprog/poor-man-ratelimiter/pkg/logger"
)

// RedisConfig mirrors the connection-tuning knobs the teacher's security
// gateway exposes for its Redis client.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	DB           int           `mapstructure:"db"`
	Password     string        `mapstructure:"password"`
	MaxRetries   int           `mapstructure:"max_retries"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

const (
	ruleKeyPrefix    = "rate_limit_rules:"
	counterKeyPrefix = "request_counter:"
	activeRulesSet   = "rate_limit_rules:active"
	systemConfigKey  = "system_config"
)

// RedisStore is the concrete Store adapter backing the black-box
// configuration/rule persistence collaborator with Redis, grounded in the
// teacher's infrastructure/redis_client.go connection and key-layout
// conventions.
type RedisStore struct {
	client      *redis.Client
	logger      *logger.Logger
	admitScript *redis.Script
}

// NewRedisStore dials Redis per cfg and verifies connectivity with a 5s
// timeout, matching the teacher's NewRedisClient idiom.
func NewRedisStore(cfg *RedisConfig, log *logger.Logger) (*RedisStore, error) {
	opts := &redis.Options{
		DB:           cfg.DB,
		Password:     cfg.Password,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts.Addr = parsed.Addr
		if cfg.Password == "" {
			opts.Password = parsed.Password
		}
		if cfg.DB == 0 {
			opts.DB = parsed.DB
		}
	} else {
		opts.Addr = "localhost:6379"
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisStore{
		client:      client,
		logger:      log,
		admitScript: redis.NewScript(admitLuaScript),
	}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) GetRule(ctx context.Context, id string) (RuleRecord, error) {
	data, err := s.client.Get(ctx, ruleKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rule %s: %w", id, err)
	}
	return data, nil
}

func (s *RedisStore) PutRule(ctx context.Context, id string, data RuleRecord) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, ruleKeyPrefix+id, data, 0)
	pipe.SAdd(ctx, activeRulesSet, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put rule %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) DeleteRule(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, ruleKeyPrefix+id)
	pipe.SRem(ctx, activeRulesSet, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) ListActiveRules(ctx context.Context) ([]RuleRecord, error) {
	ids, err := s.client.SMembers(ctx, activeRulesSet).Result()
	if err != nil {
		return nil, fmt.Errorf("listing active rule ids: %w", err)
	}
	return s.fetchRules(ctx, ids)
}

func (s *RedisStore) ListAllRules(ctx context.Context) ([]RuleRecord, error) {
	var records []RuleRecord
	iter := s.client.Scan(ctx, 0, ruleKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if key == activeRulesSet {
			continue
		}
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		records = append(records, data)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning rules: %w", err)
	}
	return records, nil
}

func (s *RedisStore) fetchRules(ctx context.Context, ids []string) ([]RuleRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = ruleKeyPrefix + id
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetching rules: %w", err)
	}
	records := make([]RuleRecord, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		records = append(records, []byte(s))
	}
	return records, nil
}

func (s *RedisStore) GetConfig(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.HGet(ctx, systemConfigKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get config %s: %w", key, err)
	}
	return val, true, nil
}

func (s *RedisStore) SetConfig(ctx context.Context, key, value string) error {
	if err := s.client.HSet(ctx, systemConfigKey, key, value).Err(); err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) ListConfig(ctx context.Context) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, systemConfigKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing config: %w", err)
	}
	return m, nil
}

// admitLuaScript implements the fixed-window counter algorithm of
// SPEC_FULL.md §4.4 atomically server-side: KEYS[1] is the counter key,
// ARGV[1] the quota, ARGV[2] the window length in seconds, ARGV[3] the
// current wall-clock second. It returns {count, withinQuota} as {int, int}.
const admitLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local windowSeconds = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local count = redis.call('HGET', key, 'count')
local windowStart = redis.call('HGET', key, 'windowStart')

if count == false or windowStart == false or (now - tonumber(windowStart)) >= windowSeconds then
    redis.call('HSET', key, 'count', 1, 'windowStart', now)
    redis.call('EXPIRE', key, windowSeconds)
    return {1, 1}
end

count = tonumber(count)
if count < limit then
    count = count + 1
    redis.call('HSET', key, 'count', count)
    return {count, 1}
end

return {count, 0}
`

// Admit runs the Lua script atomically against Redis, implementing the
// Counter Engine's core algorithm. Callers are responsible for fail-open
// handling on error.
func (s *RedisStore) Admit(ctx context.Context, key string, limit int, windowSeconds int) (int, bool, error) {
	now := time.Now().Unix()
	res, err := s.admitScript.Run(ctx, s.client, []string{counterKeyPrefix + key}, limit, windowSeconds, now).Result()
	if err != nil {
		return 0, false, fmt.Errorf("%w: running admit script: %w", rlerrors.ErrStoreUnavailable, err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, false, fmt.Errorf("unexpected admit script result shape")
	}

	count, _ := vals[0].(int64)
	within, _ := vals[1].(int64)
	return int(count), within == 1, nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
