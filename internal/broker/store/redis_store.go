package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/robofleet/resmux/internal/broker/model"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
}

// RedisStore implements Store on Redis. Each record is a hash under
// "res:<bldg>/<resource>"; an index set tracks all record keys. The
// compare-and-swap and the sweep run as Lua scripts, so precondition check
// and write happen in one atomic server-side step.
type RedisStore struct {
	client *redis.Client
}

const redisIndexKey = "res:index"

var redisUpdateLease = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 'not_found'
end
local current = redis.call('HGET', KEYS[1], 'locked_by')
if current ~= ARGV[1] then
  return 'precondition'
end
redis.call('HSET', KEYS[1], 'locked_by', ARGV[2], 'locked_time', ARGV[3], 'expiration_time', ARGV[4])
return 'ok'
`)

var redisSweepExpired = redis.NewScript(`
local now = tonumber(ARGV[1])
local out = {}
for _, k in ipairs(redis.call('SMEMBERS', KEYS[1])) do
  local locked_by = redis.call('HGET', k, 'locked_by')
  if locked_by and locked_by ~= '' then
    local locked_time = tonumber(redis.call('HGET', k, 'locked_time'))
    local max_timeout = tonumber(redis.call('HGET', k, 'max_timeout'))
    if locked_time + max_timeout < now then
      table.insert(out, redis.call('HGETALL', k))
      redis.call('HSET', k, 'locked_by', '', 'locked_time', 0, 'expiration_time', 0)
    end
  end
end
return cjson.encode(out)
`)

var redisSeedOne = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'bldg_id', ARGV[1], 'resource_id', ARGV[2], 'resource_type', ARGV[3],
  'max_timeout', ARGV[4], 'default_timeout', ARGV[5],
  'locked_by', '', 'locked_time', 0, 'expiration_time', 0)
redis.call('SADD', KEYS[2], KEYS[1])
return 1
`)

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// newRedisStoreFromClient wires an existing client; used by tests.
func newRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Close() error { return s.client.Close() }

func redisKey(key model.Key) string {
	return "res:" + key.String()
}

func (s *RedisStore) Get(ctx context.Context, key model.Key) (*model.ResourceRecord, error) {
	fields, err := s.client.HGetAll(ctx, redisKey(key)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return recordFromHash(fields)
}

func (s *RedisStore) ListAll(ctx context.Context) ([]*model.ResourceRecord, error) {
	keys, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*model.ResourceRecord, 0, len(keys))
	for _, k := range keys {
		fields, err := s.client.HGetAll(ctx, k).Result()
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue
		}
		rec, err := recordFromHash(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].BldgID != out[j].BldgID {
			return out[i].BldgID < out[j].BldgID
		}
		return out[i].ResourceID < out[j].ResourceID
	})
	return out, nil
}

func (s *RedisStore) UpdateLease(ctx context.Context, key model.Key, pre Precondition, set LeaseFields) error {
	status, err := redisUpdateLease.Run(ctx, s.client,
		[]string{redisKey(key)},
		pre.LockedBy, set.LockedBy, set.LockedTimeMS, set.ExpirationTimeMS,
	).Text()
	if err != nil {
		return err
	}
	switch status {
	case "ok":
		return nil
	case "not_found":
		return ErrNotFound
	case "precondition":
		return ErrPreconditionFailed
	default:
		return fmt.Errorf("unexpected script result %q", status)
	}
}

func (s *RedisStore) SweepExpired(ctx context.Context, nowMS int64) ([]*model.ResourceRecord, error) {
	raw, err := redisSweepExpired.Run(ctx, s.client, []string{redisIndexKey}, nowMS).Text()
	if err != nil {
		return nil, err
	}

	// The script returns each prior state as a flat HGETALL field list.
	var flat [][]string
	if err := json.Unmarshal([]byte(raw), &flat); err != nil {
		// cjson encodes an empty table as {}, not [].
		if raw == "{}" {
			return nil, nil
		}
		return nil, fmt.Errorf("decode sweep result: %w", err)
	}

	expired := make([]*model.ResourceRecord, 0, len(flat))
	for _, pairs := range flat {
		fields := make(map[string]string, len(pairs)/2)
		for i := 0; i+1 < len(pairs); i += 2 {
			fields[pairs[i]] = pairs[i+1]
		}
		rec, err := recordFromHash(fields)
		if err != nil {
			return nil, err
		}
		expired = append(expired, rec)
	}

	sort.Slice(expired, func(i, j int) bool {
		if expired[i].BldgID != expired[j].BldgID {
			return expired[i].BldgID < expired[j].BldgID
		}
		return expired[i].ResourceID < expired[j].ResourceID
	})
	return expired, nil
}

func (s *RedisStore) SeedDefinitions(ctx context.Context, defs []model.ResourceDefinition) (int, error) {
	added := 0
	for _, def := range defs {
		n, err := redisSeedOne.Run(ctx, s.client,
			[]string{redisKey(def.Key()), redisIndexKey},
			def.BldgID, def.ResourceID, int(def.ResourceType), def.MaxTimeoutMS, def.DefaultTimeoutMS,
		).Int()
		if err != nil {
			return 0, err
		}
		added += n
	}
	return added, nil
}

func recordFromHash(fields map[string]string) (*model.ResourceRecord, error) {
	parse := func(name string) (int64, error) {
		v, ok := fields[name]
		if !ok || v == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", name, err)
		}
		return n, nil
	}

	rec := &model.ResourceRecord{}
	rec.BldgID = fields["bldg_id"]
	rec.ResourceID = fields["resource_id"]
	rec.LockedBy = fields["locked_by"]

	resourceType, err := parse("resource_type")
	if err != nil {
		return nil, err
	}
	rec.ResourceType = model.ResourceType(resourceType)

	if rec.MaxTimeoutMS, err = parse("max_timeout"); err != nil {
		return nil, err
	}
	if rec.DefaultTimeoutMS, err = parse("default_timeout"); err != nil {
		return nil, err
	}
	if rec.LockedTimeMS, err = parse("locked_time"); err != nil {
		return nil, err
	}
	if rec.ExpirationTimeMS, err = parse("expiration_time"); err != nil {
		return nil, err
	}
	return rec, nil
}

var _ Store = (*RedisStore)(nil)
