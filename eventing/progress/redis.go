package progress

import (
	"context"
	stdErrors "errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	"evoq/eventing"
)

// RedisTracker 基于 Redis Hash 的进度追踪
//
// 每个消费者一个 Hash（key = <prefix><consumerID>），field 为聚合身份，
// value 为已处理到的版本号。适用于消费者与运行时跨进程部署的场景。
type RedisTracker struct {
	client    redis.UniversalClient
	keyPrefix string
}

// RedisTrackerConfig Redis 进度追踪配置
type RedisTrackerConfig struct {
	// Client 已建立的 Redis 客户端
	Client redis.UniversalClient

	// KeyPrefix Hash key 前缀，默认 "evoq:progress:"
	KeyPrefix string
}

// NewRedisTracker 创建 Redis 进度追踪
func NewRedisTracker(cfg RedisTrackerConfig) (*RedisTracker, error) {
	if cfg.Client == nil {
		return nil, eventing.NewStoreFailedError("redis client cannot be nil", nil)
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "evoq:progress:"
	}
	return &RedisTracker{
		client:    cfg.Client,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

// ProcessedVersion 查询进度
func (t *RedisTracker) ProcessedVersion(ctx context.Context, consumerID, aggregateID string) (uint64, error) {
	raw, err := t.client.HGet(ctx, t.key(consumerID), aggregateID).Result()
	if err != nil {
		if stdErrors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, eventing.NewStoreFailedError("query processed version failed", err)
	}
	version, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, eventing.NewStoreFailedError("parse processed version failed", err)
	}
	return version, nil
}

// Record 记录进度
//
// 使用 Lua 脚本保证“只前进不回退”，并发记录时保留较大的版本号。
func (t *RedisTracker) Record(ctx context.Context, consumerID, aggregateID string, version uint64) error {
	const script = `
		local current = redis.call('HGET', KEYS[1], ARGV[1])
		if current == false or tonumber(current) < tonumber(ARGV[2]) then
			redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
		end
		return 1`
	err := t.client.Eval(ctx, script, []string{t.key(consumerID)}, aggregateID, strconv.FormatUint(version, 10)).Err()
	if err != nil {
		return eventing.NewStoreFailedError("record processed version failed", err)
	}
	return nil
}

func (t *RedisTracker) key(consumerID string) string {
	return t.keyPrefix + consumerID
}

// 确认实现接口
var (
	_ ITracker  = (*RedisTracker)(nil)
	_ IRecorder = (*RedisTracker)(nil)
)
