// Package config 提供基于环境变量的运行时配置
package config

import (
	"time"

	"github.com/caarlos0/env/v11"

	apperrors "evoq/errors"
)

// Config 运行时配置
type Config struct {
	// DispatchTimeout 默认分发超时
	DispatchTimeout time.Duration `env:"EVOQ_DISPATCH_TIMEOUT" envDefault:"5s"`

	// ConsistencyPollInterval 强一致等待的进度轮询间隔
	ConsistencyPollInterval time.Duration `env:"EVOQ_CONSISTENCY_POLL_INTERVAL" envDefault:"10ms"`

	// AggregateLifespan 聚合实例空闲存活时长，0 表示永不因空闲终止
	AggregateLifespan time.Duration `env:"EVOQ_AGGREGATE_LIFESPAN" envDefault:"0s"`

	// EventStoreDSN SQLite 事件存储数据源
	EventStoreDSN string `env:"EVOQ_EVENT_STORE_DSN" envDefault:"file:evoq.db"`

	// RedisAddr Redis 进度追踪地址，为空时使用内存追踪
	RedisAddr string `env:"EVOQ_REDIS_ADDR"`

	// NATSURL NATS 事件发布地址，为空时不发布
	NATSURL string `env:"EVOQ_NATS_URL"`
}

// Load 从环境变量加载配置并校验
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeConfig, "parse environment failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置项
func (c *Config) Validate() error {
	if c.DispatchTimeout < 0 {
		return apperrors.NewError(apperrors.ErrCodeConfig, "dispatch timeout cannot be negative")
	}
	if c.ConsistencyPollInterval <= 0 {
		return apperrors.NewError(apperrors.ErrCodeConfig, "consistency poll interval must be positive")
	}
	if c.AggregateLifespan < 0 {
		return apperrors.NewError(apperrors.ErrCodeConfig, "aggregate lifespan cannot be negative")
	}
	if c.EventStoreDSN == "" {
		return apperrors.NewError(apperrors.ErrCodeConfig, "event store dsn cannot be empty")
	}
	return nil
}
