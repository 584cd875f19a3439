package redisx

import (
	"context"
	"strings"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	TypeStandalone = "standalone"
	TypeCluster    = "cluster"
	TypeSentinel   = "sentinel"
	TypeMiniredis  = "miniredis"
)

type RedisConfig struct {
	// Enable 为 false 时不创建客户端，相关功能退化为进程内实现
	Enable           bool   `json:"enable" mapstructure:"enable" yaml:"enable"`
	Address          string `json:"address" mapstructure:"address" yaml:"address"`
	Username         string `json:"username" mapstructure:"username" yaml:"username"`
	Password         string `json:"password" mapstructure:"password" yaml:"password"`
	DB               int    `json:"db" mapstructure:"db" yaml:"db"`
	RedisType        string `json:"redisType" mapstructure:"redis-type" yaml:"redis-type"`
	MasterName       string `json:"masterName" mapstructure:"master-name" yaml:"master-name"`
	SentinelUsername string `json:"sentinelUsername" mapstructure:"sentinel-username" yaml:"sentinel-username"`
	SentinelPassword string `json:"sentinelPassword" mapstructure:"sentinel-password" yaml:"sentinel-password"`
	KeyPrefix        string `json:"keyPrefix" mapstructure:"key-prefix" yaml:"key-prefix"`
}

func (cfg *RedisConfig) Prepare() {
	if cfg.RedisType == "" {
		cfg.RedisType = TypeStandalone
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "agentcore"
	}
}

// Key 拼接带前缀的 key
func (cfg *RedisConfig) Key(parts ...string) string {
	return cfg.KeyPrefix + ":" + strings.Join(parts, ":")
}

// Redis 同时覆盖命令与 Pub/Sub，单机、集群、哨兵客户端都满足
type Redis redis.UniversalClient

// NewRedis 按类型创建 redis 客户端并 ping，miniredis 类型用于本地开发与测试
func NewRedis(ctx context.Context, cfg RedisConfig) (Redis, error) {
	cfg.Prepare()
	var redisClient Redis

	switch cfg.RedisType {
	case TypeStandalone:
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})

	case TypeCluster:
		redisClient = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    strings.Split(cfg.Address, ","),
			Username: cfg.Username,
			Password: cfg.Password,
		})

	case TypeSentinel:
		redisClient = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       cfg.MasterName,
			SentinelAddrs:    strings.Split(cfg.Address, ","),
			Username:         cfg.Username,
			Password:         cfg.Password,
			DB:               cfg.DB,
			SentinelUsername: cfg.SentinelUsername,
			SentinelPassword: cfg.SentinelPassword,
		})

	case TypeMiniredis:
		s, err := miniredis.Run()
		if err != nil {
			return nil, errors.WithMessage(err, "failed to start miniredis")
		}
		redisClient = redis.NewClient(&redis.Options{
			Addr: s.Addr(),
		})

	default:
		return nil, errors.Errorf("redis type is illegal: %s", cfg.RedisType)
	}

	err := redisClient.Ping(ctx).Err()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to ping redis %s", cfg.Address)
	}
	return redisClient, nil
}
