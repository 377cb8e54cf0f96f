package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	xerrors "OpenTask-Engine/internal/errors"
	"OpenTask-Engine/pkg/logger"
)

// RedisConfig 描述分布式锁使用的 Redis 连接参数。
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	Prefix    string
	TTL       time.Duration
	RetryWait time.Duration
}

// 只有持有者才能释放锁。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 使用 SET NX PX 实现跨进程的按 key 互斥，多个引擎实例共享同一数据目录时使用。
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisLocker 创建 Redis 锁并检查连通性。
func NewRedisLocker(cfg RedisConfig) (*RedisLocker, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "taskengine:lock:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	wait := cfg.RetryWait
	if wait <= 0 {
		wait = 100 * time.Millisecond
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, wait: wait}, nil
}

// Acquire 实现 Locker。锁带有 TTL，持有者崩溃后会自动过期。
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(l.wait)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, xerrors.Wrap(xerrors.CodeResourceUnavailable, ctx.Err(), "等待锁超时: "+key)
			}
			return nil, xerrors.Wrap(xerrors.CodeResourceUnavailable, err, "Redis 加锁失败")
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeResourceUnavailable, ctx.Err(), "等待锁超时: "+key)
		case <-ticker.C:
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			logger.Named("lock").Warn("释放 Redis 锁失败", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}

// Close 关闭 Redis 连接。
func (l *RedisLocker) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}
