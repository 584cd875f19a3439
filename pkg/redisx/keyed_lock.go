package redisx

import (
	"context"
	"time"

	"github.com/hatcher/agentcore/pkg/logs"
)

// KeyedLocker 按 key 获取分布式锁，用于跨进程串行化同一会话的对话轮次
type KeyedLocker struct {
	client     Redis
	prefix     string
	expiration time.Duration
}

func NewKeyedLocker(client Redis, prefix string, expiration time.Duration) *KeyedLocker {
	if expiration == 0 {
		expiration = 30 * time.Second
	}
	return &KeyedLocker{client: client, prefix: prefix, expiration: expiration}
}

// Lock 获取 key 对应的锁，失败立即返回 ErrLockNotAcquired；返回的函数用于释放锁
func (k *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	l := NewDistributedLock(k.client, LockOptions{
		Key:           k.lockKey(key),
		Expiration:    k.expiration,
		AutoRenew:     true,
		MaxRetryCount: 1,
	})
	if err := l.Lock(ctx); err != nil {
		return nil, err
	}
	return func() {
		if err := l.Unlock(context.Background()); err != nil {
			logs.Warnf("release lock failed, key: %s, error: %v", key, err)
		}
	}, nil
}

// Held 判断 key 对应的锁是否被任一进程持有
func (k *KeyedLocker) Held(ctx context.Context, key string) (bool, error) {
	n, err := k.client.Exists(ctx, k.lockKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (k *KeyedLocker) lockKey(key string) string {
	return k.prefix + ":lock:" + key
}
