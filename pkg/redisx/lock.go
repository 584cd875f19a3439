package redisx

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var ErrLockNotAcquired = errors.New("lock not acquired")

const (
	unlockScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
	refreshScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
)

// DistributedLock 分布式锁
type DistributedLock struct {
	client        Redis
	key           string
	value         string
	expiration    time.Duration
	autoRenew     bool          // 是否自动续期
	renewInterval time.Duration // 续期间隔
	maxRetryCount int           // 最大重试次数
	retryInterval time.Duration // 重试间隔

	mu       sync.Mutex
	watchdog chan struct{} // 用于停止自动续期
}

// LockOptions 锁配置选项
type LockOptions struct {
	Key           string        // 锁的key
	Value         string        // 锁的value（用于标识锁持有者，为空则自动生成UUID）
	Expiration    time.Duration // 锁过期时间，默认30秒
	AutoRenew     bool          // 是否自动续期，默认false
	RenewInterval time.Duration // 续期间隔，默认为过期时间的1/3
	MaxRetryCount int           // 获取锁的最大重试次数，默认3次
	RetryInterval time.Duration // 重试间隔，默认100ms
}

// NewDistributedLock 使用配置选项创建分布式锁
func NewDistributedLock(client Redis, opts LockOptions) *DistributedLock {
	if opts.Key == "" {
		opts.Key = "distributed_lock:" + uuid.New().String()
	}
	if opts.Value == "" {
		opts.Value = uuid.New().String()
	}
	if opts.Expiration == 0 {
		opts.Expiration = 30 * time.Second
	}
	if opts.RenewInterval == 0 {
		opts.RenewInterval = opts.Expiration / 3
	}
	if opts.MaxRetryCount == 0 {
		opts.MaxRetryCount = 3
	}
	if opts.RetryInterval == 0 {
		opts.RetryInterval = 100 * time.Millisecond
	}

	return &DistributedLock{
		client:        client,
		key:           opts.Key,
		value:         opts.Value,
		expiration:    opts.Expiration,
		autoRenew:     opts.AutoRenew,
		renewInterval: opts.RenewInterval,
		maxRetryCount: opts.MaxRetryCount,
		retryInterval: opts.RetryInterval,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	result, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, errors.WithMessagef(err, "获取锁失败, key: %s", l.key)
	}
	if result && l.autoRenew {
		l.startWatchdog()
	}
	return result, nil
}

// Lock 阻塞式获取锁，带重试机制
func (l *DistributedLock) Lock(ctx context.Context) error {
	for i := 0; i < l.maxRetryCount; i++ {
		acquired, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}
		if i == l.maxRetryCount-1 {
			break
		}
		select {
		case <-ctx.Done():
			return errors.WithMessage(ctx.Err(), "获取锁被取消")
		case <-time.After(l.retryInterval):
		}
	}
	return errors.WithMessagef(ErrLockNotAcquired, "已重试 %d 次, key: %s", l.maxRetryCount, l.key)
}

// Unlock 释放锁（使用Lua脚本保证原子性，只能释放自己持有的锁）
func (l *DistributedLock) Unlock(ctx context.Context) error {
	l.stopWatchdog()

	result, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	if err != nil {
		return errors.WithMessagef(err, "释放锁失败, key: %s", l.key)
	}
	if result == int64(0) {
		return errors.Errorf("释放锁失败：锁不存在或已被其他持有者占用, key: %s", l.key)
	}
	return nil
}

// Refresh 刷新锁的过期时间
func (l *DistributedLock) Refresh(ctx context.Context) error {
	result, err := l.client.Eval(ctx, refreshScript, []string{l.key}, l.value, l.expiration.Milliseconds()).Result()
	if err != nil {
		return errors.WithMessagef(err, "刷新锁失败, key: %s", l.key)
	}
	if result == int64(0) {
		return errors.Errorf("刷新锁失败：锁不存在或已被其他持有者占用, key: %s", l.key)
	}
	return nil
}

// startWatchdog 启动看门狗，自动续期；续期用独立的 context，避免调用方 ctx 取消后锁提前过期
func (l *DistributedLock) startWatchdog() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watchdog != nil {
		return
	}
	stop := make(chan struct{})
	l.watchdog = stop

	go func() {
		ticker := time.NewTicker(l.renewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := l.Refresh(context.Background()); err != nil {
					// 续期失败，说明锁可能已经被释放或被其他持有者占用
					return
				}
			}
		}
	}()
}

func (l *DistributedLock) stopWatchdog() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watchdog != nil {
		close(l.watchdog)
		l.watchdog = nil
	}
}
