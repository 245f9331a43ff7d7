// internal/lock/redis_lock.go
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/hunanlzp/shopx-sub001/internal/pkg/redis"
)

const (
	releaseScriptName = "lock_release"

	// acquirePollInterval 是抢锁失败后的重试间隔
	acquirePollInterval = 50 * time.Millisecond
)

// releaseScript 只在 token 仍然属于自己时删除 key，
// 避免租约过期后误删别人新抢到的锁
var releaseScript = `
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
else
    return 0
end
`

// RedisLocker 基于 Redis SET NX PX 实现 Locker。
// 锁的值是每次加锁生成的随机 token，释放时要校验 token。
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker 创建 Redis 锁实现，并注册释放脚本
func NewRedisLocker(client *redis.Client) (*RedisLocker, error) {
	if err := client.LoadScriptFromContent(releaseScriptName, releaseScript); err != nil {
		return nil, fmt.Errorf("failed to load lock release script: %w", err)
	}
	return &RedisLocker{client: client}, nil
}

// Acquire 在 waitTime 内轮询 SET NX PX；抢不到返回 ErrNotObtained
func (l *RedisLocker) Acquire(ctx context.Context, key string, waitTime, leaseTime time.Duration) (*Handle, error) {
	token := uuid.New().String()
	deadline := time.Now().Add(waitTime)

	for {
		ok, err := l.client.GetClient().SetNX(ctx, key, token, leaseTime).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx on %s: %w", key, err)
		}
		if ok {
			return &Handle{
				Key:         key,
				Token:       token,
				LeaseExpiry: time.Now().Add(leaseTime),
			}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrNotObtained
		}
		wait := acquirePollInterval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release 释放锁；token 不匹配（已过期或被他人持有）时静默返回
func (l *RedisLocker) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	_, err := l.client.RunScript(ctx, releaseScriptName, []string{h.Key}, h.Token)
	if err != nil && err != goredis.Nil {
		return fmt.Errorf("redis release lock %s: %w", h.Key, err)
	}
	return nil
}
