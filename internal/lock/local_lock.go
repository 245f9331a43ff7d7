// internal/lock/local_lock.go
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// localEntry 记录一把被持有的锁
type localEntry struct {
	token  string
	expiry time.Time
}

// LocalLocker 是进程内的 Locker 实现，语义与分布式实现一致：
// 带租约、bounded wait、按 token 幂等释放。
// 用于单元测试和单实例部署，不提供跨进程互斥。
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]localEntry
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localEntry)}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, waitTime, leaseTime time.Duration) (*Handle, error) {
	token := uuid.New().String()
	deadline := time.Now().Add(waitTime)

	for {
		if l.tryLock(key, token, leaseTime) {
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
		wait := 2 * time.Millisecond
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

// tryLock 在锁空闲或租约已过期时抢占
func (l *LocalLocker) tryLock(key, token string, leaseTime time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.held[key]
	if ok && time.Now().Before(entry.expiry) {
		return false
	}
	l.held[key] = localEntry{token: token, expiry: time.Now().Add(leaseTime)}
	return true
}

// Release 只在 token 仍然匹配时释放，重复释放和过期句柄都是 no-op
func (l *LocalLocker) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.held[h.Key]; ok && entry.token == h.Token {
		delete(l.held, h.Key)
	}
	return nil
}
