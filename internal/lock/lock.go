// internal/lock/lock.go
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotObtained 表示在等待时间内没有抢到锁。
// 这是一个正常的业务分支，调用方应按“锁不可用”处理而不是当作故障。
var ErrNotObtained = errors.New("lock: not obtained within wait time")

// Handle 表示一次成功的加锁。持有者凭 Token 释放，
// 租约到期后后端会自动释放，防止持有者崩溃导致死锁。
type Handle struct {
	Key         string
	Token       string
	LeaseExpiry time.Time
}

// Locker 定义了带租约的命名互斥锁。
// Acquire 最多阻塞 waitTime；抢到锁后 leaseTime 到期自动释放。
// Release 是幂等的：句柄已不再持有锁时是 no-op。
type Locker interface {
	Acquire(ctx context.Context, key string, waitTime, leaseTime time.Duration) (*Handle, error)
	Release(ctx context.Context, h *Handle) error
}
