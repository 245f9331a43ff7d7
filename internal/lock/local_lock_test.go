// internal/lock/local_lock_test.go
package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLocalLocker_MutualExclusion(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle, err := locker.Acquire(ctx, "product-1", 2*time.Second, time.Second)
			if err != nil {
				t.Errorf("unexpected acquire error: %v", err)
				return
			}
			// 临界区：无保护的读改写，靠锁保证不丢更新
			v := counter
			time.Sleep(time.Millisecond)
			counter = v + 1
			if err := locker.Release(ctx, handle); err != nil {
				t.Errorf("unexpected release error: %v", err)
			}
		}()
	}
	wg.Wait()

	if counter != 20 {
		t.Fatalf("expected counter 20, got %d", counter)
	}
}

func TestLocalLocker_WaitTimeout(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	handle, err := locker.Acquire(ctx, "product-1", time.Second, 30*time.Second)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	defer locker.Release(ctx, handle)

	start := time.Now()
	_, err = locker.Acquire(ctx, "product-1", 50*time.Millisecond, time.Second)
	if !errors.Is(err, ErrNotObtained) {
		t.Fatalf("expected ErrNotObtained, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("returned before wait window elapsed: %v", elapsed)
	}
}

func TestLocalLocker_DifferentKeysDoNotBlock(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	h1, err := locker.Acquire(ctx, "product-1", time.Second, time.Second)
	if err != nil {
		t.Fatalf("acquire product-1 failed: %v", err)
	}
	defer locker.Release(ctx, h1)

	h2, err := locker.Acquire(ctx, "product-2", 10*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("acquire product-2 should not block: %v", err)
	}
	locker.Release(ctx, h2)
}

func TestLocalLocker_LeaseExpiryAllowsReacquire(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "product-1", time.Second, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	// 租约到期后其他调用方必须能抢到锁
	fresh, err := locker.Acquire(ctx, "product-1", time.Second, time.Second)
	if err != nil {
		t.Fatalf("acquire after lease expiry failed: %v", err)
	}

	// 过期句柄的释放不能影响新持有者
	if err := locker.Release(ctx, stale); err != nil {
		t.Fatalf("stale release should be no-op: %v", err)
	}
	_, err = locker.Acquire(ctx, "product-1", 30*time.Millisecond, time.Second)
	if !errors.Is(err, ErrNotObtained) {
		t.Fatalf("fresh holder should still hold the lock, got %v", err)
	}

	locker.Release(ctx, fresh)
}

func TestLocalLocker_DoubleReleaseIsNoop(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	handle, err := locker.Acquire(ctx, "product-1", time.Second, time.Second)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := locker.Release(ctx, handle); err != nil {
		t.Fatalf("first release failed: %v", err)
	}
	if err := locker.Release(ctx, handle); err != nil {
		t.Fatalf("second release should be no-op: %v", err)
	}
	if err := locker.Release(ctx, nil); err != nil {
		t.Fatalf("nil handle release should be no-op: %v", err)
	}
}

func TestLocalLocker_ContextCancellation(t *testing.T) {
	locker := NewLocalLocker()

	handle, err := locker.Acquire(context.Background(), "product-1", time.Second, 30*time.Second)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	defer locker.Release(context.Background(), handle)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = locker.Acquire(ctx, "product-1", 10*time.Second, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
