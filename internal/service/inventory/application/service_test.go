// internal/service/inventory/application/service_test.go
package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"

	"github.com/hunanlzp/shopx-sub001/internal/lock"
	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/domain"
	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/domain/port"
	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/infrastructure"
	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/infrastructure/adapter"
	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/infrastructure/rule"
)

type testEnv struct {
	svc    *ReservationService
	repo   *infrastructure.MemoryReservationRepository
	ledger *adapter.LedgerMemoryAdapter
	locker *lock.LocalLocker
}

func newTestEnv(t *testing.T, policy port.ReservePolicy) *testEnv {
	t.Helper()
	repo := infrastructure.NewMemoryReservationRepository()
	ledger := adapter.NewLedgerMemoryAdapter(nil)
	locker := lock.NewLocalLocker()
	metrics := NewMetrics("test", prometheus.NewRegistry())
	svc := NewReservationService(repo, ledger, locker, policy, metrics, otel.Tracer("test"), Config{
		LockWaitTime:  500 * time.Millisecond,
		LockLeaseTime: 5 * time.Second,
		DefaultTTL:    time.Minute,
	})
	return &testEnv{svc: svc, repo: repo, ledger: ledger, locker: locker}
}

func (e *testEnv) mustProvision(t *testing.T, productID string, quantity int64) {
	t.Helper()
	if err := e.svc.ProvisionStock(context.Background(), productID, quantity); err != nil {
		t.Fatalf("provision failed: %v", err)
	}
}

func (e *testEnv) mustQuantity(t *testing.T, productID string, want int64) {
	t.Helper()
	got, err := e.svc.GetQuantity(context.Background(), productID)
	if err != nil {
		t.Fatalf("get quantity failed: %v", err)
	}
	if got != want {
		t.Fatalf("expected quantity %d, got %d", want, got)
	}
}

func TestReserve_Success(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.mustProvision(t, "product-1", 10)

	r, err := env.svc.Reserve(ctx, "user-1", "product-1", 3, 0)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if r.Status != domain.StatusPending {
		t.Fatalf("expected PENDING, got %s", r.Status)
	}
	env.mustQuantity(t, "product-1", 7)

	// 落库校验
	stored, err := env.svc.GetReservation(ctx, r.ID)
	if err != nil {
		t.Fatalf("get reservation failed: %v", err)
	}
	if stored.Quantity != 3 || stored.ProductID != "product-1" {
		t.Fatalf("stored reservation mismatch: %+v", stored)
	}
}

func TestReserve_InsufficientStock(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.mustProvision(t, "product-1", 2)

	_, err := env.svc.Reserve(ctx, "user-1", "product-1", 3, 0)
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	// 失败不能扣减库存
	env.mustQuantity(t, "product-1", 2)
}

func TestReserve_ConcurrentOversell(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.mustProvision(t, "product-1", 10)

	// 3 个并发请求各要 4 件，库存 10 件只够 2 单
	var wg sync.WaitGroup
	results := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Reserve(ctx, "user-1", "product-1", 4, 0)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, insufficient int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientStock):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 2 || insufficient != 1 {
		t.Fatalf("expected 2 successes and 1 insufficient, got %d/%d", succeeded, insufficient)
	}
	env.mustQuantity(t, "product-1", 2)
}

func TestReserve_LockUnavailable(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.mustProvision(t, "product-1", 10)

	// 模拟别的进程长期占着商品锁
	handle, err := env.locker.Acquire(ctx, "lock:stock:{product-1}", time.Second, 30*time.Second)
	if err != nil {
		t.Fatalf("pre-acquire failed: %v", err)
	}
	defer env.locker.Release(ctx, handle)

	_, err = env.svc.Reserve(ctx, "user-1", "product-1", 1, 0)
	if !errors.Is(err, domain.ErrLockUnavailable) {
		t.Fatalf("expected ErrLockUnavailable, got %v", err)
	}
	env.mustQuantity(t, "product-1", 10)
}

func TestReserve_PolicyRejected(t *testing.T) {
	policy, err := rule.NewCELPolicyAdapter("quantity <= 5")
	if err != nil {
		t.Fatalf("compile policy failed: %v", err)
	}
	env := newTestEnv(t, policy)
	ctx := context.Background()
	env.mustProvision(t, "product-1", 100)

	_, err = env.svc.Reserve(ctx, "user-1", "product-1", 6, 0)
	if !errors.Is(err, domain.ErrPolicyRejected) {
		t.Fatalf("expected ErrPolicyRejected, got %v", err)
	}
	env.mustQuantity(t, "product-1", 100)

	if _, err := env.svc.Reserve(ctx, "user-1", "product-1", 5, 0); err != nil {
		t.Fatalf("reserve within policy failed: %v", err)
	}
}

func TestConfirm(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.mustProvision(t, "product-1", 10)

	r, err := env.svc.Reserve(ctx, "user-1", "product-1", 4, 0)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	confirmed, err := env.svc.Confirm(ctx, r.ID)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if confirmed.Status != domain.StatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", confirmed.Status)
	}
	// 确认不归还库存
	env.mustQuantity(t, "product-1", 6)

	// 已确认的单子不能再取消
	_, err = env.svc.Cancel(ctx, r.ID)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	env.mustQuantity(t, "product-1", 6)
}

func TestConfirm_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.svc.Confirm(context.Background(), "no-such-id")
	if !errors.Is(err, domain.ErrReservationNotFound) {
		t.Fatalf("expected ErrReservationNotFound, got %v", err)
	}
}

func TestCancel_RestoresStockOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.mustProvision(t, "product-1", 10)

	r, err := env.svc.Reserve(ctx, "user-1", "product-1", 4, 0)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	cancelled, err := env.svc.Cancel(ctx, r.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}
	env.mustQuantity(t, "product-1", 10)

	// 重复取消必须被状态机挡住，库存不能二次归还
	_, err = env.svc.Cancel(ctx, r.ID)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	env.mustQuantity(t, "product-1", 10)
}

func TestSweepExpired(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.mustProvision(t, "product-1", 10)

	r1, err := env.svc.Reserve(ctx, "user-1", "product-1", 3, time.Minute)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	r2, err := env.svc.Reserve(ctx, "user-2", "product-1", 2, time.Hour)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	// 用未来时刻触发回收，r1 已到期而 r2 还没有
	now := time.Now().Add(30 * time.Minute)
	count, err := env.svc.SweepExpired(ctx, now)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 swept, got %d", count)
	}
	env.mustQuantity(t, "product-1", 8)

	expired, err := env.svc.GetReservation(ctx, r1.ID)
	if err != nil {
		t.Fatalf("get reservation failed: %v", err)
	}
	if expired.Status != domain.StatusExpired {
		t.Fatalf("expected EXPIRED, got %s", expired.Status)
	}
	pending, err := env.svc.GetReservation(ctx, r2.ID)
	if err != nil {
		t.Fatalf("get reservation failed: %v", err)
	}
	if pending.Status != domain.StatusPending {
		t.Fatalf("expected PENDING, got %s", pending.Status)
	}

	// 幂等：同一时刻再扫一遍不能重复回收
	count, err = env.svc.SweepExpired(ctx, now)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 swept on second pass, got %d", count)
	}
	env.mustQuantity(t, "product-1", 8)
}

func TestSweepExpired_SkipsConfirmed(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.mustProvision(t, "product-1", 10)

	r, err := env.svc.Reserve(ctx, "user-1", "product-1", 3, time.Minute)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := env.svc.Confirm(ctx, r.ID); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	count, err := env.svc.SweepExpired(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("confirmed reservation must not be swept, got %d", count)
	}
	env.mustQuantity(t, "product-1", 7)
}

func TestProvisionStock_Negative(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.svc.ProvisionStock(context.Background(), "product-1", -1); err == nil {
		t.Fatal("expected error for negative provision")
	}
}

// hookRepo 在第一次 FindByID 返回前执行一次注入的动作，
// 用于制造确定性的并发交错
type hookRepo struct {
	domain.ReservationRepository
	mu   sync.Mutex
	hook func()
}

func (r *hookRepo) setHook(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = fn
}

func (r *hookRepo) FindByID(ctx context.Context, id string) (*domain.Reservation, error) {
	r.mu.Lock()
	fn := r.hook
	r.hook = nil
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
	return r.ReservationRepository.FindByID(ctx, id)
}

func TestConfirm_RacingCancelRejected(t *testing.T) {
	repo := &hookRepo{ReservationRepository: infrastructure.NewMemoryReservationRepository()}
	ledger := adapter.NewLedgerMemoryAdapter(nil)
	locker := lock.NewLocalLocker()
	svc := NewReservationService(repo, ledger, locker, nil,
		NewMetrics("test_confirm_race", prometheus.NewRegistry()), otel.Tracer("test"), Config{
			LockWaitTime:  500 * time.Millisecond,
			LockLeaseTime: 5 * time.Second,
			DefaultTTL:    time.Minute,
		})
	ctx := context.Background()

	if err := svc.ProvisionStock(ctx, "product-1", 10); err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	r, err := svc.Reserve(ctx, "user-1", "product-1", 4, 0)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	// Confirm 的第一次读还看到 PENDING，读完之后整个取消流程插队完成
	var cancelErr error
	repo.setHook(func() {
		_, cancelErr = svc.Cancel(ctx, r.ID)
	})

	_, err = svc.Confirm(ctx, r.ID)
	if cancelErr != nil {
		t.Fatalf("interleaved cancel failed: %v", cancelErr)
	}
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("confirm after completed cancel must fail with ErrInvalidState, got %v", err)
	}

	// 终态不能被覆盖，库存也只归还一次
	stored, err := svc.GetReservation(ctx, r.ID)
	if err != nil {
		t.Fatalf("get reservation failed: %v", err)
	}
	if stored.Status != domain.StatusCancelled {
		t.Fatalf("expected CANCELLED to stay final, got %s", stored.Status)
	}
	qty, err := svc.GetQuantity(ctx, "product-1")
	if err != nil {
		t.Fatalf("get quantity failed: %v", err)
	}
	if qty != 10 {
		t.Fatalf("expected quantity 10, got %d", qty)
	}
}

func TestService_NilMetrics(t *testing.T) {
	svc := NewReservationService(
		infrastructure.NewMemoryReservationRepository(),
		adapter.NewLedgerMemoryAdapter(nil),
		lock.NewLocalLocker(),
		nil, nil, otel.Tracer("test"), Config{
			LockWaitTime:  500 * time.Millisecond,
			LockLeaseTime: 5 * time.Second,
			DefaultTTL:    time.Minute,
		})
	ctx := context.Background()

	if err := svc.ProvisionStock(ctx, "product-1", 5); err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	r, err := svc.Reserve(ctx, "user-1", "product-1", 2, time.Minute)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := svc.Cancel(ctx, r.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if _, err := svc.Reserve(ctx, "user-1", "product-1", 2, time.Minute); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := svc.SweepExpired(ctx, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
}

// failingReleaseLedger 模拟归还库存时账本后端不可用
type failingReleaseLedger struct {
	port.StockLedger
	failRelease bool
}

func (l *failingReleaseLedger) Release(ctx context.Context, productID string, quantity int64) error {
	if l.failRelease {
		return errors.New("ledger backend down")
	}
	return l.StockLedger.Release(ctx, productID, quantity)
}

func TestSweepExpired_ReleaseFailureRaisesRestoreAlarm(t *testing.T) {
	ledger := &failingReleaseLedger{StockLedger: adapter.NewLedgerMemoryAdapter(nil)}
	metrics := NewMetrics("test_restore_alarm", prometheus.NewRegistry())
	svc := NewReservationService(
		infrastructure.NewMemoryReservationRepository(),
		ledger, lock.NewLocalLocker(), nil, metrics, otel.Tracer("test"), Config{
			LockWaitTime:  500 * time.Millisecond,
			LockLeaseTime: 5 * time.Second,
			DefaultTTL:    time.Minute,
		})
	ctx := context.Background()

	if err := svc.ProvisionStock(ctx, "product-1", 10); err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	r, err := svc.Reserve(ctx, "user-1", "product-1", 4, time.Minute)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	ledger.failRelease = true
	now := time.Now().Add(time.Hour)
	count, err := svc.SweepExpired(ctx, now)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("failed restore must not count as swept, got %d", count)
	}

	// 预占单已落 EXPIRED，后续回收不会再捞到这笔数量：
	// 对账告警必须亮起
	if got := testutil.ToFloat64(metrics.StockRestoreFailedTotal); got != 1 {
		t.Fatalf("expected stock_restore_failed_total 1, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.SweepFailedTotal); got != 1 {
		t.Fatalf("expected sweep_failed_total 1, got %v", got)
	}
	stored, err := svc.GetReservation(ctx, r.ID)
	if err != nil {
		t.Fatalf("get reservation failed: %v", err)
	}
	if stored.Status != domain.StatusExpired {
		t.Fatalf("expected EXPIRED, got %s", stored.Status)
	}

	// 后端恢复后这笔数量也不会被自动重试，修复靠人工对账
	ledger.failRelease = false
	count, err = svc.SweepExpired(ctx, now)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 swept on second pass, got %d", count)
	}
	qty, err := svc.GetQuantity(ctx, "product-1")
	if err != nil {
		t.Fatalf("get quantity failed: %v", err)
	}
	if qty != 6 {
		t.Fatalf("expected quantity to stay 6 pending reconciliation, got %d", qty)
	}
}
