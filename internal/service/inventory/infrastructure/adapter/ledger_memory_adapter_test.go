// internal/service/inventory/infrastructure/adapter/ledger_memory_adapter_test.go
package adapter

import (
	"context"
	"errors"
	"testing"
)

// recordingNotifier 记录收到的到货通知
type recordingNotifier struct {
	calls []string
	err   error
}

func (n *recordingNotifier) NotifyRestock(ctx context.Context, productID string, quantity int64) error {
	n.calls = append(n.calls, productID)
	return n.err
}

func TestLedgerMemoryAdapter_TryReserve(t *testing.T) {
	ledger := NewLedgerMemoryAdapter(nil)
	ctx := context.Background()

	if err := ledger.Provision(ctx, "product-1", 5); err != nil {
		t.Fatalf("provision failed: %v", err)
	}

	ok, err := ledger.TryReserve(ctx, "product-1", 3)
	if err != nil || !ok {
		t.Fatalf("expected successful reserve, got ok=%v err=%v", ok, err)
	}

	// 超量预占必须失败且不动数量
	ok, err = ledger.TryReserve(ctx, "product-1", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("reserve beyond available stock should fail")
	}
	qty, _ := ledger.GetQuantity(ctx, "product-1")
	if qty != 2 {
		t.Fatalf("expected quantity 2, got %d", qty)
	}

	// 未登记的商品视为 0
	ok, err = ledger.TryReserve(ctx, "unknown", 1)
	if err != nil || ok {
		t.Fatalf("reserve on unknown product should fail, got ok=%v err=%v", ok, err)
	}

	if _, err := ledger.TryReserve(ctx, "product-1", 0); err == nil {
		t.Fatal("expected error for non-positive quantity")
	}
}

func TestLedgerMemoryAdapter_RestockNotification(t *testing.T) {
	notifier := &recordingNotifier{}
	ledger := NewLedgerMemoryAdapter(notifier)
	ctx := context.Background()

	if err := ledger.Provision(ctx, "product-1", 1); err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	if ok, _ := ledger.TryReserve(ctx, "product-1", 1); !ok {
		t.Fatal("reserve failed")
	}

	// 0 -> 正数：触发一次到货通知
	if err := ledger.Release(ctx, "product-1", 1); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if len(notifier.calls) != 1 || notifier.calls[0] != "product-1" {
		t.Fatalf("expected one notification for product-1, got %v", notifier.calls)
	}

	// 正数 -> 更大的正数：不触发
	if err := ledger.Release(ctx, "product-1", 2); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("expected no further notifications, got %v", notifier.calls)
	}
}

func TestLedgerMemoryAdapter_NotifierFailureDoesNotFailRelease(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("kafka down")}
	ledger := NewLedgerMemoryAdapter(notifier)
	ctx := context.Background()

	// 通知失败只记日志，库存归还本身必须成功
	if err := ledger.Release(ctx, "product-1", 3); err != nil {
		t.Fatalf("release should succeed despite notifier failure: %v", err)
	}
	qty, _ := ledger.GetQuantity(ctx, "product-1")
	if qty != 3 {
		t.Fatalf("expected quantity 3, got %d", qty)
	}
}
