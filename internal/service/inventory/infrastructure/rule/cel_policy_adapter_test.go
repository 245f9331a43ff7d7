// internal/service/inventory/infrastructure/rule/cel_policy_adapter_test.go
package rule

import (
	"context"
	"testing"

	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/domain/port"
)

func TestCELPolicyAdapter_Allow(t *testing.T) {
	policy, err := NewCELPolicyAdapter(`quantity <= 5 && user_id != ""`)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	tests := []struct {
		name string
		fact port.ReserveFact
		want bool
	}{
		{"within limit", port.ReserveFact{UserID: "user-1", ProductID: "product-1", Quantity: 5}, true},
		{"over limit", port.ReserveFact{UserID: "user-1", ProductID: "product-1", Quantity: 6}, false},
		{"anonymous user", port.ReserveFact{UserID: "", ProductID: "product-1", Quantity: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := policy.Allow(context.Background(), tt.fact)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCELPolicyAdapter_CompileError(t *testing.T) {
	if _, err := NewCELPolicyAdapter("quantity <=="); err == nil {
		t.Fatal("expected compile error for malformed rule")
	}
	// 未声明的变量同样在编译期报错
	if _, err := NewCELPolicyAdapter("unknown_field > 0"); err == nil {
		t.Fatal("expected compile error for unknown variable")
	}
}

func TestCELPolicyAdapter_NonBoolResult(t *testing.T) {
	policy, err := NewCELPolicyAdapter("quantity + 1")
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if _, err := policy.Allow(context.Background(), port.ReserveFact{UserID: "u", ProductID: "p", Quantity: 1}); err == nil {
		t.Fatal("expected error for non-bool rule result")
	}
}
