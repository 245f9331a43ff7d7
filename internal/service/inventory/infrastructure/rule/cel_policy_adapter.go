// internal/service/inventory/infrastructure/rule/cel_policy_adapter.go
package rule

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/domain/port"
)

// CELPolicyAdapter 用 CEL 表达式实现 port.ReservePolicy。
// 规则在构造时编译一次，Allow 只做求值，
// 例如 "quantity <= 5 && product_id != ''"。
type CELPolicyAdapter struct {
	program cel.Program
	rule    string
}

// NewCELPolicyAdapter 编译规则表达式，表达式必须返回 bool
func NewCELPolicyAdapter(ruleExpr string) (*CELPolicyAdapter, error) {
	env, err := cel.NewEnv(
		cel.Variable("user_id", cel.StringType),
		cel.Variable("product_id", cel.StringType),
		cel.Variable("quantity", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}
	ast, issues := env.Compile(ruleExpr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile reserve rule %q: %w", ruleExpr, issues.Err())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build cel program: %w", err)
	}
	return &CELPolicyAdapter{program: program, rule: ruleExpr}, nil
}

// Allow 对单次预占请求求值
func (a *CELPolicyAdapter) Allow(ctx context.Context, fact port.ReserveFact) (bool, error) {
	out, _, err := a.program.ContextEval(ctx, map[string]interface{}{
		"user_id":    fact.UserID,
		"product_id": fact.ProductID,
		"quantity":   fact.Quantity,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate reserve rule %q: %w", a.rule, err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("reserve rule %q did not return bool, got %T", a.rule, out.Value())
	}
	return allowed, nil
}
