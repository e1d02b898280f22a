// Package balance gates turns and tool calls on a user's prepaid balance and
// is the only caller of store.Store.ApplyBalanceOp — every charge and
// refund is synchronous and transactional, never write-behind, per
// store.Store's doc comment on ApplyBalanceOp.
package balance

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/tollgate/internal/llm"
	"github.com/nextlevelbuilder/tollgate/internal/store"
)

// ErrInsufficientBalance is returned by Check when a user's balance is zero
// or negative, and by CheckMinimum when it is below the given floor.
var ErrInsufficientBalance = fmt.Errorf("insufficient balance")

// Gate enforces the balance invariant in front of turns and paid tool
// calls.
type Gate struct {
	store store.Store
}

func New(st store.Store) *Gate {
	return &Gate{store: st}
}

// Check rejects if a user's balance is at or below zero. Callers invoke this
// before starting a turn and, for paid tools, again immediately before
// dispatch — so a charge from an earlier call in the same batch is already
// reflected when the next call checks.
func (g *Gate) Check(ctx context.Context, userID string) error {
	u, err := g.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("check balance: %w", err)
	}
	if u.BalanceMicros <= 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// CheckMinimum enforces a tool-specific floor above the general balance ≤ 0
// gate (e.g. self_critique's higher minimum-balance requirement).
func (g *Gate) CheckMinimum(ctx context.Context, userID string, minMicros int64) error {
	u, err := g.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("check balance: %w", err)
	}
	if u.BalanceMicros < minMicros {
		return ErrInsufficientBalance
	}
	return nil
}

// ChargeTurn converts usage into a cost via llm.TurnCost and applies a
// charge operation, returning the balance after the charge.
func (g *Gate) ChargeTurn(ctx context.Context, userID, messageID string, usage llm.Usage, pricing llm.ModelPricing) (int64, error) {
	costUSD := llm.TurnCost(usage, pricing)
	micros := int64(costUSD * 1_000_000)
	after, err := g.store.ApplyBalanceOp(ctx, &store.BalanceOperation{
		UserID:          userID,
		Kind:            store.OpCharge,
		AmountMicros:    -micros,
		Description:     "turn usage",
		LinkedMessageID: messageID,
		InputTokens:     usage.InputTokens,
		OutputTokens:    usage.OutputTokens,
	})
	if err != nil {
		return 0, fmt.Errorf("charge turn: %w", err)
	}
	return after, nil
}

// ChargeTool applies a fixed-cost charge for a paid tool invocation.
func (g *Gate) ChargeTool(ctx context.Context, userID, toolName, messageID string, costMicros int64) (int64, error) {
	after, err := g.store.ApplyBalanceOp(ctx, &store.BalanceOperation{
		UserID:          userID,
		Kind:            store.OpCharge,
		AmountMicros:    -costMicros,
		Description:     "tool: " + toolName,
		LinkedMessageID: messageID,
	})
	if err != nil {
		return 0, fmt.Errorf("charge tool %s: %w", toolName, err)
	}
	return after, nil
}

// Refund reverses a prior charge, e.g. when a tool call fails after
// estimating its cost up front.
func (g *Gate) Refund(ctx context.Context, userID string, amountMicros int64, reason, linkedMessageID string) (int64, error) {
	after, err := g.store.ApplyBalanceOp(ctx, &store.BalanceOperation{
		UserID:          userID,
		Kind:            store.OpRefund,
		AmountMicros:    amountMicros,
		Description:     reason,
		LinkedMessageID: linkedMessageID,
	})
	if err != nil {
		return 0, fmt.Errorf("refund: %w", err)
	}
	return after, nil
}

// Deposit adds funds, e.g. from an admin top-up or payment webhook.
func (g *Gate) Deposit(ctx context.Context, userID string, amountMicros int64, providerChargeID string) (int64, error) {
	after, err := g.store.ApplyBalanceOp(ctx, &store.BalanceOperation{
		UserID:           userID,
		Kind:             store.OpDeposit,
		AmountMicros:     amountMicros,
		Description:      "deposit",
		ProviderChargeID: providerChargeID,
	})
	if err != nil {
		return 0, fmt.Errorf("deposit: %w", err)
	}
	return after, nil
}
