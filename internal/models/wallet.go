package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction type tags. Kept verbatim from the product's audit log so
// existing statements remain readable.
const (
	TxTypeDeposit       = "充值"     // deposit
	TxTypeStakeLock     = "任务锁定"   // stake locked on task creation
	TxTypeStakeUnlock   = "任务解锁"   // stake unlocked on cancel
	TxTypeStakeRefund   = "任务成功返还" // stake returned after approval
	TxTypeStakeForfeit  = "任务失败扣款" // stake forfeited after rejection
	TxTypeStakeTimedOut = "任务失败"   // stake forfeited after deadline expiry
)

// Wallet is the per-user ledger account. Balance holds spendable funds only;
// locked funds are tracked in LockedAmount and must equal the sum of stakes
// on that user's in-progress and submitted tasks.
type Wallet struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"user_id"`
	Balance        decimal.Decimal `json:"balance"`
	LockedAmount   decimal.Decimal `json:"locked_amount"`
	TotalDeposited decimal.Decimal `json:"total_deposited"`
	TotalDonated   decimal.Decimal `json:"total_donated"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// AvailableBalance is the amount spendable on new stakes. Locked funds are
// already excluded from Balance.
func (w *Wallet) AvailableBalance() decimal.Decimal {
	return w.Balance
}

// MarshalJSON includes the derived available_balance so API clients never
// have to recompute spendable funds themselves.
func (w Wallet) MarshalJSON() ([]byte, error) {
	type alias Wallet
	return json.Marshal(struct {
		alias
		AvailableBalance decimal.Decimal `json:"available_balance"`
	}{alias(w), w.AvailableBalance()})
}

// Transaction is one immutable entry in the wallet audit log. Amount is
// signed: negative for money leaving the spendable/locked pool, positive
// for money returning to it.
type Transaction struct {
	ID          uuid.UUID       `json:"id"`
	WalletID    uuid.UUID       `json:"wallet_id"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	TaskID      *uuid.UUID      `json:"task_id,omitempty"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
