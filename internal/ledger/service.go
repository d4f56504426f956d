package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/taskstake/backend/internal/models"
)

var errInsufficientFunds = errors.New("insufficient funds")

// ErrInvalidAmount is returned for deposits outside (0, 10000].
var ErrInvalidAmount = errors.New("amount must be greater than 0 and at most 10000")

// InsufficientFundsError reports how much was available versus required so
// the caller can surface an actionable message.
type InsufficientFundsError struct {
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, required %s", e.Available, e.Required)
}

// IsInsufficientFunds reports whether err is an insufficient-funds failure
// from either the raw repository sentinel or the detailed error.
func IsInsufficientFunds(err error) bool {
	var ife *InsufficientFundsError
	return errors.Is(err, errInsufficientFunds) || errors.As(err, &ife)
}

// walletStore is the slice of the repository the service needs.
type walletStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error)
	LockStake(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, amount decimal.Decimal, description string) error
	UnlockToBalance(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, amount decimal.Decimal, txType, description string) error
	Forfeit(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, amount decimal.Decimal, txType, description string) error
	Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, description string) (*models.Wallet, error)
	ActiveStakeSum(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (decimal.Decimal, error)
	SetReconciled(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, locked, delta decimal.Decimal) (*models.Wallet, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Transaction, int, error)
}

var _ walletStore = (*Repository)(nil)

type Service interface {
	Wallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*models.Wallet, error)
	Transactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Transaction, int, error)

	// Stake movements run inside the caller's transaction so the task
	// status flip and the ledger mutation commit or roll back together.
	LockStake(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, amount decimal.Decimal, description string) error
	UnlockStake(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, amount decimal.Decimal, description string) error
	RefundStake(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, amount decimal.Decimal, description string) error
	ForfeitStake(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, amount decimal.Decimal, timedOut bool, description string) error

	// Reconcile recomputes locked_amount from active task stakes and
	// repairs any drift, returning the repaired wallet and the drift delta
	// (stored minus recomputed; zero means the invariant held).
	Reconcile(ctx context.Context, userID uuid.UUID) (*models.Wallet, decimal.Decimal, error)
}

type service struct {
	repo walletStore
	log  *slog.Logger
}

func NewService(repo walletStore, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{repo: repo, log: log}
}

var _ Service = (*service)(nil)

func (s *service) Wallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return s.repo.GetByUserID(ctx, userID)
}

func (s *service) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*models.Wallet, error) {
	if !amount.IsPositive() || amount.GreaterThan(models.MaxBetAmount) {
		return nil, ErrInvalidAmount
	}
	return s.repo.Deposit(ctx, userID, amount, fmt.Sprintf("虚拟充值 %s 元", amount))
}

func (s *service) Transactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Transaction, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListTransactions(ctx, userID, limit, offset)
}

func (s *service) LockStake(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, amount decimal.Decimal, description string) error {
	err := s.repo.LockStake(ctx, tx, userID, taskID, amount, description)
	if errors.Is(err, errInsufficientFunds) {
		available := decimal.Zero
		if w, werr := s.repo.GetByUserID(ctx, userID); werr == nil {
			available = w.AvailableBalance()
		}
		return &InsufficientFundsError{Available: available, Required: amount}
	}
	return err
}

func (s *service) UnlockStake(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, amount decimal.Decimal, description string) error {
	return s.repo.UnlockToBalance(ctx, tx, userID, taskID, amount, models.TxTypeStakeUnlock, description)
}

func (s *service) RefundStake(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, amount decimal.Decimal, description string) error {
	return s.repo.UnlockToBalance(ctx, tx, userID, taskID, amount, models.TxTypeStakeRefund, description)
}

func (s *service) ForfeitStake(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, amount decimal.Decimal, timedOut bool, description string) error {
	txType := models.TxTypeStakeForfeit
	if timedOut {
		txType = models.TxTypeStakeTimedOut
	}
	return s.repo.Forfeit(ctx, tx, userID, taskID, amount, txType, description)
}

func (s *service) Reconcile(ctx context.Context, userID uuid.UUID) (*models.Wallet, decimal.Decimal, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, decimal.Zero, err
	}
	defer tx.Rollback(ctx)

	w, err := s.repo.GetByUserIDForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	correct, err := s.repo.ActiveStakeSum(ctx, tx, userID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	delta := w.LockedAmount.Sub(correct)
	if delta.IsZero() {
		return w, decimal.Zero, tx.Commit(ctx)
	}

	// Drift is a symptom worth alerting on, not just patching.
	s.log.Warn("wallet locked amount drifted from active stakes",
		"user_id", userID, "stored_locked", w.LockedAmount, "recomputed_locked", correct, "delta", delta)

	repaired, err := s.repo.SetReconciled(ctx, tx, w.ID, correct, delta)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, decimal.Zero, err
	}
	return repaired, delta, nil
}
