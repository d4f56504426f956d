package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/taskstake/backend/internal/models"
)

type noopTx struct{}

func (t noopTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (noopTx) Commit(ctx context.Context) error            { return nil }
func (noopTx) Rollback(ctx context.Context) error          { return nil }
func (noopTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (noopTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (noopTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (noopTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (noopTx) Conn() *pgx.Conn                                               { return nil }

// mockWalletStore holds one wallet and the recomputed stake sum the
// reconciliation should converge on.
type mockWalletStore struct {
	wallet     *models.Wallet
	stakeSum   decimal.Decimal
	reconciles int
}

func (m *mockWalletStore) Begin(ctx context.Context) (pgx.Tx, error) { return noopTx{}, nil }

func (m *mockWalletStore) GetByUserID(_ context.Context, _ uuid.UUID) (*models.Wallet, error) {
	cp := *m.wallet
	return &cp, nil
}

func (m *mockWalletStore) GetByUserIDForUpdate(_ context.Context, _ pgx.Tx, _ uuid.UUID) (*models.Wallet, error) {
	cp := *m.wallet
	return &cp, nil
}

func (m *mockWalletStore) LockStake(_ context.Context, _ pgx.Tx, _, _ uuid.UUID, amount decimal.Decimal, _ string) error {
	if m.wallet.Balance.LessThan(amount) {
		return errInsufficientFunds
	}
	m.wallet.Balance = m.wallet.Balance.Sub(amount)
	m.wallet.LockedAmount = m.wallet.LockedAmount.Add(amount)
	return nil
}

func (m *mockWalletStore) UnlockToBalance(_ context.Context, _ pgx.Tx, _, _ uuid.UUID, amount decimal.Decimal, _, _ string) error {
	m.wallet.LockedAmount = m.wallet.LockedAmount.Sub(amount)
	m.wallet.Balance = m.wallet.Balance.Add(amount)
	return nil
}

func (m *mockWalletStore) Forfeit(_ context.Context, _ pgx.Tx, _, _ uuid.UUID, amount decimal.Decimal, _, _ string) error {
	m.wallet.LockedAmount = m.wallet.LockedAmount.Sub(amount)
	m.wallet.TotalDonated = m.wallet.TotalDonated.Add(amount)
	return nil
}

func (m *mockWalletStore) Deposit(_ context.Context, _ uuid.UUID, amount decimal.Decimal, _ string) (*models.Wallet, error) {
	m.wallet.Balance = m.wallet.Balance.Add(amount)
	m.wallet.TotalDeposited = m.wallet.TotalDeposited.Add(amount)
	cp := *m.wallet
	return &cp, nil
}

func (m *mockWalletStore) ActiveStakeSum(_ context.Context, _ pgx.Tx, _ uuid.UUID) (decimal.Decimal, error) {
	return m.stakeSum, nil
}

func (m *mockWalletStore) SetReconciled(_ context.Context, _ pgx.Tx, _ uuid.UUID, locked, delta decimal.Decimal) (*models.Wallet, error) {
	m.reconciles++
	m.wallet.LockedAmount = locked
	m.wallet.Balance = m.wallet.Balance.Add(delta)
	cp := *m.wallet
	return &cp, nil
}

func (m *mockWalletStore) ListTransactions(_ context.Context, _ uuid.UUID, _, _ int) ([]*models.Transaction, int, error) {
	return nil, 0, nil
}

func TestDepositRejectsInvalidAmounts(t *testing.T) {
	svc := NewService(nil, nil)
	ctx := context.Background()
	userID := uuid.New()

	for _, amount := range []string{"0", "-10", "10000.01", "99999"} {
		d, _ := decimal.NewFromString(amount)
		if _, err := svc.Deposit(ctx, userID, d); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("deposit of %s: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestInsufficientFundsError(t *testing.T) {
	err := &InsufficientFundsError{
		Available: decimal.NewFromInt(50),
		Required:  decimal.NewFromInt(200),
	}
	if !IsInsufficientFunds(err) {
		t.Error("IsInsufficientFunds should match the detailed error")
	}
	if !IsInsufficientFunds(errInsufficientFunds) {
		t.Error("IsInsufficientFunds should match the repository sentinel")
	}
	if IsInsufficientFunds(errors.New("boom")) {
		t.Error("IsInsufficientFunds should not match unrelated errors")
	}
	msg := err.Error()
	if !strings.Contains(msg, "50") || !strings.Contains(msg, "200") {
		t.Errorf("error should name both amounts: %q", msg)
	}
}

func TestReconcileHealthyWalletIsNoOp(t *testing.T) {
	store := &mockWalletStore{
		wallet: &models.Wallet{
			ID:           uuid.New(),
			UserID:       uuid.New(),
			Balance:      decimal.NewFromInt(800),
			LockedAmount: decimal.NewFromInt(200),
		},
		stakeSum: decimal.NewFromInt(200),
	}
	svc := NewService(store, nil)

	w, delta, err := svc.Reconcile(context.Background(), store.wallet.UserID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !delta.IsZero() {
		t.Errorf("delta: got %s, want 0", delta)
	}
	if store.reconciles != 0 {
		t.Error("a healthy wallet must not be rewritten")
	}
	if !w.Balance.Equal(decimal.NewFromInt(800)) || !w.LockedAmount.Equal(decimal.NewFromInt(200)) {
		t.Errorf("wallet changed: balance %s, locked %s", w.Balance, w.LockedAmount)
	}
}

func TestReconcileRepairsDrift(t *testing.T) {
	// Stored locked says 300, but active stakes only sum to 200: the extra
	// 100 belongs back in the spendable balance.
	store := &mockWalletStore{
		wallet: &models.Wallet{
			ID:           uuid.New(),
			UserID:       uuid.New(),
			Balance:      decimal.NewFromInt(700),
			LockedAmount: decimal.NewFromInt(300),
		},
		stakeSum: decimal.NewFromInt(200),
	}
	svc := NewService(store, nil)
	ctx := context.Background()

	w, delta, err := svc.Reconcile(ctx, store.wallet.UserID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !delta.Equal(decimal.NewFromInt(100)) {
		t.Errorf("delta: got %s, want 100", delta)
	}
	if !w.LockedAmount.Equal(decimal.NewFromInt(200)) {
		t.Errorf("locked after repair: got %s, want 200", w.LockedAmount)
	}
	if !w.Balance.Equal(decimal.NewFromInt(800)) {
		t.Errorf("balance after repair: got %s, want 800", w.Balance)
	}
	// Total funds are preserved by the repair.
	if !w.Balance.Add(w.LockedAmount).Equal(decimal.NewFromInt(1000)) {
		t.Errorf("repair must not create or destroy funds: %s + %s", w.Balance, w.LockedAmount)
	}

	// Running it again finds nothing to fix.
	w, delta, err = svc.Reconcile(ctx, store.wallet.UserID)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if !delta.IsZero() {
		t.Errorf("second delta: got %s, want 0", delta)
	}
	if store.reconciles != 1 {
		t.Errorf("rewrites: got %d, want exactly 1", store.reconciles)
	}
	if !w.Balance.Equal(decimal.NewFromInt(800)) || !w.LockedAmount.Equal(decimal.NewFromInt(200)) {
		t.Errorf("second run changed the wallet: balance %s, locked %s", w.Balance, w.LockedAmount)
	}
}
