package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/taskstake/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const walletColumns = `id, user_id, balance, locked_amount, total_deposited, total_donated, created_at, updated_at`

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.Balance, &w.LockedAmount, &w.TotalDeposited, &w.TotalDonated, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateTx inserts a wallet with the given opening balance inside the
// caller's transaction, recording the opening funds as a deposit.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, opening decimal.Decimal) (*models.Wallet, error) {
	w, err := scanWallet(tx.QueryRow(ctx, `
		INSERT INTO wallets (id, user_id, balance, locked_amount, total_deposited, total_donated)
		VALUES ($1, $2, $3, 0, $3, 0)
		RETURNING `+walletColumns, uuid.New(), userID, opening))
	if err != nil {
		return nil, err
	}
	if opening.IsPositive() {
		if err := r.appendTransaction(ctx, tx, w.ID, models.TxTypeDeposit, opening, nil, "注册赠送初始资金"); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (r *Repository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return scanWallet(r.pool.QueryRow(ctx, `
		SELECT `+walletColumns+` FROM wallets WHERE user_id = $1
	`, userID))
}

// GetByUserIDForUpdate locks the wallet row. Call within a transaction.
func (r *Repository) GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error) {
	return scanWallet(tx.QueryRow(ctx, `
		SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 FOR UPDATE
	`, userID))
}

// LockStake atomically moves amount from balance into locked_amount,
// guarded by the balance check in the same UPDATE. Returns
// pgx.ErrNoRows semantics via errInsufficientFunds when the balance is
// too low or the wallet is missing.
func (r *Repository) LockStake(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, amount decimal.Decimal, description string) error {
	var walletID uuid.UUID
	err := tx.QueryRow(ctx, `
		UPDATE wallets
		SET balance = balance - $1, locked_amount = locked_amount + $1, updated_at = now()
		WHERE user_id = $2 AND balance >= $1
		RETURNING id
	`, amount, userID).Scan(&walletID)
	if errors.Is(err, pgx.ErrNoRows) {
		return errInsufficientFunds
	}
	if err != nil {
		return err
	}
	return r.appendTransaction(ctx, tx, walletID, models.TxTypeStakeLock, amount.Neg(), &taskID, description)
}

// UnlockToBalance moves amount from locked_amount back into balance
// (cancel and approval paths). txType selects the audit tag.
func (r *Repository) UnlockToBalance(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, amount decimal.Decimal, txType, description string) error {
	var walletID uuid.UUID
	err := tx.QueryRow(ctx, `
		UPDATE wallets
		SET balance = balance + $1, locked_amount = locked_amount - $1, updated_at = now()
		WHERE user_id = $2 AND locked_amount >= $1
		RETURNING id
	`, amount, userID).Scan(&walletID)
	if err != nil {
		return err
	}
	return r.appendTransaction(ctx, tx, walletID, txType, amount, &taskID, description)
}

// Forfeit moves amount out of locked_amount into total_donated without
// touching balance (rejection and expiry paths).
func (r *Repository) Forfeit(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, amount decimal.Decimal, txType, description string) error {
	var walletID uuid.UUID
	err := tx.QueryRow(ctx, `
		UPDATE wallets
		SET locked_amount = locked_amount - $1, total_donated = total_donated + $1, updated_at = now()
		WHERE user_id = $2 AND locked_amount >= $1
		RETURNING id
	`, amount, userID).Scan(&walletID)
	if err != nil {
		return err
	}
	return r.appendTransaction(ctx, tx, walletID, txType, amount.Neg(), &taskID, description)
}

// Deposit adds amount to balance and total_deposited in its own transaction.
func (r *Repository) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, description string) (*models.Wallet, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	w, err := scanWallet(tx.QueryRow(ctx, `
		UPDATE wallets
		SET balance = balance + $1, total_deposited = total_deposited + $1, updated_at = now()
		WHERE user_id = $2
		RETURNING `+walletColumns, amount, userID))
	if err != nil {
		return nil, err
	}
	if err := r.appendTransaction(ctx, tx, w.ID, models.TxTypeDeposit, amount, nil, description); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// ActiveStakeSum recomputes the locked amount from its source of truth: the
// stakes of the user's in-progress and submitted task instances.
func (r *Repository) ActiveStakeSum(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(bet_amount), 0)
		FROM tasks
		WHERE user_id = $1 AND NOT template_task AND status = ANY($2)
	`, userID, []string{models.TaskStatusInProgress, models.TaskStatusSubmitted}).Scan(&sum)
	return sum, err
}

// SetReconciled overwrites locked_amount with the recomputed value and
// shifts balance by the drift delta, keeping total funds constant.
func (r *Repository) SetReconciled(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, locked, delta decimal.Decimal) (*models.Wallet, error) {
	return scanWallet(tx.QueryRow(ctx, `
		UPDATE wallets
		SET locked_amount = $2, balance = balance + $3, updated_at = now()
		WHERE id = $1
		RETURNING `+walletColumns, walletID, locked, delta))
}

// ListTransactions returns the newest entries first, with the total count
// for pagination.
func (r *Repository) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Transaction, int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM wallet_transactions t JOIN wallets w ON w.id = t.wallet_id
		WHERE w.user_id = $1
	`, userID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT t.id, t.wallet_id, t.type, t.amount, t.task_id, t.description, t.created_at
		FROM wallet_transactions t JOIN wallets w ON w.id = t.wallet_id
		WHERE w.user_id = $1
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var list []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.WalletID, &t.Type, &t.Amount, &t.TaskID, &t.Description, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		list = append(list, &t)
	}
	return list, total, rows.Err()
}

// ListUserIDs returns every user that owns a wallet; used by the periodic
// reconciliation worker.
func (r *Repository) ListUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM wallets ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// The audit log is append-only: no update or delete statements exist for
// wallet_transactions anywhere in this package.
func (r *Repository) appendTransaction(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, txType string, amount decimal.Decimal, taskID *uuid.UUID, description string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, type, amount, task_id, description)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), walletID, txType, amount, taskID, description)
	return err
}
