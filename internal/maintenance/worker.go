package maintenance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/shopspring/decimal"

	"github.com/taskstake/backend/internal/models"
)

// ReconcileWalletsArgs triggers a sweep over every wallet, recomputing the
// locked amount from active stakes and repairing drift. Scheduled
// periodically; safe to run at any time because reconciliation is
// idempotent.
type ReconcileWalletsArgs struct{}

func (ReconcileWalletsArgs) Kind() string { return "reconcile_wallets" }

// WalletReconciler is the slice of the ledger the worker needs.
type WalletReconciler interface {
	Reconcile(ctx context.Context, userID uuid.UUID) (*models.Wallet, decimal.Decimal, error)
}

// UserIDLister enumerates wallet owners.
type UserIDLister interface {
	ListUserIDs(ctx context.Context) ([]uuid.UUID, error)
}

type ReconcileWalletsWorker struct {
	river.WorkerDefaults[ReconcileWalletsArgs]
	ledger WalletReconciler
	users  UserIDLister
	log    *slog.Logger
}

func NewReconcileWalletsWorker(led WalletReconciler, users UserIDLister, log *slog.Logger) *ReconcileWalletsWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ReconcileWalletsWorker{ledger: led, users: users, log: log}
}

func (w *ReconcileWalletsWorker) Work(ctx context.Context, job *river.Job[ReconcileWalletsArgs]) error {
	ids, err := w.users.ListUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("list wallet owners: %w", err)
	}

	drifted := 0
	for _, id := range ids {
		_, delta, err := w.ledger.Reconcile(ctx, id)
		if err != nil {
			w.log.Error("wallet reconciliation failed", "user_id", id, "error", err)
			continue
		}
		if !delta.IsZero() {
			drifted++
		}
	}
	w.log.Info("wallet reconciliation sweep finished", "wallets", len(ids), "drifted", drifted)
	return nil
}
