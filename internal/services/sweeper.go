package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/taskstake/backend/internal/models"
)

type expiredStore interface {
	ListExpired(ctx context.Context, userID uuid.UUID, now time.Time) ([]*models.Task, error)
	MarkExpired(ctx context.Context, tx pgx.Tx, id uuid.UUID, now time.Time) (bool, error)
}

type stakeForfeiter interface {
	ForfeitStake(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, amount decimal.Decimal, timedOut bool, description string) error
}

// Sweeper settles overdue in-progress tasks: the status flips to failed and
// the stake is forfeited, both in one transaction per task. It runs on the
// read path before any task listing so responses never show a live task
// whose deadline has passed.
type Sweeper struct {
	db     TxBeginner
	tasks  expiredStore
	ledger stakeForfeiter
	log    *slog.Logger
	now    func() time.Time
}

func NewSweeper(db TxBeginner, tasks expiredStore, led stakeForfeiter, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{db: db, tasks: tasks, ledger: led, log: log, now: time.Now}
}

// SweepExpired settles every overdue task the user owns and returns how
// many were settled. A failure on one task is logged and does not block the
// rest; concurrent sweeps are safe because the status flip is a
// compare-and-set and only the winner touches the wallet.
func (s *Sweeper) SweepExpired(ctx context.Context, userID uuid.UUID) (int, error) {
	now := s.now()
	expired, err := s.tasks.ListExpired(ctx, userID, now)
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}

	settled := 0
	for _, t := range expired {
		if err := s.settle(ctx, t, now); err != nil {
			s.log.Error("failed to settle expired task", "task_id", t.ID, "user_id", userID, "error", err)
			continue
		}
		settled++
	}
	return settled, nil
}

func (s *Sweeper) settle(ctx context.Context, t *models.Task, now time.Time) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	flipped, err := s.tasks.MarkExpired(ctx, tx, t.ID, now)
	if err != nil {
		return err
	}
	if !flipped {
		// Someone else settled it first; nothing to forfeit.
		return nil
	}
	desc := fmt.Sprintf("任务超时未完成: %s", t.Title)
	if err := s.ledger.ForfeitStake(ctx, tx, t.UserID, t.ID, t.BetAmount, true, desc); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
