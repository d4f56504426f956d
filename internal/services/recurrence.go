package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/taskstake/backend/internal/ledger"
	"github.com/taskstake/backend/internal/models"
)

// TxBeginner starts database transactions. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// templateStore is the slice of the task repository the generator needs.
type templateStore interface {
	ListTemplates(ctx context.Context, userID uuid.UUID) ([]*models.Template, error)
	CountInstancesForTemplate(ctx context.Context, templateID uuid.UUID) (int, error)
	InsertInstanceIfAbsent(ctx context.Context, t *models.Task) (bool, error)
	DeleteInstance(ctx context.Context, id uuid.UUID) error
}

type userLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type stakeLocker interface {
	LockStake(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, amount decimal.Decimal, description string) error
}

// Generator materializes dated task instances from recurring templates.
// It runs on the read path: listing tasks first ensures the instances the
// list should contain. Generation is exactly-once per
// (user, template, deadline) regardless of concurrent readers, enforced by
// the idempotent insert underneath.
type Generator struct {
	db     TxBeginner
	tasks  templateStore
	users  userLookup
	ledger stakeLocker
	log    *slog.Logger
	now    func() time.Time
}

func NewGenerator(db TxBeginner, tasks templateStore, users userLookup, led stakeLocker, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	return &Generator{db: db, tasks: tasks, users: users, ledger: led, log: log, now: time.Now}
}

// EnsureToday materializes today's instances for every template the user
// owns. "Today" is the user's calendar day, not the server's.
func (g *Generator) EnsureToday(ctx context.Context, userID uuid.UUID) error {
	now := g.now()
	return g.EnsureRange(ctx, userID, now, now)
}

// EnsureRange materializes instances for each calendar date in [from, to],
// interpreted in the user's time zone. Dates before the user's today are
// skipped: the past is settled, never backfilled.
func (g *Generator) EnsureRange(ctx context.Context, userID uuid.UUID, from, to time.Time) error {
	user, err := g.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	loc := user.Location()
	now := g.now().In(loc)

	start := midnight(from.In(loc))
	today := midnight(now)
	if start.Before(today) {
		start = today
	}
	end := midnight(to.In(loc))
	if end.Before(start) {
		return nil
	}

	templates, err := g.tasks.ListTemplates(ctx, userID)
	if err != nil {
		return fmt.Errorf("list templates: %w", err)
	}

	for _, tpl := range templates {
		if err := g.ensureTemplate(ctx, user, tpl, start, end, now); err != nil {
			return err
		}
	}
	return nil
}

func (g *Generator) ensureTemplate(ctx context.Context, user *models.User, tpl *models.Template, start, end, now time.Time) error {
	count := -1 // fetched lazily, only when a cap exists
	if tpl.Recurrence.Occurrences != nil {
		n, err := g.tasks.CountInstancesForTemplate(ctx, tpl.ID)
		if err != nil {
			return fmt.Errorf("count instances: %w", err)
		}
		count = n
	}

	hour, minute := tpl.Recurrence.StartClock()
	for date := start; !date.After(end); date = date.AddDate(0, 0, 1) {
		if tpl.Recurrence.EndDate != nil && date.After(midnight(tpl.Recurrence.EndDate.In(date.Location()))) {
			break
		}
		if tpl.Recurrence.Occurrences != nil && count >= *tpl.Recurrence.Occurrences {
			break
		}
		if !tpl.Recurrence.AppliesOn(date) {
			continue
		}
		deadline := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, date.Location())
		if !deadline.After(now) {
			// Never materialize an instance that is already expired; it
			// would forfeit the stake before the user could act.
			continue
		}

		created, err := g.materialize(ctx, user, tpl, deadline, now)
		if err != nil {
			return err
		}
		if created && tpl.Recurrence.Occurrences != nil {
			// Re-count instead of incrementing locally: a concurrent
			// generation may have inserted other dates since the first read,
			// and the cap applies to the template's total.
			n, err := g.tasks.CountInstancesForTemplate(ctx, tpl.ID)
			if err != nil {
				return fmt.Errorf("count instances: %w", err)
			}
			count = n
		}
	}
	return nil
}

// materialize inserts one instance and funds it. The insert decides the
// exactly-once race; the stake lock follows in its own transaction, and an
// unfundable instance is rolled back by deleting the row so a later read
// can retry once the wallet is topped up.
func (g *Generator) materialize(ctx context.Context, user *models.User, tpl *models.Template, deadline, now time.Time) (bool, error) {
	templateID := tpl.ID
	task := &models.Task{
		ID:               uuid.New(),
		UserID:           tpl.UserID,
		JudgeUserID:      tpl.JudgeUserID,
		ParentTemplateID: &templateID,
		Title:            tpl.Title,
		Description:      tpl.Description,
		Category:         tpl.Category,
		BetAmount:        tpl.BetAmount,
		Deadline:         deadline,
		Status:           models.TaskStatusInProgress,
		JudgeStatus:      models.JudgeStatusPending,
		StartedAt:        now,
	}
	created, err := g.tasks.InsertInstanceIfAbsent(ctx, task)
	if err != nil {
		return false, fmt.Errorf("insert instance: %w", err)
	}
	if !created {
		return false, nil
	}

	tx, err := g.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	desc := fmt.Sprintf("任务锁定: %s", task.Title)
	if err := g.ledger.LockStake(ctx, tx, task.UserID, task.ID, task.BetAmount, desc); err != nil {
		if ledger.IsInsufficientFunds(err) {
			g.log.Warn("recurring instance not funded, rolling back",
				"user_id", task.UserID, "template_id", tpl.ID, "deadline", deadline, "bet_amount", task.BetAmount)
			if delErr := g.tasks.DeleteInstance(ctx, task.ID); delErr != nil {
				return false, fmt.Errorf("roll back unfunded instance: %w", delErr)
			}
			return false, nil
		}
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
