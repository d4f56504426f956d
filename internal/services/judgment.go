package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/taskstake/backend/internal/models"
)

var (
	// ErrNotAuthorized means the caller is not the task's assigned judge.
	ErrNotAuthorized = errors.New("only the assigned judge may rule on this task")
	// ErrAlreadyJudged means a verdict already settled the task.
	ErrAlreadyJudged = errors.New("task has already been judged")
	// ErrCommentRequired means a rejection arrived without an explanation.
	ErrCommentRequired = errors.New("a rejection must include a comment")
	// ErrInvalidVerdict means the verdict was neither approved nor rejected.
	ErrInvalidVerdict = errors.New("verdict must be approved or rejected")
)

type judgedStore interface {
	GetInstance(ctx context.Context, id uuid.UUID) (*models.Task, error)
	MarkJudged(ctx context.Context, tx pgx.Tx, id uuid.UUID, status, judgeStatus, comment string, now time.Time) (bool, error)
	ListToJudge(ctx context.Context, judgeID uuid.UUID) ([]*models.Task, error)
}

type stakeSettler interface {
	RefundStake(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, amount decimal.Decimal, description string) error
	ForfeitStake(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, amount decimal.Decimal, timedOut bool, description string) error
}

// Judgment applies a judge's verdict to a submitted task. The status flip
// and the wallet settlement commit together, and the compare-and-set on
// (submitted, pending) guarantees the stake moves at most once no matter
// how many verdicts race.
type Judgment struct {
	db     TxBeginner
	tasks  judgedStore
	ledger stakeSettler
	log    *slog.Logger
	now    func() time.Time
}

func NewJudgment(db TxBeginner, tasks judgedStore, led stakeSettler, log *slog.Logger) *Judgment {
	if log == nil {
		log = slog.Default()
	}
	return &Judgment{db: db, tasks: tasks, ledger: led, log: log, now: time.Now}
}

// PendingFor lists the tasks awaiting the given judge.
func (j *Judgment) PendingFor(ctx context.Context, judgeID uuid.UUID) ([]*models.Task, error) {
	return j.tasks.ListToJudge(ctx, judgeID)
}

// Judge records the verdict. Approval refunds the stake to the owner's
// balance; rejection donates it.
func (j *Judgment) Judge(ctx context.Context, judgeID, taskID uuid.UUID, verdict, comment string) (*models.Task, error) {
	var event Event
	switch verdict {
	case models.JudgeStatusApproved:
		event = EventApprove
	case models.JudgeStatusRejected:
		event = EventReject
		if comment == "" {
			return nil, ErrCommentRequired
		}
	default:
		return nil, ErrInvalidVerdict
	}

	task, err := j.tasks.GetInstance(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.JudgeUserID != judgeID {
		return nil, ErrNotAuthorized
	}
	if task.JudgeStatus != models.JudgeStatusPending {
		return nil, ErrAlreadyJudged
	}
	status, err := NextStatus(event, task.Status)
	if err != nil {
		return nil, err
	}

	tx, err := j.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	now := j.now()
	judged, err := j.tasks.MarkJudged(ctx, tx, taskID, status, verdict, comment, now)
	if err != nil {
		return nil, err
	}
	if !judged {
		// Lost the race against another verdict or an expiry sweep.
		return nil, ErrAlreadyJudged
	}

	switch event {
	case EventApprove:
		err = j.ledger.RefundStake(ctx, tx, task.UserID, task.ID, task.BetAmount,
			fmt.Sprintf("任务完成返还: %s", task.Title))
	case EventReject:
		err = j.ledger.ForfeitStake(ctx, tx, task.UserID, task.ID, task.BetAmount, false,
			fmt.Sprintf("任务被驳回: %s", task.Title))
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	j.log.Info("task judged", "task_id", task.ID, "judge_id", judgeID, "verdict", verdict)
	return j.tasks.GetInstance(ctx, taskID)
}
