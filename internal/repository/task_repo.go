package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskstake/backend/internal/models"
)

// ErrNotFound is returned when a task or template does not exist or is not
// visible to the caller.
var ErrNotFound = errors.New("not found")

// Templates and instances share the tasks table, discriminated by the
// template_task flag. Instances always have a deadline; templates never do.
type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const instanceColumns = `id, user_id, judge_user_id, parent_template_id, title, description, category, bet_amount,
	deadline, status, judge_status, judge_comment, evidence_id, archived, started_at, submitted_at, judged_at,
	created_at, updated_at`

func scanInstance(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.UserID, &t.JudgeUserID, &t.ParentTemplateID, &t.Title, &t.Description, &t.Category,
		&t.BetAmount, &t.Deadline, &t.Status, &t.JudgeStatus, &t.JudgeComment, &t.EvidenceID, &t.Archived,
		&t.StartedAt, &t.SubmittedAt, &t.JudgedAt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func collectInstances(rows pgx.Rows) ([]*models.Task, error) {
	defer rows.Close()
	var list []*models.Task
	for rows.Next() {
		t, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// --- instances ---

// CreateInstanceTx inserts a concrete task inside the caller's transaction,
// pairing it with the stake lock performed by the same transaction.
func (r *TaskRepo) CreateInstanceTx(ctx context.Context, tx pgx.Tx, t *models.Task) error {
	return tx.QueryRow(ctx, `
		INSERT INTO tasks (id, user_id, judge_user_id, parent_template_id, title, description, category,
			bet_amount, deadline, status, judge_status, started_at, template_task)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, FALSE)
		RETURNING created_at, updated_at
	`, t.ID, t.UserID, t.JudgeUserID, t.ParentTemplateID, t.Title, t.Description, t.Category,
		t.BetAmount, t.Deadline, t.Status, t.JudgeStatus, t.StartedAt).Scan(&t.CreatedAt, &t.UpdatedAt)
}

// InsertInstanceIfAbsent performs the generator's idempotent insert, keyed
// on (user_id, parent_template_id, deadline) by the partial unique index.
// It reports whether this call actually created the row; concurrent
// duplicate attempts observe false.
func (r *TaskRepo) InsertInstanceIfAbsent(ctx context.Context, t *models.Task) (bool, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, user_id, judge_user_id, parent_template_id, title, description, category,
			bet_amount, deadline, status, judge_status, started_at, template_task)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, FALSE)
		ON CONFLICT (user_id, parent_template_id, deadline)
			WHERE NOT template_task AND parent_template_id IS NOT NULL
			DO NOTHING
		RETURNING created_at, updated_at
	`, t.ID, t.UserID, t.JudgeUserID, t.ParentTemplateID, t.Title, t.Description, t.Category,
		t.BetAmount, t.Deadline, t.Status, t.JudgeStatus, t.StartedAt).Scan(&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *TaskRepo) GetInstance(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return scanInstance(r.pool.QueryRow(ctx, `
		SELECT `+instanceColumns+` FROM tasks WHERE id = $1 AND NOT template_task
	`, id))
}

func (r *TaskRepo) GetInstanceForUser(ctx context.Context, id, userID uuid.UUID) (*models.Task, error) {
	return scanInstance(r.pool.QueryRow(ctx, `
		SELECT `+instanceColumns+` FROM tasks WHERE id = $1 AND user_id = $2 AND NOT template_task
	`, id, userID))
}

// InstanceFilter narrows ListInstances. Archived follows the list API:
// "" hides archived rows, "true" shows only archived, "all" shows both.
type InstanceFilter struct {
	Status   string
	Category string
	Archived string
	From, To *time.Time
}

func (r *TaskRepo) ListInstances(ctx context.Context, userID uuid.UUID, f InstanceFilter) ([]*models.Task, error) {
	q := `SELECT ` + instanceColumns + ` FROM tasks WHERE user_id = $1 AND NOT template_task`
	args := []any{userID}
	switch f.Archived {
	case "true":
		q += ` AND archived`
	case "all":
	default:
		q += ` AND NOT archived`
	}
	if f.Status != "" {
		args = append(args, f.Status)
		q += ` AND status = $` + strconv.Itoa(len(args))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		q += ` AND category = $` + strconv.Itoa(len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		q += ` AND deadline >= $` + strconv.Itoa(len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		q += ` AND deadline <= $` + strconv.Itoa(len(args))
	}
	q += ` ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectInstances(rows)
}

// ListExpired returns the user's in-progress instances whose deadline has
// passed; used by the expiration sweeper.
func (r *TaskRepo) ListExpired(ctx context.Context, userID uuid.UUID, now time.Time) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+instanceColumns+` FROM tasks
		WHERE user_id = $1 AND NOT template_task AND status = $2 AND deadline < $3
	`, userID, models.TaskStatusInProgress, now)
	if err != nil {
		return nil, err
	}
	return collectInstances(rows)
}

// ListToJudge returns tasks awaiting the given judge: their assigned
// in-progress tasks plus submitted ones pending a verdict.
func (r *TaskRepo) ListToJudge(ctx context.Context, judgeID uuid.UUID) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+instanceColumns+` FROM tasks
		WHERE judge_user_id = $1 AND NOT template_task AND NOT archived
		  AND (status = $2 OR (status = $3 AND judge_status = $4))
		ORDER BY submitted_at DESC NULLS LAST, created_at DESC
	`, judgeID, models.TaskStatusInProgress, models.TaskStatusSubmitted, models.JudgeStatusPending)
	if err != nil {
		return nil, err
	}
	return collectInstances(rows)
}

// ListPastRecurringInstances returns stale generated instances still
// in progress with deadlines before the cutoff, across all users; used by
// the maintenance cleanup.
func (r *TaskRepo) ListPastRecurringInstances(ctx context.Context, cutoff time.Time) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+instanceColumns+` FROM tasks
		WHERE NOT template_task AND parent_template_id IS NOT NULL AND status = $1 AND deadline < $2
	`, models.TaskStatusInProgress, cutoff)
	if err != nil {
		return nil, err
	}
	return collectInstances(rows)
}

// --- status transitions (all check-and-set) ---

// MarkSubmitted flips in_progress → submitted and attaches the evidence.
// Returns false when the task was not in the expected state.
func (r *TaskRepo) MarkSubmitted(ctx context.Context, tx pgx.Tx, id, evidenceID uuid.UUID, now time.Time) (bool, error) {
	ct, err := tx.Exec(ctx, `
		UPDATE tasks SET status = $2, evidence_id = $3, submitted_at = $4, updated_at = now()
		WHERE id = $1 AND status = $5 AND NOT template_task
	`, id, models.TaskStatusSubmitted, evidenceID, now, models.TaskStatusInProgress)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// MarkJudged flips submitted → completed/failed exactly once: the judge
// verdict only lands while judge_status is still pending.
func (r *TaskRepo) MarkJudged(ctx context.Context, tx pgx.Tx, id uuid.UUID, status, judgeStatus, comment string, now time.Time) (bool, error) {
	ct, err := tx.Exec(ctx, `
		UPDATE tasks SET status = $2, judge_status = $3, judge_comment = $4, judged_at = $5, updated_at = now()
		WHERE id = $1 AND status = $6 AND judge_status = $7 AND NOT template_task
	`, id, status, judgeStatus, comment, now, models.TaskStatusSubmitted, models.JudgeStatusPending)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// MarkExpired force-fails an in-progress task whose deadline has passed.
func (r *TaskRepo) MarkExpired(ctx context.Context, tx pgx.Tx, id uuid.UUID, now time.Time) (bool, error) {
	ct, err := tx.Exec(ctx, `
		UPDATE tasks SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3 AND deadline < $4 AND NOT template_task
	`, id, models.TaskStatusFailed, models.TaskStatusInProgress, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// DeleteInstanceTx removes an in-progress task (cancel path). Returns
// false when the task already left that state.
func (r *TaskRepo) DeleteInstanceTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	ct, err := tx.Exec(ctx, `
		DELETE FROM tasks WHERE id = $1 AND status = $2 AND NOT template_task
	`, id, models.TaskStatusInProgress)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// DeleteInstance removes an instance unconditionally; used to roll back a
// generated row that could not be funded.
func (r *TaskRepo) DeleteInstance(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1 AND NOT template_task`, id)
	return err
}

func (r *TaskRepo) SetArchived(ctx context.Context, id, userID uuid.UUID, archived bool) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE tasks SET archived = $3, updated_at = now()
		WHERE id = $1 AND user_id = $2 AND NOT template_task
	`, id, userID, archived)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- templates ---

const templateColumns = `id, user_id, judge_user_id, title, description, category, bet_amount, recurrence, created_at, updated_at`

func scanTemplate(row pgx.Row) (*models.Template, error) {
	var t models.Template
	err := row.Scan(&t.ID, &t.UserID, &t.JudgeUserID, &t.Title, &t.Description, &t.Category, &t.BetAmount,
		&t.Recurrence, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TaskRepo) CreateTemplate(ctx context.Context, t *models.Template) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, user_id, judge_user_id, title, description, category, bet_amount,
			recurrence, status, judge_status, template_task)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '', '', TRUE)
		RETURNING created_at, updated_at
	`, t.ID, t.UserID, t.JudgeUserID, t.Title, t.Description, t.Category, t.BetAmount, t.Recurrence).
		Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepo) GetTemplate(ctx context.Context, id, userID uuid.UUID) (*models.Template, error) {
	return scanTemplate(r.pool.QueryRow(ctx, `
		SELECT `+templateColumns+` FROM tasks WHERE id = $1 AND user_id = $2 AND template_task
	`, id, userID))
}

func (r *TaskRepo) ListTemplates(ctx context.Context, userID uuid.UUID) ([]*models.Template, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+templateColumns+` FROM tasks WHERE user_id = $1 AND template_task ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func (r *TaskRepo) DeleteTemplate(ctx context.Context, id, userID uuid.UUID) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1 AND user_id = $2 AND template_task`, id, userID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountInstancesForTemplate counts existing generated instances; used to
// enforce the occurrences cap.
func (r *TaskRepo) CountInstancesForTemplate(ctx context.Context, templateID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM tasks WHERE parent_template_id = $1 AND NOT template_task
	`, templateID).Scan(&n)
	return n, err
}

// --- stats ---

type TaskStats struct {
	Total          int     `json:"total_tasks"`
	Completed      int     `json:"completed_tasks"`
	Failed         int     `json:"failed_tasks"`
	CompletionRate float64 `json:"completion_rate"`
}

func (r *TaskRepo) Stats(ctx context.Context, userID uuid.UUID) (*TaskStats, error) {
	var s TaskStats
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = $2),
		       COUNT(*) FILTER (WHERE status = $3)
		FROM tasks WHERE user_id = $1 AND NOT template_task
	`, userID, models.TaskStatusCompleted, models.TaskStatusFailed).Scan(&s.Total, &s.Completed, &s.Failed)
	if err != nil {
		return nil, err
	}
	if settled := s.Completed + s.Failed; settled > 0 {
		s.CompletionRate = float64(s.Completed) / float64(settled)
	}
	return &s, nil
}

