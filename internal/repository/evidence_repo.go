package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskstake/backend/internal/models"
)

type EvidenceRepo struct {
	pool *pgxpool.Pool
}

func NewEvidenceRepo(pool *pgxpool.Pool) *EvidenceRepo {
	return &EvidenceRepo{pool: pool}
}

const evidenceColumns = `id, task_id, user_id, description, images, submitted_at, created_at`

func scanEvidence(row pgx.Row) (*models.Evidence, error) {
	var e models.Evidence
	err := row.Scan(&e.ID, &e.TaskID, &e.UserID, &e.Description, &e.Images, &e.SubmittedAt, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateTx inserts the evidence inside the caller's transaction so it
// commits together with the task's submitted flip.
func (r *EvidenceRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.Evidence) error {
	return tx.QueryRow(ctx, `
		INSERT INTO evidence (id, task_id, user_id, description, images, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, e.ID, e.TaskID, e.UserID, e.Description, e.Images, e.SubmittedAt).Scan(&e.CreatedAt)
}

func (r *EvidenceRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Evidence, error) {
	return scanEvidence(r.pool.QueryRow(ctx, `
		SELECT `+evidenceColumns+` FROM evidence WHERE id = $1
	`, id))
}

func (r *EvidenceRepo) GetByTaskID(ctx context.Context, taskID uuid.UUID) (*models.Evidence, error) {
	return scanEvidence(r.pool.QueryRow(ctx, `
		SELECT `+evidenceColumns+` FROM evidence WHERE task_id = $1 ORDER BY created_at DESC LIMIT 1
	`, taskID))
}
