package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskstake/backend/internal/models"
)

// FriendRepo stores friendships and the invitations that create them.
// Friendships are symmetric: one row per pair, ordered (user_a < user_b)
// so the unique constraint catches both directions.
type FriendRepo struct {
	pool *pgxpool.Pool
}

func NewFriendRepo(pool *pgxpool.Pool) *FriendRepo {
	return &FriendRepo{pool: pool}
}

const invitationColumns = `id, from_user_id, to_user_id, to_email, message, status, expires_at, created_at`

func scanInvitation(row pgx.Row) (*models.Invitation, error) {
	var inv models.Invitation
	err := row.Scan(&inv.ID, &inv.FromUserID, &inv.ToUserID, &inv.ToEmail, &inv.Message, &inv.Status,
		&inv.ExpiresAt, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *FriendRepo) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO invitations (id, from_user_id, to_user_id, to_email, message, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, inv.ID, inv.FromUserID, inv.ToUserID, inv.ToEmail, inv.Message, inv.Status, inv.ExpiresAt).
		Scan(&inv.CreatedAt)
}

func (r *FriendRepo) GetInvitation(ctx context.Context, id uuid.UUID) (*models.Invitation, error) {
	return scanInvitation(r.pool.QueryRow(ctx, `
		SELECT `+invitationColumns+` FROM invitations WHERE id = $1
	`, id))
}

// HasPendingInvitation reports whether a live invitation already links the
// two users in either direction.
func (r *FriendRepo) HasPendingInvitation(ctx context.Context, a, b uuid.UUID, now time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM invitations
			WHERE status = $3 AND expires_at > $4
			  AND ((from_user_id = $1 AND to_user_id = $2) OR (from_user_id = $2 AND to_user_id = $1))
		)
	`, a, b, models.InviteStatusPending, now).Scan(&exists)
	return exists, err
}

// ListIncoming returns pending, unexpired invitations addressed to the user.
func (r *FriendRepo) ListIncoming(ctx context.Context, userID uuid.UUID, now time.Time) ([]*models.Invitation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+invitationColumns+` FROM invitations
		WHERE to_user_id = $1 AND status = $2 AND expires_at > $3
		ORDER BY created_at DESC
	`, userID, models.InviteStatusPending, now)
	if err != nil {
		return nil, err
	}
	return collectInvitations(rows)
}

// ListOutgoing returns invitations the user has sent, newest first.
func (r *FriendRepo) ListOutgoing(ctx context.Context, userID uuid.UUID) ([]*models.Invitation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+invitationColumns+` FROM invitations
		WHERE from_user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectInvitations(rows)
}

func collectInvitations(rows pgx.Rows) ([]*models.Invitation, error) {
	defer rows.Close()
	var list []*models.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, inv)
	}
	return list, rows.Err()
}

// ResolveInvitationTx flips a pending invitation to accepted/declined.
// Returns false when it was already resolved or has expired.
func (r *FriendRepo) ResolveInvitationTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, now time.Time) (bool, error) {
	ct, err := tx.Exec(ctx, `
		UPDATE invitations SET status = $2
		WHERE id = $1 AND status = $3 AND expires_at > $4
	`, id, status, models.InviteStatusPending, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// CreateFriendshipTx links two users. The pair is stored ordered so the
// primary key makes the relation symmetric and unique.
func (r *FriendRepo) CreateFriendshipTx(ctx context.Context, tx pgx.Tx, a, b uuid.UUID) error {
	lo, hi := orderPair(a, b)
	_, err := tx.Exec(ctx, `
		INSERT INTO friendships (user_a, user_b) VALUES ($1, $2)
		ON CONFLICT (user_a, user_b) DO NOTHING
	`, lo, hi)
	return err
}

// IsFriend reports whether the two users are confirmed friends.
func (r *FriendRepo) IsFriend(ctx context.Context, a, b uuid.UUID) (bool, error) {
	lo, hi := orderPair(a, b)
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM friendships WHERE user_a = $1 AND user_b = $2)
	`, lo, hi).Scan(&exists)
	return exists, err
}

// ListFriends returns the user records of everyone linked to userID.
func (r *FriendRepo) ListFriends(ctx context.Context, userID uuid.UUID) ([]*models.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users u
		JOIN friendships f ON (f.user_a = u.id AND f.user_b = $1) OR (f.user_b = u.id AND f.user_a = $1)
		ORDER BY u.username
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

func orderPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() < b.String() {
		return a, b
	}
	return b, a
}
