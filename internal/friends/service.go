package friends

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/taskstake/backend/internal/models"
	"github.com/taskstake/backend/internal/repository"
)

// Invitations expire after a week if the recipient never responds.
const invitationTTL = 7 * 24 * time.Hour

var (
	ErrSelfInvite      = errors.New("cannot invite yourself")
	ErrAlreadyFriends  = errors.New("already friends")
	ErrAlreadyInvited  = errors.New("an invitation between these users is already pending")
	ErrNotRecipient    = errors.New("only the recipient may respond to an invitation")
	ErrInviteNotActive = errors.New("invitation is no longer pending")
)

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type userLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// friendStore is the slice of the friend repository the service needs.
type friendStore interface {
	CreateInvitation(ctx context.Context, inv *models.Invitation) error
	GetInvitation(ctx context.Context, id uuid.UUID) (*models.Invitation, error)
	HasPendingInvitation(ctx context.Context, a, b uuid.UUID, now time.Time) (bool, error)
	ListIncoming(ctx context.Context, userID uuid.UUID, now time.Time) ([]*models.Invitation, error)
	ListOutgoing(ctx context.Context, userID uuid.UUID) ([]*models.Invitation, error)
	ResolveInvitationTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, now time.Time) (bool, error)
	CreateFriendshipTx(ctx context.Context, tx pgx.Tx, a, b uuid.UUID) error
	IsFriend(ctx context.Context, a, b uuid.UUID) (bool, error)
	ListFriends(ctx context.Context, userID uuid.UUID) ([]*models.User, error)
}

// Service manages friend invitations and the friendships they produce.
// A confirmed friendship is what authorizes a user to act as a judge.
type Service struct {
	db    txBeginner
	repo  friendStore
	users userLookup
	log   *slog.Logger
	now   func() time.Time
}

func NewService(db txBeginner, repo friendStore, users userLookup, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, repo: repo, users: users, log: log, now: time.Now}
}

// Invite sends a friend invitation to the user registered under email.
func (s *Service) Invite(ctx context.Context, fromID uuid.UUID, toEmail, message string) (*models.Invitation, error) {
	to, err := s.users.GetByEmail(ctx, toEmail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if to.ID == fromID {
		return nil, ErrSelfInvite
	}
	if friends, err := s.repo.IsFriend(ctx, fromID, to.ID); err != nil {
		return nil, err
	} else if friends {
		return nil, ErrAlreadyFriends
	}
	now := s.now()
	if pending, err := s.repo.HasPendingInvitation(ctx, fromID, to.ID, now); err != nil {
		return nil, err
	} else if pending {
		return nil, ErrAlreadyInvited
	}

	inv := &models.Invitation{
		ID:         uuid.New(),
		FromUserID: fromID,
		ToUserID:   to.ID,
		ToEmail:    toEmail,
		Message:    message,
		Status:     models.InviteStatusPending,
		ExpiresAt:  now.Add(invitationTTL),
	}
	if err := s.repo.CreateInvitation(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Respond accepts or declines a pending invitation. Accepting creates the
// friendship in the same transaction as the status flip.
func (s *Service) Respond(ctx context.Context, userID, invitationID uuid.UUID, accept bool) (*models.Invitation, error) {
	inv, err := s.repo.GetInvitation(ctx, invitationID)
	if err != nil {
		return nil, err
	}
	if inv.ToUserID != userID {
		return nil, ErrNotRecipient
	}

	status := models.InviteStatusDeclined
	if accept {
		status = models.InviteStatusAccepted
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	flipped, err := s.repo.ResolveInvitationTx(ctx, tx, invitationID, status, s.now())
	if err != nil {
		return nil, err
	}
	if !flipped {
		return nil, ErrInviteNotActive
	}
	if accept {
		if err := s.repo.CreateFriendshipTx(ctx, tx, inv.FromUserID, inv.ToUserID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	inv.Status = status
	return inv, nil
}

func (s *Service) Incoming(ctx context.Context, userID uuid.UUID) ([]*models.Invitation, error) {
	return s.repo.ListIncoming(ctx, userID, s.now())
}

func (s *Service) Outgoing(ctx context.Context, userID uuid.UUID) ([]*models.Invitation, error) {
	return s.repo.ListOutgoing(ctx, userID)
}

func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]*models.User, error) {
	return s.repo.ListFriends(ctx, userID)
}

// IsFriend reports whether the two users are confirmed friends; the task
// service uses this to validate judge assignments.
func (s *Service) IsFriend(ctx context.Context, a, b uuid.UUID) (bool, error) {
	return s.repo.IsFriend(ctx, a, b)
}
