package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/taskstake/backend/internal/models"
)

// ErrDuplicateEmail is returned when registering with an email that already exists.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrInvalidCredentials covers both unknown emails and wrong passwords so
// the response does not reveal which one failed.
var ErrInvalidCredentials = errors.New("invalid credentials")

type userStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, email, passwordHash, username, timezone string) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	TouchLastLogin(ctx context.Context, id uuid.UUID) error
}

type walletCreator interface {
	CreateTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, opening decimal.Decimal) (*models.Wallet, error)
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service interface {
	Register(ctx context.Context, email, password, username, timezone string) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, *models.User, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
}

type service struct {
	db          txBeginner
	users       userStore
	wallets     walletCreator
	secret      []byte
	signupBonus decimal.Decimal
	defaultTZ   string
}

func NewService(db txBeginner, users userStore, wallets walletCreator, secret string, signupBonus decimal.Decimal, defaultTZ string) Service {
	if defaultTZ == "" {
		defaultTZ = "UTC"
	}
	return &service{db: db, users: users, wallets: wallets, secret: []byte(secret),
		signupBonus: signupBonus, defaultTZ: defaultTZ}
}

var _ Service = (*service)(nil)

// Register creates the user and their wallet in one transaction. The
// signup bonus lands as the wallet's opening deposit.
func (s *service) Register(ctx context.Context, email, password, username, timezone string) (*models.User, error) {
	if len(password) < 6 {
		return nil, errors.New("password must be at least 6 characters")
	}
	if timezone == "" {
		timezone = s.defaultTZ
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, fmt.Errorf("unknown timezone %q", timezone)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	user, err := s.users.CreateTx(ctx, tx, email, string(hash), username, timezone)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	if _, err := s.wallets.CreateTx(ctx, tx, user.ID, s.signupBonus); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}
	if err := s.users.TouchLastLogin(ctx, user.ID); err != nil {
		return "", nil, err
	}
	token, err := s.issueToken(user.ID)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

func (s *service) issueToken(userID uuid.UUID) (string, error) {
	c := jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (uuid.UUID, error) {
	tok, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	c, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok || !tok.Valid {
		return uuid.Nil, errors.New("invalid token")
	}
	return uuid.Parse(c.Subject)
}
