package models

import (
	"time"

	"github.com/google/uuid"
)

// Invitation status enums.
const (
	InviteStatusPending  = "pending"
	InviteStatusAccepted = "accepted"
	InviteStatusDeclined = "declined"
)

// Invitation is a friend request. Accepting one creates a mutual
// friendship, which is what authorizes a user to be named as a judge.
type Invitation struct {
	ID         uuid.UUID `json:"id"`
	FromUserID uuid.UUID `json:"from_user_id"`
	ToUserID   uuid.UUID `json:"to_user_id"`
	ToEmail    string    `json:"to_email"`
	Message    string    `json:"message,omitempty"`
	Status     string    `json:"status"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}
