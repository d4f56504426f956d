package models

import (
	"time"

	"github.com/google/uuid"
)

// EvidenceImage references one already-stored image blob. The engine keeps
// only the reference; upload and compression happen upstream.
type EvidenceImage struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name,omitempty"`
	Path         string `json:"path"`
	Size         int64  `json:"size,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
}

type Evidence struct {
	ID          uuid.UUID       `json:"id"`
	TaskID      uuid.UUID       `json:"task_id"`
	UserID      uuid.UUID       `json:"user_id"`
	Description string          `json:"description"`
	Images      []EvidenceImage `json:"images"`
	SubmittedAt time.Time       `json:"submitted_at"`
	CreatedAt   time.Time       `json:"created_at"`
}
