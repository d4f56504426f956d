package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/taskstake/backend/internal/ledger"
	"github.com/taskstake/backend/internal/middleware"
	"github.com/taskstake/backend/internal/models"
	"github.com/taskstake/backend/internal/services"
)

// EvidenceStore persists evidence records.
type EvidenceStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.Evidence) error
	GetByTaskID(ctx context.Context, taskID uuid.UUID) (*models.Evidence, error)
}

// EvidenceTaskStore is the slice of the task repository the evidence
// handler needs.
type EvidenceTaskStore interface {
	GetInstance(ctx context.Context, id uuid.UUID) (*models.Task, error)
	MarkSubmitted(ctx context.Context, tx pgx.Tx, id, evidenceID uuid.UUID, now time.Time) (bool, error)
	MarkExpired(ctx context.Context, tx pgx.Tx, id uuid.UUID, now time.Time) (bool, error)
}

// EvidenceHandler serves evidence submission and retrieval.
type EvidenceHandler struct {
	Pool     services.TxBeginner
	Tasks    EvidenceTaskStore
	Evidence EvidenceStore
	Ledger   ledger.Service
	Logger   *slog.Logger
	Now      func() time.Time
}

func (h *EvidenceHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

type submitEvidenceRequest struct {
	Description string                 `json:"description"`
	Images      []models.EvidenceImage `json:"images"`
}

// Submit handles POST /api/v1/tasks/{id}/evidence. Submission past the
// deadline does not slip through: the task is force-failed, the stake
// forfeited, and the caller told the task expired.
func (h *EvidenceHandler) Submit(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	var req submitEvidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	task, err := h.Tasks.GetInstance(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if task.UserID != user.ID {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if task.Status != models.TaskStatusInProgress {
		writeError(w, http.StatusConflict, fmt.Sprintf("cannot submit a task in state %q", task.Status))
		return
	}

	now := h.now()
	if !now.Before(task.Deadline) {
		h.expire(w, r, task, now)
		return
	}

	evidence := &models.Evidence{
		ID:          uuid.New(),
		TaskID:      task.ID,
		UserID:      user.ID,
		Description: req.Description,
		Images:      req.Images,
		SubmittedAt: now,
	}

	tx, err := h.Pool.Begin(r.Context())
	if err != nil {
		h.Logger.Error("begin tx", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer tx.Rollback(r.Context())

	if err := h.Evidence.CreateTx(r.Context(), tx, evidence); err != nil {
		h.Logger.Error("create evidence", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save evidence")
		return
	}
	submitted, err := h.Tasks.MarkSubmitted(r.Context(), tx, task.ID, evidence.ID, now)
	if err != nil {
		h.Logger.Error("mark submitted", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to submit task")
		return
	}
	if !submitted {
		writeError(w, http.StatusConflict, "task has already left the in-progress state")
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		h.Logger.Error("commit tx", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, evidence)
}

// expire settles a task whose owner tried to submit after the deadline.
// Losing the compare-and-set means an expiry sweep got there first; the
// wallet has already been settled either way.
func (h *EvidenceHandler) expire(w http.ResponseWriter, r *http.Request, task *models.Task, now time.Time) {
	tx, err := h.Pool.Begin(r.Context())
	if err != nil {
		h.Logger.Error("begin tx", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer tx.Rollback(r.Context())

	flipped, err := h.Tasks.MarkExpired(r.Context(), tx, task.ID, now)
	if err != nil {
		h.Logger.Error("mark expired", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if flipped {
		if err := h.Ledger.ForfeitStake(r.Context(), tx, task.UserID, task.ID, task.BetAmount, true,
			fmt.Sprintf("任务超时未完成: %s", task.Title)); err != nil {
			h.Logger.Error("forfeit stake", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if err := tx.Commit(r.Context()); err != nil {
			h.Logger.Error("commit tx", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	writeJSON(w, http.StatusGone, map[string]string{
		"error":  "task has expired",
		"status": models.TaskStatusFailed,
	})
}

// Get handles GET /api/v1/tasks/{id}/evidence. The owner and the judge may
// both view it.
func (h *EvidenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	task, err := h.Tasks.GetInstance(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if task.UserID != user.ID && task.JudgeUserID != user.ID {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	evidence, err := h.Evidence.GetByTaskID(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, "evidence not found")
		return
	}
	writeJSON(w, http.StatusOK, evidence)
}
