package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/taskstake/backend/internal/middleware"
	"github.com/taskstake/backend/internal/models"
	"github.com/taskstake/backend/internal/repository"
	"github.com/taskstake/backend/internal/services"
)

// Judge applies verdicts; satisfied by *services.Judgment.
type Judge interface {
	Judge(ctx context.Context, judgeID, taskID uuid.UUID, verdict, comment string) (*models.Task, error)
	PendingFor(ctx context.Context, judgeID uuid.UUID) ([]*models.Task, error)
}

// JudgementHandler serves the judge's endpoints.
type JudgementHandler struct {
	Judgment Judge
	Logger   *slog.Logger
}

type judgeRequest struct {
	Verdict string `json:"verdict"`
	Comment string `json:"comment"`
}

// Rule handles POST /api/v1/tasks/{id}/judge.
func (h *JudgementHandler) Rule(w http.ResponseWriter, r *http.Request) {
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
	var req judgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	task, err := h.Judgment.Judge(r.Context(), user.ID, taskID, req.Verdict, req.Comment)
	if err != nil {
		var wrongState *services.WrongStateError
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "task not found")
		case errors.Is(err, services.ErrNotAuthorized):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, services.ErrAlreadyJudged):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, services.ErrCommentRequired), errors.Is(err, services.ErrInvalidVerdict):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &wrongState):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.Logger.Error("judge task", "task_id", taskID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to judge task")
		}
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// Pending handles GET /api/v1/judgements/pending.
func (h *JudgementHandler) Pending(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	tasks, err := h.Judgment.PendingFor(r.Context(), user.ID)
	if err != nil {
		h.Logger.Error("list pending judgements", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list pending judgements")
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}
