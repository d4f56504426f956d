package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/taskstake/backend/internal/ledger"
	"github.com/taskstake/backend/internal/middleware"
	"github.com/taskstake/backend/internal/models"
	"github.com/taskstake/backend/internal/repository"
	"github.com/taskstake/backend/internal/services"
)

// TaskStore is the subset of the task repository the handler needs.
type TaskStore interface {
	CreateInstanceTx(ctx context.Context, tx pgx.Tx, t *models.Task) error
	GetInstance(ctx context.Context, id uuid.UUID) (*models.Task, error)
	GetInstanceForUser(ctx context.Context, id, userID uuid.UUID) (*models.Task, error)
	ListInstances(ctx context.Context, userID uuid.UUID, f repository.InstanceFilter) ([]*models.Task, error)
	DeleteInstanceTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
	SetArchived(ctx context.Context, id, userID uuid.UUID, archived bool) error
	Stats(ctx context.Context, userID uuid.UUID) (*repository.TaskStats, error)
	CreateTemplate(ctx context.Context, t *models.Template) error
	ListTemplates(ctx context.Context, userID uuid.UUID) ([]*models.Template, error)
	DeleteTemplate(ctx context.Context, id, userID uuid.UUID) error
}

// FriendChecker validates judge assignments.
type FriendChecker interface {
	IsFriend(ctx context.Context, a, b uuid.UUID) (bool, error)
}

// InstanceEnsurer materializes recurring instances before reads.
type InstanceEnsurer interface {
	EnsureToday(ctx context.Context, userID uuid.UUID) error
	EnsureRange(ctx context.Context, userID uuid.UUID, from, to time.Time) error
}

// ExpirySweeper settles overdue tasks before reads.
type ExpirySweeper interface {
	SweepExpired(ctx context.Context, userID uuid.UUID) (int, error)
}

// TaskHandler serves the task and template endpoints.
type TaskHandler struct {
	Pool      services.TxBeginner
	Tasks     TaskStore
	Ledger    ledger.Service
	Friends   FriendChecker
	Generator InstanceEnsurer
	Sweeper   ExpirySweeper
	Logger    *slog.Logger
	Now       func() time.Time
}

func (h *TaskHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

type createTaskRequest struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Category    string             `json:"category"`
	BetAmount   decimal.Decimal    `json:"bet_amount"`
	JudgeUserID string             `json:"judge_user_id"`
	Deadline    *time.Time         `json:"deadline"`
	Recurrence  *models.Recurrence `json:"recurrence"`
}

// CreateTask handles POST /api/v1/tasks. A request with a recurrence block
// creates a template (no funds move yet); one with a deadline creates a
// funded instance, locking the stake in the same transaction.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.BetAmount.LessThan(models.MinBetAmount) || req.BetAmount.GreaterThan(models.MaxBetAmount) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("bet_amount must be between %s and %s", models.MinBetAmount, models.MaxBetAmount))
		return
	}
	if req.Category == "" {
		req.Category = models.DefaultCategory
	}
	if !models.TaskCategories[req.Category] {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("category %q is not allowed", req.Category))
		return
	}

	judgeID, err := uuid.Parse(req.JudgeUserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid judge_user_id")
		return
	}
	if judgeID == user.ID {
		writeError(w, http.StatusBadRequest, "you cannot judge your own task")
		return
	}
	isFriend, err := h.Friends.IsFriend(r.Context(), user.ID, judgeID)
	if err != nil {
		h.Logger.Error("check friendship", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !isFriend {
		writeError(w, http.StatusForbidden, "the judge must be a confirmed friend")
		return
	}

	if req.Recurrence != nil {
		h.createTemplate(w, r, user, &req, judgeID)
		return
	}
	h.createInstance(w, r, user, &req, judgeID)
}

func (h *TaskHandler) createTemplate(w http.ResponseWriter, r *http.Request, user *models.User, req *createTaskRequest, judgeID uuid.UUID) {
	if err := req.Recurrence.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tpl := &models.Template{
		ID:          uuid.New(),
		UserID:      user.ID,
		JudgeUserID: judgeID,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		BetAmount:   req.BetAmount,
		Recurrence:  *req.Recurrence,
	}
	if err := h.Tasks.CreateTemplate(r.Context(), tpl); err != nil {
		h.Logger.Error("create template", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create template")
		return
	}

	// Materialize today's instance right away so the template takes effect
	// without waiting for the next list read.
	if err := h.Generator.EnsureToday(r.Context(), user.ID); err != nil {
		h.Logger.Error("materialize after template create", "template_id", tpl.ID, "error", err)
	}

	writeJSON(w, http.StatusCreated, tpl)
}

func (h *TaskHandler) createInstance(w http.ResponseWriter, r *http.Request, user *models.User, req *createTaskRequest, judgeID uuid.UUID) {
	if req.Deadline == nil {
		writeError(w, http.StatusBadRequest, "deadline is required for a one-off task")
		return
	}
	now := h.now()
	if !req.Deadline.After(now) {
		writeError(w, http.StatusBadRequest, "deadline must be in the future")
		return
	}

	task := &models.Task{
		ID:          uuid.New(),
		UserID:      user.ID,
		JudgeUserID: judgeID,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		BetAmount:   req.BetAmount,
		Deadline:    *req.Deadline,
		Status:      models.TaskStatusInProgress,
		JudgeStatus: models.JudgeStatusPending,
		StartedAt:   now,
	}

	tx, err := h.Pool.Begin(r.Context())
	if err != nil {
		h.Logger.Error("begin tx", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer tx.Rollback(r.Context())

	if err := h.Tasks.CreateInstanceTx(r.Context(), tx, task); err != nil {
		h.Logger.Error("create task", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}
	if err := h.Ledger.LockStake(r.Context(), tx, user.ID, task.ID, task.BetAmount,
		fmt.Sprintf("任务锁定: %s", task.Title)); err != nil {
		var ife *ledger.InsufficientFundsError
		if errors.As(err, &ife) {
			writeJSON(w, http.StatusPaymentRequired, map[string]string{
				"error":     "insufficient funds",
				"available": ife.Available.String(),
				"required":  ife.Required.String(),
			})
			return
		}
		h.Logger.Error("lock stake", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to lock stake")
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		h.Logger.Error("commit tx", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, task)
}

// ListTasks handles GET /api/v1/tasks. Listing is where recurrence
// generation and expiry sweeping happen: the response reflects the world
// as of now, with today's instances present and overdue ones settled.
// Failures in either side effect are logged, never surfaced; a read must
// not break because maintenance work did.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	q := r.URL.Query()
	filter := repository.InstanceFilter{
		Status:   q.Get("status"),
		Category: q.Get("category"),
		Archived: q.Get("archived"),
	}
	var from, to *time.Time
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from timestamp")
			return
		}
		from = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to timestamp")
			return
		}
		to = &t
	}
	filter.From, filter.To = from, to

	if from != nil && to != nil {
		if err := h.Generator.EnsureRange(r.Context(), user.ID, *from, *to); err != nil {
			h.Logger.Error("ensure range", "user_id", user.ID, "error", err)
		}
	} else {
		if err := h.Generator.EnsureToday(r.Context(), user.ID); err != nil {
			h.Logger.Error("ensure today", "user_id", user.ID, "error", err)
		}
	}
	if _, err := h.Sweeper.SweepExpired(r.Context(), user.ID); err != nil {
		h.Logger.Error("sweep expired", "user_id", user.ID, "error", err)
	}

	tasks, err := h.Tasks.ListInstances(r.Context(), user.ID, filter)
	if err != nil {
		h.Logger.Error("list tasks", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GetTask handles GET /api/v1/tasks/{id}. The owner and the assigned judge
// may both view a task.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	task, err := h.Tasks.GetInstance(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if task.UserID != user.ID && task.JudgeUserID != user.ID {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// CancelTask handles DELETE /api/v1/tasks/{id}. Only an in-progress task
// can be cancelled: the row is removed and the stake returns to balance in
// one transaction.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	task, err := h.Tasks.GetInstanceForUser(r.Context(), id, user.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	tx, err := h.Pool.Begin(r.Context())
	if err != nil {
		h.Logger.Error("begin tx", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer tx.Rollback(r.Context())

	deleted, err := h.Tasks.DeleteInstanceTx(r.Context(), tx, id)
	if err != nil {
		h.Logger.Error("cancel task", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}
	if !deleted {
		writeError(w, http.StatusConflict, fmt.Sprintf("cannot cancel a task in state %q", task.Status))
		return
	}
	if err := h.Ledger.UnlockStake(r.Context(), tx, user.ID, task.ID, task.BetAmount,
		fmt.Sprintf("任务取消解锁: %s", task.Title)); err != nil {
		h.Logger.Error("unlock stake", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to unlock stake")
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		h.Logger.Error("commit tx", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Archive handles POST /api/v1/tasks/{id}/archive and .../unarchive. Only
// settled tasks can be archived; the stake ledger is untouched.
func (h *TaskHandler) Archive(archived bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := middleware.UserFromCtx(r.Context())
		if user == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid task id")
			return
		}
		task, err := h.Tasks.GetInstanceForUser(r.Context(), id, user.ID)
		if err != nil {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		if !task.Terminal() {
			writeError(w, http.StatusConflict, fmt.Sprintf("cannot archive a task in state %q", task.Status))
			return
		}
		if err := h.Tasks.SetArchived(r.Context(), id, user.ID, archived); err != nil {
			h.Logger.Error("archive task", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to archive task")
			return
		}
		task.Archived = archived
		writeJSON(w, http.StatusOK, task)
	}
}

// Stats handles GET /api/v1/tasks/stats.
func (h *TaskHandler) Stats(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	stats, err := h.Tasks.Stats(r.Context(), user.ID)
	if err != nil {
		h.Logger.Error("task stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ListTemplates handles GET /api/v1/templates.
func (h *TaskHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	templates, err := h.Tasks.ListTemplates(r.Context(), user.ID)
	if err != nil {
		h.Logger.Error("list templates", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}
	if templates == nil {
		templates = []*models.Template{}
	}
	writeJSON(w, http.StatusOK, templates)
}

// DeleteTemplate handles DELETE /api/v1/templates/{id}. Existing instances
// are left alone; the template simply stops generating new ones.
func (h *TaskHandler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid template id")
		return
	}
	if err := h.Tasks.DeleteTemplate(r.Context(), id, user.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "template not found")
			return
		}
		h.Logger.Error("delete template", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete template")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
