package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/taskstake/backend/internal/ledger"
	"github.com/taskstake/backend/internal/models"
	"github.com/taskstake/backend/internal/services"
)

// StaleTaskStore lists and removes stale generated instances.
type StaleTaskStore interface {
	ListPastRecurringInstances(ctx context.Context, cutoff time.Time) ([]*models.Task, error)
	DeleteInstanceTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
}

// MaintenanceHandler serves operational repair endpoints. Unlike the
// sweeper, cleanup does not punish: generated instances nobody acted on
// are removed and their stakes returned.
type MaintenanceHandler struct {
	Pool   services.TxBeginner
	Tasks  StaleTaskStore
	Ledger ledger.Service
	Logger *slog.Logger
	Now    func() time.Time
}

func (h *MaintenanceHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

type cleanResponse struct {
	Cleaned int `json:"cleaned"`
}

// CleanPastTasks handles POST /api/v1/maintenance/clean-past-tasks.
func (h *MaintenanceHandler) CleanPastTasks(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	stale, err := h.Tasks.ListPastRecurringInstances(r.Context(), now)
	if err != nil {
		h.Logger.Error("list stale instances", "error", err)
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}

	cleaned := 0
	for _, t := range stale {
		if err := h.clean(r.Context(), t); err != nil {
			h.Logger.Error("clean stale instance", "task_id", t.ID, "error", err)
			continue
		}
		cleaned++
	}
	h.Logger.Info("stale recurring instances cleaned", "count", cleaned, "candidates", len(stale))
	writeJSON(w, http.StatusOK, cleanResponse{Cleaned: cleaned})
}

func (h *MaintenanceHandler) clean(ctx context.Context, t *models.Task) error {
	tx, err := h.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	deleted, err := h.Tasks.DeleteInstanceTx(ctx, tx, t.ID)
	if err != nil {
		return err
	}
	if !deleted {
		// Settled between listing and deleting; leave it alone.
		return nil
	}
	if err := h.Ledger.UnlockStake(ctx, tx, t.UserID, t.ID, t.BetAmount,
		fmt.Sprintf("过期任务清理解锁: %s", t.Title)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
