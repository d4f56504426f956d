package friends

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/taskstake/backend/internal/middleware"
	"github.com/taskstake/backend/internal/models"
	"github.com/taskstake/backend/internal/repository"
)

type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

type inviteRequest struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

// Invite handles POST /api/v1/friends/invitations.
func (h *Handler) Invite(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	inv, err := h.svc.Invite(r.Context(), user.ID, req.Email, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "no user with that email")
		case errors.Is(err, ErrSelfInvite), errors.Is(err, ErrAlreadyFriends), errors.Is(err, ErrAlreadyInvited):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.log.Error("send invitation", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to send invitation")
		}
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

type respondRequest struct {
	Accept bool `json:"accept"`
}

// Respond handles POST /api/v1/friends/invitations/{id}/respond.
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid invitation id")
		return
	}
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	inv, err := h.svc.Respond(r.Context(), user.ID, id, req.Accept)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "invitation not found")
		case errors.Is(err, ErrNotRecipient):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, ErrInviteNotActive):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.log.Error("respond to invitation", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to respond to invitation")
		}
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

type invitationsResponse struct {
	Incoming []*models.Invitation `json:"incoming"`
	Outgoing []*models.Invitation `json:"outgoing"`
}

// ListInvitations handles GET /api/v1/friends/invitations.
func (h *Handler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	incoming, err := h.svc.Incoming(r.Context(), user.ID)
	if err != nil {
		h.log.Error("list incoming invitations", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list invitations")
		return
	}
	outgoing, err := h.svc.Outgoing(r.Context(), user.ID)
	if err != nil {
		h.log.Error("list outgoing invitations", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list invitations")
		return
	}
	if incoming == nil {
		incoming = []*models.Invitation{}
	}
	if outgoing == nil {
		outgoing = []*models.Invitation{}
	}
	writeJSON(w, http.StatusOK, invitationsResponse{Incoming: incoming, Outgoing: outgoing})
}

// ListFriends handles GET /api/v1/friends.
func (h *Handler) ListFriends(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	list, err := h.svc.List(r.Context(), user.ID)
	if err != nil {
		h.log.Error("list friends", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list friends")
		return
	}
	if list == nil {
		list = []*models.User{}
	}
	writeJSON(w, http.StatusOK, list)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
