package project

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/response"
)

// Handler exposes the project endpoints. Every route expects auth.Middleware
// in front of it.
type Handler struct {
	svc    *ProjectService
	logger *zap.SugaredLogger
}

func NewHandler(svc *ProjectService, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// MemberRequest names the user for add_member and remove_member.
type MemberRequest struct {
	UserID json.Number `json:"user_id"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserID(r.Context())
	list, err := h.svc.List(r.Context(), actor)
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserID(r.Context())
	var in Input
	if err := response.DecodeJSON(r, &in); err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	p, err := h.svc.Create(r.Context(), actor, in)
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	h.logger.Debugw("project created", "project_id", p.ID, "actor", actor)
	response.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserID(r.Context())
	id, err := response.PathID(r, "id")
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	p, err := h.svc.Get(r.Context(), actor, id)
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, p)
}

// Update handles PUT; Patch handles PATCH.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) { h.update(w, r, false) }

func (h *Handler) Patch(w http.ResponseWriter, r *http.Request) { h.update(w, r, true) }

func (h *Handler) update(w http.ResponseWriter, r *http.Request, partial bool) {
	actor, _ := auth.UserID(r.Context())
	id, err := response.PathID(r, "id")
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	var in Input
	if err := response.DecodeJSON(r, &in); err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	p, err := h.svc.Update(r.Context(), actor, id, in, partial)
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserID(r.Context())
	id, err := response.PathID(r, "id")
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	if err := h.svc.Delete(r.Context(), actor, id); err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	h.logger.Debugw("project deleted", "project_id", id, "actor", actor)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	h.member(w, r, h.svc.AddMember, "member added")
}

func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	h.member(w, r, h.svc.RemoveMember, "member removed")
}

func (h *Handler) member(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, actor, id, userID int64) error, status string) {
	actor, _ := auth.UserID(r.Context())
	id, err := response.PathID(r, "id")
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	var req MemberRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	userID, err := response.RequiredID(req.UserID, "user_id")
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	if err := op(r.Context(), actor, id, userID); err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *Handler) Members(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserID(r.Context())
	id, err := response.PathID(r, "id")
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	members, err := h.svc.Members(r.Context(), actor, id)
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, members)
}
