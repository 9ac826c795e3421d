package task

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/response"
)

// Handler exposes the task endpoints. Every route expects auth.Middleware
// in front of it.
type Handler struct {
	svc    *TaskService
	logger *zap.SugaredLogger
}

func NewHandler(svc *TaskService, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// AssigneeRequest names the user for assign and remove_assignee.
type AssigneeRequest struct {
	UserID json.Number `json:"user_id"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserID(r.Context())
	qs := r.URL.Query()
	list, err := h.svc.List(r.Context(), actor, Query{
		Project:  qs.Get("project"),
		Status:   qs.Get("status"),
		Priority: qs.Get("priority"),
	})
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, list)
}

// MyTasks and Assigned both list the caller's assigned tasks.
func (h *Handler) MyTasks(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserID(r.Context())
	list, err := h.svc.Assigned(r.Context(), actor)
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) Assigned(w http.ResponseWriter, r *http.Request) { h.MyTasks(w, r) }

// ForProject lists the tasks of /api/projects/{id}/tasks/.
func (h *Handler) ForProject(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserID(r.Context())
	id, err := response.PathID(r, "id")
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	list, err := h.svc.ForProject(r.Context(), actor, id)
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
	t, err := h.svc.Create(r.Context(), actor, in)
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	h.logger.Debugw("task created", "task_id", t.ID, "actor", actor)
	response.WriteJSON(w, http.StatusCreated, t)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserID(r.Context())
	id, err := response.PathID(r, "id")
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	t, err := h.svc.Get(r.Context(), actor, id)
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, t)
}

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
	t, err := h.svc.Update(r.Context(), actor, id, in, partial)
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, t)
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
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	h.assignee(w, r, h.svc.Assign, "assignee added")
}

func (h *Handler) RemoveAssignee(w http.ResponseWriter, r *http.Request) {
	h.assignee(w, r, h.svc.RemoveAssignee, "assignee removed")
}

func (h *Handler) assignee(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, actor, id, userID int64) error, status string) {
	actor, _ := auth.UserID(r.Context())
	id, err := response.PathID(r, "id")
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	var req AssigneeRequest
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
