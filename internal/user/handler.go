package user

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/response"
)

// Handler exposes HTTP endpoints for registration, token issuance and the user list.
type Handler struct {
	svc    *UserService
	tokens *auth.TokenService
	logger *zap.SugaredLogger
}

func NewHandler(svc *UserService, tokens *auth.TokenService, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, tokens: tokens, logger: logger}
}

// RegisterResponse is returned by Register.
type RegisterResponse struct {
	User    entity.Summary `json:"user"`
	Refresh string         `json:"refresh"`
	Access  string         `json:"access"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterInput
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	u, err := h.svc.Register(r.Context(), req)
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	pair, err := h.tokens.IssuePair(u.ID)
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	h.logger.Infow("user registered", "user_id", u.ID, "username", u.Username)
	response.WriteJSON(w, http.StatusCreated, RegisterResponse{
		User:    u.Summary(),
		Refresh: pair.Refresh,
		Access:  pair.Access,
	})
}

// TokenRequest is the token obtain payload.
type TokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	u, err := h.svc.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	pair, err := h.tokens.IssuePair(u.ID)
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, pair)
}

// RefreshRequest carries the refresh token.
type RefreshRequest struct {
	Refresh string `json:"refresh"`
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	if req.Refresh == "" {
		response.WriteError(w, h.logger, apperr.Validation("invalid payload", map[string]string{
			"refresh": "This field is required.",
		}))
		return
	}
	id, err := h.tokens.VerifyRefresh(req.Refresh)
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	active, err := h.svc.IsActive(r.Context(), id)
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	if !active {
		response.WriteError(w, h.logger, ErrBadCredentials)
		return
	}
	access, err := h.tokens.IssueAccess(id)
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]string{"access": access})
}

// List returns the active users other than the caller.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	me, _ := auth.UserID(r.Context())
	users, err := h.svc.ListOthers(r.Context(), me)
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, users)
}
