package groups

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-cms/meridian/internal/platform/httpx"
	"github.com/meridian-cms/meridian/internal/rbac"
	"github.com/meridian-cms/meridian/internal/shared"
)

// Handler serves group, membership, and ACL rule administration.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service, rbacMW rbac.Middleware) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		rbac:     rbacMW,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes registers group administration endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Group(func(gr chi.Router) {
		gr.Use(h.rbac.RequireAny(shared.PermGroupsView, shared.PermGroupsEdit))
		gr.Get("/groups", h.handleList)
		gr.Get("/groups/{groupID}", h.handleGet)
		gr.Get("/groups/{groupID}/members", h.handleMembers)
		gr.Get("/groups/{groupID}/rules", h.handleRules)
	})
	r.Group(func(gr chi.Router) {
		gr.Use(h.rbac.RequireAny(shared.PermGroupsEdit))
		gr.Post("/groups", h.handleCreate)
		gr.Delete("/groups/{groupID}", h.handleDelete)
		gr.Put("/groups/{groupID}/members/{userID}", h.handleAddMember)
		gr.Delete("/groups/{groupID}/members/{userID}", h.handleRemoveMember)
		gr.Put("/groups/{groupID}/rules", h.handleSetRule)
		gr.Delete("/groups/{groupID}/rules/{pageID}", h.handleRemoveRule)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		h.respondError(w, err, "list groups")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"groups": list})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := param(w, r, "groupID")
	if !ok {
		return
	}
	g, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "get group")
		return
	}
	httpx.JSON(w, http.StatusOK, g)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	g, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.respondError(w, err, "create group")
		return
	}
	httpx.JSON(w, http.StatusCreated, g)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := param(w, r, "groupID")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, err, "delete group")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := param(w, r, "groupID")
	if !ok {
		return
	}
	members, err := h.service.Members(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "list members")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"members": members})
}

func (h *Handler) handleAddMember(w http.ResponseWriter, r *http.Request) {
	groupID, ok := param(w, r, "groupID")
	if !ok {
		return
	}
	userID, ok := param(w, r, "userID")
	if !ok {
		return
	}
	if err := h.service.AddMember(r.Context(), groupID, userID); err != nil {
		h.respondError(w, err, "add member")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	groupID, ok := param(w, r, "groupID")
	if !ok {
		return
	}
	userID, ok := param(w, r, "userID")
	if !ok {
		return
	}
	if err := h.service.RemoveMember(r.Context(), groupID, userID); err != nil {
		h.respondError(w, err, "remove member")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRules(w http.ResponseWriter, r *http.Request) {
	id, ok := param(w, r, "groupID")
	if !ok {
		return
	}
	rules, err := h.service.Rules(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "list rules")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (h *Handler) handleSetRule(w http.ResponseWriter, r *http.Request) {
	groupID, ok := param(w, r, "groupID")
	if !ok {
		return
	}
	var in RuleInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	if err := h.service.SetRule(r.Context(), groupID, in); err != nil {
		h.respondError(w, err, "set rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	groupID, ok := param(w, r, "groupID")
	if !ok {
		return
	}
	pageID, ok := param(w, r, "pageID")
	if !ok {
		return
	}
	if err := h.service.RemoveRule(r.Context(), groupID, pageID); err != nil {
		h.respondError(w, err, "remove rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error, op string) {
	if !errors.Is(err, shared.ErrNotFound) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+name)
		return 0, false
	}
	return id, true
}
