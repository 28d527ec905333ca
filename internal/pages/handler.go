package pages

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-cms/meridian/internal/acl"
	"github.com/meridian-cms/meridian/internal/permission"
	"github.com/meridian-cms/meridian/internal/platform/httpx"
	"github.com/meridian-cms/meridian/internal/rbac"
	"github.com/meridian-cms/meridian/internal/shared"
)

// Handler serves the admin content endpoints and the delivery-side page view.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	acl      *acl.Resolver
	rbac     rbac.Middleware
	guestID  int64
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service, aclResolver *acl.Resolver, rbacMW rbac.Middleware, guestID int64) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		acl:      aclResolver,
		rbac:     rbacMW,
		guestID:  guestID,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountAdminRoutes registers the grant-guarded content management endpoints.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Group(func(gr chi.Router) {
		gr.Use(h.rbac.RequireAny(shared.PermPagesView, shared.PermPagesEdit))
		gr.Get("/pages", h.handleTree)
		gr.Get("/pages/{pageID}", h.handleGet)
	})
	r.Group(func(gr chi.Router) {
		gr.Use(h.rbac.RequireAny(shared.PermPagesEdit))
		gr.Post("/pages", h.handleCreate)
		gr.Put("/pages/{pageID}", h.handleUpdate)
		gr.Delete("/pages/{pageID}", h.handleDelete)
	})
}

// MountPublicRoutes registers the ACL-guarded delivery endpoint.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Get("/pages/{slug}", h.handleView)
}

// handleView serves one page to a reader. Access resolves through the group
// ACL; open-access pages render for anonymous visitors too.
func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "")
			return
		}
		h.logger.Error("page by slug", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	principalID, _ := shared.PrincipalID(r.Context(), h.guestID)
	if !h.acl.HasPageAccess(r.Context(), principalID, page.ID, permission.ActionSelect) {
		// Do not leak existence of restricted pages.
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) handleTree(w http.ResponseWriter, r *http.Request) {
	principalID, ok := shared.PrincipalID(r.Context(), h.guestID)
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		return
	}
	tree, err := h.service.Tree(r.Context(), principalID)
	if err != nil {
		h.logger.Error("page tree", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"pages": tree})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pageID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid page id")
		return
	}
	page, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "get page")
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreatePageRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	principalID, _ := shared.PrincipalID(r.Context(), h.guestID)
	page, err := h.service.Create(r.Context(), req, principalID)
	if err != nil {
		h.respondError(w, err, "create page")
		return
	}
	httpx.JSON(w, http.StatusCreated, page)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pageID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid page id")
		return
	}
	var req UpdatePageRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	page, err := h.service.Update(r.Context(), id, req)
	if err != nil {
		h.respondError(w, err, "update page")
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pageID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid page id")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, err, "delete page")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
	case errors.Is(err, ErrSlugTaken):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrHasChildren), errors.Is(err, ErrCycle):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func pageID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "pageID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid page id")
	}
	return id, nil
}
