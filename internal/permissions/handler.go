package permissions

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-cms/meridian/internal/platform/httpx"
	"github.com/meridian-cms/meridian/internal/rbac"
	"github.com/meridian-cms/meridian/internal/shared"
)

// Handler serves the grant administration endpoints.
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

// MountRoutes registers grant reconciliation and change-log endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Group(func(gr chi.Router) {
		gr.Use(h.rbac.RequireAny(shared.PermPermissionsEdit))
		gr.Put("/roles/{roleID}/grants", h.handleSetGrants)
	})
	r.Group(func(gr chi.Router) {
		gr.Use(h.rbac.RequireAny(shared.PermPermissionsView))
		gr.Get("/roles/{roleID}/grants/changes", h.handleChangeLog)
	})
}

type setGrantsRequest struct {
	Grants []GrantInput `json:"grants" validate:"dive"`
}

func (h *Handler) handleSetGrants(w http.ResponseWriter, r *http.Request) {
	roleID, err := strconv.ParseInt(chi.URLParam(r, "roleID"), 10, 64)
	if err != nil || roleID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid role id")
		return
	}

	var req setGrantsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	summary, err := h.service.SetRolePermissions(r.Context(), roleID, req.Grants)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrReconcileBusy):
			httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
		default:
			h.logger.Error("set role grants", slog.Int64("role_id", roleID), slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		}
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

type changeRow struct {
	ID             int64     `json:"id"`
	ResourceTypeID int64     `json:"resource_type_id"`
	ResourceID     int64     `json:"resource_id"`
	Op             string    `json:"op"`
	OldMask        int       `json:"old_mask"`
	NewMask        int       `json:"new_mask"`
	ChangedAt      time.Time `json:"changed_at"`
}

func (h *Handler) handleChangeLog(w http.ResponseWriter, r *http.Request) {
	roleID, err := strconv.ParseInt(chi.URLParam(r, "roleID"), 10, 64)
	if err != nil || roleID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid role id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	changes, err := h.service.RoleChangeLog(r.Context(), roleID, limit)
	if err != nil {
		h.logger.Error("role change log", slog.Int64("role_id", roleID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	rows := make([]changeRow, 0, len(changes))
	for _, ch := range changes {
		rows = append(rows, changeRow{
			ID:             ch.ID,
			ResourceTypeID: ch.ResourceTypeID,
			ResourceID:     ch.ResourceID,
			Op:             ch.Op,
			OldMask:        int(ch.OldMask),
			NewMask:        int(ch.NewMask),
			ChangedAt:      ch.ChangedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"changes": rows})
}
