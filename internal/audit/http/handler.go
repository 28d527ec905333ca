// Package audithttp exposes the decision log over HTTP for administrators.
package audithttp

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/meridian-cms/meridian/internal/audit"
	"github.com/meridian-cms/meridian/internal/platform/httpx"
	"github.com/meridian-cms/meridian/internal/rbac"
	"github.com/meridian-cms/meridian/internal/shared"
)

const exportRateLimit = 10
const exportRateWindow = time.Minute

// Handler serves audit timeline endpoints.
type Handler struct {
	logger  *slog.Logger
	service *audit.Service
	rbac    rbac.Middleware
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *audit.Service, rbacMW rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbacMW}
}

// MountRoutes registers timeline and export endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(exportRateLimit, exportRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	r.Group(func(gr chi.Router) {
		gr.Use(h.rbac.RequireAny(shared.PermAuditView))
		gr.Get("/audit", h.handleTimeline)
		gr.With(limiter).Get("/audit/export.csv", h.handleExport)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if user := strings.TrimSpace(sess.User()); user != "" {
			return "user:" + user, nil
		}
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

type timelineRow struct {
	ID           int64     `json:"id"`
	PrincipalID  int64     `json:"principal_id"`
	ResourceType string    `json:"resource_type"`
	ResourceID   int64     `json:"resource_id"`
	Action       string    `json:"action"`
	Bit          *int      `json:"bit"`
	Result       string    `json:"result"`
	Note         string    `json:"note,omitempty"`
	HTTPMethod   string    `json:"http_method,omitempty"`
	RequestURI   string    `json:"request_uri,omitempty"`
	IP           string    `json:"ip,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type timelineResponse struct {
	Rows   []timelineRow    `json:"rows"`
	Paging audit.PagingInfo `json:"paging"`
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters := parseFilters(r)
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	rows := make([]timelineRow, 0, len(result.Rows))
	for _, rec := range result.Rows {
		rows = append(rows, toRow(rec))
	}
	httpx.JSON(w, http.StatusOK, timelineResponse{Rows: rows, Paging: result.Paging})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := h.service.ExportCSV(r.Context(), parseFilters(r))
	if err != nil {
		h.logger.Error("audit export", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-decisions.csv"`)
	_, _ = w.Write(data)
}

func parseFilters(r *http.Request) audit.TimelineFilters {
	q := r.URL.Query()
	filters := audit.TimelineFilters{
		ResourceType: strings.TrimSpace(q.Get("resource_type")),
		Result:       audit.Result(strings.TrimSpace(q.Get("result"))),
	}
	if v, err := strconv.ParseInt(q.Get("principal_id"), 10, 64); err == nil {
		filters.PrincipalID = v
	}
	if v, err := strconv.Atoi(q.Get("page")); err == nil {
		filters.Page = v
	}
	if v, err := strconv.Atoi(q.Get("page_size")); err == nil {
		filters.PageSize = v
	}
	if t, err := time.Parse("2006-01-02", q.Get("from")); err == nil {
		filters.From = t
	}
	if t, err := time.Parse("2006-01-02", q.Get("to")); err == nil {
		filters.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	return filters
}

func toRow(rec audit.Record) timelineRow {
	return timelineRow{
		ID:           rec.ID,
		PrincipalID:  rec.PrincipalID,
		ResourceType: rec.ResourceType,
		ResourceID:   rec.ResourceID,
		Action:       rec.Action,
		Bit:          rec.Bit,
		Result:       string(rec.Result),
		Note:         rec.Note,
		HTTPMethod:   rec.HTTPMethod,
		RequestURI:   rec.RequestURI,
		IP:           rec.IP,
		OccurredAt:   rec.OccurredAt,
	}
}
