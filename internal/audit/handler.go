package audit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/loanpilot/loanpilot/internal/platform/httpx"
)

// Handler exposes the audit trail query and export endpoints.
type Handler struct {
	service  *Service
	exporter *Exporter
	logger   *slog.Logger
}

// NewHandler constructs the audit handler.
func NewHandler(service *Service, exporter *Exporter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, exporter: exporter, logger: logger}
}

// Query returns one page of audit entries, newest first.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	page, err := h.service.Query(r.Context(), f)
	if err != nil {
		h.logger.Error("audit query failed", "error", err)
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "a dependency is unavailable")
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

// Export streams the filtered trail as a CSV or JSON download.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "format must be csv or json")
		return
	}

	filename := Filename(format, time.Now())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		err = h.exporter.WriteCSV(r.Context(), w, f)
	case "json":
		w.Header().Set("Content-Type", "application/json")
		err = h.exporter.WriteJSON(r.Context(), w, f)
	}
	if err != nil {
		// Headers are already on the wire; all we can do is log and drop.
		h.logger.Error("audit export aborted", "format", format, "error", err)
	}
}

func parseFilters(r *http.Request) (Filters, error) {
	q := r.URL.Query()
	f := Filters{
		ActionType: q.Get("action_type"),
		EntityType: q.Get("entity_type"),
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Filters{}, fmt.Errorf("invalid from timestamp: %v", err)
		}
		f.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Filters{}, fmt.Errorf("invalid to timestamp: %v", err)
		}
		f.To = t
	}
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Filters{}, fmt.Errorf("invalid page")
		}
		f.Page = n
	}
	if raw := q.Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Filters{}, fmt.Errorf("invalid page_size")
		}
		f.PageSize = n
	}
	return f, nil
}
