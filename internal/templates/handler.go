package templates

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/loanpilot/loanpilot/internal/platform/httpx"
	"github.com/loanpilot/loanpilot/internal/rbac"
	"github.com/loanpilot/loanpilot/internal/shared"
)

// Handler exposes template endpoints.
type Handler struct {
	applier  *Applier
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler constructs the template handler.
func NewHandler(applier *Applier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		applier:  applier,
		validate: validator.New(),
		logger:   logger,
	}
}

type applyRequest struct {
	TargetType string `json:"target_type" validate:"required,oneof=role user"`
	TargetID   int64  `json:"target_id" validate:"required,gt=0"`
}

// List returns all templates.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tpls, err := h.applier.List(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"templates": tpls})
}

// Get returns one template.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "templateID")
	if !ok {
		return
	}
	tpl, err := h.applier.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tpl)
}

// Apply applies a template to a role or user.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	actorID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor identity")
		return
	}
	id, ok := h.pathID(w, r, "templateID")
	if !ok {
		return
	}
	var req applyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	result, err := h.applier.Apply(r.Context(), actorID, id, req.TargetType, req.TargetID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rbac.ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	case errors.Is(err, rbac.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, rbac.ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, rbac.ErrUpstream):
		h.logger.Error("template dependency failure", "error", err)
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "a dependency is unavailable")
	default:
		h.logger.Error("template internal error", "error", err)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "unexpected error")
	}
}

// Routes mounts the template endpoints, all behind permission guards.
func Routes(h *Handler, checker rbac.PermissionChecker) chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(rbac.RequirePermission(checker, rbac.ResourcePermissions, rbac.ActionRead))
		r.Get("/", h.List)
		r.Get("/{templateID}", h.Get)
	})

	r.Group(func(r chi.Router) {
		r.Use(rbac.RequirePermission(checker, rbac.ResourcePermissions, rbac.ActionManage))
		r.Post("/{templateID}/apply", h.Apply)
	})

	return r
}
