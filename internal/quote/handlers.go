package quote

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/capquote/internal/common"
	"github.com/noah-isme/capquote/internal/pricing"
)

// Handler exposes quote, order pricing and admin endpoints.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service   *Service
	Validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	v := cfg.Validator
	if v == nil {
		v = newValidator()
	}
	return &Handler{service: cfg.Service, validate: v}
}

// Routes mounts public endpoints. quoteLimit wraps POST /quotes when non-nil.
func (h *Handler) Routes(r chi.Router, quoteLimit func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		if quoteLimit != nil {
			r.Use(quoteLimit)
		}
		r.Post("/quotes", h.Quote)
	})
	r.Get("/orders/{id}/total", h.OrderTotal)
	r.Get("/orders/{id}/breakdown", h.OrderBreakdown)
	r.Put("/orders/{id}/configuration", h.UpdateConfiguration)
}

// AdminRoutes mounts operator endpoints.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Post("/recalculate", h.Recalculate)
	r.Post("/catalog/refresh", h.RefreshCatalog)
	r.Get("/catalog/lint", h.LintCatalog)
}

// Quote handles POST /api/v1/quotes.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req ConfigurationRequest
	if !h.bind(w, r, &req) {
		return
	}
	breakdown, err := h.service.Quote(r.Context(), req.Configuration())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, breakdown)
}

// OrderTotal handles GET /api/v1/orders/{id}/total.
func (h *Handler) OrderTotal(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	res, err := h.service.OrderTotal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, res)
}

// OrderBreakdown handles GET /api/v1/orders/{id}/breakdown?context=invoice.
func (h *Handler) OrderBreakdown(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	calcCtx := r.URL.Query().Get("context")
	if calcCtx != "" {
		if err := h.validate.Var(calcCtx, "oneof=cart admin invoice receipt order_creation reorder quote snapshot"); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown calculation context", nil)
			return
		}
	}
	breakdown, err := h.service.OrderBreakdown(r.Context(), chi.URLParam(r, "id"), pricing.CalculationContext(calcCtx))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, breakdown)
}

// UpdateConfiguration handles PUT /api/v1/orders/{id}/configuration.
func (h *Handler) UpdateConfiguration(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req ConfigurationRequest
	if !h.bind(w, r, &req) {
		return
	}
	if err := h.service.UpdateConfiguration(r.Context(), chi.URLParam(r, "id"), req.Configuration()); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Recalculate handles POST /api/v1/admin/recalculate.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req RecalculateRequest
	if !h.bind(w, r, &req) {
		return
	}
	report, err := h.service.Recalculate(r.Context(), req.OrderIDs, req.Concurrency, req.Force)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, report)
}

// RefreshCatalog handles POST /api/v1/admin/catalog/refresh.
func (h *Handler) RefreshCatalog(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	status, err := h.service.RefreshCatalog(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, status)
}

// LintCatalog handles GET /api/v1/admin/catalog/lint.
func (h *Handler) LintCatalog(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	violations, err := h.service.LintCatalog(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if violations == nil {
		violations = []pricing.Violation{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": violations, "count": len(violations)})
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "quote service not configured", nil)
		return false
	}
	return true
}

func (h *Handler) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "request validation failed", validationDetails(err))
		return false
	}
	return true
}
