package masterdata

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/izzyftw1/rvi-sub014/internal/platform/httpx"
	"github.com/izzyftw1/rvi-sub014/internal/rbac"
	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// Handler manages master data endpoints.
type Handler struct {
	logger    *slog.Logger
	service   Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service Service, mw rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: mw, validator: validator.New()}
}

// MountRoutes registers master data routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermMasterdataView))
		r.Get("/parts", h.listParts)
		r.Get("/parts/{partID}", h.getPart)
		r.Get("/customers", h.listCustomers)
		r.Get("/customers/{customerID}", h.getCustomer)
		r.Get("/partners", h.listPartners)
		r.Get("/partners/{partnerID}", h.getPartner)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermMasterdataEdit))
		r.Post("/parts", h.createPart)
		r.Put("/parts/{partID}", h.updatePart)
		r.Delete("/parts/{partID}", h.deletePart)
		r.Post("/customers", h.createCustomer)
		r.Put("/customers/{customerID}", h.updateCustomer)
		r.Delete("/customers/{customerID}", h.deleteCustomer)
		r.Post("/partners", h.createPartner)
		r.Put("/partners/{partnerID}", h.updatePartner)
		r.Delete("/partners/{partnerID}", h.deletePartner)
	})
}

func (h *Handler) parseFilters(r *http.Request) ListFilters {
	pq := shared.ParsePageQuery(r)
	filters := ListFilters{
		Page:   pq.Page,
		Limit:  pq.PerPage,
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
	}
	if raw := r.URL.Query().Get("active"); raw != "" {
		if active, err := strconv.ParseBool(raw); err == nil {
			filters.Active = &active
		}
	}
	if t := r.URL.Query().Get("type"); t != "" {
		filters.Type = PartnerType(strings.ToUpper(t))
	}
	if p := r.URL.Query().Get("process"); p != "" {
		filters.Process = strings.ToUpper(p)
	}
	return filters
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) respondError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "record does not exist")
	case errors.Is(err, ErrDuplicateCode):
		httpx.Problem(w, http.StatusConflict, "Conflict", "code already in use")
	case errors.Is(err, ErrInvalidPartner):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid partner", "processors need a process and SLA days > 0")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "operation failed")
	}
}

// Part handlers

type partRequest struct {
	Code        string  `json:"code" validate:"required,max=60"`
	Name        string  `json:"name" validate:"required,max=200"`
	DrawingNo   string  `json:"drawing_no" validate:"max=100"`
	Revision    string  `json:"revision" validate:"max=20"`
	Material    string  `json:"material" validate:"max=40"`
	UnitWeightG float64 `json:"unit_weight_g" validate:"gte=0"`
	HSNCode     string  `json:"hsn_code" validate:"max=20"`
}

func (req partRequest) toPart() Part {
	return Part{
		Code:        req.Code,
		Name:        req.Name,
		DrawingNo:   req.DrawingNo,
		Revision:    req.Revision,
		Material:    req.Material,
		UnitWeightG: req.UnitWeightG,
		HSNCode:     req.HSNCode,
	}
}

func (h *Handler) listParts(w http.ResponseWriter, r *http.Request) {
	filters := h.parseFilters(r)
	parts, total, err := h.service.ListParts(r.Context(), filters)
	if err != nil {
		h.respondError(w, err, "list parts")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"parts":      parts,
		"pagination": shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) getPart(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "partID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid part id")
		return
	}
	part, err := h.service.GetPart(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "get part")
		return
	}
	httpx.JSON(w, http.StatusOK, part)
}

func (h *Handler) createPart(w http.ResponseWriter, r *http.Request) {
	var req partRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	part, err := h.service.CreatePart(r.Context(), req.toPart())
	if err != nil {
		h.respondError(w, err, "create part")
		return
	}
	httpx.JSON(w, http.StatusCreated, part)
}

func (h *Handler) updatePart(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "partID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid part id")
		return
	}
	var req partRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	if err := h.service.UpdatePart(r.Context(), id, req.toPart()); err != nil {
		h.respondError(w, err, "update part")
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) deletePart(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "partID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid part id")
		return
	}
	deactivated, err := h.service.DeletePart(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "delete part")
		return
	}
	if deactivated {
		httpx.JSON(w, http.StatusOK, map[string]any{"deactivated": true})
		return
	}
	httpx.NoContent(w)
}

// Customer handlers

type customerRequest struct {
	Code             string `json:"code" validate:"required,max=60"`
	Name             string `json:"name" validate:"required,max=200"`
	GSTIN            string `json:"gstin" validate:"max=20"`
	City             string `json:"city" validate:"max=100"`
	PaymentTermsDays int    `json:"payment_terms_days" validate:"gte=0,lte=365"`
}

func (req customerRequest) toCustomer() Customer {
	return Customer{
		Code:             req.Code,
		Name:             req.Name,
		GSTIN:            req.GSTIN,
		City:             req.City,
		PaymentTermsDays: req.PaymentTermsDays,
	}
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	filters := h.parseFilters(r)
	customers, total, err := h.service.ListCustomers(r.Context(), filters)
	if err != nil {
		h.respondError(w, err, "list customers")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"customers":  customers,
		"pagination": shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) getCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "customerID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid customer id")
		return
	}
	customer, err := h.service.GetCustomer(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "get customer")
		return
	}
	httpx.JSON(w, http.StatusOK, customer)
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	customer, err := h.service.CreateCustomer(r.Context(), req.toCustomer())
	if err != nil {
		h.respondError(w, err, "create customer")
		return
	}
	httpx.JSON(w, http.StatusCreated, customer)
}

func (h *Handler) updateCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "customerID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid customer id")
		return
	}
	var req customerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	if err := h.service.UpdateCustomer(r.Context(), id, req.toCustomer()); err != nil {
		h.respondError(w, err, "update customer")
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) deleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "customerID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid customer id")
		return
	}
	deactivated, err := h.service.DeleteCustomer(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "delete customer")
		return
	}
	if deactivated {
		httpx.JSON(w, http.StatusOK, map[string]any{"deactivated": true})
		return
	}
	httpx.NoContent(w)
}

// Partner handlers

type partnerRequest struct {
	Code    string `json:"code" validate:"required,max=60"`
	Name    string `json:"name" validate:"required,max=200"`
	Type    string `json:"type" validate:"required,oneof=SUPPLIER PROCESSOR TRANSPORTER"`
	Process string `json:"process" validate:"max=60"`
	SLADays int    `json:"sla_days" validate:"gte=0,lte=365"`
	City    string `json:"city" validate:"max=100"`
}

func (req partnerRequest) toPartner() Partner {
	return Partner{
		Code:    req.Code,
		Name:    req.Name,
		Type:    PartnerType(req.Type),
		Process: req.Process,
		SLADays: req.SLADays,
		City:    req.City,
	}
}

func (h *Handler) listPartners(w http.ResponseWriter, r *http.Request) {
	filters := h.parseFilters(r)
	partners, total, err := h.service.ListPartners(r.Context(), filters)
	if err != nil {
		h.respondError(w, err, "list partners")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"partners":   partners,
		"pagination": shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) getPartner(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "partnerID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid partner id")
		return
	}
	partner, err := h.service.GetPartner(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "get partner")
		return
	}
	httpx.JSON(w, http.StatusOK, partner)
}

func (h *Handler) createPartner(w http.ResponseWriter, r *http.Request) {
	var req partnerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	partner, err := h.service.CreatePartner(r.Context(), req.toPartner())
	if err != nil {
		h.respondError(w, err, "create partner")
		return
	}
	httpx.JSON(w, http.StatusCreated, partner)
}

func (h *Handler) updatePartner(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "partnerID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid partner id")
		return
	}
	var req partnerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	if err := h.service.UpdatePartner(r.Context(), id, req.toPartner()); err != nil {
		h.respondError(w, err, "update partner")
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) deletePartner(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "partnerID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid partner id")
		return
	}
	deactivated, err := h.service.DeletePartner(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "delete partner")
		return
	}
	if deactivated {
		httpx.JSON(w, http.StatusOK, map[string]any{"deactivated": true})
		return
	}
	httpx.NoContent(w)
}
