package customers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mpfootwear/backoffice/internal/platform/httpx"
	"github.com/mpfootwear/backoffice/internal/shared"
)

// Handler exposes the customer API.
type Handler struct {
	log      *slog.Logger
	svc      *Service
	validate *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(log *slog.Logger, svc *Service) *Handler {
	return &Handler{log: log, svc: svc, validate: validator.New()}
}

// MountRoutes attaches customer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Get("/code/{code}", h.getByCode)
	r.Put("/{id}", h.update)
	r.Post("/{id}/deactivate", h.deactivate)
	r.Post("/{id}/reactivate", h.reactivate)
}

type customerRequest struct {
	FirstName         string  `json:"first_name" validate:"required,max=100"`
	LastName          string  `json:"last_name" validate:"max=100"`
	CompanyName       string  `json:"company_name" validate:"max=200"`
	Type              string  `json:"type" validate:"omitempty,oneof=INDIVIDUAL BUSINESS WHOLESALE VIP"`
	Email             string  `json:"email" validate:"omitempty,email"`
	Phone             string  `json:"phone" validate:"required,min=10,max=15"`
	AlternatePhone    string  `json:"alternate_phone" validate:"omitempty,min=10,max=15"`
	DateOfBirth       string  `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	GSTIN             string  `json:"gstin" validate:"omitempty,len=15"`
	CreditLimit       *string `json:"credit_limit"`
	Segment           string  `json:"segment" validate:"omitempty,oneof=PREMIUM REGULAR OCCASIONAL FIRST_TIME"`
	AcquisitionSource string  `json:"acquisition_source" validate:"max=50"`
	Notes             string  `json:"notes"`
	Tags              string  `json:"tags" validate:"max=200"`
}

type customerResponse struct {
	ID                int64  `json:"id"`
	Code              string `json:"code"`
	DisplayName       string `json:"display_name"`
	FirstName         string `json:"first_name"`
	LastName          string `json:"last_name"`
	CompanyName       string `json:"company_name,omitempty"`
	Type              string `json:"type"`
	Email             string `json:"email,omitempty"`
	Phone             string `json:"phone"`
	AlternatePhone    string `json:"alternate_phone,omitempty"`
	DateOfBirth       string `json:"date_of_birth,omitempty"`
	GSTIN             string `json:"gstin,omitempty"`
	CreditLimit       string `json:"credit_limit"`
	Segment           string `json:"segment"`
	AcquisitionSource string `json:"acquisition_source,omitempty"`
	Notes             string `json:"notes,omitempty"`
	Tags              string `json:"tags,omitempty"`
	Active            bool   `json:"active"`
}

func toCustomerResponse(c Customer) customerResponse {
	resp := customerResponse{
		ID:                c.ID,
		Code:              c.Code,
		DisplayName:       c.DisplayName(),
		FirstName:         c.FirstName,
		LastName:          c.LastName,
		CompanyName:       c.CompanyName,
		Type:              string(c.Type),
		Email:             c.Email,
		Phone:             c.Phone,
		AlternatePhone:    c.AlternatePhone,
		GSTIN:             c.GSTIN,
		CreditLimit:       c.CreditLimit.String(),
		Segment:           string(c.Segment),
		AcquisitionSource: c.AcquisitionSource,
		Notes:             c.Notes,
		Tags:              c.Tags,
		Active:            c.Active,
	}
	if c.DateOfBirth != nil {
		resp.DateOfBirth = c.DateOfBirth.Format("2006-01-02")
	}
	return resp
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req *customerRequest) (Customer, bool) {
	if err := httpx.DecodeJSON(r, req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json body")
		return Customer{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return Customer{}, false
	}
	c := Customer{
		FirstName:         req.FirstName,
		LastName:          req.LastName,
		CompanyName:       req.CompanyName,
		Type:              Type(req.Type),
		Email:             req.Email,
		Phone:             req.Phone,
		AlternatePhone:    req.AlternatePhone,
		GSTIN:             req.GSTIN,
		Segment:           Segment(req.Segment),
		AcquisitionSource: req.AcquisitionSource,
		Notes:             req.Notes,
		Tags:              req.Tags,
	}
	if req.DateOfBirth != "" {
		dob, _ := time.Parse("2006-01-02", req.DateOfBirth)
		c.DateOfBirth = &dob
	}
	if req.CreditLimit != nil {
		limit, err := decimal.NewFromString(*req.CreditLimit)
		if err != nil || limit.Sign() < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "credit_limit must be a non-negative decimal")
			return Customer{}, false
		}
		c.CreditLimit = limit
	}
	return c, true
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	var req customerRequest
	c, ok := h.decode(w, r, &req)
	if !ok {
		return
	}
	c.Tenant = tenant

	created, err := h.svc.Create(r.Context(), c)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toCustomerResponse(created))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid customer id")
		return
	}
	c, err := h.svc.Get(r.Context(), tenant, id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCustomerResponse(c))
}

func (h *Handler) getByCode(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	c, err := h.svc.GetByCode(r.Context(), tenant, chi.URLParam(r, "code"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCustomerResponse(c))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	page := shared.PageFromValues(r.URL.Query())
	customers, err := h.svc.List(r.Context(), tenant, r.URL.Query().Get("search"), page)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := make([]customerResponse, len(customers))
	for i, c := range customers {
		out[i] = toCustomerResponse(c)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"customers": out, "page": page.Page, "per_page": page.PerPage})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid customer id")
		return
	}
	var req customerRequest
	c, ok := h.decode(w, r, &req)
	if !ok {
		return
	}
	c.ID = id
	c.Tenant = tenant

	updated, err := h.svc.Update(r.Context(), c)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCustomerResponse(updated))
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, h.svc.Deactivate)
}

func (h *Handler) reactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, h.svc.Reactivate)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, tenant shared.Tenant, id int64) error) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid customer id")
		return
	}
	if err := op(r.Context(), tenant, id); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrCustomerNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicatePhone):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrNameRequired):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.log.ErrorContext(r.Context(), "customers handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
