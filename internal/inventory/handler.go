package inventory

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

	"github.com/mpfootwear/backoffice/internal/ledger"
	"github.com/mpfootwear/backoffice/internal/platform/httpx"
	"github.com/mpfootwear/backoffice/internal/shared"
)

// Handler exposes the catalog and stock API.
type Handler struct {
	log      *slog.Logger
	svc      *Service
	validate *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(log *slog.Logger, svc *Service) *Handler {
	return &Handler{log: log, svc: svc, validate: validator.New()}
}

// MountRoutes attaches product routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/categories", h.createCategory)
	r.Get("/categories", h.categories)
	r.Post("/", h.createProduct)
	r.Get("/", h.list)
	r.Get("/low-stock", h.lowStock)
	r.Get("/sku/{sku}", h.getBySKU)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Get("/{id}/movements", h.movements)
	r.Post("/{id}/receive", h.receive)
	r.Post("/{id}/issue", h.issue)
	r.Post("/{id}/adjust", h.adjust)
	r.Post("/{id}/reserve", h.reserve)
	r.Post("/{id}/release", h.release)
}

type categoryRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
	ParentID    *int64 `json:"parent_id"`
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	var req categoryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	category, err := h.svc.CreateCategory(r.Context(), Category{
		Tenant:      tenant,
		Name:        req.Name,
		Description: req.Description,
		ParentID:    req.ParentID,
		Active:      true,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, category)
}

func (h *Handler) categories(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	categories, err := h.svc.Categories(r.Context(), tenant)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"categories": categories})
}

type productRequest struct {
	Name               string `json:"name" validate:"required,max=200"`
	CategoryID         int64  `json:"category_id" validate:"required"`
	Barcode            string `json:"barcode" validate:"max=50"`
	Brand              string `json:"brand" validate:"max=100"`
	Gender             string `json:"gender" validate:"omitempty,oneof=MALE FEMALE UNISEX KIDS"`
	Size               string `json:"size" validate:"max=10"`
	Color              string `json:"color" validate:"max=50"`
	CostPrice          string `json:"cost_price" validate:"required"`
	SellingPrice       string `json:"selling_price" validate:"required"`
	MRP                string `json:"mrp"`
	DiscountPercentage string `json:"discount_percentage"`
	TrackInventory     *bool  `json:"track_inventory"`
	LowStockThreshold  int64  `json:"low_stock_threshold" validate:"min=0"`
}

type productResponse struct {
	ID                 int64  `json:"id"`
	SKU                string `json:"sku"`
	Barcode            string `json:"barcode,omitempty"`
	Name               string `json:"name"`
	CategoryID         int64  `json:"category_id"`
	Brand              string `json:"brand,omitempty"`
	Gender             string `json:"gender,omitempty"`
	Size               string `json:"size,omitempty"`
	Color              string `json:"color,omitempty"`
	CostPrice          string `json:"cost_price"`
	SellingPrice       string `json:"selling_price"`
	MRP                string `json:"mrp"`
	DiscountPercentage string `json:"discount_percentage"`
	TrackInventory     bool   `json:"track_inventory"`
	StockQuantity      int64  `json:"stock_quantity"`
	ReservedQuantity   int64  `json:"reserved_quantity"`
	AvailableQuantity  int64  `json:"available_quantity"`
	LowStockThreshold  int64  `json:"low_stock_threshold"`
	Active             bool   `json:"active"`
}

func toProductResponse(p Product) productResponse {
	return productResponse{
		ID:                 p.ID,
		SKU:                p.SKU,
		Barcode:            p.Barcode,
		Name:               p.Name,
		CategoryID:         p.CategoryID,
		Brand:              p.Brand,
		Gender:             string(p.Gender),
		Size:               p.Size,
		Color:              p.Color,
		CostPrice:          p.CostPrice.String(),
		SellingPrice:       p.SellingPrice.String(),
		MRP:                p.MRP.String(),
		DiscountPercentage: p.DiscountPercentage.String(),
		TrackInventory:     p.TrackInventory,
		StockQuantity:      p.StockQuantity,
		ReservedQuantity:   p.ReservedQuantity,
		AvailableQuantity:  p.StockQuantity - p.ReservedQuantity,
		LowStockThreshold:  p.LowStockThreshold,
		Active:             p.Active,
	}
}

func (h *Handler) decodeProduct(w http.ResponseWriter, r *http.Request) (Product, bool) {
	tenant, _ := shared.TenantFromContext(r.Context())
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json body")
		return Product{}, false
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return Product{}, false
	}
	p := Product{
		Tenant:            tenant,
		Name:              req.Name,
		CategoryID:        req.CategoryID,
		Barcode:           req.Barcode,
		Brand:             req.Brand,
		Gender:            Gender(req.Gender),
		Size:              req.Size,
		Color:             req.Color,
		TrackInventory:    true,
		LowStockThreshold: req.LowStockThreshold,
		Active:            true,
	}
	if req.TrackInventory != nil {
		p.TrackInventory = *req.TrackInventory
	}
	for _, field := range []struct {
		name  string
		raw   string
		dst   *decimal.Decimal
		allow bool
	}{
		{"cost_price", req.CostPrice, &p.CostPrice, false},
		{"selling_price", req.SellingPrice, &p.SellingPrice, false},
		{"mrp", req.MRP, &p.MRP, true},
		{"discount_percentage", req.DiscountPercentage, &p.DiscountPercentage, true},
	} {
		if field.raw == "" && field.allow {
			continue
		}
		value, err := decimal.NewFromString(field.raw)
		if err != nil || value.Sign() < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", field.name+" must be a non-negative decimal")
			return Product{}, false
		}
		*field.dst = value
	}
	if p.MRP.IsZero() {
		p.MRP = p.SellingPrice
	}
	return p, true
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decodeProduct(w, r)
	if !ok {
		return
	}
	created, err := h.svc.CreateProduct(r.Context(), p)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toProductResponse(created))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	page := shared.PageFromValues(r.URL.Query())
	products, err := h.svc.List(r.Context(), tenant, r.URL.Query().Get("q"), page)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := make([]productResponse, len(products))
	for i, p := range products {
		out[i] = toProductResponse(p)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": out, "page": page.Page, "per_page": page.PerPage})
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	products, err := h.svc.LowStock(r.Context(), tenant)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := make([]productResponse, len(products))
	for i, p := range products {
		out[i] = toProductResponse(p)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": out})
}

func (h *Handler) productID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.productID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	product, err := h.svc.Get(r.Context(), tenant, id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProductResponse(product))
}

func (h *Handler) getBySKU(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	product, err := h.svc.GetBySKU(r.Context(), tenant, chi.URLParam(r, "sku"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProductResponse(product))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.productID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	p, ok := h.decodeProduct(w, r)
	if !ok {
		return
	}
	p.ID = id
	updated, err := h.svc.Update(r.Context(), p)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProductResponse(updated))
}

type movementResponse struct {
	Kind       string `json:"kind"`
	Quantity   string `json:"quantity"`
	StockAfter string `json:"stock_after"`
	Reference  string `json:"reference,omitempty"`
	Reason     string `json:"reason,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func (h *Handler) movements(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.productID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.svc.Movements(r.Context(), tenant, id, limit)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := make([]movementResponse, len(entries))
	for i, e := range entries {
		out[i] = movementResponse{
			Kind:       string(e.Kind),
			Quantity:   e.Amount.String(),
			StockAfter: e.BalanceAfter.String(),
			Reference:  e.Reference,
			Reason:     e.Description,
			CreatedAt:  e.CreatedAt.Format(time.RFC3339),
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": out})
}

type movementRequest struct {
	Quantity  int64  `json:"quantity" validate:"required,min=1"`
	UnitCost  string `json:"unit_cost"`
	Reference string `json:"reference" validate:"max=50"`
	Reason    string `json:"reason" validate:"max=500"`
}

func (h *Handler) movement(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, input MovementInput) (ledger.Entry, error)) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.productID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := MovementInput{
		Tenant:    tenant,
		ProductID: id,
		Quantity:  req.Quantity,
		Reference: req.Reference,
		Reason:    req.Reason,
		ActorID:   shared.ActorFromContext(r.Context()),
	}
	if req.UnitCost != "" {
		cost, err := decimal.NewFromString(req.UnitCost)
		if err != nil || cost.Sign() < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_cost must be a non-negative decimal")
			return
		}
		input.UnitCost = cost
	}
	entry, err := op(r.Context(), input)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movementResponse{
		Kind:       string(entry.Kind),
		Quantity:   entry.Amount.String(),
		StockAfter: entry.BalanceAfter.String(),
		Reference:  entry.Reference,
		Reason:     entry.Description,
		CreatedAt:  entry.CreatedAt.Format(time.RFC3339),
	})
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.svc.Receive)
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.svc.Issue)
}

type adjustRequest struct {
	Quantity int64  `json:"quantity" validate:"required"`
	Reason   string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.productID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entry, err := h.svc.Adjust(r.Context(), tenant, id, req.Quantity, req.Reason, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movementResponse{
		Kind:       string(entry.Kind),
		Quantity:   entry.Amount.String(),
		StockAfter: entry.BalanceAfter.String(),
		Reason:     entry.Description,
		CreatedAt:  entry.CreatedAt.Format(time.RFC3339),
	})
}

type reserveRequest struct {
	Quantity int64 `json:"quantity" validate:"required,min=1"`
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	h.reservation(w, r, h.svc.Reserve)
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	h.reservation(w, r, h.svc.Release)
}

func (h *Handler) reservation(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, tenant shared.Tenant, productID, quantity int64) error) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.productID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	var req reserveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := op(r.Context(), tenant, id, req.Quantity); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrCategoryNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrInventoryNotTracked):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Rejected", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ledger.ErrInvalidAmount):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.log.ErrorContext(r.Context(), "inventory handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
