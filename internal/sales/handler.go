package sales

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mpfootwear/backoffice/internal/inventory"
	"github.com/mpfootwear/backoffice/internal/ledger"
	"github.com/mpfootwear/backoffice/internal/platform/cache"
	"github.com/mpfootwear/backoffice/internal/platform/httpx"
	"github.com/mpfootwear/backoffice/internal/shared"
	"github.com/mpfootwear/backoffice/internal/wallet"
)

// Handler exposes the POS sales API.
type Handler struct {
	log      *slog.Logger
	svc      *Service
	validate *validator.Validate
	// summaries caches the daily summary response; nil disables caching.
	summaries *cache.Cache
}

// NewHandler constructs Handler.
func NewHandler(log *slog.Logger, svc *Service) *Handler {
	return &Handler{log: log, svc: svc, validate: validator.New()}
}

// WithSummaryCache caches daily summaries in Redis.
func (h *Handler) WithSummaryCache(c *cache.Cache) *Handler {
	h.summaries = c
	return h
}

// MountRoutes attaches sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/summary", h.dailySummary)
	r.Get("/number/{number}", h.getByNumber)
	r.Get("/{id}", h.get)
	r.Put("/{id}/lines", h.updateLines)
	r.Get("/{id}/lines", h.lines)
	r.Get("/{id}/payments", h.payments)
	r.Post("/{id}/payments", h.recordPayment)
	r.Post("/{id}/complete", h.complete)
	r.Post("/{id}/cancel", h.cancel)
	r.Get("/{id}/returns", h.returns)
	r.Post("/{id}/returns", h.createReturn)
}

type lineRequest struct {
	ProductID          int64  `json:"product_id" validate:"required"`
	ProductName        string `json:"product_name" validate:"required,max=200"`
	ProductSKU         string `json:"product_sku" validate:"max=50"`
	Size               string `json:"size" validate:"max=10"`
	Color              string `json:"color" validate:"max=50"`
	Quantity           int64  `json:"quantity" validate:"required,min=1"`
	UnitPrice          string `json:"unit_price" validate:"required"`
	CostPrice          string `json:"cost_price"`
	DiscountPercentage string `json:"discount_percentage"`
	TaxRate            string `json:"tax_rate"`
}

func (h *Handler) decodeLines(w http.ResponseWriter, reqs []lineRequest) ([]LineInput, bool) {
	lines := make([]LineInput, len(reqs))
	for i, req := range reqs {
		price, err := decimal.NewFromString(req.UnitPrice)
		if err != nil || price.Sign() < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_price must be a non-negative decimal")
			return nil, false
		}
		line := LineInput{
			ProductID:   req.ProductID,
			ProductName: req.ProductName,
			ProductSKU:  req.ProductSKU,
			Size:        req.Size,
			Color:       req.Color,
			Quantity:    req.Quantity,
			UnitPrice:   price,
		}
		for _, opt := range []struct {
			name string
			raw  string
			dst  *decimal.Decimal
		}{
			{"cost_price", req.CostPrice, &line.CostPrice},
			{"discount_percentage", req.DiscountPercentage, &line.DiscountPercentage},
			{"tax_rate", req.TaxRate, &line.TaxRate},
		} {
			if opt.raw == "" {
				continue
			}
			value, err := decimal.NewFromString(opt.raw)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", opt.name+" must be a decimal")
				return nil, false
			}
			*opt.dst = value
		}
		lines[i] = line
	}
	return lines, true
}

type createRequest struct {
	Type               string        `json:"type" validate:"omitempty,oneof=POS ONLINE PHONE WHOLESALE"`
	CustomerID         *int64        `json:"customer_id"`
	CustomerName       string        `json:"customer_name" validate:"max=200"`
	CustomerPhone      string        `json:"customer_phone" validate:"max=15"`
	Lines              []lineRequest `json:"lines" validate:"required,min=1,dive"`
	DiscountPercentage string        `json:"discount_percentage"`
	SalesPersonID      int64         `json:"sales_person_id"`
	Notes              string        `json:"notes" validate:"max=1000"`
	Draft              bool          `json:"draft"`
}

type saleResponse struct {
	ID                 int64  `json:"id"`
	Number             string `json:"number"`
	Type               string `json:"type"`
	Status             string `json:"status"`
	PaymentStatus      string `json:"payment_status"`
	SaleDate           string `json:"sale_date"`
	CustomerID         *int64 `json:"customer_id,omitempty"`
	CustomerName       string `json:"customer_name,omitempty"`
	Subtotal           string `json:"subtotal"`
	DiscountPercentage string `json:"discount_percentage"`
	DiscountAmount     string `json:"discount_amount"`
	TaxAmount          string `json:"tax_amount"`
	TotalAmount        string `json:"total_amount"`
	PaidAmount         string `json:"paid_amount"`
	RefundedAmount     string `json:"refunded_amount"`
	SalesPersonID      int64  `json:"sales_person_id,omitempty"`
}

func toSaleResponse(s Sale) saleResponse {
	return saleResponse{
		ID:                 s.ID,
		Number:             s.Number,
		Type:               string(s.Type),
		Status:             string(s.Status),
		PaymentStatus:      string(s.PaymentStatus),
		SaleDate:           s.SaleDate.Format(time.RFC3339),
		CustomerID:         s.CustomerID,
		CustomerName:       s.CustomerName,
		Subtotal:           s.Subtotal.String(),
		DiscountPercentage: s.DiscountPercentage.String(),
		DiscountAmount:     s.DiscountAmount.String(),
		TaxAmount:          s.TaxAmount.String(),
		TotalAmount:        s.TotalAmount.String(),
		PaidAmount:         s.PaidAmount.String(),
		RefundedAmount:     s.RefundedAmount.String(),
		SalesPersonID:      s.SalesPersonID,
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lines, ok := h.decodeLines(w, req.Lines)
	if !ok {
		return
	}
	input := CreateInput{
		Tenant:        tenant,
		Type:          Type(req.Type),
		CustomerID:    req.CustomerID,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Lines:         lines,
		SalesPersonID: req.SalesPersonID,
		Notes:         req.Notes,
		Draft:         req.Draft,
	}
	if req.DiscountPercentage != "" {
		discount, err := decimal.NewFromString(req.DiscountPercentage)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "discount_percentage must be a decimal")
			return
		}
		input.DiscountPercentage = discount
	}

	sale, err := h.svc.Create(r.Context(), input)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toSaleResponse(sale))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	page := shared.PageFromValues(r.URL.Query())
	var statuses []Status
	for _, s := range r.URL.Query()["status"] {
		statuses = append(statuses, Status(s))
	}
	sales, err := h.svc.List(r.Context(), tenant, statuses, page)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := make([]saleResponse, len(sales))
	for i, s := range sales {
		out[i] = toSaleResponse(s)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sales": out, "page": page.Page, "per_page": page.PerPage})
}

func (h *Handler) saleID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.saleID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	sale, err := h.svc.Get(r.Context(), tenant, id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSaleResponse(sale))
}

func (h *Handler) getByNumber(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	sale, err := h.svc.GetByNumber(r.Context(), tenant, chi.URLParam(r, "number"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSaleResponse(sale))
}

type lineResponse struct {
	ID                 int64  `json:"id"`
	ProductID          int64  `json:"product_id"`
	ProductName        string `json:"product_name"`
	ProductSKU         string `json:"product_sku,omitempty"`
	Size               string `json:"size,omitempty"`
	Color              string `json:"color,omitempty"`
	Quantity           int64  `json:"quantity"`
	UnitPrice          string `json:"unit_price"`
	DiscountPercentage string `json:"discount_percentage"`
	DiscountAmount     string `json:"discount_amount"`
	TaxRate            string `json:"tax_rate"`
	TaxAmount          string `json:"tax_amount"`
	LineTotal          string `json:"line_total"`
}

func (h *Handler) lines(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.saleID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	lines, err := h.svc.Lines(r.Context(), tenant, id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := make([]lineResponse, len(lines))
	for i, l := range lines {
		out[i] = lineResponse{
			ID:                 l.ID,
			ProductID:          l.ProductID,
			ProductName:        l.ProductName,
			ProductSKU:         l.ProductSKU,
			Size:               l.Size,
			Color:              l.Color,
			Quantity:           l.Quantity,
			UnitPrice:          l.UnitPrice.String(),
			DiscountPercentage: l.DiscountPercentage.String(),
			DiscountAmount:     l.DiscountAmount.String(),
			TaxRate:            l.TaxRate.String(),
			TaxAmount:          l.TaxAmount.String(),
			LineTotal:          l.LineTotal.String(),
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lines": out})
}

type updateLinesRequest struct {
	Lines []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) updateLines(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.saleID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	var req updateLinesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lines, ok := h.decodeLines(w, req.Lines)
	if !ok {
		return
	}
	sale, err := h.svc.UpdateLines(r.Context(), tenant, id, lines)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSaleResponse(sale))
}

type paymentRequest struct {
	Amount          string `json:"amount" validate:"required"`
	Method          string `json:"method" validate:"required,oneof=CASH CARD UPI BANK_TRANSFER CHEQUE WALLET GIFT_CARD"`
	ReferenceNumber string `json:"reference_number" validate:"max=50"`
	CardLastFour    string `json:"card_last_four" validate:"omitempty,len=4,numeric"`
	GiftCardCode    string `json:"gift_card_code" validate:"max=20"`
}

type paymentResponse struct {
	ID              int64  `json:"id"`
	Number          string `json:"number"`
	Amount          string `json:"amount"`
	Method          string `json:"method"`
	ReferenceNumber string `json:"reference_number,omitempty"`
	CardLastFour    string `json:"card_last_four,omitempty"`
	PaidAt          string `json:"paid_at"`
}

func toPaymentResponse(p Payment) paymentResponse {
	return paymentResponse{
		ID:              p.ID,
		Number:          p.Number,
		Amount:          p.Amount.String(),
		Method:          string(p.Method),
		ReferenceNumber: p.ReferenceNumber,
		CardLastFour:    p.CardLastFour,
		PaidAt:          p.PaidAt.Format(time.RFC3339),
	}
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.saleID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount must be a decimal")
		return
	}
	payment, err := h.svc.RecordPayment(r.Context(), PaymentInput{
		Tenant:          tenant,
		SaleID:          id,
		Amount:          amount,
		Method:          Method(req.Method),
		ReferenceNumber: req.ReferenceNumber,
		CardLastFour:    req.CardLastFour,
		GiftCardCode:    req.GiftCardCode,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
		ActorID:         shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPaymentResponse(payment))
}

func (h *Handler) payments(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.saleID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	payments, err := h.svc.Payments(r.Context(), tenant, id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := make([]paymentResponse, len(payments))
	for i, p := range payments {
		out[i] = toPaymentResponse(p)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": out})
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.saleID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	sale, err := h.svc.Complete(r.Context(), tenant, id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSaleResponse(sale))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.saleID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	sale, err := h.svc.Cancel(r.Context(), tenant, id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSaleResponse(sale))
}

type returnItemRequest struct {
	LineID    int64  `json:"line_id" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"required,min=1"`
	Condition string `json:"condition" validate:"max=100"`
	Restock   bool   `json:"restock"`
}

type returnRequest struct {
	Reason        string              `json:"reason" validate:"required,oneof=DEFECTIVE WRONG_SIZE WRONG_COLOR DAMAGED NOT_AS_DESCRIBED CHANGED_MIND OTHER"`
	Description   string              `json:"description" validate:"max=500"`
	Items         []returnItemRequest `json:"items" validate:"required,min=1,dive"`
	RestockingFee string              `json:"restocking_fee"`
	RefundMethod  string              `json:"refund_method" validate:"omitempty,oneof=CASH WALLET"`
}

type returnResponse struct {
	ID            int64  `json:"id"`
	Number        string `json:"number"`
	Reason        string `json:"reason"`
	ReturnAmount  string `json:"return_amount"`
	RestockingFee string `json:"restocking_fee"`
	RefundAmount  string `json:"refund_amount"`
	RefundMethod  string `json:"refund_method"`
	ReturnedAt    string `json:"returned_at"`
}

func toReturnResponse(ret Return) returnResponse {
	return returnResponse{
		ID:            ret.ID,
		Number:        ret.Number,
		Reason:        string(ret.Reason),
		ReturnAmount:  ret.ReturnAmount.String(),
		RestockingFee: ret.RestockingFee.String(),
		RefundAmount:  ret.RefundAmount.String(),
		RefundMethod:  string(ret.RefundMethod),
		ReturnedAt:    ret.ReturnedAt.Format(time.RFC3339),
	}
}

func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.saleID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	var req returnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := ReturnInput{
		Tenant:       tenant,
		SaleID:       id,
		Reason:       ReturnReason(req.Reason),
		Description:  req.Description,
		RefundMethod: RefundMethod(req.RefundMethod),
		ActorID:      shared.ActorFromContext(r.Context()),
	}
	if input.RefundMethod == "" {
		input.RefundMethod = RefundCash
	}
	if req.RestockingFee != "" {
		fee, err := decimal.NewFromString(req.RestockingFee)
		if err != nil || fee.Sign() < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "restocking_fee must be a non-negative decimal")
			return
		}
		input.RestockingFee = fee
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ReturnItemInput{
			LineID:    item.LineID,
			Quantity:  item.Quantity,
			Condition: item.Condition,
			Restock:   item.Restock,
		})
	}

	ret, err := h.svc.CreateReturn(r.Context(), input)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toReturnResponse(ret))
}

func (h *Handler) returns(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.saleID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	rets, err := h.svc.Returns(r.Context(), tenant, id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := make([]returnResponse, len(rets))
	for i, ret := range rets {
		out[i] = toReturnResponse(ret)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"returns": out})
}

func (h *Handler) dailySummary(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	day := time.Now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	cacheKey := "sales:summary:" + tenant.String() + ":" + day.Format("2006-01-02")
	var cached map[string]any
	if err := h.summaries.GetJSON(r.Context(), cacheKey, &cached); err == nil {
		httpx.JSON(w, http.StatusOK, cached)
		return
	}

	summary, err := h.svc.DailySummary(r.Context(), tenant, day)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	body := map[string]any{
		"date":           day.Format("2006-01-02"),
		"sales_count":    summary.SalesCount,
		"items_sold":     summary.ItemsSold,
		"gross":          summary.Gross.String(),
		"cash_amount":    summary.CashAmount.String(),
		"card_amount":    summary.CardAmount.String(),
		"upi_amount":     summary.UPIAmount.String(),
		"other_amount":   summary.OtherAmount.String(),
		"returns_count":  summary.ReturnsCount,
		"returns_amount": summary.ReturnsAmount.String(),
	}
	if err := h.summaries.SetJSON(r.Context(), cacheKey, body); err != nil {
		h.log.WarnContext(r.Context(), "summary cache write", slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusOK, body)
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrSaleNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrNotOpen),
		errors.Is(err, ErrNotCompletable),
		errors.Is(err, ErrNotCancellable),
		errors.Is(err, ErrNotReturnable),
		errors.Is(err, ErrOverpayment),
		errors.Is(err, ErrOverReturn),
		errors.Is(err, ErrWalletNeedsCustomer),
		errors.Is(err, wallet.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, inventory.ErrInsufficientStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Rejected", err.Error())
	case errors.Is(err, ErrNoLines), errors.Is(err, ErrInvalidAmount):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.log.ErrorContext(r.Context(), "sales handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
