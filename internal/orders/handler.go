package orders

import (
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
	"github.com/mpfootwear/backoffice/internal/wallet"
)

// Handler exposes the order pipeline API.
type Handler struct {
	log      *slog.Logger
	svc      *Service
	validate *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(log *slog.Logger, svc *Service) *Handler {
	return &Handler{log: log, svc: svc, validate: validator.New()}
}

// MountRoutes attaches order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/display/{displayID}", h.getByDisplayID)
	r.Get("/{id}", h.get)
	r.Put("/{id}/lines", h.updateLines)
	r.Get("/{id}/lines", h.lines)
	r.Get("/{id}/history", h.history)
	r.Post("/{id}/transition", h.transition)
	r.Post("/{id}/cancel", h.cancel)
	r.Get("/{id}/payments", h.payments)
	r.Post("/{id}/payments", h.recordPayment)
	r.Post("/{id}/refunds", h.recordRefund)
}

type addressRequest struct {
	FirstName  string `json:"first_name" validate:"max=100"`
	LastName   string `json:"last_name" validate:"max=100"`
	Line1      string `json:"line1" validate:"max=200"`
	Line2      string `json:"line2" validate:"max=200"`
	City       string `json:"city" validate:"max=100"`
	State      string `json:"state" validate:"max=100"`
	PostalCode string `json:"postal_code" validate:"max=10"`
	Country    string `json:"country" validate:"max=100"`
	Phone      string `json:"phone" validate:"max=15"`
}

func (a addressRequest) toAddress() Address {
	return Address{
		FirstName:  a.FirstName,
		LastName:   a.LastName,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

type lineRequest struct {
	ProductID          int64  `json:"product_id" validate:"required"`
	ProductName        string `json:"product_name" validate:"required,max=200"`
	ProductSKU         string `json:"product_sku" validate:"max=50"`
	Size               string `json:"size" validate:"max=10"`
	Color              string `json:"color" validate:"max=50"`
	UnitPrice          string `json:"unit_price" validate:"required"`
	Quantity           int64  `json:"quantity" validate:"required,min=1"`
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
			UnitPrice:   price,
			Quantity:    req.Quantity,
		}
		if req.DiscountPercentage != "" {
			if line.DiscountPercentage, err = decimal.NewFromString(req.DiscountPercentage); err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "discount_percentage must be a decimal")
				return nil, false
			}
		}
		if req.TaxRate != "" {
			if line.TaxRate, err = decimal.NewFromString(req.TaxRate); err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "tax_rate must be a decimal")
				return nil, false
			}
		}
		lines[i] = line
	}
	return lines, true
}

type createRequest struct {
	CustomerID      *int64         `json:"customer_id"`
	CustomerEmail   string         `json:"customer_email" validate:"omitempty,email"`
	CustomerPhone   string         `json:"customer_phone" validate:"omitempty,min=10,max=15"`
	Lines           []lineRequest  `json:"lines" validate:"required,min=1,dive"`
	CouponDiscount  string         `json:"coupon_discount"`
	ShippingAmount  string         `json:"shipping_amount"`
	Source          string         `json:"source" validate:"max=50"`
	Notes           string         `json:"notes" validate:"max=1000"`
	BillingAddress  addressRequest `json:"billing_address"`
	ShippingAddress addressRequest `json:"shipping_address"`
}

type orderResponse struct {
	ID                  int64   `json:"id"`
	Number              string  `json:"number"`
	DisplayID           string  `json:"display_id"`
	CustomerID          *int64  `json:"customer_id,omitempty"`
	Status              string  `json:"status"`
	PaymentStatus       string  `json:"payment_status"`
	OrderDate           string  `json:"order_date"`
	DeliveredAt         *string `json:"delivered_at,omitempty"`
	Subtotal            string  `json:"subtotal"`
	DiscountAmount      string  `json:"discount_amount"`
	CouponDiscount      string  `json:"coupon_discount"`
	TaxAmount           string  `json:"tax_amount"`
	ShippingAmount      string  `json:"shipping_amount"`
	TotalAmount         string  `json:"total_amount"`
	PaidAmount          string  `json:"paid_amount"`
	RefundedAmount      string  `json:"refunded_amount"`
	LoyaltyPointsEarned int64   `json:"loyalty_points_earned"`
	Source              string  `json:"source,omitempty"`
}

func toOrderResponse(o Order) orderResponse {
	resp := orderResponse{
		ID:                  o.ID,
		Number:              o.Number,
		DisplayID:           o.DisplayID,
		CustomerID:          o.CustomerID,
		Status:              string(o.Status),
		PaymentStatus:       string(o.PaymentStatus),
		OrderDate:           o.OrderDate.Format(time.RFC3339),
		Subtotal:            o.Subtotal.String(),
		DiscountAmount:      o.DiscountAmount.String(),
		CouponDiscount:      o.CouponDiscount.String(),
		TaxAmount:           o.TaxAmount.String(),
		ShippingAmount:      o.ShippingAmount.String(),
		TotalAmount:         o.TotalAmount.String(),
		PaidAmount:          o.PaidAmount.String(),
		RefundedAmount:      o.RefundedAmount.String(),
		LoyaltyPointsEarned: o.LoyaltyPointsEarned,
		Source:              o.Source,
	}
	if o.DeliveredAt != nil {
		at := o.DeliveredAt.Format(time.RFC3339)
		resp.DeliveredAt = &at
	}
	return resp
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
		Tenant:          tenant,
		CustomerID:      req.CustomerID,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		Lines:           lines,
		Source:          req.Source,
		Notes:           req.Notes,
		BillingAddress:  req.BillingAddress.toAddress(),
		ShippingAddress: req.ShippingAddress.toAddress(),
		ActorID:         shared.ActorFromContext(r.Context()),
	}
	var err error
	if req.CouponDiscount != "" {
		if input.CouponDiscount, err = decimal.NewFromString(req.CouponDiscount); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "coupon_discount must be a decimal")
			return
		}
	}
	if req.ShippingAmount != "" {
		if input.ShippingAmount, err = decimal.NewFromString(req.ShippingAmount); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "shipping_amount must be a decimal")
			return
		}
	}

	order, err := h.svc.Create(r.Context(), input)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	page := shared.PageFromValues(r.URL.Query())
	var statuses []Status
	for _, s := range r.URL.Query()["status"] {
		statuses = append(statuses, Status(s))
	}
	orders, err := h.svc.List(r.Context(), tenant, statuses, page)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := make([]orderResponse, len(orders))
	for i, o := range orders {
		out[i] = toOrderResponse(o)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": out, "page": page.Page, "per_page": page.PerPage})
}

func (h *Handler) orderID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.orderID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	order, err := h.svc.Get(r.Context(), tenant, id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) getByDisplayID(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	order, err := h.svc.GetByDisplayID(r.Context(), tenant, chi.URLParam(r, "displayID"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(order))
}

type lineResponse struct {
	ID                 int64  `json:"id"`
	ProductID          int64  `json:"product_id"`
	ProductName        string `json:"product_name"`
	ProductSKU         string `json:"product_sku,omitempty"`
	Size               string `json:"size,omitempty"`
	Color              string `json:"color,omitempty"`
	UnitPrice          string `json:"unit_price"`
	Quantity           int64  `json:"quantity"`
	DiscountPercentage string `json:"discount_percentage"`
	DiscountAmount     string `json:"discount_amount"`
	TaxRate            string `json:"tax_rate"`
	TaxAmount          string `json:"tax_amount"`
	LineTotal          string `json:"line_total"`
}

func toLineResponses(lines []Line) []lineResponse {
	out := make([]lineResponse, len(lines))
	for i, l := range lines {
		out[i] = lineResponse{
			ID:                 l.ID,
			ProductID:          l.ProductID,
			ProductName:        l.ProductName,
			ProductSKU:         l.ProductSKU,
			Size:               l.Size,
			Color:              l.Color,
			UnitPrice:          l.UnitPrice.String(),
			Quantity:           l.Quantity,
			DiscountPercentage: l.DiscountPercentage.String(),
			DiscountAmount:     l.DiscountAmount.String(),
			TaxRate:            l.TaxRate.String(),
			TaxAmount:          l.TaxAmount.String(),
			LineTotal:          l.LineTotal.String(),
		}
	}
	return out
}

func (h *Handler) lines(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.orderID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	lines, err := h.svc.Lines(r.Context(), tenant, id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lines": toLineResponses(lines)})
}

type updateLinesRequest struct {
	Lines []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) updateLines(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.orderID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
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
	order, err := h.svc.UpdateLines(r.Context(), tenant, id, lines)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.orderID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	changes, err := h.svc.History(r.Context(), tenant, id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := make([]map[string]any, len(changes))
	for i, c := range changes {
		out[i] = map[string]any{
			"from":       string(c.From),
			"to":         string(c.To),
			"note":       c.Note,
			"changed_by": c.ChangedBy,
			"changed_at": c.ChangedAt.Format(time.RFC3339),
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": out})
}

type transitionRequest struct {
	Status string `json:"status" validate:"required,oneof=CONFIRMED PROCESSING PACKED SHIPPED OUT_FOR_DELIVERY DELIVERED RETURNED REFUNDED"`
	Note   string `json:"note" validate:"max=500"`
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.orderID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	order, err := h.svc.Transition(r.Context(), tenant, id, Status(req.Status), req.Note, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(order))
}

type cancelRequest struct {
	Note string `json:"note" validate:"max=500"`
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.orderID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json body")
		return
	}
	order, err := h.svc.Cancel(r.Context(), tenant, id, req.Note, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(order))
}

type paymentRequest struct {
	Amount         string `json:"amount" validate:"required"`
	Method         string `json:"method" validate:"required,oneof=CARD UPI COD WALLET GIFT_CARD"`
	Gateway        string `json:"gateway" validate:"max=50"`
	GatewayTransID string `json:"gateway_transaction_id" validate:"max=100"`
	GiftCardCode   string `json:"gift_card_code" validate:"max=20"`
}

type paymentResponse struct {
	ID             int64  `json:"id"`
	Number         string `json:"number"`
	Amount         string `json:"amount"`
	Method         string `json:"method"`
	Gateway        string `json:"gateway,omitempty"`
	GatewayTransID string `json:"gateway_transaction_id,omitempty"`
	CompletedAt    string `json:"completed_at"`
}

func toPaymentResponse(p Payment) paymentResponse {
	return paymentResponse{
		ID:             p.ID,
		Number:         p.Number,
		Amount:         p.Amount.String(),
		Method:         string(p.Method),
		Gateway:        p.Gateway,
		GatewayTransID: p.GatewayTransID,
		CompletedAt:    p.CompletedAt.Format(time.RFC3339),
	}
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.orderID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
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
		Tenant:         tenant,
		OrderID:        id,
		Amount:         amount,
		Method:         Method(req.Method),
		Gateway:        req.Gateway,
		GatewayTransID: req.GatewayTransID,
		GiftCardCode:   req.GiftCardCode,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		ActorID:        shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPaymentResponse(payment))
}

func (h *Handler) payments(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.orderID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
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

type refundRequest struct {
	PaymentID int64  `json:"payment_id" validate:"required"`
	Amount    string `json:"amount" validate:"required"`
	Reason    string `json:"reason" validate:"required,oneof=CUSTOMER_REQUEST DEFECTIVE_PRODUCT WRONG_PRODUCT ORDER_CANCELLED"`
	Notes     string `json:"notes" validate:"max=500"`
}

func (h *Handler) recordRefund(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.orderID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	var req refundRequest
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
	refund, err := h.svc.RecordRefund(r.Context(), RefundInput{
		Tenant:    tenant,
		OrderID:   id,
		PaymentID: req.PaymentID,
		Amount:    amount,
		Reason:    RefundReason(req.Reason),
		Notes:     req.Notes,
		ActorID:   shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":     refund.ID,
		"number": refund.Number,
		"amount": refund.Amount.String(),
		"reason": string(refund.Reason),
	})
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrBadTransition),
		errors.Is(err, ErrNotModifiable),
		errors.Is(err, ErrNotCancellable),
		errors.Is(err, ErrOverpayment),
		errors.Is(err, ErrOverRefund),
		errors.Is(err, ErrGuestNeedsCustomer),
		errors.Is(err, wallet.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientBalance):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Rejected", err.Error())
	case errors.Is(err, ErrNoLines), errors.Is(err, ErrInvalidAmount):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.log.ErrorContext(r.Context(), "orders handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
