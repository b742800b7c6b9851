package vendors

import (
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

// Handler exposes the vendor, bill, and payment API.
type Handler struct {
	log      *slog.Logger
	svc      *Service
	validate *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(log *slog.Logger, svc *Service) *Handler {
	return &Handler{log: log, svc: svc, validate: validator.New()}
}

// MountRoutes attaches vendor routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Post("/{id}/bills", h.createBill)
	r.Get("/{id}/bills", h.bills)
	r.Get("/{id}/payments", h.payments)
	r.Post("/{id}/payments", h.recordPayment)
	r.Get("/bills/{billID}", h.getBill)
	r.Post("/bills/{billID}/cancel", h.cancelBill)
}

type vendorRequest struct {
	CompanyName   string  `json:"company_name" validate:"required,max=200"`
	ContactPerson string  `json:"contact_person" validate:"max=200"`
	Email         string  `json:"email" validate:"omitempty,email"`
	Phone         string  `json:"phone" validate:"omitempty,min=10,max=15"`
	Type          string  `json:"type" validate:"omitempty,oneof=MANUFACTURER DISTRIBUTOR WHOLESALER SERVICE"`
	GSTIN         string  `json:"gstin" validate:"omitempty,len=15"`
	PAN           string  `json:"pan" validate:"omitempty,len=10"`
	CreditLimit   *string `json:"credit_limit"`
	PaymentTerms  string  `json:"payment_terms" validate:"omitempty,oneof=COD NET_15 NET_30 NET_60 ADVANCE"`
	Rating        *string `json:"rating"`
	Notes         string  `json:"notes" validate:"max=1000"`
}

type vendorResponse struct {
	ID            int64   `json:"id"`
	Code          string  `json:"code"`
	CompanyName   string  `json:"company_name"`
	ContactPerson string  `json:"contact_person,omitempty"`
	Email         string  `json:"email,omitempty"`
	Phone         string  `json:"phone,omitempty"`
	Type          string  `json:"type,omitempty"`
	GSTIN         string  `json:"gstin,omitempty"`
	PAN           string  `json:"pan,omitempty"`
	CreditLimit   string  `json:"credit_limit"`
	PaymentTerms  string  `json:"payment_terms,omitempty"`
	Rating        *string `json:"rating,omitempty"`
	Notes         string  `json:"notes,omitempty"`
	Active        bool    `json:"active"`
}

func toVendorResponse(v Vendor) vendorResponse {
	resp := vendorResponse{
		ID:            v.ID,
		Code:          v.Code,
		CompanyName:   v.CompanyName,
		ContactPerson: v.ContactPerson,
		Email:         v.Email,
		Phone:         v.Phone,
		Type:          string(v.Type),
		GSTIN:         v.GSTIN,
		PAN:           v.PAN,
		CreditLimit:   v.CreditLimit.String(),
		PaymentTerms:  string(v.PaymentTerms),
		Notes:         v.Notes,
		Active:        v.Active,
	}
	if v.Rating != nil {
		rating := v.Rating.String()
		resp.Rating = &rating
	}
	return resp
}

func (h *Handler) decodeVendor(w http.ResponseWriter, r *http.Request) (Vendor, bool) {
	tenant, _ := shared.TenantFromContext(r.Context())
	var req vendorRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json body")
		return Vendor{}, false
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return Vendor{}, false
	}
	v := Vendor{
		Tenant:        tenant,
		CompanyName:   req.CompanyName,
		ContactPerson: req.ContactPerson,
		Email:         req.Email,
		Phone:         req.Phone,
		Type:          Type(req.Type),
		GSTIN:         req.GSTIN,
		PAN:           req.PAN,
		PaymentTerms:  PaymentTerms(req.PaymentTerms),
		Notes:         req.Notes,
		Active:        true,
	}
	if req.CreditLimit != nil {
		limit, err := decimal.NewFromString(*req.CreditLimit)
		if err != nil || limit.Sign() < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "credit_limit must be a non-negative decimal")
			return Vendor{}, false
		}
		v.CreditLimit = limit
	}
	if req.Rating != nil {
		rating, err := decimal.NewFromString(*req.Rating)
		if err != nil || rating.Sign() < 0 || rating.GreaterThan(decimal.NewFromInt(5)) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "rating must be between 0 and 5")
			return Vendor{}, false
		}
		v.Rating = &rating
	}
	return v, true
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	v, ok := h.decodeVendor(w, r)
	if !ok {
		return
	}
	created, err := h.svc.CreateVendor(r.Context(), v)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toVendorResponse(created))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	page := shared.PageFromValues(r.URL.Query())
	vendors, err := h.svc.List(r.Context(), tenant, r.URL.Query().Get("q"), page)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := make([]vendorResponse, len(vendors))
	for i, v := range vendors {
		out[i] = toVendorResponse(v)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"vendors": out, "page": page.Page, "per_page": page.PerPage})
}

func (h *Handler) vendorID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := h.vendorID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid vendor id")
		return
	}
	vendor, err := h.svc.Get(r.Context(), tenant, id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toVendorResponse(vendor))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.vendorID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid vendor id")
		return
	}
	v, ok := h.decodeVendor(w, r)
	if !ok {
		return
	}
	v.ID = id
	updated, err := h.svc.Update(r.Context(), v)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toVendorResponse(updated))
}

type billRequest struct {
	VendorBillNumber string `json:"vendor_bill_number" validate:"max=50"`
	BillDate         string `json:"bill_date" validate:"required,datetime=2006-01-02"`
	DueDate          string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	Subtotal         string `json:"subtotal" validate:"required"`
	DiscountAmount   string `json:"discount_amount"`
	TaxAmount        string `json:"tax_amount"`
	Description      string `json:"description" validate:"max=500"`
}

type billResponse struct {
	ID               int64  `json:"id"`
	Number           string `json:"number"`
	VendorBillNumber string `json:"vendor_bill_number,omitempty"`
	VendorID         int64  `json:"vendor_id"`
	Status           string `json:"status"`
	BillDate         string `json:"bill_date"`
	DueDate          string `json:"due_date"`
	Subtotal         string `json:"subtotal"`
	DiscountAmount   string `json:"discount_amount"`
	TaxAmount        string `json:"tax_amount"`
	TotalAmount      string `json:"total_amount"`
	PaidAmount       string `json:"paid_amount"`
	Description      string `json:"description,omitempty"`
}

func toBillResponse(b Bill) billResponse {
	return billResponse{
		ID:               b.ID,
		Number:           b.Number,
		VendorBillNumber: b.VendorBillNumber,
		VendorID:         b.VendorID,
		Status:           string(b.Status),
		BillDate:         b.BillDate.Format("2006-01-02"),
		DueDate:          b.DueDate.Format("2006-01-02"),
		Subtotal:         b.Subtotal.String(),
		DiscountAmount:   b.DiscountAmount.String(),
		TaxAmount:        b.TaxAmount.String(),
		TotalAmount:      b.TotalAmount.String(),
		PaidAmount:       b.PaidAmount.String(),
		Description:      b.Description,
	}
}

func (h *Handler) createBill(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	vendorID, ok := h.vendorID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid vendor id")
		return
	}
	var req billRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	bill := Bill{
		Tenant:           tenant,
		VendorID:         vendorID,
		VendorBillNumber: req.VendorBillNumber,
		Description:      req.Description,
	}
	bill.BillDate, _ = time.Parse("2006-01-02", req.BillDate)
	if req.DueDate != "" {
		bill.DueDate, _ = time.Parse("2006-01-02", req.DueDate)
	}
	for _, field := range []struct {
		name     string
		raw      string
		dst      *decimal.Decimal
		optional bool
	}{
		{"subtotal", req.Subtotal, &bill.Subtotal, false},
		{"discount_amount", req.DiscountAmount, &bill.DiscountAmount, true},
		{"tax_amount", req.TaxAmount, &bill.TaxAmount, true},
	} {
		if field.raw == "" && field.optional {
			continue
		}
		value, err := decimal.NewFromString(field.raw)
		if err != nil || value.Sign() < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", field.name+" must be a non-negative decimal")
			return
		}
		*field.dst = value
	}

	created, err := h.svc.CreateBill(r.Context(), bill)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toBillResponse(created))
}

func (h *Handler) bills(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	vendorID, ok := h.vendorID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid vendor id")
		return
	}
	var statuses []BillStatus
	for _, s := range r.URL.Query()["status"] {
		statuses = append(statuses, BillStatus(s))
	}
	bills, err := h.svc.Bills(r.Context(), tenant, vendorID, statuses)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := make([]billResponse, len(bills))
	for i, b := range bills {
		out[i] = toBillResponse(b)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"bills": out})
}

func (h *Handler) getBill(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	billID, err := strconv.ParseInt(chi.URLParam(r, "billID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid bill id")
		return
	}
	bill, err := h.svc.GetBill(r.Context(), tenant, billID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBillResponse(bill))
}

func (h *Handler) cancelBill(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	billID, err := strconv.ParseInt(chi.URLParam(r, "billID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid bill id")
		return
	}
	if err := h.svc.CancelBill(r.Context(), tenant, billID); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type allocationRequest struct {
	BillID int64  `json:"bill_id" validate:"required"`
	Amount string `json:"amount" validate:"required"`
}

type paymentRequest struct {
	Amount          string              `json:"amount" validate:"required"`
	PaymentDate     string              `json:"payment_date" validate:"omitempty,datetime=2006-01-02"`
	Method          string              `json:"method" validate:"required,oneof=CASH BANK_TRANSFER CHEQUE UPI"`
	ReferenceNumber string              `json:"reference_number" validate:"max=50"`
	Description     string              `json:"description" validate:"max=500"`
	Allocations     []allocationRequest `json:"allocations" validate:"dive"`
}

type paymentResponse struct {
	ID              int64  `json:"id"`
	Number          string `json:"number"`
	VendorID        int64  `json:"vendor_id"`
	Amount          string `json:"amount"`
	PaymentDate     string `json:"payment_date"`
	Method          string `json:"method"`
	ReferenceNumber string `json:"reference_number,omitempty"`
	Description     string `json:"description,omitempty"`
}

func toPaymentResponse(p Payment) paymentResponse {
	return paymentResponse{
		ID:              p.ID,
		Number:          p.Number,
		VendorID:        p.VendorID,
		Amount:          p.Amount.String(),
		PaymentDate:     p.PaymentDate.Format("2006-01-02"),
		Method:          string(p.Method),
		ReferenceNumber: p.ReferenceNumber,
		Description:     p.Description,
	}
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	vendorID, ok := h.vendorID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid vendor id")
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
	input := PaymentInput{
		Tenant:          tenant,
		VendorID:        vendorID,
		Amount:          amount,
		Method:          PaymentMethod(req.Method),
		ReferenceNumber: req.ReferenceNumber,
		Description:     req.Description,
	}
	if req.PaymentDate != "" {
		input.PaymentDate, _ = time.Parse("2006-01-02", req.PaymentDate)
	}
	for _, a := range req.Allocations {
		alloc, err := decimal.NewFromString(a.Amount)
		if err != nil || alloc.Sign() <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "allocation amount must be a positive decimal")
			return
		}
		input.Allocations = append(input.Allocations, Allocation{BillID: a.BillID, Amount: alloc})
	}

	payment, err := h.svc.RecordPayment(r.Context(), input)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPaymentResponse(payment))
}

func (h *Handler) payments(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	vendorID, ok := h.vendorID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid vendor id")
		return
	}
	payments, err := h.svc.Payments(r.Context(), tenant, vendorID)
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

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrVendorNotFound), errors.Is(err, ErrBillNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrBillNotPayable), errors.Is(err, ErrOverAllocation):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Rejected", err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrCompanyNameRequired):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.log.ErrorContext(r.Context(), "vendors handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
