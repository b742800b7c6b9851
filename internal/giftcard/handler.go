package giftcard

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

// Handler exposes the gift card API, keyed by card code.
type Handler struct {
	log      *slog.Logger
	svc      *Service
	validate *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(log *slog.Logger, svc *Service) *Handler {
	return &Handler{log: log, svc: svc, validate: validator.New()}
}

// MountRoutes attaches gift card routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.issue)
	r.Get("/{code}", h.get)
	r.Get("/{code}/history", h.history)
	r.Post("/{code}/redeem", h.redeem)
	r.Post("/{code}/cancel", h.cancel)
	r.Post("/{code}/suspend", h.suspend)
	r.Post("/{code}/reactivate", h.reactivate)
}

type issueRequest struct {
	Amount             string `json:"amount" validate:"required"`
	ExpiryDate         string `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
	PurchaserID        *int64 `json:"purchaser_id"`
	PurchaseOrder      string `json:"purchase_order" validate:"max=50"`
	RecipientName      string `json:"recipient_name" validate:"max=200"`
	RecipientEmail     string `json:"recipient_email" validate:"omitempty,email"`
	RecipientPhone     string `json:"recipient_phone" validate:"omitempty,min=10,max=15"`
	GiftMessage        string `json:"gift_message" validate:"max=500"`
	MinimumOrderAmount string `json:"minimum_order_amount"`
}

type cardResponse struct {
	Code               string `json:"code"`
	Status             string `json:"status"`
	InitialAmount      string `json:"initial_amount"`
	CurrentBalance     string `json:"current_balance"`
	IssuedDate         string `json:"issued_date"`
	ExpiryDate         string `json:"expiry_date"`
	RecipientName      string `json:"recipient_name,omitempty"`
	RecipientEmail     string `json:"recipient_email,omitempty"`
	GiftMessage        string `json:"gift_message,omitempty"`
	MinimumOrderAmount string `json:"minimum_order_amount"`
	TimesUsed          int    `json:"times_used"`
}

func toCardResponse(c GiftCard) cardResponse {
	return cardResponse{
		Code:               c.Code,
		Status:             string(c.Status),
		InitialAmount:      c.InitialAmount.String(),
		CurrentBalance:     c.CurrentBalance.String(),
		IssuedDate:         c.IssuedDate.Format("2006-01-02"),
		ExpiryDate:         c.ExpiryDate.Format("2006-01-02"),
		RecipientName:      c.RecipientName,
		RecipientEmail:     c.RecipientEmail,
		GiftMessage:        c.GiftMessage,
		MinimumOrderAmount: c.MinimumOrderAmount.String(),
		TimesUsed:          c.TimesUsed,
	}
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	var req issueRequest
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
	input := IssueInput{
		Tenant:         tenant,
		Amount:         amount,
		PurchaserID:    req.PurchaserID,
		PurchaseOrder:  req.PurchaseOrder,
		RecipientName:  req.RecipientName,
		RecipientEmail: req.RecipientEmail,
		RecipientPhone: req.RecipientPhone,
		GiftMessage:    req.GiftMessage,
		ActorID:        shared.ActorFromContext(r.Context()),
	}
	if req.ExpiryDate != "" {
		input.ExpiryDate, _ = time.Parse("2006-01-02", req.ExpiryDate)
	}
	if req.MinimumOrderAmount != "" {
		min, err := decimal.NewFromString(req.MinimumOrderAmount)
		if err != nil || min.Sign() < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "minimum_order_amount must be a non-negative decimal")
			return
		}
		input.MinimumOrderAmount = min
	}

	card, err := h.svc.Issue(r.Context(), input)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toCardResponse(card))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	card, err := h.svc.Get(r.Context(), tenant, chi.URLParam(r, "code"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCardResponse(card))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.svc.History(r.Context(), tenant, chi.URLParam(r, "code"), limit)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := make([]map[string]string, len(entries))
	for i, e := range entries {
		out[i] = map[string]string{
			"kind":          string(e.Kind),
			"amount":        e.Amount.String(),
			"balance_after": e.BalanceAfter.String(),
			"reference":     e.Reference,
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": out})
}

type redeemRequest struct {
	Amount        string  `json:"amount" validate:"required"`
	OrderRef      string  `json:"order_ref" validate:"max=50"`
	OrderSubtotal *string `json:"order_subtotal"`
}

func (h *Handler) redeem(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	var req redeemRequest
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
	input := RedeemInput{
		Tenant:   tenant,
		Code:     chi.URLParam(r, "code"),
		Amount:   amount,
		OrderRef: req.OrderRef,
		ActorID:  shared.ActorFromContext(r.Context()),
	}
	if req.OrderSubtotal != nil {
		subtotal, err := decimal.NewFromString(*req.OrderSubtotal)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "order_subtotal must be a decimal")
			return
		}
		input.OrderSubtotal = &subtotal
	}

	entry, card, err := h.svc.Redeem(r.Context(), input)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"redeemed": entry.Amount.Neg().String(),
		"card":     toCardResponse(card),
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.Cancel)
}

func (h *Handler) suspend(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.Suspend)
}

func (h *Handler) reactivate(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.Reactivate)
}

func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, tenant shared.Tenant, code string) error) {
	tenant, _ := shared.TenantFromContext(r.Context())
	if err := op(r.Context(), tenant, chi.URLParam(r, "code")); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrCardNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrCardNotActive),
		errors.Is(err, ErrCardExpired),
		errors.Is(err, ErrMinimumOrderNotMet),
		errors.Is(err, ErrBadStatusChange),
		errors.Is(err, ledger.ErrInsufficientBalance):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Rejected", err.Error())
	case errors.Is(err, ledger.ErrInvalidAmount):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.log.ErrorContext(r.Context(), "giftcard handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
