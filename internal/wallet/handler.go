package wallet

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mpfootwear/backoffice/internal/ledger"
	"github.com/mpfootwear/backoffice/internal/platform/httpx"
	"github.com/mpfootwear/backoffice/internal/shared"
)

// Handler exposes the wallet API, keyed by customer id.
type Handler struct {
	log      *slog.Logger
	svc      *Service
	validate *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(log *slog.Logger, svc *Service) *Handler {
	return &Handler{log: log, svc: svc, validate: validator.New()}
}

// MountRoutes attaches wallet routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{customerID}", h.get)
	r.Get("/{customerID}/transactions", h.transactions)
	r.Post("/{customerID}/topup", h.topUp)
	r.Post("/{customerID}/spend", h.spend)
	r.Post("/{customerID}/freeze", h.freeze)
	r.Post("/{customerID}/suspend", h.suspend)
	r.Post("/{customerID}/reactivate", h.reactivate)
	r.Post("/{customerID}/close", h.close)
	r.Post("/{customerID}/pin", h.setPIN)
}

type walletResponse struct {
	ID                 int64   `json:"id"`
	CustomerID         int64   `json:"customer_id"`
	Status             string  `json:"status"`
	MainBalance        string  `json:"main_balance"`
	CashbackBalance    string  `json:"cashback_balance"`
	PromotionalBalance string  `json:"promotional_balance"`
	TotalBalance       string  `json:"total_balance"`
	DailySpendLimit    *string `json:"daily_spend_limit,omitempty"`
	MonthlySpendLimit  *string `json:"monthly_spend_limit,omitempty"`
}

func toWalletResponse(w Wallet) walletResponse {
	resp := walletResponse{
		ID:                 w.ID,
		CustomerID:         w.CustomerID,
		Status:             string(w.Status),
		MainBalance:        w.MainBalance.String(),
		CashbackBalance:    w.CashbackBalance.String(),
		PromotionalBalance: w.PromotionalBalance.String(),
		TotalBalance:       w.TotalBalance().String(),
	}
	if w.DailySpendLimit != nil {
		s := w.DailySpendLimit.String()
		resp.DailySpendLimit = &s
	}
	if w.MonthlySpendLimit != nil {
		s := w.MonthlySpendLimit.String()
		resp.MonthlySpendLimit = &s
	}
	return resp
}

type entryResponse struct {
	ID           int64  `json:"id"`
	Kind         string `json:"kind"`
	Amount       string `json:"amount"`
	BalanceAfter string `json:"balance_after"`
	Reference    string `json:"reference,omitempty"`
	Description  string `json:"description,omitempty"`
	CreatedAt    string `json:"created_at"`
}

func toEntryResponses(entries []ledger.Entry) []entryResponse {
	out := make([]entryResponse, len(entries))
	for i, e := range entries {
		out[i] = entryResponse{
			ID:           e.ID,
			Kind:         string(e.Kind),
			Amount:       e.Amount.String(),
			BalanceAfter: e.BalanceAfter.String(),
			Reference:    e.Reference,
			Description:  e.Description,
			CreatedAt:    e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}
	return out
}

func customerIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "customerID"), 10, 64)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	customerID, err := customerIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid customer id")
		return
	}
	wallet, err := h.svc.Get(r.Context(), tenant, customerID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toWalletResponse(wallet))
}

func (h *Handler) transactions(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	customerID, err := customerIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid customer id")
		return
	}
	wallet, err := h.svc.Get(r.Context(), tenant, customerID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.svc.Transactions(r.Context(), wallet.ID, limit)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": toEntryResponses(entries)})
}

type topUpRequest struct {
	Amount      string `json:"amount" validate:"required"`
	Bucket      string `json:"bucket" validate:"omitempty,oneof=MAIN CASHBACK PROMOTIONAL"`
	Reference   string `json:"reference" validate:"max=50"`
	Description string `json:"description" validate:"max=200"`
}

func (h *Handler) topUp(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	customerID, err := customerIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid customer id")
		return
	}
	var req topUpRequest
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
	entry, err := h.svc.Credit(r.Context(), CreditInput{
		Tenant:      tenant,
		CustomerID:  customerID,
		Amount:      amount,
		Bucket:      Bucket(req.Bucket),
		Kind:        ledger.KindTopUp,
		Reference:   req.Reference,
		Description: req.Description,
		ActorID:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryResponses([]ledger.Entry{entry})[0])
}

type spendRequest struct {
	Amount      string `json:"amount" validate:"required"`
	Reference   string `json:"reference" validate:"max=50"`
	Description string `json:"description" validate:"max=200"`
}

func (h *Handler) spend(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	customerID, err := customerIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid customer id")
		return
	}
	var req spendRequest
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
	entry, drains, err := h.svc.Spend(r.Context(), SpendInput{
		Tenant:      tenant,
		CustomerID:  customerID,
		Amount:      amount,
		Reference:   req.Reference,
		Description: req.Description,
		ActorID:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	drained := make([]map[string]string, len(drains))
	for i, d := range drains {
		drained[i] = map[string]string{"bucket": string(d.Bucket), "amount": d.Amount.String()}
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"entry":  toEntryResponses([]ledger.Entry{entry})[0],
		"drains": drained,
	})
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=200"`
}

func (h *Handler) freeze(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.Freeze)
}

func (h *Handler) suspend(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.Suspend)
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.Close)
}

func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, tenant shared.Tenant, customerID int64, reason string, actorID int64) error) {
	tenant, _ := shared.TenantFromContext(r.Context())
	customerID, err := customerIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid customer id")
		return
	}
	var req reasonRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json body")
		return
	}
	if err := op(r.Context(), tenant, customerID, req.Reason, shared.ActorFromContext(r.Context())); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) reactivate(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	customerID, err := customerIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid customer id")
		return
	}
	if err := h.svc.Reactivate(r.Context(), tenant, customerID, shared.ActorFromContext(r.Context())); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type pinRequest struct {
	PIN string `json:"pin" validate:"required,len=4,numeric"`
}

func (h *Handler) setPIN(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	customerID, err := customerIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid customer id")
		return
	}
	var req pinRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.svc.SetPIN(r.Context(), tenant, customerID, req.PIN); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrWalletNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrSpendLimitExceeded),
		errors.Is(err, ErrWalletNotActive),
		errors.Is(err, ErrBadStatusChange):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Rejected", err.Error())
	case errors.Is(err, ledger.ErrInvalidAmount):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.log.ErrorContext(r.Context(), "wallet handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
