package loyalty

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
)

// Handler exposes the loyalty API.
type Handler struct {
	log      *slog.Logger
	svc      *Service
	validate *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(log *slog.Logger, svc *Service) *Handler {
	return &Handler{log: log, svc: svc, validate: validator.New()}
}

// MountRoutes attaches loyalty routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/programs", h.createProgram)
	r.Get("/programs/active", h.activeProgram)
	r.Post("/accounts/{customerID}", h.enroll)
	r.Get("/accounts/{customerID}", h.account)
	r.Get("/accounts/{customerID}/history", h.history)
	r.Post("/accounts/{customerID}/redeem", h.redeem)
	r.Post("/accounts/{customerID}/adjust", h.adjust)
}

type programRequest struct {
	Name                 string `json:"name" validate:"required,max=200"`
	PointsPerRupee       string `json:"points_per_rupee" validate:"required"`
	CashbackPercentage   string `json:"cashback_percentage"`
	MinimumRedemption    int64  `json:"minimum_redemption" validate:"min=0"`
	InactivityExpiryDays *int   `json:"inactivity_expiry_days"`
	Active               bool   `json:"active"`
	StartDate            string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate              string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
}

type programResponse struct {
	ID                   int64  `json:"id"`
	Name                 string `json:"name"`
	PointsPerRupee       string `json:"points_per_rupee"`
	CashbackPercentage   string `json:"cashback_percentage"`
	MinimumRedemption    int64  `json:"minimum_redemption"`
	InactivityExpiryDays *int   `json:"inactivity_expiry_days,omitempty"`
	Active               bool   `json:"active"`
}

func toProgramResponse(p Program) programResponse {
	return programResponse{
		ID:                   p.ID,
		Name:                 p.Name,
		PointsPerRupee:       p.PointsPerRupee.String(),
		CashbackPercentage:   p.CashbackPercentage.String(),
		MinimumRedemption:    p.MinimumRedemption,
		InactivityExpiryDays: p.InactivityExpiryDays,
		Active:               p.Active,
	}
}

type accountResponse struct {
	CustomerID     int64  `json:"customer_id"`
	ProgramID      int64  `json:"program_id"`
	PointsBalance  int64  `json:"points_balance"`
	TotalEarned    int64  `json:"total_earned"`
	TotalRedeemed  int64  `json:"total_redeemed"`
	LastActivityAt string `json:"last_activity_at,omitempty"`
}

func toAccountResponse(a Account) accountResponse {
	resp := accountResponse{
		CustomerID:    a.CustomerID,
		ProgramID:     a.ProgramID,
		PointsBalance: a.PointsBalance,
		TotalEarned:   a.TotalEarned,
		TotalRedeemed: a.TotalRedeemed,
	}
	if a.LastActivityAt != nil {
		resp.LastActivityAt = a.LastActivityAt.Format(time.RFC3339)
	}
	return resp
}

func (h *Handler) createProgram(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	var req programRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rate, err := decimal.NewFromString(req.PointsPerRupee)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "points_per_rupee must be a decimal")
		return
	}
	program := Program{
		Tenant:               tenant,
		Name:                 req.Name,
		PointsPerRupee:       rate,
		MinimumRedemption:    req.MinimumRedemption,
		InactivityExpiryDays: req.InactivityExpiryDays,
		Active:               req.Active,
	}
	if req.CashbackPercentage != "" {
		cashback, err := decimal.NewFromString(req.CashbackPercentage)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "cashback_percentage must be a decimal")
			return
		}
		program.CashbackPercentage = cashback
	}
	if req.StartDate != "" {
		start, _ := time.Parse("2006-01-02", req.StartDate)
		program.StartDate = &start
	}
	if req.EndDate != "" {
		end, _ := time.Parse("2006-01-02", req.EndDate)
		program.EndDate = &end
	}

	created, err := h.svc.CreateProgram(r.Context(), program)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toProgramResponse(created))
}

func (h *Handler) activeProgram(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	program, err := h.svc.ActiveProgram(r.Context(), tenant)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProgramResponse(program))
}

func (h *Handler) customerID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "customerID"), 10, 64)
	return id, err == nil
}

func (h *Handler) enroll(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	customerID, ok := h.customerID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid customer id")
		return
	}
	account, err := h.svc.Enroll(r.Context(), tenant, customerID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAccountResponse(account))
}

func (h *Handler) account(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	customerID, ok := h.customerID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid customer id")
		return
	}
	account, err := h.svc.Account(r.Context(), tenant, customerID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccountResponse(account))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	customerID, ok := h.customerID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid customer id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.svc.History(r.Context(), tenant, customerID, limit)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := make([]map[string]any, len(entries))
	for i, e := range entries {
		out[i] = map[string]any{
			"kind":          string(e.Kind),
			"points":        e.Amount.IntPart(),
			"balance_after": e.BalanceAfter.IntPart(),
			"reference":     e.Reference,
			"description":   e.Description,
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": out})
}

type redeemRequest struct {
	Points      int64  `json:"points" validate:"required,min=1"`
	Reference   string `json:"reference" validate:"max=50"`
	Description string `json:"description" validate:"max=500"`
}

func (h *Handler) redeem(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	customerID, ok := h.customerID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid customer id")
		return
	}
	var req redeemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	err := h.svc.Redeem(r.Context(), RedeemInput{
		Tenant:      tenant,
		CustomerID:  customerID,
		Points:      req.Points,
		Reference:   req.Reference,
		Description: req.Description,
		ActorID:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	account, err := h.svc.Account(r.Context(), tenant, customerID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccountResponse(account))
}

type adjustRequest struct {
	Points int64  `json:"points" validate:"required"`
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	customerID, ok := h.customerID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid customer id")
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
	if err := h.svc.Adjust(r.Context(), tenant, customerID, req.Points, req.Reason, shared.ActorFromContext(r.Context())); err != nil {
		h.respondErr(w, r, err)
		return
	}
	account, err := h.svc.Account(r.Context(), tenant, customerID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccountResponse(account))
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrProgramNotFound), errors.Is(err, ErrAccountNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrAlreadyEnrolled):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrProgramInactive),
		errors.Is(err, ErrBelowMinimumRedemption),
		errors.Is(err, ErrInsufficientPoints),
		errors.Is(err, ledger.ErrInsufficientBalance):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Rejected", err.Error())
	case errors.Is(err, ErrInvalidPoints), errors.Is(err, ledger.ErrInvalidAmount):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.log.ErrorContext(r.Context(), "loyalty handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
