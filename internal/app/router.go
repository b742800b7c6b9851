package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mpfootwear/backoffice/internal/customers"
	"github.com/mpfootwear/backoffice/internal/giftcard"
	"github.com/mpfootwear/backoffice/internal/inventory"
	"github.com/mpfootwear/backoffice/internal/loyalty"
	"github.com/mpfootwear/backoffice/internal/orders"
	"github.com/mpfootwear/backoffice/internal/sales"
	"github.com/mpfootwear/backoffice/internal/vendors"
	"github.com/mpfootwear/backoffice/internal/wallet"
	"github.com/mpfootwear/backoffice/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config
	Pool   *pgxpool.Pool

	CustomersHandler *customers.Handler
	WalletHandler    *wallet.Handler
	GiftCardHandler  *giftcard.Handler
	LoyaltyHandler   *loyalty.Handler
	InventoryHandler *inventory.Handler
	VendorsHandler   *vendors.Handler
	OrdersHandler    *orders.Handler
	SalesHandler     *sales.Handler

	JobHandler *jobs.Handler
}

// NewRouter constructs the chi.Router with back office defaults. Every API
// route sits behind the tenant header check; the health and job endpoints
// stay outside it.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RequireTenant)

		r.Route("/customers", params.CustomersHandler.MountRoutes)
		r.Route("/wallets", params.WalletHandler.MountRoutes)
		r.Route("/gift-cards", params.GiftCardHandler.MountRoutes)
		r.Route("/loyalty", params.LoyaltyHandler.MountRoutes)
		r.Route("/products", params.InventoryHandler.MountRoutes)
		r.Route("/vendors", params.VendorsHandler.MountRoutes)
		r.Route("/orders", params.OrdersHandler.MountRoutes)
		r.Route("/sales", params.SalesHandler.MountRoutes)
	})

	return r
}
