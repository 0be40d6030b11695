package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace-core/internal/auth"
	"github.com/ariefcatur/go-marketplace-core/internal/metrics"
	"github.com/ariefcatur/go-marketplace-core/internal/observability"
)

// Deps wires the handler groups into one router. Nil groups are not mounted.
type Deps struct {
	Verifier  *auth.Verifier
	Cart      *CartHandler
	Orders    *OrdersHandler
	Wishlists *WishlistHandler
	Payments  *PaymentsHandler
	Webhooks  *WebhookHandler
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(requestLogger(observability.OrNop(d.Logger)))
	r.Use(instrument(d.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	if d.Webhooks != nil {
		d.Webhooks.Register(r)
	}

	r.Route("/v1", func(v1 chi.Router) {
		if d.Wishlists != nil {
			d.Wishlists.RegisterPublic(v1)
		}
		v1.Group(func(v1 chi.Router) {
			if d.Verifier != nil {
				v1.Use(d.Verifier.Middleware)
			}
			if d.Cart != nil {
				d.Cart.Register(v1)
			}
			if d.Orders != nil {
				d.Orders.Register(v1)
			}
			if d.Wishlists != nil {
				d.Wishlists.Register(v1)
			}
			if d.Payments != nil {
				d.Payments.Register(v1)
			}
		})
	})
	return r
}
