package transport

import (
	"context"
	"net/http"
	"time"

	"storefront-be/internal/cart"
	"storefront-be/internal/logger"
	"storefront-be/internal/middleware"
	"storefront-be/internal/offlinesync"
	"storefront-be/internal/order"
	"storefront-be/internal/transport/response"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Deps struct {
	Carts       cart.Service
	Orders      order.Service
	Coordinator order.Coordinator
	Sync        offlinesync.Reconciler
	DB          Pinger

	// Metrics serves the Prometheus exposition. Nil disables /metrics.
	Metrics        http.Handler
	Limiter        *middleware.Limiter
	JWTSecret      []byte
	CORSOrigins    []string
	RequestTimeout time.Duration
}

type handler struct {
	carts       cart.Service
	orders      order.Service
	coordinator order.Coordinator
	sync        offlinesync.Reconciler
	db          Pinger
}

func NewRouter(d Deps) http.Handler {
	h := &handler{
		carts:       d.Carts,
		orders:      d.Orders,
		coordinator: d.Coordinator,
		sync:        d.Sync,
		db:          d.DB,
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer,
		logger.RequestIDMiddleware,
		logger.LoggingMiddleware,
		middleware.CORS(d.CORSOrigins),
	)

	r.Get("/health", h.health)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(d.JWTSecret))
		if d.Limiter != nil {
			r.Use(d.Limiter.Middleware)
		}
		if d.RequestTimeout > 0 {
			r.Use(chimw.Timeout(d.RequestTimeout))
		}

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.getCart)
			r.Post("/add", h.addCartItem)
			r.Put("/update", h.updateCartItem)
			r.Delete("/remove/{productId}", h.removeCartItem)
			r.Delete("/clear", h.clearCart)
			r.Post("/sync", h.syncCart)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.listOrders)
			r.Post("/", h.createOrder)
			r.Post("/sync", h.syncOrders)
			r.Get("/{id}", h.getOrder)
			r.Put("/{id}/status", h.updateOrderStatus)
			r.Put("/{id}/payment", h.updatePaymentStatus)
		})

		r.Route("/sync", func(r chi.Router) {
			r.Post("/cart", h.syncCart)
			r.Post("/orders", h.syncOrders)
			r.Get("/status", h.syncStatus)
			r.Get("/data", h.syncData)
		})
	})

	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		logger.FromCtx(ctx).Warn("health check failed", zap.Error(err))
		response.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": "down"})
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "up"})
}
