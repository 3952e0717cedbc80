package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Reservation and release outcomes.
const (
	ResultOK           = "ok"
	ResultInsufficient = "insufficient"
	ResultNotFound     = "not_found"
	ResultError        = "error"
	ResultDrift        = "drift"
)

// StoreMetrics records stock ledger, order and sync activity. A nil
// *StoreMetrics is valid and records nothing.
type StoreMetrics struct {
	reservations     *prometheus.CounterVec
	releases         *prometheus.CounterVec
	ordersCreated    *prometheus.CounterVec
	orderFailures    *prometheus.CounterVec
	numberCollisions prometheus.Counter
	orderDuration    *prometheus.HistogramVec
	syncItems        *prometheus.CounterVec
}

// NewStoreMetrics registers the store metrics on the provided registerer.
func NewStoreMetrics(reg prometheus.Registerer) *StoreMetrics {
	if reg == nil {
		return &StoreMetrics{}
	}
	m := &StoreMetrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_reservations_total",
			Help: "Stock reservation attempts by result.",
		}, []string{"result"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_releases_total",
			Help: "Compensating stock releases by result.",
		}, []string{"result"}),
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders persisted by source.",
		}, []string{"source"}),
		orderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_create_failures_total",
			Help: "Failed order creations by error code.",
		}, []string{"code"}),
		numberCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_number_collisions_total",
			Help: "Order number uniqueness violations retried on persist.",
		}),
		orderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "order_create_duration_seconds",
			Help:    "Duration of order creation including reservations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		syncItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offline_sync_items_total",
			Help: "Offline sync items processed by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
	reg.MustRegister(
		m.reservations,
		m.releases,
		m.ordersCreated,
		m.orderFailures,
		m.numberCollisions,
		m.orderDuration,
		m.syncItems,
	)
	return m
}

func (m *StoreMetrics) ObserveReservation(result string) {
	if m == nil || m.reservations == nil {
		return
	}
	m.reservations.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *StoreMetrics) ObserveRelease(result string) {
	if m == nil || m.releases == nil {
		return
	}
	m.releases.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *StoreMetrics) IncOrderCreated(source string) {
	if m == nil || m.ordersCreated == nil {
		return
	}
	m.ordersCreated.WithLabelValues(normalizeLabel(source)).Inc()
}

func (m *StoreMetrics) IncOrderFailure(code string) {
	if m == nil || m.orderFailures == nil {
		return
	}
	m.orderFailures.WithLabelValues(normalizeLabel(code)).Inc()
}

func (m *StoreMetrics) IncOrderNumberCollision() {
	if m == nil || m.numberCollisions == nil {
		return
	}
	m.numberCollisions.Inc()
}

func (m *StoreMetrics) ObserveOrderDuration(source string, d time.Duration) {
	if m == nil || m.orderDuration == nil {
		return
	}
	m.orderDuration.WithLabelValues(normalizeLabel(source)).Observe(d.Seconds())
}

func (m *StoreMetrics) ObserveSyncItem(kind, outcome string) {
	if m == nil || m.syncItems == nil {
		return
	}
	m.syncItems.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
