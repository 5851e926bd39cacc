package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Метки причин отказа в оформлении заказа.
const (
	ReasonCustomerNotFound  = "customer_not_found"
	ReasonProductNotFound   = "product_not_found"
	ReasonInsufficientStock = "insufficient_stock"
	ReasonInvalidRequest    = "invalid_request"
)

// PlacementMetrics содержит метрики оформления заказов.
type PlacementMetrics struct {
	ordersPlaced   prometheus.Counter
	rejections     *prometheus.CounterVec
	commitFailures prometheus.Counter

	placementDuration prometheus.Histogram
	stageDuration     *prometheus.HistogramVec
	orderLines        prometheus.Histogram

	activePlacements prometheus.Gauge
}

// NewPlacementMetrics регистрирует метрики в глобальном registry.
func NewPlacementMetrics() *PlacementMetrics {
	return NewPlacementMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewPlacementMetricsWithRegisterer позволяет тестам использовать изолированный registry.
func NewPlacementMetricsWithRegisterer(registerer prometheus.Registerer) *PlacementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_order_rejections_total",
		Help: "Total number of rejected order placements grouped by reason",
	}, []string{"reason"})
	stageDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_placement_stage_duration_seconds",
		Help:    "Duration of individual order placement stages in seconds",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"stage"})

	return &PlacementMetrics{
		ordersPlaced: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkout_orders_placed_total",
			Help: "Total number of orders placed successfully",
		})),
		rejections: register(registerer, rejections),
		commitFailures: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkout_order_commit_failures_total",
			Help: "Total number of placements that failed while persisting the order or stock",
		})),
		placementDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "checkout_placement_duration_seconds",
			Help:    "Duration of PlaceOrder calls in seconds",
			Buckets: prometheus.DefBuckets,
		})),
		stageDuration: register(registerer, stageDuration),
		orderLines: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "checkout_order_lines",
			Help:    "Number of lines per placed order",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
		})),
		activePlacements: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "checkout_active_placements",
			Help: "Number of order placements currently in progress",
		})),
	}
}

// register регистрирует коллектор или возвращает уже зарегистрированный того же типа.
func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// PlacementStarted увеличивает количество активных оформлений.
func (m *PlacementMetrics) PlacementStarted() {
	m.activePlacements.Inc()
}

// PlacementFinished фиксирует длительность и уменьшает количество активных оформлений.
func (m *PlacementMetrics) PlacementFinished(duration time.Duration) {
	m.activePlacements.Dec()
	m.placementDuration.Observe(duration.Seconds())
}

// RecordOrderPlaced увеличивает счётчик созданных заказов.
func (m *PlacementMetrics) RecordOrderPlaced(lines int) {
	m.ordersPlaced.Inc()
	m.orderLines.Observe(float64(lines))
}

// RecordRejection увеличивает счётчик отказов по причине.
func (m *PlacementMetrics) RecordRejection(reason string) {
	m.rejections.WithLabelValues(reason).Inc()
}

// RecordCommitFailure увеличивает счётчик сбоев фиксации заказа.
func (m *PlacementMetrics) RecordCommitFailure() {
	m.commitFailures.Inc()
}

// RecordStageDuration записывает время выполнения стадии.
func (m *PlacementMetrics) RecordStageDuration(stage string, duration time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}
