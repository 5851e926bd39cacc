package placement_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/placement"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("component", "test")
}

type fixture struct {
	store   *memory.Store
	service *placement.Service
}

func newFixture(t *testing.T, products []domain.Product, options ...placement.Option) fixture {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	require.NoError(t, store.Customers().Upsert(ctx, domain.Customer{ID: "C1", Name: "Ada"}))
	for _, p := range products {
		require.NoError(t, store.Products().Upsert(ctx, p))
	}

	opts := append([]placement.Option{
		placement.WithLogger(quietLogger()),
		placement.WithTransactor(store),
		placement.WithOutbox(store.Outbox()),
	}, options...)

	return fixture{
		store:   store,
		service: placement.NewService(store.Customers(), store.Products(), store.Orders(), opts...),
	}
}

func (f fixture) quantity(t *testing.T, id string) int64 {
	t.Helper()
	found, err := f.store.Products().FindAllByID(context.Background(), []string{id})
	require.NoError(t, err)
	require.Len(t, found, 1)
	return found[0].Quantity
}

func (f fixture) requireUnchanged(t *testing.T, want map[string]int64) {
	t.Helper()
	for id, qty := range want {
		require.Equal(t, qty, f.quantity(t, id), "quantity of %s", id)
	}
	require.Zero(t, f.store.OrderCount())

	stats, err := f.store.Outbox().Stats(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
}

func line(id string, qty int64) domain.OrderLineRequest {
	return domain.OrderLineRequest{ProductID: id, Quantity: qty}
}

func TestPlaceOrder_CreatesOrderAndDecrementsStock(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []domain.Product{{ID: "P1", Name: "Pen", Quantity: 5, PriceMinor: 1000}})

	order, err := f.service.PlaceOrder(context.Background(), placement.PlaceOrderRequest{
		CustomerID: "C1",
		Lines:      []domain.OrderLineRequest{line("P1", 2)},
	})
	require.NoError(t, err)

	require.NotEmpty(t, order.ID)
	require.Equal(t, "C1", order.CustomerID)
	require.Len(t, order.Lines, 1)
	require.Equal(t, "P1", order.Lines[0].ProductID)
	require.Equal(t, int64(2), order.Lines[0].Quantity)
	require.Equal(t, int64(1000), order.Lines[0].PriceMinor)
	require.Equal(t, int64(2000), order.AmountMinor)
	require.Empty(t, order.ValidateInvariants())

	require.Equal(t, int64(3), f.quantity(t, "P1"))
	require.Equal(t, 1, f.store.OrderCount())
}

func TestPlaceOrder_UnknownProductFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []domain.Product{{ID: "P1", Quantity: 5, PriceMinor: 1000}})

	_, err := f.service.PlaceOrder(context.Background(), placement.PlaceOrderRequest{
		CustomerID: "C1",
		Lines:      []domain.OrderLineRequest{line("P1", 1), line("P2", 1)},
	})
	require.ErrorIs(t, err, domain.ErrProductNotFound)
	require.True(t, domain.IsApplicationError(err))
	require.Contains(t, err.Error(), "P2")
	require.NotContains(t, err.Error(), "P1")

	f.requireUnchanged(t, map[string]int64{"P1": 5})
}

func TestPlaceOrder_InsufficientStockFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []domain.Product{{ID: "P1", Quantity: 1, PriceMinor: 1000}})

	_, err := f.service.PlaceOrder(context.Background(), placement.PlaceOrderRequest{
		CustomerID: "C1",
		Lines:      []domain.OrderLineRequest{line("P1", 5)},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	require.Equal(t, "the quantity 5 is not sufficient for product P1", err.Error())

	var appErr *domain.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "P1", appErr.ProductID)
	require.Equal(t, int64(5), appErr.Quantity)

	f.requireUnchanged(t, map[string]int64{"P1": 1})
}

func TestPlaceOrder_UnknownCustomerFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []domain.Product{{ID: "P1", Quantity: 5, PriceMinor: 1000}})

	_, err := f.service.PlaceOrder(context.Background(), placement.PlaceOrderRequest{
		CustomerID: "C9",
		Lines:      []domain.OrderLineRequest{line("P1", 1)},
	})
	require.ErrorIs(t, err, domain.ErrCustomerNotFound)
	require.Equal(t, "customer does not exist: C9", err.Error())

	f.requireUnchanged(t, map[string]int64{"P1": 5})
}

func TestPlaceOrder_MissingProductsListedInRequestOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []domain.Product{{ID: "P1", Quantity: 5, PriceMinor: 100}})

	_, err := f.service.PlaceOrder(context.Background(), placement.PlaceOrderRequest{
		CustomerID: "C1",
		Lines:      []domain.OrderLineRequest{line("P9", 1), line("P1", 1), line("P3", 1)},
	})
	require.ErrorIs(t, err, domain.ErrProductNotFound)
	require.Equal(t, "products are not registered: P9, P3", err.Error())
}

func TestPlaceOrder_ExistenceCheckedBeforeSufficiency(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []domain.Product{{ID: "P1", Quantity: 1, PriceMinor: 100}})

	_, err := f.service.PlaceOrder(context.Background(), placement.PlaceOrderRequest{
		CustomerID: "C1",
		Lines:      []domain.OrderLineRequest{line("P1", 50), line("P2", 1)},
	})
	require.ErrorIs(t, err, domain.ErrProductNotFound)
	require.NotErrorIs(t, err, domain.ErrInsufficientStock)
}

func TestPlaceOrder_FirstInsufficientLineReported(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []domain.Product{
		{ID: "P1", Quantity: 10, PriceMinor: 100},
		{ID: "P2", Quantity: 1, PriceMinor: 100},
		{ID: "P3", Quantity: 1, PriceMinor: 100},
	})

	_, err := f.service.PlaceOrder(context.Background(), placement.PlaceOrderRequest{
		CustomerID: "C1",
		Lines:      []domain.OrderLineRequest{line("P1", 2), line("P2", 3), line("P3", 4)},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	require.Equal(t, "the quantity 3 is not sufficient for product P2", err.Error())

	f.requireUnchanged(t, map[string]int64{"P1": 10, "P2": 1, "P3": 1})
}

func TestPlaceOrder_ExactStockIsSufficient(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []domain.Product{{ID: "P1", Quantity: 4, PriceMinor: 250}})

	_, err := f.service.PlaceOrder(context.Background(), placement.PlaceOrderRequest{
		CustomerID: "C1",
		Lines:      []domain.OrderLineRequest{line("P1", 4)},
	})
	require.NoError(t, err)
	require.Zero(t, f.quantity(t, "P1"))
}

func TestPlaceOrder_PriceSnapshotSurvivesCatalogChange(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, []domain.Product{{ID: "P1", Quantity: 5, PriceMinor: 1000}})

	order, err := f.service.PlaceOrder(ctx, placement.PlaceOrderRequest{
		CustomerID: "C1",
		Lines:      []domain.OrderLineRequest{line("P1", 1)},
	})
	require.NoError(t, err)

	require.NoError(t, f.store.Products().Upsert(ctx, domain.Product{ID: "P1", Quantity: 4, PriceMinor: 9999}))

	stored, err := f.store.Orders().Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1000), stored.Lines[0].PriceMinor)
	require.Equal(t, int64(1000), stored.AmountMinor)
}

func TestPlaceOrder_DecrementsEveryLine(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []domain.Product{
		{ID: "P1", Quantity: 10, PriceMinor: 150},
		{ID: "P2", Quantity: 7, PriceMinor: 400},
	})

	order, err := f.service.PlaceOrder(context.Background(), placement.PlaceOrderRequest{
		CustomerID: "C1",
		Lines:      []domain.OrderLineRequest{line("P2", 7), line("P1", 3)},
	})
	require.NoError(t, err)
	require.Equal(t, int64(7*400+3*150), order.AmountMinor)
	require.Equal(t, "P2", order.Lines[0].ProductID)
	require.Equal(t, int64(7), f.quantity(t, "P1"))
	require.Zero(t, f.quantity(t, "P2"))
}

func TestPlaceOrder_RequestValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  placement.PlaceOrderRequest
		want error
	}{
		{name: "blank customer", req: placement.PlaceOrderRequest{CustomerID: " ", Lines: []domain.OrderLineRequest{line("P1", 1)}}, want: domain.ErrCustomerRequired},
		{name: "no lines", req: placement.PlaceOrderRequest{CustomerID: "C1"}, want: domain.ErrEmptyOrder},
		{name: "blank product", req: placement.PlaceOrderRequest{CustomerID: "C1", Lines: []domain.OrderLineRequest{line("", 1)}}, want: domain.ErrProductIDRequired},
		{name: "zero quantity", req: placement.PlaceOrderRequest{CustomerID: "C1", Lines: []domain.OrderLineRequest{line("P1", 0)}}, want: domain.ErrInvalidQuantity},
		{name: "negative quantity", req: placement.PlaceOrderRequest{CustomerID: "C1", Lines: []domain.OrderLineRequest{line("P1", -3)}}, want: domain.ErrInvalidQuantity},
		{name: "duplicate product", req: placement.PlaceOrderRequest{CustomerID: "C1", Lines: []domain.OrderLineRequest{line("P1", 1), line("P1", 2)}}, want: domain.ErrDuplicateProduct},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			customers := &countingCustomers{}
			products := &countingProducts{}
			service := placement.NewService(customers, products, memory.NewOrderRepository(),
				placement.WithLogger(quietLogger()))

			_, err := service.PlaceOrder(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.want)
			require.True(t, domain.IsValidationError(err))
			require.Zero(t, customers.calls, "customer lookup must not happen")
			require.Zero(t, products.finds, "product lookup must not happen")
		})
	}
}

func TestPlaceOrder_ProductsResolvedInOneBatch(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.Customers().Upsert(ctx, domain.Customer{ID: "C1"}))
	require.NoError(t, store.Products().Upsert(ctx, domain.Product{ID: "P1", Quantity: 3, PriceMinor: 1}))
	require.NoError(t, store.Products().Upsert(ctx, domain.Product{ID: "P2", Quantity: 3, PriceMinor: 1}))

	products := &countingProducts{next: store.Products()}
	service := placement.NewService(store.Customers(), products, store.Orders(), placement.WithLogger(quietLogger()))

	_, err := service.PlaceOrder(ctx, placement.PlaceOrderRequest{
		CustomerID: "C1",
		Lines:      []domain.OrderLineRequest{line("P1", 1), line("P2", 1)},
	})
	require.NoError(t, err)
	require.Equal(t, 1, products.finds)
	require.Equal(t, 1, products.updates)
	require.Equal(t, []string{"P1", "P2"}, products.lastIDs)
}

func TestPlaceOrder_StockUpdateFailureRollsBackOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Customers().Upsert(ctx, domain.Customer{ID: "C1"}))
	require.NoError(t, store.Products().Upsert(ctx, domain.Product{ID: "P1", Quantity: 5, PriceMinor: 100}))

	products := &countingProducts{next: store.Products(), updateErr: domain.ErrStockUpdateRejected}
	service := placement.NewService(store.Customers(), products, store.Orders(),
		placement.WithLogger(quietLogger()),
		placement.WithTransactor(store),
		placement.WithOutbox(store.Outbox()),
	)

	_, err := service.PlaceOrder(ctx, placement.PlaceOrderRequest{CustomerID: "C1", Lines: []domain.OrderLineRequest{line("P1", 2)}})
	require.ErrorIs(t, err, domain.ErrStockUpdateRejected)
	require.False(t, domain.IsApplicationError(err))
	require.Zero(t, store.OrderCount())
}

func TestPlaceOrder_AmountOverflowRejectedBeforeWrite(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []domain.Product{{ID: "P1", Quantity: 10_000_000_000, PriceMinor: 10_000_000_000}})

	_, err := f.service.PlaceOrder(context.Background(), placement.PlaceOrderRequest{
		CustomerID: "C1",
		Lines:      []domain.OrderLineRequest{line("P1", 10_000_000_000)},
	})
	require.ErrorIs(t, err, domain.ErrAmountOverflow)
	require.True(t, domain.IsApplicationError(err))
	require.True(t, domain.IsValidationError(err))
	f.requireUnchanged(t, map[string]int64{"P1": 10_000_000_000})
}

func TestPlaceOrder_MismatchedStoredOrderRollsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Customers().Upsert(ctx, domain.Customer{ID: "C1"}))
	require.NoError(t, store.Products().Upsert(ctx, domain.Product{ID: "P1", Quantity: 5, PriceMinor: 100}))

	service := placement.NewService(store.Customers(), store.Products(), skewedOrders{store.Orders()},
		placement.WithLogger(quietLogger()),
		placement.WithTransactor(store),
		placement.WithOutbox(store.Outbox()),
	)

	_, err := service.PlaceOrder(ctx, placement.PlaceOrderRequest{CustomerID: "C1", Lines: []domain.OrderLineRequest{line("P1", 2)}})
	require.ErrorIs(t, err, domain.ErrAmountMismatch)
	require.False(t, domain.IsApplicationError(err))
	require.Zero(t, store.OrderCount())

	found, err := store.Products().FindAllByID(ctx, []string{"P1"})
	require.NoError(t, err)
	require.Equal(t, int64(5), found[0].Quantity)
}

func TestPlaceOrder_WithoutTransactorOrderSurvivesStockFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Customers().Upsert(ctx, domain.Customer{ID: "C1"}))
	require.NoError(t, store.Products().Upsert(ctx, domain.Product{ID: "P1", Quantity: 5, PriceMinor: 100}))

	products := &countingProducts{next: store.Products(), updateErr: errors.New("catalog unavailable")}
	service := placement.NewService(store.Customers(), products, store.Orders(), placement.WithLogger(quietLogger()))

	_, err := service.PlaceOrder(ctx, placement.PlaceOrderRequest{CustomerID: "C1", Lines: []domain.OrderLineRequest{line("P1", 2)}})
	require.Error(t, err)
	require.Equal(t, 1, store.OrderCount())
}

func TestPlaceOrder_EnqueuesOrderPlacedEvent(t *testing.T) {
	t.Parallel()

	placedAt := time.Date(2024, 10, 18, 10, 0, 0, 0, time.UTC)
	f := newFixture(t,
		[]domain.Product{{ID: "P1", Quantity: 5, PriceMinor: 1000}},
		placement.WithClock(func() time.Time { return placedAt }),
	)

	order, err := f.service.PlaceOrder(context.Background(), placement.PlaceOrderRequest{
		CustomerID: "C1",
		Lines:      []domain.OrderLineRequest{line("P1", 2)},
	})
	require.NoError(t, err)

	pending, err := f.store.Outbox().PullPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, domain.EventTypeOrderPlaced, pending[0].EventType)
	require.Equal(t, domain.AggregateTypeOrder, pending[0].AggregateType)
	require.Equal(t, order.ID, pending[0].AggregateID)

	var payload domain.OrderPlacedPayload
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	require.Equal(t, order.ID, payload.OrderID)
	require.Equal(t, int64(2000), payload.AmountMinor)
	require.Equal(t, []domain.OrderPlacedStock{{ProductID: "P1", Quantity: 3}}, payload.Stock)
	require.True(t, placedAt.Equal(payload.PlacedAt))
}

func TestPlaceOrder_OutboxFailureRollsBackEverything(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Customers().Upsert(ctx, domain.Customer{ID: "C1"}))
	require.NoError(t, store.Products().Upsert(ctx, domain.Product{ID: "P1", Quantity: 5, PriceMinor: 100}))

	service := placement.NewService(store.Customers(), store.Products(), store.Orders(),
		placement.WithLogger(quietLogger()),
		placement.WithTransactor(store),
		placement.WithOutbox(failingOutbox{}),
	)

	_, err := service.PlaceOrder(ctx, placement.PlaceOrderRequest{CustomerID: "C1", Lines: []domain.OrderLineRequest{line("P1", 2)}})
	require.Error(t, err)
	require.Zero(t, store.OrderCount())

	found, err := store.Products().FindAllByID(ctx, []string{"P1"})
	require.NoError(t, err)
	require.Equal(t, int64(5), found[0].Quantity)
}

func TestPlaceOrder_RecordsMetrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	f := newFixture(t,
		[]domain.Product{{ID: "P1", Quantity: 1, PriceMinor: 100}},
		placement.WithMetrics(metrics.NewPlacementMetricsWithRegisterer(registry)),
	)
	ctx := context.Background()

	_, err := f.service.PlaceOrder(ctx, placement.PlaceOrderRequest{CustomerID: "C1", Lines: []domain.OrderLineRequest{line("P1", 1)}})
	require.NoError(t, err)
	_, err = f.service.PlaceOrder(ctx, placement.PlaceOrderRequest{CustomerID: "C1", Lines: []domain.OrderLineRequest{line("P1", 1)}})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	_, err = f.service.PlaceOrder(ctx, placement.PlaceOrderRequest{CustomerID: "C9", Lines: []domain.OrderLineRequest{line("P1", 1)}})
	require.ErrorIs(t, err, domain.ErrCustomerNotFound)

	expected := `
# HELP checkout_orders_placed_total Total number of orders placed successfully
# TYPE checkout_orders_placed_total counter
checkout_orders_placed_total 1
# HELP checkout_order_rejections_total Total number of rejected order placements grouped by reason
# TYPE checkout_order_rejections_total counter
checkout_order_rejections_total{reason="customer_not_found"} 1
checkout_order_rejections_total{reason="insufficient_stock"} 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"checkout_orders_placed_total", "checkout_order_rejections_total"))
}

type countingCustomers struct {
	calls int
}

func (c *countingCustomers) FindByID(context.Context, string) (domain.Customer, error) {
	c.calls++
	return domain.Customer{}, domain.ErrCustomerNotFound
}

func (c *countingCustomers) Upsert(context.Context, domain.Customer) error { return nil }

type countingProducts struct {
	next      domain.ProductRepository
	updateErr error

	finds   int
	updates int
	lastIDs []string
}

func (p *countingProducts) FindAllByID(ctx context.Context, ids []string) ([]domain.Product, error) {
	p.finds++
	p.lastIDs = append([]string(nil), ids...)
	if p.next == nil {
		return nil, nil
	}
	return p.next.FindAllByID(ctx, ids)
}

func (p *countingProducts) UpdateQuantity(ctx context.Context, levels []domain.StockLevel) ([]domain.Product, error) {
	p.updates++
	if p.updateErr != nil {
		return nil, p.updateErr
	}
	return p.next.UpdateQuantity(ctx, levels)
}

func (p *countingProducts) Upsert(ctx context.Context, product domain.Product) error {
	return p.next.Upsert(ctx, product)
}

type failingOutbox struct {
	domain.OutboxRepository
}

func (failingOutbox) Enqueue(context.Context, domain.OutboxMessage) (domain.OutboxMessage, error) {
	return domain.OutboxMessage{}, errors.New("outbox unavailable")
}

// skewedOrders сохраняет заказ, но возвращает его с искажённой суммой.
type skewedOrders struct {
	domain.OrderRepository
}

func (o skewedOrders) Create(ctx context.Context, in domain.NewOrder) (domain.Order, error) {
	order, err := o.OrderRepository.Create(ctx, in)
	if err != nil {
		return domain.Order{}, err
	}
	order.AmountMinor++
	return order, nil
}
