package placement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

// Стадии оформления для метрик и логов.
const (
	StageValidateCustomer = "validate_customer"
	StageResolveProducts  = "resolve_products"
	StageCommit           = "commit"
)

// PlaceOrderRequest: входные данные оформления заказа.
type PlaceOrderRequest struct {
	CustomerID string
	Lines      []domain.OrderLineRequest
}

// Options задаёт необязательные зависимости сервиса.
type Options struct {
	Logger     *log.Entry
	Transactor domain.Transactor
	Outbox     domain.OutboxRepository
	Metrics    *metrics.PlacementMetrics
	Now        func() time.Time
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithTransactor включает выполнение проверки и фиксации в одной транзакции хранилища.
func WithTransactor(tx domain.Transactor) Option {
	return func(opts *Options) {
		opts.Transactor = tx
	}
}

// WithOutbox включает запись события order.placed в transactional outbox.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(opts *Options) {
		opts.Outbox = outbox
	}
}

// WithMetrics задаёт метрики оформления.
func WithMetrics(m *metrics.PlacementMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

// Service оформляет заказы: проверяет покупателя, товары и остатки, затем фиксирует заказ и списание.
type Service struct {
	customers domain.CustomerRepository
	products  domain.ProductRepository
	orders    domain.OrderRepository

	tx      domain.Transactor
	outbox  domain.OutboxRepository
	metrics *metrics.PlacementMetrics
	logger  *log.Entry
	now     func() time.Time
}

// NewService создаёт сервис оформления заказов.
func NewService(
	customers domain.CustomerRepository,
	products domain.ProductRepository,
	orders domain.OrderRepository,
	options ...Option,
) *Service {
	var opts Options
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "placement")
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		customers: customers,
		products:  products,
		orders:    orders,
		tx:        opts.Transactor,
		outbox:    opts.Outbox,
		metrics:   opts.Metrics,
		logger:    logger,
		now:       now,
	}
}

// PlaceOrder оформляет заказ. Любая ошибка проверки прерывает операцию до записи.
// Прикладные отказы возвращаются как *domain.AppError.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (domain.Order, error) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.PlacementStarted()
		defer func() { s.metrics.PlacementFinished(time.Since(start)) }()
	}

	logger := s.logger.WithFields(log.Fields{
		"customer_id": req.CustomerID,
		"lines":       len(req.Lines),
	})

	if err := validateRequest(req); err != nil {
		s.reject(logger, err)
		return domain.Order{}, err
	}

	var order domain.Order
	run := func(ctx context.Context) error {
		var err error
		order, err = s.place(ctx, req)
		return err
	}

	var err error
	if s.tx != nil {
		err = s.tx.InTx(ctx, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		if domain.IsApplicationError(err) {
			s.reject(logger, err)
			return domain.Order{}, err
		}
		if s.metrics != nil {
			s.metrics.RecordCommitFailure()
		}
		logger.WithError(err).Error("order placement failed")
		return domain.Order{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordOrderPlaced(len(order.Lines))
	}
	logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"amount_minor": order.AmountMinor,
	}).Info("order placed")

	return order, nil
}

func (s *Service) place(ctx context.Context, req PlaceOrderRequest) (domain.Order, error) {
	stageStart := time.Now()
	customer, err := s.validateCustomer(ctx, req.CustomerID)
	s.observeStage(StageValidateCustomer, stageStart)
	if err != nil {
		return domain.Order{}, err
	}

	stageStart = time.Now()
	catalog, err := s.resolveProducts(ctx, req.Lines)
	s.observeStage(StageResolveProducts, stageStart)
	if err != nil {
		return domain.Order{}, err
	}

	stageStart = time.Now()
	order, err := s.commit(ctx, customer, req.Lines, catalog)
	s.observeStage(StageCommit, stageStart)
	return order, err
}

// validateCustomer подтверждает существование покупателя.
func (s *Service) validateCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	customer, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		if errors.Is(err, domain.ErrCustomerNotFound) {
			return domain.Customer{}, domain.NewCustomerNotFound(customerID)
		}
		return domain.Customer{}, fmt.Errorf("find customer %s: %w", customerID, err)
	}
	return customer, nil
}

// resolveProducts получает товары одним batch-запросом и проверяет наличие и остатки.
// Отсутствующие товары сообщаются раньше нехватки остатка, порядок - порядок запроса.
func (s *Service) resolveProducts(ctx context.Context, lines []domain.OrderLineRequest) (map[string]domain.Product, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}

	found, err := s.products.FindAllByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("find products: %w", err)
	}
	catalog := domain.ProductsByID(found)

	var missing []string
	for _, line := range lines {
		if _, ok := catalog[line.ProductID]; !ok {
			missing = append(missing, line.ProductID)
		}
	}
	if len(missing) > 0 {
		return nil, domain.NewProductNotFound(missing)
	}

	for _, line := range lines {
		if catalog[line.ProductID].Quantity < line.Quantity {
			return nil, domain.NewInsufficientStock(line.ProductID, line.Quantity)
		}
	}

	return catalog, nil
}

// commit фиксирует цены, сохраняет заказ и передаёт каталогу новые остатки.
func (s *Service) commit(
	ctx context.Context,
	customer domain.Customer,
	lines []domain.OrderLineRequest,
	catalog map[string]domain.Product,
) (domain.Order, error) {
	orderLines := make([]domain.OrderLine, 0, len(lines))
	levels := make([]domain.StockLevel, 0, len(lines))
	for _, line := range lines {
		product := catalog[line.ProductID]
		orderLines = append(orderLines, domain.OrderLine{
			ProductID:  line.ProductID,
			Quantity:   line.Quantity,
			PriceMinor: product.PriceMinor,
		})
		levels = append(levels, domain.StockLevel{
			ProductID: line.ProductID,
			Quantity:  product.Quantity - line.Quantity,
		})
	}

	newOrder := domain.NewOrder{
		CustomerID: customer.ID,
		Lines:      orderLines,
	}
	if _, err := newOrder.AmountMinor(); err != nil {
		return domain.Order{}, domain.NewAmountOverflow()
	}

	order, err := s.orders.Create(ctx, newOrder)
	if err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}
	// Хранилище вернуло заказ, не совпадающий с переданными позициями: дальше не идём.
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, fmt.Errorf("order %s violates invariants: %w", order.ID, errors.Join(errs...))
	}

	if _, err := s.products.UpdateQuantity(ctx, levels); err != nil {
		if s.tx == nil {
			// Без транзакции заказ уже сохранён, а остатки не изменены.
			s.logger.WithError(err).WithField("order_id", order.ID).
				Error("stock update failed after order was persisted")
		}
		return domain.Order{}, fmt.Errorf("update stock for order %s: %w", order.ID, err)
	}

	if err := s.enqueuePlaced(ctx, order, levels); err != nil {
		return domain.Order{}, err
	}

	return order, nil
}

func (s *Service) enqueuePlaced(ctx context.Context, order domain.Order, levels []domain.StockLevel) error {
	if s.outbox == nil {
		return nil
	}

	payload := domain.OrderPlacedPayload{
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		AmountMinor: order.AmountMinor,
		Lines:       make([]domain.OrderPlacedLine, 0, len(order.Lines)),
		Stock:       make([]domain.OrderPlacedStock, 0, len(levels)),
		PlacedAt:    s.now(),
	}
	for _, line := range order.Lines {
		payload.Lines = append(payload.Lines, domain.OrderPlacedLine{
			ProductID:  line.ProductID,
			Quantity:   line.Quantity,
			PriceMinor: line.PriceMinor,
		})
	}
	for _, level := range levels {
		payload.Stock = append(payload.Stock, domain.OrderPlacedStock{
			ProductID: level.ProductID,
			Quantity:  level.Quantity,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal order placed event: %w", err)
	}

	if _, err := s.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   order.ID,
		EventType:     domain.EventTypeOrderPlaced,
		Payload:       body,
	}); err != nil {
		return fmt.Errorf("enqueue order placed event: %w", err)
	}

	return nil
}

func (s *Service) reject(logger *log.Entry, err error) {
	reason := rejectionReason(err)
	if s.metrics != nil {
		s.metrics.RecordRejection(reason)
	}
	logger.WithField("reason", reason).WithError(err).Info("order rejected")
}

func (s *Service) observeStage(stage string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordStageDuration(stage, time.Since(start))
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrCustomerNotFound):
		return metrics.ReasonCustomerNotFound
	case errors.Is(err, domain.ErrProductNotFound):
		return metrics.ReasonProductNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.ReasonInsufficientStock
	default:
		return metrics.ReasonInvalidRequest
	}
}
