package grpcsvc

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/placement"
)

const (
	defaultListOrdersLimit = 100
	maxListOrdersLimit     = 1000
	defaultIdempotencyTTL  = domain.DefaultIdempotencyTTL
)

// Placer оформляет заказ. Реализуется placement.Service.
type Placer interface {
	PlaceOrder(ctx context.Context, req placement.PlaceOrderRequest) (domain.Order, error)
}

// Option настраивает OrderService.
type Option func(*OrderService)

// WithIdempotencyTTL задаёт срок хранения ответа по idempotency-key.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(s *OrderService) {
		if ttl > 0 {
			s.idemTTL = ttl
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *OrderService) {
		if now != nil {
			s.now = now
		}
	}
}

// OrderService реализует checkout.v1.OrderService поверх сервиса оформления и репозитория заказов.
type OrderService struct {
	placer   Placer
	orders   domain.OrderRepository
	idemRepo domain.IdempotencyRepository
	logger   *log.Entry
	idemTTL  time.Duration
	now      func() time.Time
}

var _ OrderServiceServer = (*OrderService)(nil)

// NewOrderService конструирует сервис с зависимостями. idemRepo может быть nil.
func NewOrderService(
	placer Placer,
	orders domain.OrderRepository,
	idemRepo domain.IdempotencyRepository,
	logger *log.Entry,
	options ...Option,
) *OrderService {
	if logger == nil {
		logger = log.New().WithField("component", "order-service")
	}
	s := &OrderService{
		placer:   placer,
		orders:   orders,
		idemRepo: idemRepo,
		logger:   logger,
		idemTTL:  defaultIdempotencyTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// PlaceOrder оформляет заказ. С метаданными idempotency-key повтор запроса возвращает сохранённый ответ.
func (s *OrderService) PlaceOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	return s.withIdempotency(ctx, MethodPlaceOrder, req, func(ctx context.Context) (*structpb.Struct, error) {
		return s.placeOrderInternal(ctx, req)
	})
}

func (s *OrderService) placeOrderInternal(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in, err := decodePlaceOrder(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	order, err := s.placer.PlaceOrder(ctx, in)
	if err != nil {
		return nil, s.placementStatus(err, in.CustomerID)
	}

	resp, err := encodeOrder(order)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("failed to encode order")
		return nil, status.Error(codes.Internal, "failed to encode order")
	}
	return resp, nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *OrderService) GetOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID := strings.TrimSpace(req.GetFields()[fieldOrderID].GetStringValue())
	if orderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to load order")
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil, status.Error(codes.NotFound, domain.ErrOrderNotFound.Error())
		}
		return nil, status.Error(codes.Internal, "failed to load order")
	}

	resp, err := encodeOrder(order)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode order")
	}
	return resp, nil
}

// ListCustomerOrders возвращает заказы покупателя, новые первыми.
func (s *OrderService) ListCustomerOrders(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	customerID := strings.TrimSpace(req.GetFields()[fieldCustomerID].GetStringValue())
	if customerID == "" {
		return nil, status.Error(codes.InvalidArgument, "customer_id is required")
	}

	limit64, err := integerField(req, fieldLimit)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	limit := int(limit64)
	switch {
	case limit <= 0:
		limit = defaultListOrdersLimit
	case limit > maxListOrdersLimit:
		limit = maxListOrdersLimit
	}

	orders, err := s.orders.ListByCustomer(ctx, customerID, limit)
	if err != nil {
		s.logger.WithError(err).WithField("customer_id", customerID).Error("failed to list orders")
		return nil, status.Error(codes.Internal, "failed to list orders")
	}

	resp, err := encodeOrders(orders)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode orders")
	}
	return resp, nil
}

// placementStatus переводит ошибку оформления в gRPC статус.
func (s *OrderService) placementStatus(err error, customerID string) error {
	code := placementCode(err)
	if code != codes.Internal {
		return status.Error(code, err.Error())
	}

	s.logger.WithError(err).WithField("customer_id", customerID).Error("order placement failed")
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, "request canceled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, "request deadline exceeded")
	}
	return status.Error(codes.Internal, "failed to place order")
}

func placementCode(err error) codes.Code {
	switch {
	case errors.Is(err, domain.ErrCustomerNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrInsufficientStock):
		return codes.FailedPrecondition
	case domain.IsValidationError(err):
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}
