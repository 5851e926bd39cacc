package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type orderRepository struct {
	store *Store
	now   func() time.Time
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create сохраняет заказ и позиции. Без внешней транзакции открывает собственную.
// Заказ, нарушающий инварианты, отклоняется до обращения к базе.
func (r *orderRepository) Create(ctx context.Context, in domain.NewOrder) (domain.Order, error) {
	amount, err := in.AmountMinor()
	if err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	order := domain.Order{
		ID:          uuid.NewString(),
		CustomerID:  in.CustomerID,
		Lines:       domain.CloneLines(in.Lines),
		AmountMinor: amount,
		// PostgreSQL хранит микросекунды.
		CreatedAt: r.now().Truncate(time.Microsecond),
	}
	for i := range order.Lines {
		if order.Lines[i].ID == "" {
			order.Lines[i].ID = uuid.NewString()
		}
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, fmt.Errorf("create order: %w", errors.Join(errs...))
	}

	err = r.store.InTx(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()

		q := r.store.conn(ctx)
		if _, err := q.ExecContext(ctx, `
			INSERT INTO orders (id, customer_id, amount_minor, created_at)
			VALUES ($1, $2, $3, $4)
		`, order.ID, order.CustomerID, order.AmountMinor, order.CreatedAt); err != nil {
			return mapOrderWriteError("insert order", err)
		}

		for i, line := range order.Lines {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO order_lines (id, order_id, position, product_id, quantity, price_minor)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, line.ID, order.ID, i, line.ProductID, line.Quantity, line.PriceMinor); err != nil {
				return mapOrderWriteError("insert order line", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	return order, nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := r.store.conn(ctx)

	var order domain.Order
	err := q.QueryRowContext(ctx, `
		SELECT id, customer_id, amount_minor, created_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.CustomerID, &order.AmountMinor, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	order.CreatedAt = order.CreatedAt.UTC()

	lines, err := loadLines(ctx, q, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Lines = lines[order.ID]

	return order, nil
}

func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := r.store.conn(ctx)

	query := `
		SELECT id, customer_id, amount_minor, created_at
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
	`
	args := []any{customerID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	ids := make([]string, 0)
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.CustomerID, &order.AmountMinor, &order.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		order.CreatedAt = order.CreatedAt.UTC()
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	lines, err := loadLines(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}

	return orders, nil
}

// loadLines загружает позиции нескольких заказов одним запросом, сохраняя порядок запроса.
func loadLines(ctx context.Context, q querier, orderIDs []string) (map[string][]domain.OrderLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT order_id, id, product_id, quantity, price_minor
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]domain.OrderLine, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			line    domain.OrderLine
		)
		if err := rows.Scan(&orderID, &line.ID, &line.ProductID, &line.Quantity, &line.PriceMinor); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		result[orderID] = append(result[orderID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}

	return result, nil
}

func mapOrderWriteError(op string, err error) error {
	switch pgErrorCode(err) {
	case pgUniqueViolation:
		return fmt.Errorf("%s: %w", op, domain.ErrOrderAlreadyExists)
	case pgForeignKeyViolation:
		return fmt.Errorf("%s: referenced customer or product is missing: %w", op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

var _ domain.OrderRepository = (*orderRepository)(nil)
