package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type productRepository struct {
	store *Store
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{store: store}
}

// FindAllByID выбирает товары одним запросом.
// Внутри транзакции строки блокируются (FOR UPDATE) в порядке id,
// чтобы проверка остатка и списание не разошлись с параллельными заказами.
func (r *productRepository) FindAllByID(ctx context.Context, ids []string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT id, name, quantity, price_minor
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
	`
	if _, inTx := txFromContext(ctx); inTx {
		query += " FOR UPDATE"
	}

	rows, err := r.store.conn(ctx).QueryContext(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Quantity, &p.PriceMinor); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}

	result := make([]domain.Product, 0, len(byID))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			continue
		}
		result = append(result, p)
		delete(byID, id)
	}
	return result, nil
}

// UpdateQuantity записывает новые остатки в одной транзакции: либо все, либо ни одного.
func (r *productRepository) UpdateQuantity(ctx context.Context, levels []domain.StockLevel) ([]domain.Product, error) {
	for _, level := range levels {
		if level.Quantity < 0 {
			return nil, fmt.Errorf("%w: negative quantity %d for product %s",
				domain.ErrStockUpdateRejected, level.Quantity, level.ProductID)
		}
	}

	updated := make([]domain.Product, 0, len(levels))
	err := r.store.InTx(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()

		q := r.store.conn(ctx)
		for _, level := range levels {
			var p domain.Product
			err := q.QueryRowContext(ctx, `
				UPDATE products
				SET quantity = $2,
				    updated_at = NOW()
				WHERE id = $1
				RETURNING id, name, quantity, price_minor
			`, level.ProductID, level.Quantity).Scan(&p.ID, &p.Name, &p.Quantity, &p.PriceMinor)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("%w: unknown product %s", domain.ErrStockUpdateRejected, level.ProductID)
				}
				if pgErrorCode(err) == pgCheckViolation {
					return fmt.Errorf("%w: %v", domain.ErrStockUpdateRejected, err)
				}
				return fmt.Errorf("update product %s quantity: %w", level.ProductID, err)
			}
			updated = append(updated, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (r *productRepository) Upsert(ctx context.Context, product domain.Product) error {
	if errs := product.Validate(); len(errs) > 0 {
		return errs[0]
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO products (id, name, quantity, price_minor)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    quantity = EXCLUDED.quantity,
		    price_minor = EXCLUDED.price_minor,
		    updated_at = NOW()
	`, product.ID, product.Name, product.Quantity, product.PriceMinor)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
