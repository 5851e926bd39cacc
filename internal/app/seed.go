package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// seedFile: формат файла начальных данных каталога.
type seedFile struct {
	Customers []seedCustomer `json:"customers"`
	Products  []seedProduct  `json:"products"`
}

type seedCustomer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type seedProduct struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Quantity   int64  `json:"quantity"`
	PriceMinor int64  `json:"price_minor"`
}

// loadSeed читает и проверяет файл начальных данных.
func loadSeed(path string) (seedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return seedFile{}, fmt.Errorf("read seed file: %w", err)
	}

	var seed seedFile
	if err := json.Unmarshal(raw, &seed); err != nil {
		return seedFile{}, fmt.Errorf("decode seed file %s: %w", path, err)
	}

	var errs []error
	for i, c := range seed.Customers {
		if c.ID == "" {
			errs = append(errs, fmt.Errorf("customers[%d]: %w", i, domain.ErrCustomerRequired))
		}
	}
	for i, p := range seed.Products {
		product := p.toDomain()
		for _, verr := range product.Validate() {
			errs = append(errs, fmt.Errorf("products[%d] %s: %w", i, p.ID, verr))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return seedFile{}, fmt.Errorf("invalid seed file %s: %w", path, err)
	}

	return seed, nil
}

func (p seedProduct) toDomain() domain.Product {
	return domain.Product{
		ID:         p.ID,
		Name:       p.Name,
		Quantity:   p.Quantity,
		PriceMinor: p.PriceMinor,
	}
}

// applySeed загружает покупателей и товары через Upsert, повторный запуск безопасен.
func applySeed(ctx context.Context, seed seedFile, customers domain.CustomerRepository, products domain.ProductRepository, logger *log.Entry) error {
	for _, c := range seed.Customers {
		if err := customers.Upsert(ctx, domain.Customer{ID: c.ID, Name: c.Name, Email: c.Email}); err != nil {
			return fmt.Errorf("seed customer %s: %w", c.ID, err)
		}
	}
	for _, p := range seed.Products {
		if err := products.Upsert(ctx, p.toDomain()); err != nil {
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}

	logger.WithFields(log.Fields{
		"customers": len(seed.Customers),
		"products":  len(seed.Products),
	}).Info("catalog seeded")
	return nil
}
