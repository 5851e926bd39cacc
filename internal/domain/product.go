package domain

// Product описывает позицию каталога с доступным остатком и текущей ценой.
type Product struct {
	ID   string
	Name string
	// Quantity: доступный остаток на складе, не может быть отрицательным.
	Quantity int64
	// PriceMinor: цена за единицу в минимальных денежных единицах (например, центы).
	PriceMinor int64
}

// StockLevel: новое значение остатка, которое каталог должен применить к товару.
type StockLevel struct {
	ProductID string
	Quantity  int64
}

// Validate проверяет инварианты товара каталога.
func (p *Product) Validate() []error {
	var errs []error

	if p.ID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if p.Quantity < 0 {
		errs = append(errs, ErrStockNegative)
	}
	if p.PriceMinor < 0 {
		errs = append(errs, ErrPriceNegative)
	}

	return errs
}

// ProductsByID индексирует товары по идентификатору для O(1) поиска.
func ProductsByID(products []Product) map[string]Product {
	index := make(map[string]Product, len(products))
	for _, p := range products {
		index[p.ID] = p
	}
	return index
}
