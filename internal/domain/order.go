package domain

import (
	"math"
	"time"
)

// OrderLineRequest: запрошенная позиция заказа: товар и количество.
type OrderLineRequest struct {
	ProductID string
	Quantity  int64
}

// OrderLine представляет одну позицию созданного заказа.
type OrderLine struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID        string
	ProductID string
	Quantity  int64
	// PriceMinor: цена каталога на момент оформления. После создания не меняется.
	PriceMinor int64
}

// NewOrder: данные, которые ядро передаёт хранилищу для создания заказа.
type NewOrder struct {
	CustomerID string
	Lines      []OrderLine
}

// Order агрегирует ссылку на покупателя и позиции заказа.
type Order struct {
	ID          string
	CustomerID  string
	Lines       []OrderLine
	AmountMinor int64
	CreatedAt   time.Time
}

// AmountMinor считает сумму позиций: qty * price.
// Возвращает ErrAmountOverflow, если сумма не помещается в int64.
func (n NewOrder) AmountMinor() (int64, error) {
	return SumLines(n.Lines)
}

// LineAmount возвращает quantity * priceMinor; ok == false при переполнении int64.
func LineAmount(quantity, priceMinor int64) (int64, bool) {
	if quantity == 0 || priceMinor == 0 {
		return 0, true
	}
	if (quantity == -1 && priceMinor == math.MinInt64) || (priceMinor == -1 && quantity == math.MinInt64) {
		return 0, false
	}
	product := quantity * priceMinor
	if product/priceMinor != quantity {
		return 0, false
	}
	return product, true
}

// SumLines складывает суммы позиций с контролем переполнения.
func SumLines(lines []OrderLine) (int64, error) {
	var sum int64
	for _, line := range lines {
		amount, ok := LineAmount(line.Quantity, line.PriceMinor)
		if !ok {
			return 0, ErrAmountOverflow
		}
		if (amount > 0 && sum > math.MaxInt64-amount) || (amount < 0 && sum < math.MinInt64-amount) {
			return 0, ErrAmountOverflow
		}
		sum += amount
	}
	return sum, nil
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrEmptyOrder)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrPriceNegative)
	}

	for _, line := range o.Lines {
		if line.Quantity <= 0 {
			errs = append(errs, ErrInvalidQuantity)
		}
		if line.PriceMinor < 0 {
			errs = append(errs, ErrPriceNegative)
		}
	}
	calc, err := SumLines(o.Lines)
	switch {
	case err != nil:
		errs = append(errs, err)
	case calc != o.AmountMinor:
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// CloneLines возвращает копию позиций, чтобы хранилища не делили срез с вызывающим кодом.
func CloneLines(lines []OrderLine) []OrderLine {
	if lines == nil {
		return nil
	}
	out := make([]OrderLine, len(lines))
	copy(out, lines)
	return out
}
