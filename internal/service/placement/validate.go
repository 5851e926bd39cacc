package placement

import (
	"strings"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// validateRequest проверяет форму запроса до обращения к хранилищам.
// Повторы товара запрещены: остаток списывается по одной позиции на товар.
func validateRequest(req PlaceOrderRequest) error {
	if strings.TrimSpace(req.CustomerID) == "" {
		return domain.NewRequestError(domain.ErrCustomerRequired)
	}
	if len(req.Lines) == 0 {
		return domain.NewRequestError(domain.ErrEmptyOrder)
	}

	seen := make(map[string]struct{}, len(req.Lines))
	for _, line := range req.Lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return domain.NewRequestError(domain.ErrProductIDRequired)
		}
		if line.Quantity <= 0 {
			return domain.NewInvalidQuantity(line.ProductID, line.Quantity)
		}
		if _, dup := seen[line.ProductID]; dup {
			return domain.NewDuplicateProduct(line.ProductID)
		}
		seen[line.ProductID] = struct{}{}
	}

	return nil
}
