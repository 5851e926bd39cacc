package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Ошибки, видимые вызывающей стороне при оформлении заказа.
var (
	// ErrCustomerNotFound: покупатель с указанным идентификатором не существует.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrProductNotFound: один или несколько товаров отсутствуют в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock: доступного остатка не хватает для позиции.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrEmptyOrder: заказ без позиций не имеет смысла.
	ErrEmptyOrder = errors.New("order must contain at least one product")
	// ErrDuplicateProduct: один и тот же товар указан в запросе несколько раз.
	ErrDuplicateProduct = errors.New("duplicate product in order")
	// ErrInvalidQuantity: количество в позиции должно быть больше нуля.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	// ErrCustomerRequired: не передан идентификатор покупателя.
	ErrCustomerRequired = errors.New("customer_id is required")
)

var (
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = errors.New("product id is required")
	// Ошибка отрицательного остатка.
	ErrStockNegative = errors.New("stock quantity must be non-negative")
	// Ошибка отрицательной цены или суммы.
	ErrPriceNegative = errors.New("price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match lines sum")
	// ErrAmountOverflow: сумма заказа не помещается в int64 минимальных единиц.
	ErrAmountOverflow = errors.New("order amount exceeds the supported range")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists: заказ с таким ID уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrStockUpdateRejected: каталог отказался применить новые остатки целиком.
	ErrStockUpdateRejected = errors.New("stock update rejected")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// AppError: ошибка прикладного уровня с описанием для клиента.
// Kind указывает на одну из sentinel-ошибок выше и доступен через errors.Is.
type AppError struct {
	Kind      error
	Message   string
	ProductID string
	Quantity  int64
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Kind
}

// NewCustomerNotFound формирует ошибку отсутствующего покупателя.
func NewCustomerNotFound(customerID string) *AppError {
	return &AppError{
		Kind:    ErrCustomerNotFound,
		Message: fmt.Sprintf("customer does not exist: %s", customerID),
	}
}

// NewProductNotFound перечисляет отсутствующие товары в порядке запроса.
func NewProductNotFound(missing []string) *AppError {
	first := ""
	if len(missing) > 0 {
		first = missing[0]
	}
	return &AppError{
		Kind:      ErrProductNotFound,
		Message:   fmt.Sprintf("products are not registered: %s", strings.Join(missing, ", ")),
		ProductID: first,
	}
}

// NewInsufficientStock называет товар и запрошенное количество.
func NewInsufficientStock(productID string, requested int64) *AppError {
	return &AppError{
		Kind:      ErrInsufficientStock,
		Message:   fmt.Sprintf("the quantity %d is not sufficient for product %s", requested, productID),
		ProductID: productID,
		Quantity:  requested,
	}
}

// NewDuplicateProduct сообщает о повторе товара в запросе.
func NewDuplicateProduct(productID string) *AppError {
	return &AppError{
		Kind:      ErrDuplicateProduct,
		Message:   fmt.Sprintf("product %s is listed more than once", productID),
		ProductID: productID,
	}
}

// NewInvalidQuantity сообщает о неположительном количестве в позиции.
func NewInvalidQuantity(productID string, quantity int64) *AppError {
	return &AppError{
		Kind:      ErrInvalidQuantity,
		Message:   fmt.Sprintf("quantity must be greater than zero for product %s", productID),
		ProductID: productID,
		Quantity:  quantity,
	}
}

// NewAmountOverflow сообщает, что сумма заказа не может быть представлена.
func NewAmountOverflow() *AppError {
	return &AppError{Kind: ErrAmountOverflow, Message: ErrAmountOverflow.Error()}
}

// NewRequestError оборачивает ошибку формы запроса без дополнительных деталей.
func NewRequestError(kind error) *AppError {
	return &AppError{Kind: kind, Message: kind.Error()}
}

// IsApplicationError проверяет, относится ли ошибка к прикладной категории.
func IsApplicationError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// IsValidationError: ошибки формы запроса. Переполнение суммы выявляется после чтения цен каталога.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyOrder) ||
		errors.Is(err, ErrAmountOverflow) ||
		errors.Is(err, ErrDuplicateProduct) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrCustomerRequired) ||
		errors.Is(err, ErrProductIDRequired)
}
