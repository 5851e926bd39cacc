package grpcsvc

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/placement"
)

// Поля документов запросов и ответов.
const (
	fieldCustomerID = "customer_id"
	fieldProducts   = "products"
	fieldID         = "id"
	fieldQuantity   = "quantity"
	fieldOrderID    = "order_id"
	fieldLimit      = "limit"
	fieldOrder      = "order"
	fieldOrders     = "orders"
)

// NewPlaceOrderRequest собирает документ запроса PlaceOrder.
func NewPlaceOrderRequest(customerID string, lines []domain.OrderLineRequest) (*structpb.Struct, error) {
	products := make([]any, 0, len(lines))
	for _, line := range lines {
		products = append(products, map[string]any{
			fieldID:       line.ProductID,
			fieldQuantity: line.Quantity,
		})
	}
	return structpb.NewStruct(map[string]any{
		fieldCustomerID: customerID,
		fieldProducts:   products,
	})
}

// NewGetOrderRequest собирает документ запроса GetOrder.
func NewGetOrderRequest(orderID string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldOrderID: structpb.NewStringValue(orderID),
	}}
}

// NewListCustomerOrdersRequest собирает документ запроса ListCustomerOrders.
func NewListCustomerOrdersRequest(customerID string, limit int) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldCustomerID: structpb.NewStringValue(customerID),
		fieldLimit:      structpb.NewNumberValue(float64(limit)),
	}}
}

func decodePlaceOrder(req *structpb.Struct) (placement.PlaceOrderRequest, error) {
	fields := req.GetFields()
	out := placement.PlaceOrderRequest{
		CustomerID: strings.TrimSpace(fields[fieldCustomerID].GetStringValue()),
	}

	raw, ok := fields[fieldProducts]
	if !ok || isNull(raw) {
		return out, nil
	}
	list := raw.GetListValue()
	if list == nil {
		return out, fmt.Errorf("%s must be a list", fieldProducts)
	}

	out.Lines = make([]domain.OrderLineRequest, 0, len(list.GetValues()))
	for idx, value := range list.GetValues() {
		item := value.GetStructValue()
		if item == nil {
			return out, fmt.Errorf("%s[%d] must be an object", fieldProducts, idx)
		}
		qty, err := integerField(item, fieldQuantity)
		if err != nil {
			return out, fmt.Errorf("%s[%d].%w", fieldProducts, idx, err)
		}
		out.Lines = append(out.Lines, domain.OrderLineRequest{
			ProductID: strings.TrimSpace(item.GetFields()[fieldID].GetStringValue()),
			Quantity:  qty,
		})
	}
	return out, nil
}

func isNull(v *structpb.Value) bool {
	_, ok := v.GetKind().(*structpb.Value_NullValue)
	return ok
}

// integerField читает целое число; допускает JSON-число без дробной части или строку.
// Отсутствующее поле читается как 0.
func integerField(s *structpb.Struct, name string) (int64, error) {
	value, ok := s.GetFields()[name]
	if !ok || isNull(value) {
		return 0, nil
	}

	switch kind := value.GetKind().(type) {
	case *structpb.Value_NumberValue:
		f := kind.NumberValue
		// float64(math.MaxInt64) округляется до 2^63, поэтому верхняя граница строгая.
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f >= 1<<63 || f < math.MinInt64 {
			return 0, fmt.Errorf("%s must be an integer", name)
		}
		return int64(f), nil
	case *structpb.Value_StringValue:
		n, err := strconv.ParseInt(strings.TrimSpace(kind.StringValue), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer", name)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s must be an integer", name)
	}
}

func orderValue(order domain.Order) map[string]any {
	lines := make([]any, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, map[string]any{
			"id":          line.ID,
			"product_id":  line.ProductID,
			"quantity":    line.Quantity,
			"price_minor": line.PriceMinor,
		})
	}
	return map[string]any{
		"id":           order.ID,
		"customer_id":  order.CustomerID,
		"amount_minor": order.AmountMinor,
		"created_at":   order.CreatedAt.UTC().Format(time.RFC3339Nano),
		"lines":        lines,
	}
}

func encodeOrder(order domain.Order) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{fieldOrder: orderValue(order)})
}

func encodeOrders(orders []domain.Order) (*structpb.Struct, error) {
	list := make([]any, 0, len(orders))
	for _, order := range orders {
		list = append(list, orderValue(order))
	}
	return structpb.NewStruct(map[string]any{fieldOrders: list})
}

// DecodeOrder читает заказ из ответа PlaceOrder или GetOrder.
func DecodeOrder(resp *structpb.Struct) (domain.Order, error) {
	doc := resp.GetFields()[fieldOrder].GetStructValue()
	if doc == nil {
		return domain.Order{}, fmt.Errorf("response has no %q object", fieldOrder)
	}
	return decodeOrderDoc(doc)
}

// DecodeOrders читает список заказов из ответа ListCustomerOrders.
func DecodeOrders(resp *structpb.Struct) ([]domain.Order, error) {
	values := resp.GetFields()[fieldOrders].GetListValue().GetValues()
	orders := make([]domain.Order, 0, len(values))
	for idx, value := range values {
		doc := value.GetStructValue()
		if doc == nil {
			return nil, fmt.Errorf("%s[%d] is not an object", fieldOrders, idx)
		}
		order, err := decodeOrderDoc(doc)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", fieldOrders, idx, err)
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func decodeOrderDoc(doc *structpb.Struct) (domain.Order, error) {
	fields := doc.GetFields()
	amount, err := integerField(doc, "amount_minor")
	if err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		ID:          fields["id"].GetStringValue(),
		CustomerID:  fields["customer_id"].GetStringValue(),
		AmountMinor: amount,
	}
	if raw := fields["created_at"].GetStringValue(); raw != "" {
		createdAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return domain.Order{}, fmt.Errorf("created_at: %w", err)
		}
		order.CreatedAt = createdAt
	}

	for idx, value := range fields["lines"].GetListValue().GetValues() {
		lineDoc := value.GetStructValue()
		if lineDoc == nil {
			return domain.Order{}, fmt.Errorf("lines[%d] is not an object", idx)
		}
		qty, err := integerField(lineDoc, "quantity")
		if err != nil {
			return domain.Order{}, fmt.Errorf("lines[%d].%w", idx, err)
		}
		price, err := integerField(lineDoc, "price_minor")
		if err != nil {
			return domain.Order{}, fmt.Errorf("lines[%d].%w", idx, err)
		}
		order.Lines = append(order.Lines, domain.OrderLine{
			ID:         lineDoc.GetFields()["id"].GetStringValue(),
			ProductID:  lineDoc.GetFields()["product_id"].GetStringValue(),
			Quantity:   qty,
			PriceMinor: price,
		})
	}
	return order, nil
}
