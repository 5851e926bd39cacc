package domain

// Customer: запись покупателя. Сервис оформления заказа только читает её.
type Customer struct {
	ID    string
	Name  string
	Email string
}
