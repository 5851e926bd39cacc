package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_UnwrapsToKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
		msg  string
	}{
		{
			name: "customer not found",
			err:  NewCustomerNotFound("C9"),
			kind: ErrCustomerNotFound,
			msg:  "customer does not exist: C9",
		},
		{
			name: "product not found",
			err:  NewProductNotFound([]string{"P2", "P3"}),
			kind: ErrProductNotFound,
			msg:  "products are not registered: P2, P3",
		},
		{
			name: "insufficient stock",
			err:  NewInsufficientStock("P1", 5),
			kind: ErrInsufficientStock,
			msg:  "the quantity 5 is not sufficient for product P1",
		},
		{
			name: "duplicate product",
			err:  NewDuplicateProduct("P1"),
			kind: ErrDuplicateProduct,
			msg:  "product P1 is listed more than once",
		},
		{
			name: "amount overflow",
			err:  NewAmountOverflow(),
			kind: ErrAmountOverflow,
			msg:  "order amount exceeds the supported range",
		},
		{
			name: "empty order",
			err:  NewRequestError(ErrEmptyOrder),
			kind: ErrEmptyOrder,
			msg:  ErrEmptyOrder.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.kind) {
				t.Fatalf("errors.Is(%v, %v) = false", tt.err, tt.kind)
			}
			if tt.err.Error() != tt.msg {
				t.Fatalf("message = %q, want %q", tt.err.Error(), tt.msg)
			}
			if !IsApplicationError(tt.err) {
				t.Fatal("expected application error")
			}
		})
	}
}

func TestIsApplicationError_Wrapped(t *testing.T) {
	wrapped := fmt.Errorf("place order: %w", NewInsufficientStock("P1", 2))
	if !IsApplicationError(wrapped) {
		t.Fatal("wrapped AppError must be recognised")
	}

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatal("errors.As must find AppError")
	}
	if appErr.ProductID != "P1" || appErr.Quantity != 2 {
		t.Fatalf("unexpected details: %+v", appErr)
	}

	if IsApplicationError(errors.New("db is down")) {
		t.Fatal("plain error is not an application error")
	}
	if IsApplicationError(nil) {
		t.Fatal("nil is not an application error")
	}
}

func TestIsValidationError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "empty", err: NewRequestError(ErrEmptyOrder), want: true},
		{name: "duplicate", err: NewDuplicateProduct("P1"), want: true},
		{name: "invalid qty", err: NewInvalidQuantity("P1", 0), want: true},
		{name: "customer required", err: NewRequestError(ErrCustomerRequired), want: true},
		{name: "amount overflow", err: NewAmountOverflow(), want: true},
		{name: "not found", err: NewCustomerNotFound("C1"), want: false},
		{name: "insufficient", err: NewInsufficientStock("P1", 1), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidationError(tt.err); got != tt.want {
				t.Errorf("IsValidationError() = %v, want %v", got, tt.want)
			}
		})
	}
}
