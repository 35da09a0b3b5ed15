package repositories

import "fmt"

// OrderErrorCode enumerates repository error causes for order state transitions.
type OrderErrorCode string

const (
	// OrderErrorUnknown represents an unspecified failure.
	OrderErrorUnknown OrderErrorCode = "order_unknown"
	// OrderErrorAlreadyPaid indicates the order was paid before or during the operation.
	OrderErrorAlreadyPaid OrderErrorCode = "order_already_paid"
	// OrderErrorNotPaid indicates a fulfilment step ran against an unpaid order.
	OrderErrorNotPaid OrderErrorCode = "order_not_paid"
	// OrderErrorCartChanged indicates the source cart was emptied while the order transaction ran.
	OrderErrorCartChanged OrderErrorCode = "order_cart_changed"
	// OrderErrorInsufficientStock indicates a line quantity exceeds the remaining stock.
	OrderErrorInsufficientStock OrderErrorCode = "order_insufficient_stock"
	// OrderErrorProductMissing indicates a snapshot line references a product with no stock record.
	OrderErrorProductMissing OrderErrorCode = "order_product_missing"
)

// OrderError wraps order-transition failures with machine readable codes.
type OrderError struct {
	Op      string
	Code    OrderErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *OrderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *OrderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOrderError constructs a typed order error.
func NewOrderError(code OrderErrorCode, message string, err error) *OrderError {
	if message == "" {
		message = string(code)
	}
	return &OrderError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
