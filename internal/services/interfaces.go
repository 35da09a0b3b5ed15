package services

import (
	"context"
	"time"

	domain "github.com/clovermart/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination    = domain.Pagination
	Cart          = domain.Cart
	CartItem      = domain.CartItem
	CartOwner     = domain.CartOwner
	Totals        = domain.Totals
	Address       = domain.Address
	ShippingRate  = domain.ShippingRate
	Product       = domain.Product
	UserProfile   = domain.UserProfile
	Order         = domain.Order
	OrderItem     = domain.OrderItem
	OrderStatus   = domain.OrderStatus
	PaymentResult = domain.PaymentResult
	HealthReport  = domain.HealthReport
)

// Logger is the structured event logging contract shared by services.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Clock supplies the current time, injected for deterministic tests.
type Clock func() time.Time

// IDGenerator mints identifiers for new documents.
type IDGenerator func() string

// CartService manages the mutable pre-order cart for a session or user.
type CartService interface {
	GetCart(ctx context.Context, owner CartOwner) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	// RemoveItem decrements one unit of the product, dropping the line
	// when it reaches zero. All=true removes the whole line.
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ClearCart(ctx context.Context, owner CartOwner) (Cart, error)
	DeleteCart(ctx context.Context, owner CartOwner) error
	// MergeCarts folds the anonymous session cart into the user cart
	// after login, summing quantities per product.
	MergeCarts(ctx context.Context, owner CartOwner) (Cart, error)
}

// AddCartItemCommand adds quantity of a product to the owner's cart.
type AddCartItemCommand struct {
	Owner     CartOwner
	ProductID string
	Quantity  int
}

// RemoveCartItemCommand removes product units from the owner's cart.
type RemoveCartItemCommand struct {
	Owner     CartOwner
	ProductID string
	All       bool
}

// Pricer computes the four-part totals for a set of cart lines bound
// for a destination region.
type Pricer interface {
	Calculate(ctx context.Context, cmd PriceCommand) (Totals, error)
}

// PriceCommand carries the lines and destination for a totals calculation.
type PriceCommand struct {
	Items  []CartItem
	Region string
}

// OrderService owns order placement and the read side of order history.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
	GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error)
	ListOrders(ctx context.Context, cmd ListOrdersCommand) (domain.CursorPage[Order], error)
	MarkDelivered(ctx context.Context, orderID string) (Order, error)
}

// PlaceOrderCommand captures checkout input. Address and payment method
// fall back to the buyer's stored defaults when omitted.
type PlaceOrderCommand struct {
	Owner         CartOwner
	Address       *Address
	PaymentMethod string
}

// GetOrderCommand scopes an order read to its owner. Admin reads pass
// Admin=true and skip the ownership check.
type GetOrderCommand struct {
	OrderID string
	UserID  string
	Admin   bool
}

// ListOrdersCommand pages through a user's order history.
type ListOrdersCommand struct {
	UserID string
	Pager  Pagination
}

// PaymentService reconciles gateway outcomes onto orders.
type PaymentService interface {
	// InitializePayment opens a gateway checkout for an unpaid order.
	InitializePayment(ctx context.Context, cmd InitializePaymentCommand) (PaymentIntent, error)
	// VerifyAndApply fetches the gateway's view of the payment and, when
	// it reports success, applies the paid transition. Re-verifying an
	// already paid order succeeds without calling the gateway again.
	VerifyAndApply(ctx context.Context, cmd VerifyPaymentCommand) (Order, error)
	// MarkPaidManually applies payment without a gateway, for cash on
	// delivery and similar back-office flows.
	MarkPaidManually(ctx context.Context, orderID string) (Order, error)
}

// InitializePaymentCommand opens a checkout session for an order.
type InitializePaymentCommand struct {
	OrderID string
	UserID  string
	Admin   bool
}

// PaymentIntent is the client-facing handle on an opened checkout.
type PaymentIntent struct {
	OrderID     string
	Provider    string
	Reference   string
	RedirectURL string
	ExpiresAt   time.Time
}

// VerifyPaymentCommand reconciles a gateway reference against an order.
type VerifyPaymentCommand struct {
	OrderID   string
	Reference string
	UserID    string
	Admin     bool
}

// ReceiptNotification is the payload dispatched after a successful payment.
type ReceiptNotification struct {
	OrderID     string
	OrderNumber string
	UserID      string
	Email       string
	TotalPrice  int64
	Currency    string
	PaidAt      time.Time
}

// ReceiptNotifier dispatches receipt notifications. Payment application
// never depends on its outcome.
type ReceiptNotifier interface {
	PublishReceipt(ctx context.Context, note ReceiptNotification) error
}

// SystemService aggregates utility surfaces (health checks).
type SystemService interface {
	HealthReport(ctx context.Context) (HealthReport, error)
}
