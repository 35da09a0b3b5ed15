package repositories

import (
	"context"
	"time"

	domain "github.com/clovermart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Orders() OrderRepository
	Products() ProductRepository
	ShippingRates() ShippingRateRepository
	Users() UserRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository owns cart persistence keyed by the resolved owner key,
// with optimistic locking on writes.
type CartRepository interface {
	// Get returns the cart stored under the owner key. Missing carts
	// surface a RepositoryError with IsNotFound.
	Get(ctx context.Context, ownerKey string) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	// Reset empties the cart lines and zeroes the totals while keeping
	// the document in place.
	Reset(ctx context.Context, ownerKey string, now time.Time) (domain.Cart, error)
	// Delete removes the cart document entirely (session end).
	Delete(ctx context.Context, ownerKey string) error
}

// OrderRepository persists order snapshots and runs the transactional
// state transitions of the payment and fulfilment flows.
type OrderRepository interface {
	// CreateFromCart writes the order and resets the source cart in one
	// transaction. The cart is re-read inside the transaction and the
	// create aborts with a cart-changed conflict when it was emptied
	// concurrently.
	CreateFromCart(ctx context.Context, req OrderCreateRequest) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	// MarkPaid applies a verified payment in one transaction: assert the
	// order is still unpaid, decrement stock per line, record the
	// payment result, and reset the buyer's cart.
	MarkPaid(ctx context.Context, req OrderMarkPaidRequest) (domain.Order, error)
	// MarkDelivered flips the delivered flag once. Unpaid orders fail
	// with an order-not-paid error; already delivered orders return
	// unchanged.
	MarkDelivered(ctx context.Context, orderID string, now time.Time) (domain.Order, error)
}

// OrderCreateRequest carries the fully built snapshot plus the cart to reset.
type OrderCreateRequest struct {
	Order   domain.Order
	CartKey string
	Now     time.Time
}

// OrderMarkPaidRequest carries the verified gateway outcome to apply.
type OrderMarkPaidRequest struct {
	OrderID string
	Result  domain.PaymentResult
	Now     time.Time
}

// ProductRepository exposes the catalog slice needed by cart and stock flows.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

// ShippingRateRepository looks up region rate rows. Fallback to the
// default region is the caller's concern.
type ShippingRateRepository interface {
	FindByRegion(ctx context.Context, region string) (domain.ShippingRate, error)
}

// UserRepository stores user profiles and their checkout defaults.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.UserProfile, error)
	UpdateProfile(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
