package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/repositories"
)

var (
	errOrderRepositoryRequired = errors.New("order service: order repository is required")
	errOrderCartsRequired      = errors.New("order service: cart repository is required")
	errOrderUsersRequired      = errors.New("order service: user repository is required")
	errOrderCountersRequired   = errors.New("order service: counter repository is required")
	errOrderPricerRequired     = errors.New("order service: pricer is required")
	errOrderClockRequired      = errors.New("order service: clock is required")
)

// ErrOrderInvalidInput indicates the caller supplied invalid input.
var ErrOrderInvalidInput = errors.New("order service: invalid input")

// ErrOrderUnavailable indicates the order service cannot fulfil the request due to backend issues.
var ErrOrderUnavailable = errors.New("order service: unavailable")

// ErrOrderNotFound indicates the requested order does not exist or is not visible to the caller.
var ErrOrderNotFound = errors.New("order service: not found")

// ErrOrderConflict indicates the order changed concurrently.
var ErrOrderConflict = errors.New("order service: conflict")

// ErrOrderUnauthenticated indicates checkout was attempted without a signed-in buyer.
var ErrOrderUnauthenticated = errors.New("order service: unauthenticated")

// ErrOrderEmptyCart indicates checkout was attempted with no cart lines.
var ErrOrderEmptyCart = errors.New("order service: cart is empty")

// ErrOrderMissingAddress indicates no shipping address was supplied or stored.
var ErrOrderMissingAddress = errors.New("order service: shipping address is required")

// ErrOrderMissingPayment indicates no payment method was supplied or stored.
var ErrOrderMissingPayment = errors.New("order service: payment method is required")

// ErrOrderNotPaid indicates a fulfilment transition was attempted on an unpaid order.
var ErrOrderNotPaid = errors.New("order service: not paid")

// PaymentMethodChecker reports whether a payment method name is routable.
type PaymentMethodChecker interface {
	Supports(method string) bool
}

// OrderServiceDeps wires persistence, numbering and pricing for order flows.
type OrderServiceDeps struct {
	Repository      repositories.OrderRepository
	Carts           repositories.CartRepository
	Users           repositories.UserRepository
	Counters        repositories.CounterRepository
	Pricer          Pricer
	PaymentMethods  PaymentMethodChecker
	Clock           Clock
	DefaultCurrency string
	Logger          Logger
	IDGenerator     IDGenerator
}

type orderService struct {
	repo     repositories.OrderRepository
	carts    repositories.CartRepository
	users    repositories.UserRepository
	counters repositories.CounterRepository
	pricer   Pricer
	methods  PaymentMethodChecker
	newID    IDGenerator
	now      Clock
	currency string
	logger   Logger
}

// NewOrderService constructs an OrderService enforcing dependency validation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Repository == nil {
		return nil, errOrderRepositoryRequired
	}
	if deps.Carts == nil {
		return nil, errOrderCartsRequired
	}
	if deps.Users == nil {
		return nil, errOrderUsersRequired
	}
	if deps.Counters == nil {
		return nil, errOrderCountersRequired
	}
	if deps.Pricer == nil {
		return nil, errOrderPricerRequired
	}
	if deps.Clock == nil {
		return nil, errOrderClockRequired
	}

	currency := strings.ToLower(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = "usd"
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	service := &orderService{
		repo:     deps.Repository,
		carts:    deps.Carts,
		users:    deps.Users,
		counters: deps.Counters,
		pricer:   deps.Pricer,
		methods:  deps.PaymentMethods,
		newID:    idGen,
		now:      func() time.Time { return deps.Clock().UTC() },
		currency: currency,
		logger:   logger,
	}
	return service, nil
}

// PlaceOrder runs the checkout preconditions in a fixed sequence so
// callers can walk the buyer through them one at a time: sign-in, cart
// content, shipping address, payment method. It then snapshots the cart
// into an immutable order and resets the cart in the same transaction.
func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	if s == nil || s.repo == nil {
		return Order{}, ErrOrderUnavailable
	}

	if !cmd.Owner.Authenticated() {
		return Order{}, ErrOrderUnauthenticated
	}
	userID := strings.TrimSpace(cmd.Owner.UserID)
	cartKey := cmd.Owner.Key()

	cart, err := s.carts.Get(ctx, cartKey)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrOrderEmptyCart
		}
		return Order{}, s.translateRepoError(err)
	}
	if cart.IsEmpty() {
		return Order{}, ErrOrderEmptyCart
	}

	profile, err := s.users.FindByID(ctx, userID)
	if err != nil && !isRepoNotFound(err) {
		return Order{}, s.translateRepoError(err)
	}

	address, addressFromRequest := resolveAddress(cmd.Address, profile.DefaultAddress)
	if address == nil {
		return Order{}, ErrOrderMissingAddress
	}

	method := strings.TrimSpace(cmd.PaymentMethod)
	if method == "" {
		method = strings.TrimSpace(profile.DefaultPaymentMethod)
	}
	if method == "" {
		return Order{}, ErrOrderMissingPayment
	}
	if s.methods != nil && !s.methods.Supports(method) {
		return Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, method)
	}

	// Inline checkout choices become the buyer's defaults for next time.
	if addressFromRequest || method != profile.DefaultPaymentMethod {
		s.persistCheckoutDefaults(ctx, userID, profile, address, method)
	}

	totals, err := s.pricer.Calculate(ctx, PriceCommand{Items: cart.Items, Region: address.Region})
	if err != nil {
		if errors.Is(err, ErrPricingInvalidInput) {
			return Order{}, ErrOrderInvalidInput
		}
		return Order{}, ErrOrderUnavailable
	}

	now := s.now()
	number, err := s.nextOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}

	order := domain.Order{
		ID:              s.newID(),
		Number:          number,
		UserID:          userID,
		Currency:        orderCurrency(cart.Currency, s.currency),
		Items:           orderItemsFromCart(cart.Items),
		ShippingAddress: *address,
		PaymentMethod:   method,
		Totals:          totals,
		CartKey:         cartKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	created, err := s.repo.CreateFromCart(ctx, repositories.OrderCreateRequest{
		Order:   order,
		CartKey: cartKey,
		Now:     now,
	})
	if err != nil {
		return Order{}, s.translateOrderError(err)
	}

	s.logger(ctx, "order.placed", map[string]any{
		"order_id": created.ID,
		"number":   created.Number,
		"user_id":  userID,
		"total":    created.Totals.TotalPrice,
	})
	return created, nil
}

// GetOrder returns the order when it belongs to the caller. Admin reads
// skip the ownership check. Foreign orders read as not found so the
// endpoint does not leak which IDs exist.
func (s *orderService) GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	if s == nil || s.repo == nil {
		return Order{}, ErrOrderUnavailable
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order_id is required", ErrOrderInvalidInput)
	}

	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateOrderError(err)
	}
	if !cmd.Admin && order.UserID != strings.TrimSpace(cmd.UserID) {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

// ListOrders pages through the caller's order history, newest first.
func (s *orderService) ListOrders(ctx context.Context, cmd ListOrdersCommand) (domain.CursorPage[Order], error) {
	if s == nil || s.repo == nil {
		return domain.CursorPage[Order]{}, ErrOrderUnavailable
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user_id is required", ErrOrderInvalidInput)
	}

	page, err := s.repo.ListByUser(ctx, userID, cmd.Pager)
	if err != nil {
		return domain.CursorPage[Order]{}, s.translateOrderError(err)
	}
	return page, nil
}

// MarkDelivered records fulfilment of a paid order. The first delivery
// timestamp wins; repeated calls return the order unchanged.
func (s *orderService) MarkDelivered(ctx context.Context, orderID string) (Order, error) {
	if s == nil || s.repo == nil {
		return Order{}, ErrOrderUnavailable
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order_id is required", ErrOrderInvalidInput)
	}

	order, err := s.repo.MarkDelivered(ctx, orderID, s.now())
	if err != nil {
		return Order{}, s.translateOrderError(err)
	}

	s.logger(ctx, "order.delivered", map[string]any{
		"order_id": order.ID,
		"number":   order.Number,
	})
	return order, nil
}

// nextOrderNumber allocates a per-year sequence and renders the public
// order number, e.g. CM-2026-000042.
func (s *orderService) nextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	year := now.Year()
	seq, err := s.counters.Next(ctx, fmt.Sprintf("orders-%04d", year), 1)
	if err != nil {
		return "", ErrOrderUnavailable
	}
	return fmt.Sprintf("CM-%04d-%06d", year, seq), nil
}

// persistCheckoutDefaults stores the inline address and payment method on
// the profile. Failures are logged and never block checkout.
func (s *orderService) persistCheckoutDefaults(ctx context.Context, userID string, profile UserProfile, address *Address, method string) {
	profile.ID = userID
	profile.DefaultAddress = cloneAddress(address)
	profile.DefaultPaymentMethod = method
	if _, err := s.users.UpdateProfile(ctx, profile); err != nil {
		s.logger(ctx, "order.profile_defaults_failed", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
}

func resolveAddress(requested, stored *Address) (*Address, bool) {
	if requested != nil && !requested.IsZero() {
		return cloneAddress(requested), true
	}
	if stored != nil && !stored.IsZero() {
		return cloneAddress(stored), false
	}
	return nil, false
}

func cloneAddress(addr *Address) *Address {
	if addr == nil {
		return nil
	}
	dup := *addr
	return &dup
}

func orderCurrency(cartCurrency, fallback string) string {
	if cur := strings.ToLower(strings.TrimSpace(cartCurrency)); cur != "" {
		return cur
	}
	return fallback
}

func orderItemsFromCart(items []domain.CartItem) []domain.OrderItem {
	out := make([]domain.OrderItem, len(items))
	for i, item := range items {
		out[i] = domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Slug:      item.Slug,
			Image:     item.Image,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		}
	}
	return out
}

func (s *orderService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return ErrOrderConflict
		case repoErr.IsUnavailable():
			return ErrOrderUnavailable
		}
	}
	return ErrOrderUnavailable
}

// translateOrderError maps typed order transition failures onto service
// sentinels before falling back to the generic repository translation.
func (s *orderService) translateOrderError(err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorCartChanged:
			return ErrOrderEmptyCart
		case repositories.OrderErrorNotPaid:
			return ErrOrderNotPaid
		case repositories.OrderErrorAlreadyPaid:
			return ErrOrderConflict
		}
		return ErrOrderUnavailable
	}
	return s.translateRepoError(err)
}

var _ OrderService = (*orderService)(nil)
