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
	errCartRepositoryRequired = errors.New("cart service: cart repository is required")
	errCartProductsRequired   = errors.New("cart service: product repository is required")
	errCartPricerRequired     = errors.New("cart service: pricer is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested cart does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// ErrCartInsufficientStock indicates the requested quantity exceeds the product's stock.
var ErrCartInsufficientStock = errors.New("cart service: insufficient stock")

const maxCartLineQuantity = 99

// CartServiceDeps wires the repositories and pricing dependencies for cart
// operations. Users is optional; when present, repricing for signed-in
// owners uses the profile's default shipping region.
type CartServiceDeps struct {
	Repository      repositories.CartRepository
	Products        repositories.ProductRepository
	Users           repositories.UserRepository
	Pricer          Pricer
	Clock           Clock
	DefaultCurrency string
	Logger          Logger
	IDGenerator     IDGenerator
}

type cartService struct {
	repo     repositories.CartRepository
	products repositories.ProductRepository
	users    repositories.UserRepository
	pricer   Pricer
	newID    IDGenerator
	now      Clock
	currency string
	logger   Logger
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Products == nil {
		return nil, errCartProductsRequired
	}
	if deps.Pricer == nil {
		return nil, errCartPricerRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	defaultCurrency := strings.ToLower(strings.TrimSpace(deps.DefaultCurrency))
	if defaultCurrency == "" {
		defaultCurrency = "usd"
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	service := &cartService{
		repo:     deps.Repository,
		products: deps.Products,
		users:    deps.Users,
		pricer:   deps.Pricer,
		newID:    idGen,
		now:      func() time.Time { return deps.Clock().UTC() },
		currency: defaultCurrency,
		logger:   logger,
	}
	return service, nil
}

// GetCart loads the owner's cart, returning a fresh empty cart when none exists.
func (s *cartService) GetCart(ctx context.Context, owner CartOwner) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}
	key, err := ownerKey(owner)
	if err != nil {
		return Cart{}, err
	}

	cart, err := s.repo.Get(ctx, key)
	if err != nil {
		if isRepoNotFound(err) {
			return s.emptyCart(owner), nil
		}
		return Cart{}, s.translateRepoError(err)
	}
	return cart, nil
}

// AddItem snapshots the product into the cart line and recomputes totals.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}
	key, err := ownerKey(cmd.Owner)
	if err != nil {
		return Cart{}, err
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Cart{}, fmt.Errorf("%w: product_id is required", ErrCartInvalidInput)
	}
	quantity := cmd.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 {
		return Cart{}, fmt.Errorf("%w: quantity must be greater than zero", ErrCartInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, fmt.Errorf("%w: product not found", ErrCartInvalidInput)
		}
		return Cart{}, s.translateRepoError(err)
	}

	cart, err := s.loadOrInit(ctx, cmd.Owner, key)
	if err != nil {
		return Cart{}, err
	}

	idx := cartLineIndex(cart.Items, productID)
	newQuantity := quantity
	if idx >= 0 {
		newQuantity += cart.Items[idx].Quantity
	}
	if newQuantity > maxCartLineQuantity {
		return Cart{}, fmt.Errorf("%w: quantity exceeds the per-line limit", ErrCartInvalidInput)
	}
	if int64(newQuantity) > product.Stock {
		return Cart{}, ErrCartInsufficientStock
	}

	// Reprice the line from the catalog so stale carts cannot pin an old price.
	line := domain.CartItem{
		ProductID: product.ID,
		Name:      product.Name,
		Slug:      product.Slug,
		Image:     product.Image,
		UnitPrice: product.Price,
		Quantity:  newQuantity,
	}
	if idx >= 0 {
		cart.Items[idx] = line
	} else {
		cart.Items = append(cart.Items, line)
	}

	return s.saveRepriced(ctx, cart)
}

// RemoveItem decrements one unit, or drops the line entirely when All is set
// or the quantity reaches zero.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}
	key, err := ownerKey(cmd.Owner)
	if err != nil {
		return Cart{}, err
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Cart{}, fmt.Errorf("%w: product_id is required", ErrCartInvalidInput)
	}

	cart, err := s.repo.Get(ctx, key)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}

	idx := cartLineIndex(cart.Items, productID)
	if idx < 0 {
		return Cart{}, ErrCartNotFound
	}

	if cmd.All || cart.Items[idx].Quantity <= 1 {
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
	} else {
		cart.Items[idx].Quantity--
	}

	return s.saveRepriced(ctx, cart)
}

// ClearCart empties the owner's cart while keeping the document alive.
func (s *cartService) ClearCart(ctx context.Context, owner CartOwner) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}
	key, err := ownerKey(owner)
	if err != nil {
		return Cart{}, err
	}

	cart, err := s.repo.Reset(ctx, key, s.now())
	if err != nil {
		if isRepoNotFound(err) {
			return s.emptyCart(owner), nil
		}
		return Cart{}, s.translateRepoError(err)
	}
	return cart, nil
}

// DeleteCart removes the owner's cart document.
func (s *cartService) DeleteCart(ctx context.Context, owner CartOwner) error {
	if s == nil || s.repo == nil {
		return ErrCartUnavailable
	}
	key, err := ownerKey(owner)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, key); err != nil && !isRepoNotFound(err) {
		return s.translateRepoError(err)
	}
	return nil
}

// MergeCarts folds the anonymous session cart into the user cart after
// login, summing quantities per product, then removes the session cart.
func (s *cartService) MergeCarts(ctx context.Context, owner CartOwner) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}
	if strings.TrimSpace(owner.UserID) == "" || strings.TrimSpace(owner.SessionID) == "" {
		return Cart{}, fmt.Errorf("%w: merge requires both user and session", ErrCartInvalidInput)
	}

	sessionOwner := domain.CartOwner{SessionID: owner.SessionID}
	sessionCart, err := s.repo.Get(ctx, sessionOwner.Key())
	if err != nil {
		if isRepoNotFound(err) {
			return s.GetCart(ctx, domain.CartOwner{UserID: owner.UserID})
		}
		return Cart{}, s.translateRepoError(err)
	}

	userOwner := domain.CartOwner{UserID: owner.UserID}
	userCart, err := s.loadOrInit(ctx, userOwner, userOwner.Key())
	if err != nil {
		return Cart{}, err
	}

	for _, line := range sessionCart.Items {
		idx := cartLineIndex(userCart.Items, line.ProductID)
		if idx >= 0 {
			merged := userCart.Items[idx].Quantity + line.Quantity
			if merged > maxCartLineQuantity {
				merged = maxCartLineQuantity
			}
			userCart.Items[idx].Quantity = merged
			continue
		}
		userCart.Items = append(userCart.Items, line)
	}

	merged, err := s.saveRepriced(ctx, userCart)
	if err != nil {
		return Cart{}, err
	}

	if err := s.repo.Delete(ctx, sessionOwner.Key()); err != nil && !isRepoNotFound(err) {
		s.logger(ctx, "cart.merge_session_delete_failed", map[string]any{
			"session_key": sessionOwner.Key(),
			"error":       err.Error(),
		})
	}

	s.logger(ctx, "cart.merged", map[string]any{
		"user_id":    owner.UserID,
		"line_count": len(merged.Items),
	})
	return merged, nil
}

func (s *cartService) loadOrInit(ctx context.Context, owner CartOwner, key string) (Cart, error) {
	cart, err := s.repo.Get(ctx, key)
	if err != nil {
		if isRepoNotFound(err) {
			return s.emptyCart(owner), nil
		}
		return Cart{}, s.translateRepoError(err)
	}
	return cart, nil
}

// saveRepriced recomputes totals for the cart's lines and persists it.
func (s *cartService) saveRepriced(ctx context.Context, cart Cart) (Cart, error) {
	totals, err := s.pricer.Calculate(ctx, PriceCommand{
		Items:  cart.Items,
		Region: s.shippingRegion(ctx, cart.UserID),
	})
	if err != nil {
		if errors.Is(err, ErrPricingInvalidInput) {
			return Cart{}, ErrCartInvalidInput
		}
		return Cart{}, ErrCartUnavailable
	}
	cart.Totals = totals
	if cart.Currency == "" {
		cart.Currency = s.currency
	}

	saved, err := s.repo.Save(ctx, cart)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return saved, nil
}

// shippingRegion resolves the signed-in owner's default shipping region
// for repricing. Anonymous carts and lookup failures price at the
// Default rate.
func (s *cartService) shippingRegion(ctx context.Context, userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" || s.users == nil {
		return ""
	}
	profile, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if !isRepoNotFound(err) {
			s.logger(ctx, "cart.profile_region_lookup_failed", map[string]any{
				"user_id": userID,
				"error":   err.Error(),
			})
		}
		return ""
	}
	if profile.DefaultAddress == nil {
		return ""
	}
	return strings.TrimSpace(profile.DefaultAddress.Region)
}

func (s *cartService) emptyCart(owner CartOwner) Cart {
	return Cart{
		ID:        owner.Key(),
		UserID:    strings.TrimSpace(owner.UserID),
		SessionID: strings.TrimSpace(owner.SessionID),
		Currency:  s.currency,
		Items:     []domain.CartItem{},
	}
}

func ownerKey(owner CartOwner) (string, error) {
	if owner.IsZero() {
		return "", fmt.Errorf("%w: cart owner is required", ErrCartInvalidInput)
	}
	return owner.Key(), nil
}

func cartLineIndex(items []domain.CartItem, productID string) int {
	for i, item := range items {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		case repoErr.IsUnavailable():
			return ErrCartUnavailable
		}
	}
	return ErrCartUnavailable
}

var _ CartService = (*cartService)(nil)
