package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/repositories"
)

func newTestCartService(t *testing.T, repo repositories.CartRepository, products repositories.ProductRepository, pricer Pricer, now time.Time) CartService {
	t.Helper()
	if pricer == nil {
		pricer = &stubPricer{}
	}
	service, err := NewCartService(CartServiceDeps{
		Repository:      repo,
		Products:        products,
		Pricer:          pricer,
		Clock:           func() time.Time { return now },
		DefaultCurrency: "usd",
	})
	if err != nil {
		t.Fatalf("unexpected error constructing cart service: %v", err)
	}
	return service
}

func TestCartServiceGetCartReturnsEmptyWhenMissing(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, key string) (domain.Cart, error) {
			if key != "sess-abc" {
				t.Fatalf("unexpected owner key %q", key)
			}
			return domain.Cart{}, &repositoryErrorStub{notFound: true}
		},
	}

	service := newTestCartService(t, repo, &stubProductRepository{}, nil, now)

	cart, err := service.GetCart(context.Background(), domain.CartOwner{SessionID: "abc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Fatalf("expected empty cart")
	}
	if cart.Currency != "usd" {
		t.Fatalf("expected default currency usd, got %q", cart.Currency)
	}
}

func TestCartServiceGetCartUserKeyWinsOverSession(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	var requested string
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, key string) (domain.Cart, error) {
			requested = key
			return domain.Cart{ID: key, UserID: "user-1"}, nil
		},
	}

	service := newTestCartService(t, repo, &stubProductRepository{}, nil, now)

	if _, err := service.GetCart(context.Background(), domain.CartOwner{UserID: "user-1", SessionID: "abc"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if requested != "user-1" {
		t.Fatalf("expected user key to win, got %q", requested)
	}
}

func TestCartServiceGetCartRequiresOwner(t *testing.T) {
	service := newTestCartService(t, &stubCartRepository{}, &stubProductRepository{}, nil, time.Now())
	_, err := service.GetCart(context.Background(), domain.CartOwner{})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func TestCartServiceAddItemSnapshotsProduct(t *testing.T) {
	now := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	totals := Totals{ItemsPrice: 2400, ShippingPrice: 500, TaxPrice: 240, TotalPrice: 3140}

	var saved domain.Cart
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, key string) (domain.Cart, error) {
			return domain.Cart{}, &repositoryErrorStub{notFound: true}
		},
		saveFunc: func(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
			saved = cart
			return cart, nil
		},
	}
	products := &stubProductRepository{
		findFunc: func(ctx context.Context, id string) (domain.Product, error) {
			return domain.Product{ID: id, Name: "Walnut Board", Slug: "walnut-board", Image: "/img/walnut.jpg", Price: 1200, Stock: 10}, nil
		},
	}
	pricer := &stubPricer{
		calculateFunc: func(ctx context.Context, cmd PriceCommand) (Totals, error) {
			if len(cmd.Items) != 1 || cmd.Items[0].Quantity != 2 {
				t.Fatalf("unexpected pricing input: %+v", cmd.Items)
			}
			return totals, nil
		},
	}

	service := newTestCartService(t, repo, products, pricer, now)

	cart, err := service.AddItem(context.Background(), AddCartItemCommand{
		Owner:     domain.CartOwner{SessionID: "abc"},
		ProductID: "prod-1",
		Quantity:  2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(saved.Items) != 1 {
		t.Fatalf("expected 1 line, got %d", len(saved.Items))
	}
	line := saved.Items[0]
	if line.Name != "Walnut Board" || line.UnitPrice != 1200 || line.Quantity != 2 {
		t.Fatalf("unexpected line snapshot: %+v", line)
	}
	if cart.Totals != totals {
		t.Fatalf("expected repriced totals, got %+v", cart.Totals)
	}
}

func TestCartServiceAddItemIncrementsExistingLine(t *testing.T) {
	now := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	var saved domain.Cart
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, key string) (domain.Cart, error) {
			return domain.Cart{
				ID:    key,
				Items: []domain.CartItem{{ProductID: "prod-1", Name: "Walnut Board", UnitPrice: 1000, Quantity: 1}},
			}, nil
		},
		saveFunc: func(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
			saved = cart
			return cart, nil
		},
	}
	products := &stubProductRepository{
		findFunc: func(ctx context.Context, id string) (domain.Product, error) {
			// Reprice: catalog price moved since the line was added.
			return domain.Product{ID: id, Name: "Walnut Board", Price: 1200, Stock: 10}, nil
		},
	}

	service := newTestCartService(t, repo, products, nil, now)

	if _, err := service.AddItem(context.Background(), AddCartItemCommand{
		Owner:     domain.CartOwner{SessionID: "abc"},
		ProductID: "prod-1",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(saved.Items) != 1 {
		t.Fatalf("expected single merged line, got %d", len(saved.Items))
	}
	if saved.Items[0].Quantity != 2 {
		t.Fatalf("expected quantity 2, got %d", saved.Items[0].Quantity)
	}
	if saved.Items[0].UnitPrice != 1200 {
		t.Fatalf("expected refreshed unit price 1200, got %d", saved.Items[0].UnitPrice)
	}
}

func TestCartServiceAddItemInsufficientStock(t *testing.T) {
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, key string) (domain.Cart, error) {
			return domain.Cart{}, &repositoryErrorStub{notFound: true}
		},
	}
	products := &stubProductRepository{
		findFunc: func(ctx context.Context, id string) (domain.Product, error) {
			return domain.Product{ID: id, Stock: 1}, nil
		},
	}

	service := newTestCartService(t, repo, products, nil, time.Now())

	_, err := service.AddItem(context.Background(), AddCartItemCommand{
		Owner:     domain.CartOwner{SessionID: "abc"},
		ProductID: "prod-1",
		Quantity:  2,
	})
	if !errors.Is(err, ErrCartInsufficientStock) {
		t.Fatalf("expected ErrCartInsufficientStock, got %v", err)
	}
}

func TestCartServiceAddItemUnknownProduct(t *testing.T) {
	products := &stubProductRepository{
		findFunc: func(ctx context.Context, id string) (domain.Product, error) {
			return domain.Product{}, &repositoryErrorStub{notFound: true}
		},
	}

	service := newTestCartService(t, &stubCartRepository{}, products, nil, time.Now())

	_, err := service.AddItem(context.Background(), AddCartItemCommand{
		Owner:     domain.CartOwner{SessionID: "abc"},
		ProductID: "missing",
	})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func TestCartServiceRemoveItemDecrementsThenDrops(t *testing.T) {
	now := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	var saved domain.Cart
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, key string) (domain.Cart, error) {
			return domain.Cart{
				ID:    key,
				Items: []domain.CartItem{{ProductID: "prod-1", UnitPrice: 1000, Quantity: 2}},
			}, nil
		},
		saveFunc: func(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
			saved = cart
			return cart, nil
		},
	}

	service := newTestCartService(t, repo, &stubProductRepository{}, nil, now)

	if _, err := service.RemoveItem(context.Background(), RemoveCartItemCommand{
		Owner:     domain.CartOwner{SessionID: "abc"},
		ProductID: "prod-1",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(saved.Items) != 1 || saved.Items[0].Quantity != 1 {
		t.Fatalf("expected decrement to 1, got %+v", saved.Items)
	}
}

func TestCartServiceRemoveItemAllDropsLine(t *testing.T) {
	var saved domain.Cart
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, key string) (domain.Cart, error) {
			return domain.Cart{
				ID:    key,
				Items: []domain.CartItem{{ProductID: "prod-1", UnitPrice: 1000, Quantity: 3}},
			}, nil
		},
		saveFunc: func(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
			saved = cart
			return cart, nil
		},
	}

	service := newTestCartService(t, repo, &stubProductRepository{}, nil, time.Now())

	if _, err := service.RemoveItem(context.Background(), RemoveCartItemCommand{
		Owner:     domain.CartOwner{SessionID: "abc"},
		ProductID: "prod-1",
		All:       true,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(saved.Items) != 0 {
		t.Fatalf("expected line removed, got %+v", saved.Items)
	}
}

func TestCartServiceRemoveItemMissingLine(t *testing.T) {
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, key string) (domain.Cart, error) {
			return domain.Cart{ID: key}, nil
		},
	}

	service := newTestCartService(t, repo, &stubProductRepository{}, nil, time.Now())

	_, err := service.RemoveItem(context.Background(), RemoveCartItemCommand{
		Owner:     domain.CartOwner{SessionID: "abc"},
		ProductID: "prod-9",
	})
	if !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound, got %v", err)
	}
}

func TestCartServiceMergeCartsSumsQuantities(t *testing.T) {
	now := time.Date(2026, 3, 5, 15, 0, 0, 0, time.UTC)
	var saved domain.Cart
	var deleted string

	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, key string) (domain.Cart, error) {
			switch key {
			case "sess-abc":
				return domain.Cart{
					ID: key,
					Items: []domain.CartItem{
						{ProductID: "prod-1", UnitPrice: 1000, Quantity: 2},
						{ProductID: "prod-2", UnitPrice: 500, Quantity: 1},
					},
				}, nil
			case "user-1":
				return domain.Cart{
					ID:     key,
					UserID: "user-1",
					Items:  []domain.CartItem{{ProductID: "prod-1", UnitPrice: 1000, Quantity: 1}},
				}, nil
			}
			t.Fatalf("unexpected key %q", key)
			return domain.Cart{}, nil
		},
		saveFunc: func(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
			saved = cart
			return cart, nil
		},
		deleteFunc: func(ctx context.Context, key string) error {
			deleted = key
			return nil
		},
	}

	service := newTestCartService(t, repo, &stubProductRepository{}, nil, now)

	merged, err := service.MergeCarts(context.Background(), domain.CartOwner{UserID: "user-1", SessionID: "abc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(saved.Items) != 2 {
		t.Fatalf("expected 2 merged lines, got %d", len(saved.Items))
	}
	if saved.Items[0].ProductID != "prod-1" || saved.Items[0].Quantity != 3 {
		t.Fatalf("expected prod-1 quantity 3, got %+v", saved.Items[0])
	}
	if deleted != "sess-abc" {
		t.Fatalf("expected session cart deleted, got %q", deleted)
	}
	if len(merged.Items) != 2 {
		t.Fatalf("expected merged cart returned, got %+v", merged.Items)
	}
}

func TestCartServiceMergeCartsNoSessionCart(t *testing.T) {
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, key string) (domain.Cart, error) {
			if key == "sess-abc" {
				return domain.Cart{}, &repositoryErrorStub{notFound: true}
			}
			return domain.Cart{ID: key, UserID: "user-1", Items: []domain.CartItem{{ProductID: "prod-1", UnitPrice: 100, Quantity: 1}}}, nil
		},
	}

	service := newTestCartService(t, repo, &stubProductRepository{}, nil, time.Now())

	cart, err := service.MergeCarts(context.Background(), domain.CartOwner{UserID: "user-1", SessionID: "abc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected existing user cart, got %+v", cart.Items)
	}
}

func TestCartServiceRepriceUsesProfileRegion(t *testing.T) {
	now := time.Date(2026, 3, 7, 11, 0, 0, 0, time.UTC)
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, key string) (domain.Cart, error) {
			return domain.Cart{
				ID:     key,
				UserID: "user-1",
				Items:  []domain.CartItem{{ProductID: "prod-1", UnitPrice: 1000, Quantity: 2}},
			}, nil
		},
		saveFunc: func(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
			return cart, nil
		},
	}
	users := &stubUserRepository{
		findFunc: func(ctx context.Context, userID string) (domain.UserProfile, error) {
			if userID != "user-1" {
				t.Fatalf("unexpected user id %q", userID)
			}
			return domain.UserProfile{
				ID:             userID,
				DefaultAddress: &domain.Address{Region: "Hokkaido"},
			}, nil
		},
	}
	var pricedRegion string
	pricer := &stubPricer{
		calculateFunc: func(ctx context.Context, cmd PriceCommand) (Totals, error) {
			pricedRegion = cmd.Region
			return Totals{ItemsPrice: 2000, ShippingPrice: 800, TotalPrice: 2800}, nil
		},
	}

	service, err := NewCartService(CartServiceDeps{
		Repository:      repo,
		Products:        &stubProductRepository{},
		Users:           users,
		Pricer:          pricer,
		Clock:           func() time.Time { return now },
		DefaultCurrency: "usd",
	})
	if err != nil {
		t.Fatalf("unexpected error constructing cart service: %v", err)
	}

	cart, err := service.RemoveItem(context.Background(), RemoveCartItemCommand{
		Owner:     domain.CartOwner{UserID: "user-1"},
		ProductID: "prod-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pricedRegion != "Hokkaido" {
		t.Fatalf("expected profile region to drive pricing, got %q", pricedRegion)
	}
	if cart.Totals.ShippingPrice != 800 {
		t.Fatalf("expected regional shipping price, got %+v", cart.Totals)
	}
}

func TestCartServiceRepriceAnonymousOwnerSkipsProfile(t *testing.T) {
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, key string) (domain.Cart, error) {
			return domain.Cart{
				ID:    key,
				Items: []domain.CartItem{{ProductID: "prod-1", UnitPrice: 1000, Quantity: 2}},
			}, nil
		},
		saveFunc: func(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
			return cart, nil
		},
	}
	users := &stubUserRepository{
		findFunc: func(ctx context.Context, userID string) (domain.UserProfile, error) {
			t.Fatalf("unexpected profile lookup for %q", userID)
			return domain.UserProfile{}, nil
		},
	}
	var pricedRegion string
	pricer := &stubPricer{
		calculateFunc: func(ctx context.Context, cmd PriceCommand) (Totals, error) {
			pricedRegion = cmd.Region
			return Totals{ItemsPrice: 1000, TotalPrice: 1000}, nil
		},
	}

	service, err := NewCartService(CartServiceDeps{
		Repository:      repo,
		Products:        &stubProductRepository{},
		Users:           users,
		Pricer:          pricer,
		Clock:           time.Now,
		DefaultCurrency: "usd",
	})
	if err != nil {
		t.Fatalf("unexpected error constructing cart service: %v", err)
	}

	if _, err := service.RemoveItem(context.Background(), RemoveCartItemCommand{
		Owner:     domain.CartOwner{SessionID: "abc"},
		ProductID: "prod-1",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pricedRegion != "" {
		t.Fatalf("expected Default-rate pricing for anonymous cart, got %q", pricedRegion)
	}
}

func TestCartServiceClearCartResetsDocument(t *testing.T) {
	now := time.Date(2026, 3, 6, 9, 0, 0, 0, time.UTC)
	repo := &stubCartRepository{
		resetFunc: func(ctx context.Context, ownerKey string, at time.Time) (domain.Cart, error) {
			if ownerKey != "user-1" {
				t.Fatalf("unexpected owner key %q", ownerKey)
			}
			if !at.Equal(now) {
				t.Fatalf("unexpected reset time %v", at)
			}
			return domain.Cart{ID: ownerKey, UserID: "user-1", Currency: "usd", UpdatedAt: at}, nil
		},
	}

	service := newTestCartService(t, repo, &stubProductRepository{}, nil, now)

	cart, err := service.ClearCart(context.Background(), domain.CartOwner{UserID: "user-1", SessionID: "abc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Fatalf("expected no lines after clear, got %d", len(cart.Items))
	}
	if cart.Totals.TotalPrice != 0 {
		t.Fatalf("expected zero total, got %d", cart.Totals.TotalPrice)
	}
}

func TestCartServiceClearCartMissingDocument(t *testing.T) {
	repo := &stubCartRepository{
		resetFunc: func(ctx context.Context, ownerKey string, at time.Time) (domain.Cart, error) {
			return domain.Cart{}, &repositoryErrorStub{notFound: true}
		},
	}

	service := newTestCartService(t, repo, &stubProductRepository{}, nil, time.Now())

	cart, err := service.ClearCart(context.Background(), domain.CartOwner{SessionID: "abc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cart.Items) != 0 || cart.Currency != "usd" {
		t.Fatalf("expected empty default cart, got %+v", cart)
	}
}

func TestCartServiceDeleteCartIgnoresMissing(t *testing.T) {
	repo := &stubCartRepository{
		deleteFunc: func(ctx context.Context, key string) error {
			return &repositoryErrorStub{notFound: true}
		},
	}

	service := newTestCartService(t, repo, &stubProductRepository{}, nil, time.Now())

	if err := service.DeleteCart(context.Background(), domain.CartOwner{SessionID: "abc"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCartServiceTranslatesConflict(t *testing.T) {
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, key string) (domain.Cart, error) {
			return domain.Cart{ID: key, Items: []domain.CartItem{{ProductID: "prod-1", UnitPrice: 100, Quantity: 1}}}, nil
		},
		saveFunc: func(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
			return domain.Cart{}, &repositoryErrorStub{conflict: true}
		},
	}

	service := newTestCartService(t, repo, &stubProductRepository{}, nil, time.Now())

	_, err := service.RemoveItem(context.Background(), RemoveCartItemCommand{
		Owner:     domain.CartOwner{SessionID: "abc"},
		ProductID: "prod-1",
		All:       true,
	})
	if !errors.Is(err, ErrCartConflict) {
		t.Fatalf("expected ErrCartConflict, got %v", err)
	}
}

type repositoryErrorStub struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repositoryErrorStub) Error() string {
	return "repository error"
}

func (e *repositoryErrorStub) IsNotFound() bool {
	return e.notFound
}

func (e *repositoryErrorStub) IsConflict() bool {
	return e.conflict
}

func (e *repositoryErrorStub) IsUnavailable() bool {
	return e.unavailable
}

type stubCartRepository struct {
	getFunc    func(ctx context.Context, ownerKey string) (domain.Cart, error)
	saveFunc   func(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	resetFunc  func(ctx context.Context, ownerKey string, now time.Time) (domain.Cart, error)
	deleteFunc func(ctx context.Context, ownerKey string) error
}

func (s *stubCartRepository) Get(ctx context.Context, ownerKey string) (domain.Cart, error) {
	if s.getFunc == nil {
		return domain.Cart{}, &repositoryErrorStub{notFound: true}
	}
	return s.getFunc(ctx, ownerKey)
}

func (s *stubCartRepository) Save(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if s.saveFunc == nil {
		return cart, nil
	}
	return s.saveFunc(ctx, cart)
}

func (s *stubCartRepository) Reset(ctx context.Context, ownerKey string, now time.Time) (domain.Cart, error) {
	if s.resetFunc == nil {
		return domain.Cart{ID: ownerKey, UpdatedAt: now}, nil
	}
	return s.resetFunc(ctx, ownerKey, now)
}

func (s *stubCartRepository) Delete(ctx context.Context, ownerKey string) error {
	if s.deleteFunc == nil {
		return nil
	}
	return s.deleteFunc(ctx, ownerKey)
}

type stubProductRepository struct {
	findFunc func(ctx context.Context, productID string) (domain.Product, error)
}

func (s *stubProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFunc == nil {
		return domain.Product{ID: productID, Stock: 100}, nil
	}
	return s.findFunc(ctx, productID)
}

type stubPricer struct {
	calculateFunc func(ctx context.Context, cmd PriceCommand) (Totals, error)
}

func (s *stubPricer) Calculate(ctx context.Context, cmd PriceCommand) (Totals, error) {
	if s.calculateFunc == nil {
		var items int64
		for _, item := range cmd.Items {
			items += item.LineTotal()
		}
		return Totals{ItemsPrice: items, TotalPrice: items}, nil
	}
	return s.calculateFunc(ctx, cmd)
}
