package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/clovermart/api/internal/domain"
	pfirestore "github.com/clovermart/api/internal/platform/firestore"
	"github.com/clovermart/api/internal/repositories"
)

const cartsCollection = "carts"

type cartItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Slug      string `firestore:"slug,omitempty"`
	Image     string `firestore:"image,omitempty"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"qty"`
}

type totalsDocument struct {
	ItemsPrice    int64 `firestore:"itemsPrice"`
	ShippingPrice int64 `firestore:"shippingPrice"`
	TaxPrice      int64 `firestore:"taxPrice"`
	TotalPrice    int64 `firestore:"totalPrice"`
}

type cartDocument struct {
	UserID    string             `firestore:"userId,omitempty"`
	SessionID string             `firestore:"sessionId,omitempty"`
	Currency  string             `firestore:"currency"`
	Items     []cartItemDocument `firestore:"items"`
	Totals    totalsDocument     `firestore:"totals"`
	Metadata  map[string]string  `firestore:"metadata,omitempty"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

// CartRepository persists carts keyed by the resolved owner key.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		base: pfirestore.NewBaseRepository[cartDocument](provider, cartsCollection, nil),
	}, nil
}

// Get loads the cart stored under the owner key.
func (r *CartRepository) Get(ctx context.Context, ownerKey string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	key := strings.TrimSpace(ownerKey)
	if key == "" {
		return domain.Cart{}, errors.New("cart repository: owner key is required")
	}

	doc, err := r.base.Get(ctx, key)
	if err != nil {
		return domain.Cart{}, err
	}
	return cartFromDocument(doc), nil
}

// Save upserts the cart. When the cart carries a non-zero UpdatedAt the
// write is guarded by a last-update precondition, so concurrent writers
// surface a conflict instead of silently overwriting each other.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	key := strings.TrimSpace(cart.ID)
	if key == "" {
		key = domain.CartOwner{UserID: cart.UserID, SessionID: cart.SessionID}.Key()
	}
	if key == "" {
		return domain.Cart{}, errors.New("cart repository: cart owner key is required")
	}

	doc := cartToDocument(cart)

	if cart.UpdatedAt.IsZero() {
		result, err := r.base.Set(ctx, key, doc)
		if err != nil {
			return domain.Cart{}, err
		}
		saved := cart
		saved.ID = key
		saved.UpdatedAt = result.UpdateTime
		return saved, nil
	}

	updates := []firestore.Update{
		{Path: "userId", Value: doc.UserID},
		{Path: "sessionId", Value: doc.SessionID},
		{Path: "currency", Value: doc.Currency},
		{Path: "items", Value: doc.Items},
		{Path: "totals", Value: doc.Totals},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	}
	if len(doc.Metadata) == 0 {
		updates = append(updates, firestore.Update{Path: "metadata", Value: firestore.Delete})
	} else {
		updates = append(updates, firestore.Update{Path: "metadata", Value: doc.Metadata})
	}

	result, err := r.base.Update(ctx, key, updates, firestore.LastUpdateTime(cart.UpdatedAt.UTC()))
	if err != nil {
		return domain.Cart{}, err
	}

	saved := cart
	saved.ID = key
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// Reset empties the cart lines and zeroes the totals, keeping the
// document in place for the next purchase.
func (r *CartRepository) Reset(ctx context.Context, ownerKey string, now time.Time) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	key := strings.TrimSpace(ownerKey)
	if key == "" {
		return domain.Cart{}, errors.New("cart repository: owner key is required")
	}

	updates := []firestore.Update{
		{Path: "items", Value: []cartItemDocument{}},
		{Path: "totals", Value: totalsDocument{}},
		{Path: "updatedAt", Value: now.UTC()},
	}
	if _, err := r.base.Update(ctx, key, updates); err != nil {
		return domain.Cart{}, err
	}
	return r.Get(ctx, key)
}

// Delete removes the cart document entirely.
func (r *CartRepository) Delete(ctx context.Context, ownerKey string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	key := strings.TrimSpace(ownerKey)
	if key == "" {
		return errors.New("cart repository: owner key is required")
	}
	return r.base.Delete(ctx, key)
}

func cartToDocument(cart domain.Cart) cartDocument {
	items := make([]cartItemDocument, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			Slug:      item.Slug,
			Image:     item.Image,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	return cartDocument{
		UserID:    strings.TrimSpace(cart.UserID),
		SessionID: strings.TrimSpace(cart.SessionID),
		Currency:  strings.ToLower(strings.TrimSpace(cart.Currency)),
		Items:     items,
		Totals: totalsDocument{
			ItemsPrice:    cart.Totals.ItemsPrice,
			ShippingPrice: cart.Totals.ShippingPrice,
			TaxPrice:      cart.Totals.TaxPrice,
			TotalPrice:    cart.Totals.TotalPrice,
		},
		Metadata:  cloneStringMap(cart.Metadata),
		UpdatedAt: cart.UpdatedAt.UTC(),
	}
}

func cartFromDocument(doc pfirestore.Document[cartDocument]) domain.Cart {
	items := make([]domain.CartItem, 0, len(doc.Data.Items))
	for _, item := range doc.Data.Items {
		items = append(items, domain.CartItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Slug:      item.Slug,
			Image:     item.Image,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	updatedAt := doc.UpdateTime
	if updatedAt.IsZero() {
		updatedAt = doc.Data.UpdatedAt
	}
	return domain.Cart{
		ID:        doc.ID,
		UserID:    doc.Data.UserID,
		SessionID: doc.Data.SessionID,
		Currency:  doc.Data.Currency,
		Items:     items,
		Totals: domain.Totals{
			ItemsPrice:    doc.Data.Totals.ItemsPrice,
			ShippingPrice: doc.Data.Totals.ShippingPrice,
			TaxPrice:      doc.Data.Totals.TaxPrice,
			TotalPrice:    doc.Data.Totals.TotalPrice,
		},
		Metadata:  cloneStringMap(doc.Data.Metadata),
		UpdatedAt: updatedAt,
	}
}

func cloneStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

var _ repositories.CartRepository = (*CartRepository)(nil)
