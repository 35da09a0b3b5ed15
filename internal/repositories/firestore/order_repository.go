package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/clovermart/api/internal/domain"
	pfirestore "github.com/clovermart/api/internal/platform/firestore"
	"github.com/clovermart/api/internal/platform/pagination"
	"github.com/clovermart/api/internal/repositories"
)

const (
	ordersCollection   = "orders"
	productsCollection = "products"
)

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Slug      string `firestore:"slug,omitempty"`
	Image     string `firestore:"image,omitempty"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"qty"`
}

type addressDocument struct {
	FullName   string `firestore:"fullName,omitempty"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	Region     string `firestore:"region,omitempty"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country"`
}

type paymentResultDocument struct {
	Provider   string         `firestore:"provider"`
	Reference  string         `firestore:"reference"`
	Status     string         `firestore:"status"`
	Email      string         `firestore:"email,omitempty"`
	AmountPaid int64          `firestore:"amountPaid"`
	Raw        map[string]any `firestore:"raw,omitempty"`
	VerifiedAt time.Time      `firestore:"verifiedAt"`
}

type orderDocument struct {
	Number          string                 `firestore:"number"`
	UserID          string                 `firestore:"userId"`
	Currency        string                 `firestore:"currency"`
	Items           []orderItemDocument    `firestore:"items"`
	ShippingAddress addressDocument        `firestore:"shippingAddress"`
	PaymentMethod   string                 `firestore:"paymentMethod"`
	Totals          totalsDocument         `firestore:"totals"`
	IsPaid          bool                   `firestore:"isPaid"`
	PaidAt          *time.Time             `firestore:"paidAt,omitempty"`
	IsDelivered     bool                   `firestore:"isDelivered"`
	DeliveredAt     *time.Time             `firestore:"deliveredAt,omitempty"`
	PaymentResult   *paymentResultDocument `firestore:"paymentResult,omitempty"`
	CartKey         string                 `firestore:"cartKey,omitempty"`
	CreatedAt       time.Time              `firestore:"createdAt"`
	UpdatedAt       time.Time              `firestore:"updatedAt"`
}

// OrderRepository persists order snapshots and runs the transactional
// payment and fulfilment transitions.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	carts    *pfirestore.BaseRepository[cartDocument]
	products *pfirestore.BaseRepository[productDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil),
		carts:    pfirestore.NewBaseRepository[cartDocument](provider, cartsCollection, nil),
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil),
	}, nil
}

// CreateFromCart writes the order snapshot and resets the source cart in
// a single transaction. The cart is re-read inside the transaction so a
// concurrent emptying aborts the create instead of producing an order
// nobody asked for.
func (r *OrderRepository) CreateFromCart(ctx context.Context, req repositories.OrderCreateRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.Order.ID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	cartKey := strings.TrimSpace(req.CartKey)
	if cartKey == "" {
		return domain.Order{}, errors.New("order repository: cart key is required")
	}

	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	order := req.Order
	order.ID = orderID
	order.CartKey = cartKey
	order.CreatedAt = now
	order.UpdatedAt = now

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		cartRef, err := r.carts.DocumentRef(ctx, cartKey)
		if err != nil {
			return err
		}
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}

		cartSnap, err := tx.Get(cartRef)
		if status.Code(err) == codes.NotFound {
			return repositories.NewOrderError(repositories.OrderErrorCartChanged, "cart no longer exists", err)
		}
		if err != nil {
			return err
		}
		var cart cartDocument
		if err := cartSnap.DataTo(&cart); err != nil {
			return fmt.Errorf("firestore carts decode %s: %w", cartKey, err)
		}
		if len(cart.Items) == 0 {
			return repositories.NewOrderError(repositories.OrderErrorCartChanged, "cart was emptied concurrently", nil)
		}

		if err := tx.Create(orderRef, orderToDocument(order)); err != nil {
			return err
		}
		return tx.Update(cartRef, []firestore.Update{
			{Path: "items", Value: []cartItemDocument{}},
			{Path: "totals", Value: totalsDocument{}},
			{Path: "updatedAt", Value: now},
		})
	})
	if err != nil {
		return domain.Order{}, passOrderError("orders.create", err)
	}
	return order, nil
}

// FindByID loads a single order snapshot.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return orderFromDocument(doc), nil
}

// ListByUser pages through a user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.orders == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: user id is required")
	}

	pageSize := pagination.Clamp(pager.PageSize)

	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", uid).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc).
			Limit(pageSize + 1)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i >= pageSize {
			break
		}
		page.Items = append(page.Items, orderFromDocument(doc))
	}

	if len(docs) > pageSize {
		last := docs[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{
			CreatedAt: last.Data.CreatedAt.UTC(),
			ID:        last.ID,
		})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// MarkPaid applies a verified payment in one transaction. All reads run
// before any write: the order is re-read and asserted unpaid, then every
// product on the snapshot is loaded and its remaining stock checked.
// Only then do the stock decrements, the paid flags, and the cart reset
// get written. A payment observed twice therefore decrements stock
// exactly once.
func (r *OrderRepository) MarkPaid(ctx context.Context, req repositories.OrderMarkPaidRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var updated domain.Order

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}

		orderSnap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var order orderDocument
		if err := orderSnap.DataTo(&order); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", orderID, err)
		}
		if order.IsPaid {
			return repositories.NewOrderError(repositories.OrderErrorAlreadyPaid, fmt.Sprintf("order %s is already paid", orderID), nil)
		}

		type stockWrite struct {
			ref      *firestore.DocumentRef
			newStock int64
		}
		writes := make([]stockWrite, 0, len(order.Items))
		for _, item := range order.Items {
			productRef, err := r.products.DocumentRef(ctx, item.ProductID)
			if err != nil {
				return err
			}
			productSnap, err := tx.Get(productRef)
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorProductMissing, fmt.Sprintf("product %s no longer exists", item.ProductID), err)
			}
			if err != nil {
				return err
			}
			var product productDocument
			if err := productSnap.DataTo(&product); err != nil {
				return fmt.Errorf("firestore products decode %s: %w", item.ProductID, err)
			}
			remaining := product.Stock - int64(item.Quantity)
			if remaining < 0 {
				return repositories.NewOrderError(repositories.OrderErrorInsufficientStock,
					fmt.Sprintf("product %s has %d left, order needs %d", item.ProductID, product.Stock, item.Quantity), nil)
			}
			writes = append(writes, stockWrite{ref: productRef, newStock: remaining})
		}

		var cartRef *firestore.DocumentRef
		if cartKey := strings.TrimSpace(order.CartKey); cartKey != "" {
			ref, err := r.carts.DocumentRef(ctx, cartKey)
			if err != nil {
				return err
			}
			if _, err := tx.Get(ref); err == nil {
				cartRef = ref
			} else if status.Code(err) != codes.NotFound {
				return err
			}
		}

		for _, w := range writes {
			if err := tx.Update(w.ref, []firestore.Update{
				{Path: "stock", Value: w.newStock},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}

		result := paymentResultToDocument(req.Result)
		if err := tx.Update(orderRef, []firestore.Update{
			{Path: "isPaid", Value: true},
			{Path: "paidAt", Value: now},
			{Path: "paymentResult", Value: result},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}

		if cartRef != nil {
			if err := tx.Update(cartRef, []firestore.Update{
				{Path: "items", Value: []cartItemDocument{}},
				{Path: "totals", Value: totalsDocument{}},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}

		order.IsPaid = true
		order.PaidAt = &now
		order.PaymentResult = result
		order.UpdatedAt = now
		updated = orderFromParts(orderID, order)
		return nil
	})
	if err != nil {
		return domain.Order{}, passOrderError("orders.markpaid", err)
	}
	return updated, nil
}

// MarkDelivered flips the delivered flag once. Delivery of an unpaid
// order fails, and a repeated call returns the order unchanged so the
// original DeliveredAt survives.
func (r *OrderRepository) MarkDelivered(ctx context.Context, orderID string, now time.Time) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	ts := now.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	var updated domain.Order

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var order orderDocument
		if err := snap.DataTo(&order); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", id, err)
		}
		if !order.IsPaid {
			return repositories.NewOrderError(repositories.OrderErrorNotPaid, fmt.Sprintf("order %s is not paid", id), nil)
		}
		if order.IsDelivered {
			updated = orderFromParts(id, order)
			return nil
		}

		if err := tx.Update(ref, []firestore.Update{
			{Path: "isDelivered", Value: true},
			{Path: "deliveredAt", Value: ts},
			{Path: "updatedAt", Value: ts},
		}); err != nil {
			return err
		}

		order.IsDelivered = true
		order.DeliveredAt = &ts
		order.UpdatedAt = ts
		updated = orderFromParts(id, order)
		return nil
	})
	if err != nil {
		return domain.Order{}, passOrderError("orders.markdelivered", err)
	}
	return updated, nil
}

// passOrderError keeps typed order errors intact and wraps everything
// else with Firestore classification.
func passOrderError(op string, err error) error {
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	return pfirestore.WrapError(op, err)
}

func orderToDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			Slug:      item.Slug,
			Image:     item.Image,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	return orderDocument{
		Number:   order.Number,
		UserID:   order.UserID,
		Currency: strings.ToLower(strings.TrimSpace(order.Currency)),
		Items:    items,
		ShippingAddress: addressDocument{
			FullName:   order.ShippingAddress.FullName,
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			Region:     order.ShippingAddress.Region,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
		},
		PaymentMethod: order.PaymentMethod,
		Totals: totalsDocument{
			ItemsPrice:    order.Totals.ItemsPrice,
			ShippingPrice: order.Totals.ShippingPrice,
			TaxPrice:      order.Totals.TaxPrice,
			TotalPrice:    order.Totals.TotalPrice,
		},
		IsPaid:        order.IsPaid,
		PaidAt:        order.PaidAt,
		IsDelivered:   order.IsDelivered,
		DeliveredAt:   order.DeliveredAt,
		PaymentResult: paymentResultToDocument(paymentResultValue(order.PaymentResult)),
		CartKey:       order.CartKey,
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
	}
}

func paymentResultValue(result *domain.PaymentResult) domain.PaymentResult {
	if result == nil {
		return domain.PaymentResult{}
	}
	return *result
}

func paymentResultToDocument(result domain.PaymentResult) *paymentResultDocument {
	if result.Reference == "" && result.Provider == "" {
		return nil
	}
	return &paymentResultDocument{
		Provider:   result.Provider,
		Reference:  result.Reference,
		Status:     string(result.Status),
		Email:      result.Email,
		AmountPaid: result.AmountPaid,
		Raw:        result.Raw,
		VerifiedAt: result.VerifiedAt.UTC(),
	}
}

func paymentResultFromDocument(doc *paymentResultDocument) *domain.PaymentResult {
	if doc == nil {
		return nil
	}
	return &domain.PaymentResult{
		Provider:   doc.Provider,
		Reference:  doc.Reference,
		Status:     domain.PaymentStatus(doc.Status),
		Email:      doc.Email,
		AmountPaid: doc.AmountPaid,
		Raw:        doc.Raw,
		VerifiedAt: doc.VerifiedAt,
	}
}

func orderFromDocument(doc pfirestore.Document[orderDocument]) domain.Order {
	return orderFromParts(doc.ID, doc.Data)
}

func orderFromParts(id string, doc orderDocument) domain.Order {
	items := make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Slug:      item.Slug,
			Image:     item.Image,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	return domain.Order{
		ID:       id,
		Number:   doc.Number,
		UserID:   doc.UserID,
		Currency: doc.Currency,
		Items:    items,
		ShippingAddress: domain.Address{
			FullName:   doc.ShippingAddress.FullName,
			Line1:      doc.ShippingAddress.Line1,
			Line2:      doc.ShippingAddress.Line2,
			City:       doc.ShippingAddress.City,
			Region:     doc.ShippingAddress.Region,
			PostalCode: doc.ShippingAddress.PostalCode,
			Country:    doc.ShippingAddress.Country,
		},
		PaymentMethod: doc.PaymentMethod,
		Totals: domain.Totals{
			ItemsPrice:    doc.Totals.ItemsPrice,
			ShippingPrice: doc.Totals.ShippingPrice,
			TaxPrice:      doc.Totals.TaxPrice,
			TotalPrice:    doc.Totals.TotalPrice,
		},
		IsPaid:        doc.IsPaid,
		PaidAt:        doc.PaidAt,
		IsDelivered:   doc.IsDelivered,
		DeliveredAt:   doc.DeliveredAt,
		PaymentResult: paymentResultFromDocument(doc.PaymentResult),
		CartKey:       doc.CartKey,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
