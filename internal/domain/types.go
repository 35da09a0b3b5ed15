package domain

import (
	"strings"
	"time"
)

// CartOwner identifies the party a cart belongs to. Either side may be
// empty, but not both: anonymous visitors carry only a session id, and a
// signed-in user carries a user id. When both are present the user id
// wins, so a cart started anonymously follows the account after login.
type CartOwner struct {
	UserID    string
	SessionID string
}

// Key resolves the storage key for the owner. The user id takes
// precedence over the session id.
func (o CartOwner) Key() string {
	if uid := strings.TrimSpace(o.UserID); uid != "" {
		return uid
	}
	if sid := strings.TrimSpace(o.SessionID); sid != "" {
		return "sess-" + sid
	}
	return ""
}

// Authenticated reports whether the owner is a signed-in user.
func (o CartOwner) Authenticated() bool {
	return strings.TrimSpace(o.UserID) != ""
}

// IsZero reports whether neither identity half is present.
func (o CartOwner) IsZero() bool {
	return o.Key() == ""
}

// CartItem is a denormalised cart line. Name, slug, image, and unit
// price are copied from the catalog at add time so the cart renders
// without extra reads.
type CartItem struct {
	ProductID string
	Name      string
	Slug      string
	Image     string
	UnitPrice int64
	Quantity  int
}

// LineTotal returns unit price times quantity in minor units.
func (i CartItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Totals carries the four price components shared by carts and orders.
// All amounts are minor units of the owning document's currency.
type Totals struct {
	ItemsPrice    int64
	ShippingPrice int64
	TaxPrice      int64
	TotalPrice    int64
}

// Consistent reports whether the grand total equals the sum of its
// parts. Stored totals must always satisfy this.
func (t Totals) Consistent() bool {
	return t.ItemsPrice+t.ShippingPrice+t.TaxPrice == t.TotalPrice
}

// Cart is the mutable pre-order document. It survives order placement
// (reset to empty) and is deleted only when an anonymous session ends.
type Cart struct {
	ID        string
	UserID    string
	SessionID string
	Currency  string
	Items     []CartItem
	Totals    Totals
	Metadata  map[string]string
	UpdatedAt time.Time
}

// IsEmpty reports whether the cart holds no lines.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// ItemCount returns the summed quantity across lines.
func (c Cart) ItemCount() int {
	total := 0
	for _, item := range c.Items {
		total += item.Quantity
	}
	return total
}

// Address is a shipping destination. Region drives the shipping-rate
// lookup.
type Address struct {
	FullName   string
	Line1      string
	Line2      string
	City       string
	Region     string
	PostalCode string
	Country    string
}

// IsZero reports whether the address carries no routable fields.
func (a Address) IsZero() bool {
	return strings.TrimSpace(a.Line1) == "" &&
		strings.TrimSpace(a.City) == "" &&
		strings.TrimSpace(a.Country) == ""
}

// DefaultShippingRegion is the fallback rate row used when a
// destination region has no dedicated shipping rate.
const DefaultShippingRegion = "Default"

// ShippingRate is one row of the region rate table. TaxRateBps is the
// tax rate in basis points applied to the items subtotal.
type ShippingRate struct {
	Region        string
	ShippingPrice int64
	TaxRateBps    int64
	UpdatedAt     time.Time
}

// Product is the slice of the catalog this service needs: identity,
// display fields, price, and the on-hand stock that payment
// reconciliation decrements.
type Product struct {
	ID        string
	Name      string
	Slug      string
	Image     string
	Price     int64
	Currency  string
	Stock     int64
	UpdatedAt time.Time
}

// UserProfile stores checkout defaults alongside identity basics.
type UserProfile struct {
	ID                   string
	Name                 string
	Email                string
	DefaultAddress       *Address
	DefaultPaymentMethod string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// OrderItem is a frozen copy of a cart line. Orders never re-read the
// catalog, so later price or naming changes leave placed orders intact.
type OrderItem struct {
	ProductID string
	Name      string
	Slug      string
	Image     string
	UnitPrice int64
	Quantity  int
}

// LineTotal returns unit price times quantity in minor units.
func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// PaymentStatus is the provider-neutral verification outcome.
type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PaymentResult is the gateway outcome stored verbatim on a paid order.
// Raw keeps the provider payload for audit and dispute handling.
type PaymentResult struct {
	Provider   string
	Reference  string
	Status     PaymentStatus
	Email      string
	AmountPaid int64
	Raw        map[string]any
	VerifiedAt time.Time
}

// OrderStatus is the derived position in the linear fulfilment flow.
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusDelivered OrderStatus = "delivered"
)

// Order is the immutable purchase snapshot. The paid and delivered
// flags move forward only; PaidAt and DeliveredAt are write-once.
type Order struct {
	ID              string
	Number          string
	UserID          string
	Currency        string
	Items           []OrderItem
	ShippingAddress Address
	PaymentMethod   string
	Totals          Totals
	IsPaid          bool
	PaidAt          *time.Time
	IsDelivered     bool
	DeliveredAt     *time.Time
	PaymentResult   *PaymentResult
	CartKey         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Status derives the fulfilment position from the progress flags.
func (o Order) Status() OrderStatus {
	switch {
	case o.IsDelivered:
		return OrderStatusDelivered
	case o.IsPaid:
		return OrderStatusPaid
	default:
		return OrderStatusCreated
	}
}

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results with an opaque continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// ComponentHealth reports one downstream dependency's probe outcome.
type ComponentHealth struct {
	Name   string
	Status string
	Detail string
}

// HealthReport aggregates dependency probes for readiness checks.
type HealthReport struct {
	Components []ComponentHealth
	CheckedAt  time.Time
}

// Healthy reports whether every component probe passed.
func (r HealthReport) Healthy() bool {
	for _, c := range r.Components {
		if c.Status != "ok" {
			return false
		}
	}
	return true
}
