package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/platform/auth"
	"github.com/clovermart/api/internal/platform/httpx"
	"github.com/clovermart/api/internal/platform/pagination"
	"github.com/clovermart/api/internal/services"
)

const maxOrderBodySize = 32 * 1024

// OrderHandlers exposes order placement, history and payment endpoints
// for signed-in buyers.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	payments services.PaymentService
}

// NewOrderHandlers constructs handlers enforcing bearer authentication before invoking order flows.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, payments services.PaymentService) *OrderHandlers {
	return &OrderHandlers{
		authn:    authn,
		orders:   orders,
		payments: payments,
	}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireUser())
	}
	r.Post("/", h.placeOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/payments", h.initializePayment)
	r.Get("/{orderID}/payments/verify", h.verifyPayment)
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	cmd := services.PlaceOrderCommand{
		Owner: domain.CartOwner{UserID: identity.UID, SessionID: identity.SessionID},
	}

	// An empty body is allowed; stored checkout defaults fill the gaps.
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		var req placeOrderRequest
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
		if req.ShippingAddress != nil {
			addr := req.ShippingAddress.toAddress()
			cmd.Address = &addr
		}
		cmd.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	}

	order, err := h.orders.PlaceOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.ListOrdersCommand{
		UserID: identity.UID,
		Pager: domain.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := orderListResponse{
		Orders:        make([]orderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		payload.Orders = append(payload.Orders, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		UserID:  identity.UID,
		Admin:   identity.HasRole(auth.RoleAdmin),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) initializePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}

	intent, err := h.payments.InitializePayment(ctx, services.InitializePaymentCommand{
		OrderID: chi.URLParam(r, "orderID"),
		UserID:  identity.UID,
		Admin:   identity.HasRole(auth.RoleAdmin),
	})
	if err != nil {
		writePaymentError(ctx, w, err, "")
		return
	}

	payload := paymentIntentPayload{
		OrderID:     intent.OrderID,
		Provider:    intent.Provider,
		Reference:   intent.Reference,
		RedirectURL: intent.RedirectURL,
	}
	if !intent.ExpiresAt.IsZero() {
		payload.ExpiresAt = formatTime(intent.ExpiresAt)
	}
	writeJSONResponse(w, http.StatusCreated, payload)
}

func (h *OrderHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}

	reference := r.URL.Query().Get("reference")
	order, err := h.payments.VerifyAndApply(ctx, services.VerifyPaymentCommand{
		OrderID:   chi.URLParam(r, "orderID"),
		Reference: reference,
		UserID:    identity.UID,
		Admin:     identity.HasRole(auth.RoleAdmin),
	})
	if err != nil {
		writePaymentError(ctx, w, err, reference)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderUnauthenticated):
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
	case errors.Is(err, services.ErrOrderEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderMissingAddress):
		httpx.WriteError(ctx, w, httpx.NewError("missing_shipping_address", "a shipping address is required", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderMissingPayment):
		httpx.WriteError(ctx, w, httpx.NewError("missing_payment_method", "a payment method is required", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotPaid):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_paid", "order has not been paid", http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order changed concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "order operation failed", http.StatusInternalServerError))
	}
}

// writePaymentError maps service errors onto the wire. A declined payment
// and an unreachable gateway are distinct outcomes; both echo the gateway
// reference so the buyer can quote it to support.
func writePaymentError(ctx context.Context, w http.ResponseWriter, err error, reference string) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentAlreadyPaid):
		httpx.WriteError(ctx, w, httpx.NewError("order_already_paid", "order has already been paid", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "ordered quantity is no longer in stock", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment was not successful", http.StatusPaymentRequired).
			WithDetails(paymentReferenceDetails(reference)))
	case errors.Is(err, services.ErrPaymentVerification):
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_error", "payment could not be verified with the provider", http.StatusBadGateway).
			WithDetails(paymentReferenceDetails(reference)))
	case errors.Is(err, services.ErrPaymentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "payment operation failed", http.StatusInternalServerError))
	}
}

func paymentReferenceDetails(reference string) map[string]any {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil
	}
	return map[string]any{"reference": reference}
}

type placeOrderRequest struct {
	ShippingAddress *addressPayload `json:"shipping_address"`
	PaymentMethod   string          `json:"payment_method"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type paymentIntentPayload struct {
	OrderID     string `json:"order_id"`
	Provider    string `json:"provider"`
	Reference   string `json:"reference"`
	RedirectURL string `json:"redirect_url,omitempty"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

type orderPayload struct {
	ID              string                `json:"id"`
	Number          string                `json:"number"`
	UserID          string                `json:"user_id"`
	Status          string                `json:"status"`
	Currency        string                `json:"currency"`
	Items           []orderItemPayload    `json:"items"`
	ShippingAddress addressPayload        `json:"shipping_address"`
	PaymentMethod   string                `json:"payment_method"`
	Totals          totalsPayload         `json:"totals"`
	IsPaid          bool                  `json:"is_paid"`
	PaidAt          string                `json:"paid_at,omitempty"`
	IsDelivered     bool                  `json:"is_delivered"`
	DeliveredAt     string                `json:"delivered_at,omitempty"`
	PaymentResult   *paymentResultPayload `json:"payment_result,omitempty"`
	CreatedAt       string                `json:"created_at"`
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Slug      string `json:"slug,omitempty"`
	Image     string `json:"image,omitempty"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	LineTotal int64  `json:"line_total"`
}

type paymentResultPayload struct {
	Provider   string `json:"provider"`
	Reference  string `json:"reference"`
	Status     string `json:"status"`
	AmountPaid int64  `json:"amount_paid"`
	VerifiedAt string `json:"verified_at,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		Number:          order.Number,
		UserID:          order.UserID,
		Status:          string(order.Status()),
		Currency:        strings.ToLower(strings.TrimSpace(order.Currency)),
		Items:           buildOrderItems(order.Items),
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		PaymentMethod:   order.PaymentMethod,
		Totals:          buildTotalsPayload(order.Totals),
		IsPaid:          order.IsPaid,
		PaidAt:          formatTimePtr(order.PaidAt),
		IsDelivered:     order.IsDelivered,
		DeliveredAt:     formatTimePtr(order.DeliveredAt),
		CreatedAt:       formatTime(order.CreatedAt),
	}
	if order.PaymentResult != nil {
		payload.PaymentResult = &paymentResultPayload{
			Provider:   order.PaymentResult.Provider,
			Reference:  order.PaymentResult.Reference,
			Status:     string(order.PaymentResult.Status),
			AmountPaid: order.PaymentResult.AmountPaid,
			VerifiedAt: formatTime(order.PaymentResult.VerifiedAt),
		}
	}
	return payload
}

func buildOrderItems(items []services.OrderItem) []orderItemPayload {
	payload := make([]orderItemPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Slug:      item.Slug,
			Image:     item.Image,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal(),
		})
	}
	return payload
}
