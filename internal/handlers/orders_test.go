package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/platform/auth"
	"github.com/clovermart/api/internal/platform/pagination"
	"github.com/clovermart/api/internal/services"
)

func sampleOrder() services.Order {
	created := time.Date(2026, 4, 2, 15, 0, 0, 0, time.UTC)
	return services.Order{
		ID:     "order-1",
		Number: "CM-2026-000042",
		UserID: "user-1",
		Items: []services.OrderItem{
			{ProductID: "prod-1", Name: "Walnut Desk Organizer", UnitPrice: 1200, Quantity: 2},
		},
		ShippingAddress: services.Address{
			FullName:   "Aiko Tanaka",
			Line1:      "1-2-3 Chuo",
			City:       "Sapporo",
			Region:     "Hokkaido",
			PostalCode: "060-0001",
			Country:    "JP",
		},
		PaymentMethod: "stripe",
		Currency:      "USD",
		Totals:        services.Totals{ItemsPrice: 2400, ShippingPrice: 500, TaxPrice: 240, TotalPrice: 3140},
		CreatedAt:     created,
	}
}

func TestOrderHandlersPlaceOrderEmptyBody(t *testing.T) {
	service := &stubOrderService{
		placeFunc: func(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
			if cmd.Owner.UserID != "user-1" {
				t.Fatalf("unexpected owner %#v", cmd.Owner)
			}
			if cmd.Address != nil || cmd.PaymentMethod != "" {
				t.Fatalf("expected stored defaults to apply, got %#v", cmd)
			}
			return sampleOrder(), nil
		},
	}

	handler := NewOrderHandlers(nil, service, &stubPaymentService{})
	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	handler.placeOrder(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Order.Number != "CM-2026-000042" {
		t.Fatalf("expected order number CM-2026-000042, got %q", resp.Order.Number)
	}
	if resp.Order.Status != string(domain.OrderStatusCreated) {
		t.Fatalf("expected created status, got %q", resp.Order.Status)
	}
	if resp.Order.Totals.TotalPrice != 3140 {
		t.Fatalf("expected total 3140, got %d", resp.Order.Totals.TotalPrice)
	}
}

func TestOrderHandlersPlaceOrderWithBody(t *testing.T) {
	service := &stubOrderService{
		placeFunc: func(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
			if cmd.Address == nil || cmd.Address.Region != "Hokkaido" {
				t.Fatalf("expected inline address, got %#v", cmd.Address)
			}
			if cmd.Address.Country != "JP" {
				t.Fatalf("expected country upper-cased, got %q", cmd.Address.Country)
			}
			if cmd.PaymentMethod != "stripe" {
				t.Fatalf("expected payment method stripe, got %q", cmd.PaymentMethod)
			}
			return sampleOrder(), nil
		},
	}

	body := `{"shipping_address":{"full_name":"Aiko Tanaka","line1":"1-2-3 Chuo","city":"Sapporo","region":"Hokkaido","postal_code":"060-0001","country":"jp"},"payment_method":"stripe"}`
	handler := NewOrderHandlers(nil, service, &stubPaymentService{})
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	handler.placeOrder(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestOrderHandlersPlaceOrderEmptyCart(t *testing.T) {
	service := &stubOrderService{
		placeFunc: func(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderEmptyCart
		},
	}
	handler := NewOrderHandlers(nil, service, &stubPaymentService{})
	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	handler.placeOrder(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "cart_empty") {
		t.Fatalf("expected cart_empty code, got %s", rr.Body.String())
	}
}

func TestOrderHandlersPlaceOrderUnauthenticated(t *testing.T) {
	handler := NewOrderHandlers(nil, &stubOrderService{}, &stubPaymentService{})
	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	rr := httptest.NewRecorder()
	handler.placeOrder(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrdersPassesPagination(t *testing.T) {
	token, err := pagination.EncodeToken(pagination.Cursor{
		CreatedAt: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
		ID:        "order-0",
	})
	if err != nil {
		t.Fatalf("failed to build page token: %v", err)
	}

	service := &stubOrderService{
		listFunc: func(ctx context.Context, cmd services.ListOrdersCommand) (domain.CursorPage[services.Order], error) {
			if cmd.UserID != "user-1" {
				t.Fatalf("unexpected user %q", cmd.UserID)
			}
			if cmd.Pager.PageSize != 10 || cmd.Pager.PageToken != token {
				t.Fatalf("unexpected pager %#v", cmd.Pager)
			}
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder()},
				NextPageToken: "tok-2",
			}, nil
		},
	}

	handler := NewOrderHandlers(nil, service, &stubPaymentService{})
	req := httptest.NewRequest(http.MethodGet, "/orders?pageSize=10&pageToken="+token, nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	handler.listOrders(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Orders) != 1 || resp.NextPageToken != "tok-2" {
		t.Fatalf("unexpected page %#v", resp)
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	service := &stubOrderService{
		getFunc: func(ctx context.Context, cmd services.GetOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}
	handler := NewOrderHandlers(nil, service, &stubPaymentService{})
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/orders/order-9", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderAdminFlag(t *testing.T) {
	service := &stubOrderService{
		getFunc: func(ctx context.Context, cmd services.GetOrderCommand) (services.Order, error) {
			if !cmd.Admin {
				t.Fatalf("expected admin flag for admin identity")
			}
			if cmd.OrderID != "order-1" {
				t.Fatalf("unexpected order id %q", cmd.OrderID)
			}
			return sampleOrder(), nil
		},
	}
	handler := NewOrderHandlers(nil, service, &stubPaymentService{})
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/orders/order-1", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestOrderHandlersInitializePayment(t *testing.T) {
	expires := time.Date(2026, 4, 2, 16, 0, 0, 0, time.UTC)
	payments := &stubPaymentService{
		initializeFunc: func(ctx context.Context, cmd services.InitializePaymentCommand) (services.PaymentIntent, error) {
			if cmd.OrderID != "order-1" || cmd.UserID != "user-1" {
				t.Fatalf("unexpected command %#v", cmd)
			}
			return services.PaymentIntent{
				OrderID:     "order-1",
				Provider:    "stripe",
				Reference:   "cs_test_123",
				RedirectURL: "https://checkout.example.com/cs_test_123",
				ExpiresAt:   expires,
			}, nil
		},
	}

	handler := NewOrderHandlers(nil, &stubOrderService{}, payments)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/orders/order-1/payments", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp paymentIntentPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Reference != "cs_test_123" || resp.RedirectURL == "" {
		t.Fatalf("unexpected intent payload %#v", resp)
	}
}

func TestOrderHandlersInitializePaymentAlreadyPaid(t *testing.T) {
	payments := &stubPaymentService{
		initializeFunc: func(ctx context.Context, cmd services.InitializePaymentCommand) (services.PaymentIntent, error) {
			return services.PaymentIntent{}, services.ErrPaymentAlreadyPaid
		},
	}
	handler := NewOrderHandlers(nil, &stubOrderService{}, payments)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/orders/order-1/payments", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "order_already_paid") {
		t.Fatalf("expected order_already_paid code, got %s", rr.Body.String())
	}
}

func TestOrderHandlersVerifyPayment(t *testing.T) {
	payments := &stubPaymentService{
		verifyFunc: func(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Order, error) {
			if cmd.OrderID != "order-1" || cmd.Reference != "cs_test_123" {
				t.Fatalf("unexpected command %#v", cmd)
			}
			if cmd.Admin {
				t.Fatalf("buyer verification must not carry the admin flag")
			}
			order := sampleOrder()
			order.IsPaid = true
			paidAt := time.Date(2026, 4, 2, 15, 30, 0, 0, time.UTC)
			order.PaidAt = &paidAt
			return order, nil
		},
	}

	handler := NewOrderHandlers(nil, &stubOrderService{}, payments)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/orders/order-1/payments/verify?reference=cs_test_123", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Order.IsPaid || resp.Order.PaidAt == "" {
		t.Fatalf("expected paid order, got %#v", resp.Order)
	}
	if resp.Order.Status != string(domain.OrderStatusPaid) {
		t.Fatalf("expected paid status, got %q", resp.Order.Status)
	}
}

func TestOrderHandlersVerifyPaymentFailed(t *testing.T) {
	payments := &stubPaymentService{
		verifyFunc: func(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Order, error) {
			return services.Order{}, services.ErrPaymentFailed
		},
	}
	handler := NewOrderHandlers(nil, &stubOrderService{}, payments)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/orders/order-1/payments/verify?reference=bad", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected status 402, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload["error"] != "payment_failed" {
		t.Fatalf("expected payment_failed code, got %v", payload["error"])
	}
	if payload["reference"] != "bad" {
		t.Fatalf("expected reference in error payload, got %v", payload)
	}
}

func TestOrderHandlersVerifyPaymentGatewayUnreachable(t *testing.T) {
	payments := &stubPaymentService{
		verifyFunc: func(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Order, error) {
			return services.Order{}, services.ErrPaymentVerification
		},
	}
	handler := NewOrderHandlers(nil, &stubOrderService{}, payments)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/orders/order-1/payments/verify?reference=cs_test_123", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload["error"] != "payment_verification_error" {
		t.Fatalf("expected payment_verification_error code, got %v", payload["error"])
	}
	if payload["reference"] != "cs_test_123" {
		t.Fatalf("expected reference in error payload, got %v", payload)
	}
}

type stubOrderService struct {
	placeFunc         func(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error)
	getFunc           func(ctx context.Context, cmd services.GetOrderCommand) (services.Order, error)
	listFunc          func(ctx context.Context, cmd services.ListOrdersCommand) (domain.CursorPage[services.Order], error)
	markDeliveredFunc func(ctx context.Context, orderID string) (services.Order, error)
}

func (s *stubOrderService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
	if s.placeFunc != nil {
		return s.placeFunc(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, cmd services.GetOrderCommand) (services.Order, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) ListOrders(ctx context.Context, cmd services.ListOrdersCommand) (domain.CursorPage[services.Order], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, cmd)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) MarkDelivered(ctx context.Context, orderID string) (services.Order, error) {
	if s.markDeliveredFunc != nil {
		return s.markDeliveredFunc(ctx, orderID)
	}
	return services.Order{}, nil
}

type stubPaymentService struct {
	initializeFunc func(ctx context.Context, cmd services.InitializePaymentCommand) (services.PaymentIntent, error)
	verifyFunc     func(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Order, error)
	markPaidFunc   func(ctx context.Context, orderID string) (services.Order, error)
}

func (s *stubPaymentService) InitializePayment(ctx context.Context, cmd services.InitializePaymentCommand) (services.PaymentIntent, error) {
	if s.initializeFunc != nil {
		return s.initializeFunc(ctx, cmd)
	}
	return services.PaymentIntent{}, nil
}

func (s *stubPaymentService) VerifyAndApply(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Order, error) {
	if s.verifyFunc != nil {
		return s.verifyFunc(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubPaymentService) MarkPaidManually(ctx context.Context, orderID string) (services.Order, error) {
	if s.markPaidFunc != nil {
		return s.markPaidFunc(ctx, orderID)
	}
	return services.Order{}, nil
}
