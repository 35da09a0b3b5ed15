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

	"github.com/clovermart/api/internal/services"
)

func TestWebhookHandlersPaymentNotification(t *testing.T) {
	payments := &stubPaymentService{
		verifyFunc: func(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Order, error) {
			if cmd.OrderID != "order-1" || cmd.Reference != "cs_test_123" {
				t.Fatalf("unexpected command %#v", cmd)
			}
			if !cmd.Admin {
				t.Fatalf("webhook verification must bypass the ownership check")
			}
			order := sampleOrder()
			order.IsPaid = true
			paidAt := time.Date(2026, 4, 2, 15, 30, 0, 0, time.UTC)
			order.PaidAt = &paidAt
			return order, nil
		},
	}

	handler := NewWebhookHandlers(payments)
	router := chi.NewRouter()
	router.Route("/webhooks", handler.Routes)

	body := `{"order_id":"order-1","reference":"cs_test_123","event":"checkout.session.completed"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp paymentNotificationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.OrderID != "order-1" || !resp.IsPaid || resp.Status != "paid" {
		t.Fatalf("unexpected response %#v", resp)
	}
}

func TestWebhookHandlersPaymentNotificationMissingFields(t *testing.T) {
	handler := NewWebhookHandlers(&stubPaymentService{})
	router := chi.NewRouter()
	router.Route("/webhooks", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(`{"order_id":"order-1"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestWebhookHandlersPaymentNotificationEmptyBody(t *testing.T) {
	handler := NewWebhookHandlers(&stubPaymentService{})
	router := chi.NewRouter()
	router.Route("/webhooks", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestWebhookHandlersPaymentNotificationVerificationFails(t *testing.T) {
	payments := &stubPaymentService{
		verifyFunc: func(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Order, error) {
			return services.Order{}, services.ErrPaymentFailed
		},
	}
	handler := NewWebhookHandlers(payments)
	router := chi.NewRouter()
	router.Route("/webhooks", handler.Routes)

	body := `{"order_id":"order-1","reference":"cs_bad"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected status 402, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"reference":"cs_bad"`) {
		t.Fatalf("expected reference in error payload, got %s", rr.Body.String())
	}
}
