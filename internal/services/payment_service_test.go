package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/payments"
	"github.com/clovermart/api/internal/repositories"
)

type stubPaymentGateway struct {
	initFunc   func(ctx context.Context, method string, req payments.CheckoutRequest) (payments.CheckoutIntent, error)
	verifyFunc func(ctx context.Context, method, reference string) (payments.VerificationResult, error)
}

func (s *stubPaymentGateway) InitializeCheckout(ctx context.Context, method string, req payments.CheckoutRequest) (payments.CheckoutIntent, error) {
	if s.initFunc == nil {
		return payments.CheckoutIntent{Reference: "pi_test", Provider: method}, nil
	}
	return s.initFunc(ctx, method, req)
}

func (s *stubPaymentGateway) VerifyPayment(ctx context.Context, method, reference string) (payments.VerificationResult, error) {
	if s.verifyFunc == nil {
		return payments.VerificationResult{Reference: reference, Provider: method, Status: payments.StatusSucceeded, Amount: 3140}, nil
	}
	return s.verifyFunc(ctx, method, reference)
}

type recordingNotifier struct {
	notes chan ReceiptNotification
	err   error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{notes: make(chan ReceiptNotification, 1)}
}

func (n *recordingNotifier) PublishReceipt(ctx context.Context, note ReceiptNotification) error {
	n.notes <- note
	return n.err
}

func unpaidOrder() domain.Order {
	return domain.Order{
		ID:            "order-1",
		Number:        "CM-2026-000007",
		UserID:        "user-1",
		Currency:      "usd",
		PaymentMethod: "stripe",
		Items:         []domain.OrderItem{{ProductID: "prod-1", Name: "Walnut Board", UnitPrice: 1200, Quantity: 2}},
		Totals:        domain.Totals{ItemsPrice: 2400, ShippingPrice: 500, TaxPrice: 240, TotalPrice: 3140},
	}
}

func newTestPaymentService(t *testing.T, deps PaymentServiceDeps) PaymentService {
	t.Helper()
	if deps.Repository == nil {
		deps.Repository = &stubOrderRepository{}
	}
	if deps.Gateway == nil {
		deps.Gateway = &stubPaymentGateway{}
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC) }
	}
	service, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing payment service: %v", err)
	}
	return service
}

func TestPaymentServiceInitializeBuildsCheckout(t *testing.T) {
	var gotMethod string
	var gotReq payments.CheckoutRequest
	gateway := &stubPaymentGateway{
		initFunc: func(ctx context.Context, method string, req payments.CheckoutRequest) (payments.CheckoutIntent, error) {
			gotMethod = method
			gotReq = req
			return payments.CheckoutIntent{Reference: "pi_123", Provider: "stripe", RedirectURL: "https://pay.example/s"}, nil
		},
	}
	repo := &stubOrderRepository{
		findFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return unpaidOrder(), nil
		},
	}

	service := newTestPaymentService(t, PaymentServiceDeps{Repository: repo, Gateway: gateway, SuccessURL: "https://shop.example/done"})

	intent, err := service.InitializePayment(context.Background(), InitializePaymentCommand{OrderID: "order-1", UserID: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotMethod != "stripe" {
		t.Fatalf("expected stripe method, got %q", gotMethod)
	}
	if gotReq.Amount != 3140 || gotReq.OrderNumber != "CM-2026-000007" {
		t.Fatalf("unexpected checkout request %+v", gotReq)
	}
	if len(gotReq.Items) != 1 || gotReq.Items[0].SKU != "prod-1" {
		t.Fatalf("unexpected line items %+v", gotReq.Items)
	}
	if intent.Reference != "pi_123" || intent.RedirectURL == "" {
		t.Fatalf("unexpected intent %+v", intent)
	}
}

func TestPaymentServiceInitializeRejectsPaidOrder(t *testing.T) {
	repo := &stubOrderRepository{
		findFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			order := unpaidOrder()
			order.IsPaid = true
			return order, nil
		},
	}
	service := newTestPaymentService(t, PaymentServiceDeps{Repository: repo})

	_, err := service.InitializePayment(context.Background(), InitializePaymentCommand{OrderID: "order-1", UserID: "user-1"})
	if !errors.Is(err, ErrPaymentAlreadyPaid) {
		t.Fatalf("expected ErrPaymentAlreadyPaid, got %v", err)
	}
}

func TestPaymentServiceVerifySkipsGatewayWhenPaid(t *testing.T) {
	paidAt := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	repo := &stubOrderRepository{
		findFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			order := unpaidOrder()
			order.IsPaid = true
			order.PaidAt = &paidAt
			return order, nil
		},
	}
	gateway := &stubPaymentGateway{
		verifyFunc: func(ctx context.Context, method, reference string) (payments.VerificationResult, error) {
			t.Fatalf("gateway must not be called for a paid order")
			return payments.VerificationResult{}, nil
		},
	}
	service := newTestPaymentService(t, PaymentServiceDeps{Repository: repo, Gateway: gateway})

	order, err := service.VerifyAndApply(context.Background(), VerifyPaymentCommand{OrderID: "order-1", Reference: "pi_123", UserID: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !order.IsPaid || order.PaidAt == nil || !order.PaidAt.Equal(paidAt) {
		t.Fatalf("expected stored paid order, got %+v", order)
	}
}

func TestPaymentServiceVerifyAppliesSucceededPayment(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	var marked repositories.OrderMarkPaidRequest
	repo := &stubOrderRepository{
		findFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return unpaidOrder(), nil
		},
		markPaidFunc: func(ctx context.Context, req repositories.OrderMarkPaidRequest) (domain.Order, error) {
			marked = req
			order := unpaidOrder()
			order.IsPaid = true
			order.PaidAt = &req.Now
			order.PaymentResult = &req.Result
			return order, nil
		},
	}
	gateway := &stubPaymentGateway{
		verifyFunc: func(ctx context.Context, method, reference string) (payments.VerificationResult, error) {
			return payments.VerificationResult{
				Reference:  reference,
				Provider:   "stripe",
				Status:     payments.StatusSucceeded,
				Amount:     3140,
				PayerEmail: "aiko@example.com",
			}, nil
		},
	}
	notifier := newRecordingNotifier()

	service := newTestPaymentService(t, PaymentServiceDeps{
		Repository: repo,
		Gateway:    gateway,
		Notifier:   notifier,
		Clock:      func() time.Time { return now },
	})

	order, err := service.VerifyAndApply(context.Background(), VerifyPaymentCommand{OrderID: "order-1", Reference: "pi_123", UserID: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if marked.Result.Status != domain.PaymentStatusCompleted || marked.Result.Reference != "pi_123" {
		t.Fatalf("unexpected applied result %+v", marked.Result)
	}
	if marked.Result.AmountPaid != 3140 {
		t.Fatalf("unexpected amount %d", marked.Result.AmountPaid)
	}
	if !order.IsPaid {
		t.Fatalf("expected paid order")
	}

	select {
	case note := <-notifier.notes:
		if note.OrderID != "order-1" || note.Email != "aiko@example.com" {
			t.Fatalf("unexpected receipt %+v", note)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected receipt notification")
	}
}

func TestPaymentServiceVerifyFailedStatus(t *testing.T) {
	repo := &stubOrderRepository{
		findFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return unpaidOrder(), nil
		},
		markPaidFunc: func(ctx context.Context, req repositories.OrderMarkPaidRequest) (domain.Order, error) {
			t.Fatalf("failed verification must not mark the order paid")
			return domain.Order{}, nil
		},
	}
	gateway := &stubPaymentGateway{
		verifyFunc: func(ctx context.Context, method, reference string) (payments.VerificationResult, error) {
			return payments.VerificationResult{Reference: reference, Status: payments.StatusFailed}, nil
		},
	}
	service := newTestPaymentService(t, PaymentServiceDeps{Repository: repo, Gateway: gateway})

	_, err := service.VerifyAndApply(context.Background(), VerifyPaymentCommand{OrderID: "order-1", Reference: "pi_123", UserID: "user-1"})
	if !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("expected ErrPaymentFailed, got %v", err)
	}
}

func TestPaymentServiceVerifyGatewayErrorIsVerificationError(t *testing.T) {
	repo := &stubOrderRepository{
		findFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return unpaidOrder(), nil
		},
		markPaidFunc: func(ctx context.Context, req repositories.OrderMarkPaidRequest) (domain.Order, error) {
			t.Fatalf("an unreachable gateway must not mark the order paid")
			return domain.Order{}, nil
		},
	}
	gateway := &stubPaymentGateway{
		verifyFunc: func(ctx context.Context, method, reference string) (payments.VerificationResult, error) {
			return payments.VerificationResult{}, errors.New("gateway timeout")
		},
	}
	service := newTestPaymentService(t, PaymentServiceDeps{Repository: repo, Gateway: gateway})

	_, err := service.VerifyAndApply(context.Background(), VerifyPaymentCommand{OrderID: "order-1", Reference: "pi_123", UserID: "user-1"})
	if !errors.Is(err, ErrPaymentVerification) {
		t.Fatalf("expected ErrPaymentVerification, got %v", err)
	}
	if errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("transport errors must stay distinct from declined payments, got %v", err)
	}
	if !strings.Contains(err.Error(), "pi_123") {
		t.Fatalf("expected error to carry the reference, got %v", err)
	}
}

func TestPaymentServiceVerifyAmountMismatch(t *testing.T) {
	repo := &stubOrderRepository{
		findFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return unpaidOrder(), nil
		},
	}
	gateway := &stubPaymentGateway{
		verifyFunc: func(ctx context.Context, method, reference string) (payments.VerificationResult, error) {
			return payments.VerificationResult{Reference: reference, Status: payments.StatusSucceeded, Amount: 100}, nil
		},
	}
	service := newTestPaymentService(t, PaymentServiceDeps{Repository: repo, Gateway: gateway})

	_, err := service.VerifyAndApply(context.Background(), VerifyPaymentCommand{OrderID: "order-1", Reference: "pi_123", UserID: "user-1"})
	if !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("expected ErrPaymentFailed, got %v", err)
	}
}

func TestPaymentServiceVerifyLostRaceReturnsStoredOrder(t *testing.T) {
	paidAt := time.Date(2026, 4, 2, 10, 0, 1, 0, time.UTC)
	calls := 0
	repo := &stubOrderRepository{
		findFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			calls++
			order := unpaidOrder()
			if calls > 1 {
				order.IsPaid = true
				order.PaidAt = &paidAt
			}
			return order, nil
		},
		markPaidFunc: func(ctx context.Context, req repositories.OrderMarkPaidRequest) (domain.Order, error) {
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorAlreadyPaid, "already paid", nil)
		},
	}
	service := newTestPaymentService(t, PaymentServiceDeps{Repository: repo})

	order, err := service.VerifyAndApply(context.Background(), VerifyPaymentCommand{OrderID: "order-1", Reference: "pi_123", UserID: "user-1"})
	if err != nil {
		t.Fatalf("expected race to resolve as success, got %v", err)
	}
	if !order.IsPaid {
		t.Fatalf("expected stored paid order, got %+v", order)
	}
}

func TestPaymentServiceVerifyInsufficientStock(t *testing.T) {
	repo := &stubOrderRepository{
		findFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return unpaidOrder(), nil
		},
		markPaidFunc: func(ctx context.Context, req repositories.OrderMarkPaidRequest) (domain.Order, error) {
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInsufficientStock, "stock exhausted", nil)
		},
	}
	service := newTestPaymentService(t, PaymentServiceDeps{Repository: repo})

	_, err := service.VerifyAndApply(context.Background(), VerifyPaymentCommand{OrderID: "order-1", Reference: "pi_123", UserID: "user-1"})
	if !errors.Is(err, ErrPaymentInsufficientStock) {
		t.Fatalf("expected ErrPaymentInsufficientStock, got %v", err)
	}
}

func TestPaymentServiceReceiptFailureDoesNotPropagate(t *testing.T) {
	repo := &stubOrderRepository{
		findFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return unpaidOrder(), nil
		},
	}
	notifier := newRecordingNotifier()
	notifier.err = errors.New("pubsub unavailable")

	service := newTestPaymentService(t, PaymentServiceDeps{Repository: repo, Notifier: notifier})

	_, err := service.VerifyAndApply(context.Background(), VerifyPaymentCommand{OrderID: "order-1", Reference: "pi_123", UserID: "user-1"})
	if err != nil {
		t.Fatalf("expected success despite notifier failure, got %v", err)
	}

	select {
	case <-notifier.notes:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected publish attempt")
	}
}

func TestPaymentServiceMarkPaidManuallyConflictWhenPaid(t *testing.T) {
	repo := &stubOrderRepository{
		findFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			order := unpaidOrder()
			order.IsPaid = true
			return order, nil
		},
	}
	service := newTestPaymentService(t, PaymentServiceDeps{Repository: repo})

	_, err := service.MarkPaidManually(context.Background(), "order-1")
	if !errors.Is(err, ErrPaymentAlreadyPaid) {
		t.Fatalf("expected ErrPaymentAlreadyPaid, got %v", err)
	}
}

func TestPaymentServiceMarkPaidManuallyAppliesManualResult(t *testing.T) {
	var marked repositories.OrderMarkPaidRequest
	repo := &stubOrderRepository{
		findFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			order := unpaidOrder()
			order.PaymentMethod = "cod"
			return order, nil
		},
		markPaidFunc: func(ctx context.Context, req repositories.OrderMarkPaidRequest) (domain.Order, error) {
			marked = req
			order := unpaidOrder()
			order.IsPaid = true
			order.PaymentResult = &req.Result
			return order, nil
		},
	}
	service := newTestPaymentService(t, PaymentServiceDeps{Repository: repo})

	order, err := service.MarkPaidManually(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if marked.Result.Provider != manualPaymentProvider {
		t.Fatalf("expected manual provider, got %q", marked.Result.Provider)
	}
	if marked.Result.AmountPaid != 3140 {
		t.Fatalf("expected full total recorded, got %d", marked.Result.AmountPaid)
	}
	if !order.IsPaid {
		t.Fatalf("expected paid order")
	}
}
