package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/payments"
	"github.com/clovermart/api/internal/repositories"
)

var (
	errPaymentRepositoryRequired = errors.New("payment service: order repository is required")
	errPaymentGatewayRequired    = errors.New("payment service: gateway is required")
	errPaymentClockRequired      = errors.New("payment service: clock is required")
)

// ErrPaymentInvalidInput indicates the caller supplied invalid input.
var ErrPaymentInvalidInput = errors.New("payment service: invalid input")

// ErrPaymentUnavailable indicates the payment service cannot fulfil the request due to backend issues.
var ErrPaymentUnavailable = errors.New("payment service: unavailable")

// ErrPaymentOrderNotFound indicates the order does not exist or is not visible to the caller.
var ErrPaymentOrderNotFound = errors.New("payment service: order not found")

// ErrPaymentAlreadyPaid indicates a payment transition was attempted on a paid order.
var ErrPaymentAlreadyPaid = errors.New("payment service: order already paid")

// ErrPaymentFailed indicates the gateway reported a non-successful
// outcome for the payment itself: declined, expired, or paid short.
var ErrPaymentFailed = errors.New("payment service: payment failed")

// ErrPaymentVerification indicates the gateway could not be consulted at
// all; the payment's real outcome is unknown and the caller may retry.
var ErrPaymentVerification = errors.New("payment service: verification error")

// ErrPaymentInsufficientStock indicates applying the payment would drive stock negative.
var ErrPaymentInsufficientStock = errors.New("payment service: insufficient stock")

const manualPaymentProvider = "manual"

// paymentGateway abstracts payments.Manager for easier testing.
type paymentGateway interface {
	InitializeCheckout(ctx context.Context, method string, req payments.CheckoutRequest) (payments.CheckoutIntent, error)
	VerifyPayment(ctx context.Context, method, reference string) (payments.VerificationResult, error)
}

// PaymentServiceDeps wires persistence, the gateway and the receipt
// dispatcher for payment reconciliation.
type PaymentServiceDeps struct {
	Repository repositories.OrderRepository
	Users      repositories.UserRepository
	Gateway    paymentGateway
	Notifier   ReceiptNotifier
	SuccessURL string
	CancelURL  string
	Clock      Clock
	Logger     Logger
}

type paymentService struct {
	repo       repositories.OrderRepository
	users      repositories.UserRepository
	gateway    paymentGateway
	notifier   ReceiptNotifier
	successURL string
	cancelURL  string
	now        Clock
	logger     Logger
}

// NewPaymentService constructs a PaymentService enforcing dependency validation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Repository == nil {
		return nil, errPaymentRepositoryRequired
	}
	if deps.Gateway == nil {
		return nil, errPaymentGatewayRequired
	}
	if deps.Clock == nil {
		return nil, errPaymentClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	service := &paymentService{
		repo:       deps.Repository,
		users:      deps.Users,
		gateway:    deps.Gateway,
		notifier:   deps.Notifier,
		successURL: strings.TrimSpace(deps.SuccessURL),
		cancelURL:  strings.TrimSpace(deps.CancelURL),
		now:        func() time.Time { return deps.Clock().UTC() },
		logger:     logger,
	}
	return service, nil
}

// InitializePayment opens a gateway checkout for an unpaid order owned by
// the caller.
func (s *paymentService) InitializePayment(ctx context.Context, cmd InitializePaymentCommand) (PaymentIntent, error) {
	if s == nil || s.repo == nil {
		return PaymentIntent{}, ErrPaymentUnavailable
	}

	order, err := s.loadVisibleOrder(ctx, cmd.OrderID, cmd.UserID, cmd.Admin)
	if err != nil {
		return PaymentIntent{}, err
	}
	if order.IsPaid {
		return PaymentIntent{}, ErrPaymentAlreadyPaid
	}

	req := payments.CheckoutRequest{
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		Amount:         order.Totals.TotalPrice,
		Currency:       order.Currency,
		CustomerEmail:  s.buyerEmail(ctx, order.UserID),
		SuccessURL:     s.successURL,
		CancelURL:      s.cancelURL,
		IdempotencyKey: order.ID,
		Items:          checkoutLineItems(order),
	}

	intent, err := s.gateway.InitializeCheckout(ctx, order.PaymentMethod, req)
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return PaymentIntent{}, fmt.Errorf("%w: unsupported payment method %q", ErrPaymentInvalidInput, order.PaymentMethod)
		}
		s.logger(ctx, "payment.initialize_failed", map[string]any{
			"order_id": order.ID,
			"error":    err.Error(),
		})
		return PaymentIntent{}, ErrPaymentVerification
	}

	return PaymentIntent{
		OrderID:     order.ID,
		Provider:    intent.Provider,
		Reference:   intent.Reference,
		RedirectURL: intent.RedirectURL,
		ExpiresAt:   intent.ExpiresAt,
	}, nil
}

// VerifyAndApply reconciles the gateway outcome onto the order. Paid
// orders return immediately without touching the gateway, so webhook
// retries and the redirect landing page can both call this safely. The
// unpaid check repeats inside the storage transaction, so a concurrent
// verification applies the stock decrement exactly once.
func (s *paymentService) VerifyAndApply(ctx context.Context, cmd VerifyPaymentCommand) (Order, error) {
	if s == nil || s.repo == nil {
		return Order{}, ErrPaymentUnavailable
	}

	order, err := s.loadVisibleOrder(ctx, cmd.OrderID, cmd.UserID, cmd.Admin)
	if err != nil {
		return Order{}, err
	}
	if order.IsPaid {
		return order, nil
	}

	reference := strings.TrimSpace(cmd.Reference)
	if reference == "" {
		return Order{}, fmt.Errorf("%w: reference is required", ErrPaymentInvalidInput)
	}

	verification, err := s.gateway.VerifyPayment(ctx, order.PaymentMethod, reference)
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrPaymentInvalidInput, order.PaymentMethod)
		}
		s.logger(ctx, "payment.verify_failed", map[string]any{
			"order_id":  order.ID,
			"reference": reference,
			"error":     err.Error(),
		})
		return Order{}, fmt.Errorf("%w: reference %s", ErrPaymentVerification, reference)
	}

	if verification.Status != payments.StatusSucceeded {
		s.logger(ctx, "payment.not_succeeded", map[string]any{
			"order_id":  order.ID,
			"reference": reference,
			"status":    string(verification.Status),
		})
		return Order{}, fmt.Errorf("%w: reference %s", ErrPaymentFailed, reference)
	}
	if verification.Amount < order.Totals.TotalPrice {
		s.logger(ctx, "payment.amount_mismatch", map[string]any{
			"order_id": order.ID,
			"expected": order.Totals.TotalPrice,
			"received": verification.Amount,
		})
		return Order{}, fmt.Errorf("%w: reference %s", ErrPaymentFailed, reference)
	}

	result := domain.PaymentResult{
		Provider:   verification.Provider,
		Reference:  verification.Reference,
		Status:     domain.PaymentStatusCompleted,
		Email:      verification.PayerEmail,
		AmountPaid: verification.Amount,
		Raw:        verification.Raw,
		VerifiedAt: s.now(),
	}

	return s.applyPayment(ctx, order, result)
}

// MarkPaidManually applies payment without a gateway, for cash on
// delivery and similar back-office flows. Already paid orders fail so a
// double entry cannot decrement stock twice.
func (s *paymentService) MarkPaidManually(ctx context.Context, orderID string) (Order, error) {
	if s == nil || s.repo == nil {
		return Order{}, ErrPaymentUnavailable
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order_id is required", ErrPaymentInvalidInput)
	}

	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	if order.IsPaid {
		return Order{}, ErrPaymentAlreadyPaid
	}

	now := s.now()
	result := domain.PaymentResult{
		Provider:   manualPaymentProvider,
		Reference:  fmt.Sprintf("manual-%s", order.ID),
		Status:     domain.PaymentStatusCompleted,
		AmountPaid: order.Totals.TotalPrice,
		VerifiedAt: now,
	}

	updated, err := s.repo.MarkPaid(ctx, repositories.OrderMarkPaidRequest{
		OrderID: order.ID,
		Result:  result,
		Now:     now,
	})
	if err != nil {
		var orderErr *repositories.OrderError
		if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorAlreadyPaid {
			return Order{}, ErrPaymentAlreadyPaid
		}
		return Order{}, s.translateMarkPaidError(ctx, err, order.ID)
	}

	s.logger(ctx, "payment.marked_manually", map[string]any{
		"order_id": updated.ID,
		"number":   updated.Number,
	})
	s.dispatchReceipt(ctx, updated)
	return updated, nil
}

func (s *paymentService) applyPayment(ctx context.Context, order Order, result domain.PaymentResult) (Order, error) {
	updated, err := s.repo.MarkPaid(ctx, repositories.OrderMarkPaidRequest{
		OrderID: order.ID,
		Result:  result,
		Now:     result.VerifiedAt,
	})
	if err != nil {
		var orderErr *repositories.OrderError
		if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorAlreadyPaid {
			// A concurrent verification won the race. Return the stored
			// outcome so the caller still sees success.
			paid, findErr := s.repo.FindByID(ctx, order.ID)
			if findErr != nil {
				return Order{}, s.translateRepoError(findErr)
			}
			return paid, nil
		}
		return Order{}, s.translateMarkPaidError(ctx, err, order.ID)
	}

	s.logger(ctx, "payment.applied", map[string]any{
		"order_id":  updated.ID,
		"number":    updated.Number,
		"provider":  result.Provider,
		"reference": result.Reference,
		"amount":    result.AmountPaid,
	})
	s.dispatchReceipt(ctx, updated)
	return updated, nil
}

// dispatchReceipt publishes the receipt notification without blocking the
// payment outcome. Publish failures are logged, never propagated.
func (s *paymentService) dispatchReceipt(ctx context.Context, order Order) {
	if s.notifier == nil {
		return
	}

	note := ReceiptNotification{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		UserID:      order.UserID,
		TotalPrice:  order.Totals.TotalPrice,
		Currency:    order.Currency,
	}
	if order.PaymentResult != nil {
		note.Email = order.PaymentResult.Email
	}
	if order.PaidAt != nil {
		note.PaidAt = *order.PaidAt
	}
	if note.Email == "" {
		note.Email = s.buyerEmail(ctx, order.UserID)
	}

	detached := context.WithoutCancel(ctx)
	go func() {
		publishCtx, cancel := context.WithTimeout(detached, 10*time.Second)
		defer cancel()
		if err := s.notifier.PublishReceipt(publishCtx, note); err != nil {
			s.logger(publishCtx, "payment.receipt_publish_failed", map[string]any{
				"order_id": note.OrderID,
				"error":    err.Error(),
			})
		}
	}()
}

func (s *paymentService) loadVisibleOrder(ctx context.Context, orderID, userID string, admin bool) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order_id is required", ErrPaymentInvalidInput)
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	if !admin && order.UserID != strings.TrimSpace(userID) {
		return Order{}, ErrPaymentOrderNotFound
	}
	return order, nil
}

// buyerEmail is a best-effort profile lookup used for gateway prefill and
// receipts.
func (s *paymentService) buyerEmail(ctx context.Context, userID string) string {
	if s.users == nil || strings.TrimSpace(userID) == "" {
		return ""
	}
	profile, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return ""
	}
	return profile.Email
}

func checkoutLineItems(order Order) []payments.CheckoutLineItem {
	items := make([]payments.CheckoutLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, payments.CheckoutLineItem{
			Name:     item.Name,
			SKU:      item.ProductID,
			Quantity: int64(item.Quantity),
			Amount:   item.UnitPrice,
			Currency: order.Currency,
		})
	}
	return items
}

func (s *paymentService) translateMarkPaidError(ctx context.Context, err error, orderID string) error {
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorInsufficientStock:
			s.logger(ctx, "payment.insufficient_stock", map[string]any{"order_id": orderID})
			return ErrPaymentInsufficientStock
		case repositories.OrderErrorProductMissing:
			s.logger(ctx, "payment.product_missing", map[string]any{"order_id": orderID})
			return ErrPaymentInsufficientStock
		}
		return ErrPaymentUnavailable
	}
	return s.translateRepoError(err)
}

func (s *paymentService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrPaymentOrderNotFound
		case repoErr.IsUnavailable():
			return ErrPaymentUnavailable
		}
	}
	return ErrPaymentUnavailable
}

var _ PaymentService = (*paymentService)(nil)
