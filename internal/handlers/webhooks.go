package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/clovermart/api/internal/platform/httpx"
	"github.com/clovermart/api/internal/services"
)

const maxWebhookBodySize = 64 * 1024

// WebhookHandlers receives asynchronous payment notifications. The router
// mounts these behind HMAC validation and the idempotency middleware, so a
// redelivered notification replays the stored response instead of
// re-running verification.
type WebhookHandlers struct {
	payments services.PaymentService
}

// NewWebhookHandlers constructs the payment webhook handlers.
func NewWebhookHandlers(payments services.PaymentService) *WebhookHandlers {
	return &WebhookHandlers{payments: payments}
}

// Routes wires the webhook endpoints onto the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.paymentNotification)
}

// paymentNotification reconciles a gateway push. The handler trusts only
// the order and reference identifiers in the payload; the actual outcome
// is re-fetched from the gateway before anything is applied.
func (h *WebhookHandlers) paymentNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var note paymentNotificationPayload
	if err := json.Unmarshal(body, &note); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	orderID := strings.TrimSpace(note.OrderID)
	reference := strings.TrimSpace(note.Reference)
	if orderID == "" || reference == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_id and reference are required", http.StatusBadRequest))
		return
	}

	order, err := h.payments.VerifyAndApply(ctx, services.VerifyPaymentCommand{
		OrderID:   orderID,
		Reference: reference,
		Admin:     true,
	})
	if err != nil {
		writePaymentError(ctx, w, err, reference)
		return
	}

	writeJSONResponse(w, http.StatusOK, paymentNotificationResponse{
		OrderID: order.ID,
		Status:  string(order.Status()),
		IsPaid:  order.IsPaid,
	})
}

type paymentNotificationPayload struct {
	OrderID   string `json:"order_id"`
	Reference string `json:"reference"`
	Event     string `json:"event,omitempty"`
}

type paymentNotificationResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	IsPaid  bool   `json:"is_paid"`
}
