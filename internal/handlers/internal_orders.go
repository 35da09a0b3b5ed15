package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clovermart/api/internal/platform/httpx"
	"github.com/clovermart/api/internal/services"
)

// InternalOrderHandlers exposes back-office order transitions. The router
// mounts these behind the internal-auth middleware, so no per-handler
// identity checks happen here.
type InternalOrderHandlers struct {
	orders   services.OrderService
	payments services.PaymentService
}

// NewInternalOrderHandlers constructs the internal order transition handlers.
func NewInternalOrderHandlers(orders services.OrderService, payments services.PaymentService) *InternalOrderHandlers {
	return &InternalOrderHandlers{
		orders:   orders,
		payments: payments,
	}
}

// Routes wires the internal order endpoints onto the provided router.
func (h *InternalOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/{orderID}/pay", h.markPaid)
	r.Post("/orders/{orderID}/deliver", h.markDelivered)
}

// markPaid records payment collected outside a gateway, e.g. cash on delivery.
func (h *InternalOrderHandlers) markPaid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}

	order, err := h.payments.MarkPaidManually(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writePaymentError(ctx, w, err, "")
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *InternalOrderHandlers) markDelivered(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	order, err := h.orders.MarkDelivered(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}
