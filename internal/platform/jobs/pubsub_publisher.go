package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/clovermart/api/internal/services"
)

// PubSubReceiptPublisher publishes order receipt notifications to a
// Pub/Sub topic for the downstream mailer to consume.
type PubSubReceiptPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubReceiptPublisher constructs a Pub/Sub backed receipt publisher.
func NewPubSubReceiptPublisher(topic *pubsub.Topic) (*PubSubReceiptPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub receipt publisher: topic is required")
	}
	return &PubSubReceiptPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

var _ services.ReceiptNotifier = (*PubSubReceiptPublisher)(nil)

type receiptMessage struct {
	OrderID       string `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	UserID        string `json:"user_id,omitempty"`
	Email         string `json:"email,omitempty"`
	TotalPrice    int64  `json:"total_price"`
	Currency      string `json:"currency"`
	AmountDisplay string `json:"amount_display"`
	PaidAt        string `json:"paid_at,omitempty"`
}

// PublishReceipt enqueues a receipt notification on the configured topic.
func (p *PubSubReceiptPublisher) PublishReceipt(ctx context.Context, note services.ReceiptNotification) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub receipt publisher: not initialised")
	}
	if strings.TrimSpace(note.OrderID) == "" {
		return errors.New("pubsub receipt publisher: order id is required")
	}

	msg := receiptMessage{
		OrderID:       note.OrderID,
		OrderNumber:   note.OrderNumber,
		UserID:        note.UserID,
		Email:         note.Email,
		TotalPrice:    note.TotalPrice,
		Currency:      strings.ToUpper(strings.TrimSpace(note.Currency)),
		AmountDisplay: formatAmount(note.TotalPrice, note.Currency),
	}
	if !note.PaidAt.IsZero() {
		msg.PaidAt = note.PaidAt.UTC().Format(time.RFC3339)
	}

	data, err := p.marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}

	attrs := map[string]string{"event": "order.paid"}
	setAttr(attrs, "orderId", note.OrderID)
	setAttr(attrs, "orderNumber", note.OrderNumber)
	setAttr(attrs, "userId", note.UserID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish receipt: %w", err)
	}
	return nil
}

// formatAmount renders a minor-unit amount as a localised currency string,
// e.g. 3140 usd -> "$31.40". Unknown codes fall back to the raw value.
func formatAmount(minor int64, code string) string {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return fmt.Sprintf("%d", minor)
	}
	scale, _ := currency.Cash.Rounding(unit)
	value := float64(minor) / math.Pow(10, float64(scale))
	printer := message.NewPrinter(language.English)
	return printer.Sprintf("%v", currency.Symbol(unit.Amount(value)))
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
