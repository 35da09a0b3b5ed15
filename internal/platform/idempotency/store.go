// Package idempotency shields the payment webhook endpoint from
// duplicate deliveries. Gateways redeliver the same event on timeouts,
// sometimes concurrently; the first delivery reserves the event key and
// every later one gets the stored response back instead of re-running
// reconciliation.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// DefaultTTL bounds how long a stored delivery outcome is replayable.
const DefaultTTL = 24 * time.Hour

// State classifies what a reservation attempt found.
type State int

const (
	// StateNew means the key was unseen; the caller runs the handler.
	StateNew State = iota
	// StateReplay means a finished delivery was found; replay its response.
	StateReplay
	// StateInFlight means another delivery holds the key right now.
	StateInFlight
)

// Record is the persisted outcome of one webhook delivery.
type Record struct {
	Key         string
	Fingerprint string
	Done        bool
	Status      int
	ContentType string
	Body        []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
}

// Reservation is the result of claiming a delivery key.
type Reservation struct {
	State  State
	Record Record
}

// Store persists delivery reservations and their responses.
type Store interface {
	// Reserve claims the key for the given request fingerprint.
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	// Complete stores the handler's response for later replays.
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	// Release drops an unfinished reservation so a retry can claim it.
	Release(ctx context.Context, key, fingerprint string) error
	// CleanupExpired deletes records past their TTL, up to limit.
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// Response is the slice of the HTTP response worth replaying. Webhook
// responses are small JSON envelopes this API wrote itself, so status,
// content type and body are all a replay needs.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// ErrKeyReused is returned when a delivery key arrives again with a
// different payload, which is a sender bug rather than a redelivery.
var ErrKeyReused = errors.New("idempotency: key reused with a different payload")

// docID derives a fixed-length storage id so arbitrary gateway event
// ids cannot produce hostile document names.
func docID(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}
