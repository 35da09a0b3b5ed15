package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultNonceHeader     = "X-Signature-Nonce"

	defaultClockSkew = 5 * time.Minute
	defaultNonceTTL  = 5 * time.Minute

	signaturePrefix = "sha256="
)

// SecretProvider resolves the shared signing secret for a webhook provider.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// NonceStore remembers delivery nonces so a captured request cannot be
// replayed inside the timestamp window.
type NonceStore interface {
	// UseNonce stores the nonce for the scope until expiry. It returns
	// false when the nonce was already seen.
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// InMemoryNonceStore keeps nonces in process memory. It is enough for a
// single API instance and for tests.
type InMemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
}

// NewInMemoryNonceStore constructs an empty nonce registry.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{nonces: make(map[string]time.Time)}
}

// UseNonce implements NonceStore.
func (s *InMemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}

	now := time.Now()
	if !expiry.After(now) {
		return false, errors.New("auth: nonce expiry is in the past")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, exp := range s.nonces {
		if exp.Before(now) {
			delete(s.nonces, key)
		}
	}

	key := scope + "::" + nonce
	if _, seen := s.nonces[key]; seen {
		return false, nil
	}
	s.nonces[key] = expiry
	return true, nil
}

// HMACValidator verifies signed webhook deliveries. The sender signs
// timestamp, nonce, method, path and a body digest with a shared secret;
// the validator recomputes the signature and tracks nonces against replay.
type HMACValidator struct {
	provider SecretProvider
	nonces   NonceStore

	logger Logger
	now    func() time.Time

	signatureHeader string
	timestampHeader string
	nonceHeader     string

	clockSkew time.Duration
	nonceTTL  time.Duration

	secretCache sync.Map
}

// HMACOption customises the validator.
type HMACOption func(*HMACValidator)

// NewHMACValidator builds a validator over the given secret provider and
// nonce store.
func NewHMACValidator(provider SecretProvider, nonces NonceStore, opts ...HMACOption) *HMACValidator {
	validator := &HMACValidator{
		provider:        provider,
		nonces:          nonces,
		logger:          log.Default(),
		now:             time.Now,
		signatureHeader: defaultSignatureHeader,
		timestampHeader: defaultTimestampHeader,
		nonceHeader:     defaultNonceHeader,
		clockSkew:       defaultClockSkew,
		nonceTTL:        defaultNonceTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}
	return validator
}

// WithHMACLogger overrides the validator logger.
func WithHMACLogger(logger Logger) HMACOption {
	return func(v *HMACValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithHMACClock injects a custom clock, primarily for tests.
func WithHMACClock(now func() time.Time) HMACOption {
	return func(v *HMACValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHMACHeaders overrides the signature, timestamp and nonce headers.
func WithHMACHeaders(signature, timestamp, nonce string) HMACOption {
	return func(v *HMACValidator) {
		if signature != "" {
			v.signatureHeader = signature
		}
		if timestamp != "" {
			v.timestampHeader = timestamp
		}
		if nonce != "" {
			v.nonceHeader = nonce
		}
	}
}

// WithHMACClockSkew adjusts the accepted timestamp window.
func WithHMACClockSkew(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// WithHMACNonceTTL adjusts how long nonces are retained.
func WithHMACNonceTTL(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.nonceTTL = d
		}
	}
}

// RequireHMACResolver guards webhook routes. The resolver maps the
// request to the name of the provider's signing secret; unrecognised
// providers are rejected before any crypto work happens.
func (v *HMACValidator) RequireHMACResolver(resolver func(*http.Request) (string, bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver == nil {
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "webhook secret resolver not configured")
				return
			}

			secretName, ok := resolver(r)
			if !ok || strings.TrimSpace(secretName) == "" {
				respondAuthError(w, http.StatusUnauthorized, "unknown_provider", "webhook provider not recognised")
				return
			}

			if failure := v.verifyDelivery(r, strings.TrimSpace(secretName)); failure != nil {
				if failure.log != "" && v.logger != nil {
					v.logger.Printf("auth: webhook signature check failed: %s", failure.log)
				}
				respondAuthError(w, failure.status, failure.code, failure.message)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type verifyFailure struct {
	status  int
	code    string
	message string
	log     string
}

func (v *HMACValidator) verifyDelivery(r *http.Request, secretName string) *verifyFailure {
	ctx := r.Context()

	secret, err := v.loadSecret(ctx, secretName)
	if err != nil {
		return &verifyFailure{
			status:  http.StatusServiceUnavailable,
			code:    "verification_unavailable",
			message: "webhook secret unavailable",
			log:     err.Error(),
		}
	}

	signatureValue := strings.TrimSpace(r.Header.Get(v.signatureHeader))
	if signatureValue == "" {
		return unauthorized("signature_missing", "signature header missing")
	}
	signature, err := decodeSignature(signatureValue)
	if err != nil {
		return unauthorized("signature_invalid", "signature encoding invalid")
	}

	timestampValue := strings.TrimSpace(r.Header.Get(v.timestampHeader))
	timestamp, err := parseSignatureTimestamp(timestampValue)
	if err != nil {
		return unauthorized("timestamp_invalid", "signature timestamp missing or invalid")
	}
	if skew := v.now().Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
		return unauthorized("timestamp_skew", "signature timestamp outside allowed window")
	}

	nonce := strings.TrimSpace(r.Header.Get(v.nonceHeader))
	if nonce == "" {
		return unauthorized("nonce_missing", "signature nonce missing")
	}

	body, err := readAndRestoreBody(r)
	if err != nil {
		return &verifyFailure{
			status:  http.StatusBadRequest,
			code:    "invalid_body",
			message: "unable to read body for signature verification",
		}
	}

	expected := computeSignature(secret, signingPayload(r, body, timestampValue, nonce))
	if !hmac.Equal(signature, expected) {
		return unauthorized("signature_mismatch", "signature verification failed")
	}

	if v.nonces == nil {
		return &verifyFailure{
			status:  http.StatusServiceUnavailable,
			code:    "verification_unavailable",
			message: "nonce store unavailable",
		}
	}
	expiry := timestamp.Add(v.nonceTTL)
	if !expiry.After(v.now()) {
		expiry = v.now().Add(v.nonceTTL)
	}
	stored, err := v.nonces.UseNonce(ctx, secretName, nonce, expiry)
	if err != nil {
		return &verifyFailure{
			status:  http.StatusServiceUnavailable,
			code:    "verification_unavailable",
			message: "nonce storage error",
			log:     err.Error(),
		}
	}
	if !stored {
		return unauthorized("nonce_replay", "duplicate signature nonce")
	}

	return nil
}

func unauthorized(code, message string) *verifyFailure {
	return &verifyFailure{status: http.StatusUnauthorized, code: code, message: message}
}

func (v *HMACValidator) loadSecret(ctx context.Context, name string) ([]byte, error) {
	if v.provider == nil {
		return nil, errors.New("auth: secret provider not configured")
	}

	if cached, ok := v.secretCache.Load(name); ok {
		if secret, ok := cached.([]byte); ok && len(secret) > 0 {
			return secret, nil
		}
	}

	raw, err := v.provider.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, errors.New("auth: secret is empty")
	}

	secret := []byte(raw)
	v.secretCache.Store(name, secret)
	return secret, nil
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

// decodeSignature accepts a hex digest, optionally carrying the
// conventional "sha256=" prefix.
func decodeSignature(value string) ([]byte, error) {
	value = strings.TrimPrefix(value, signaturePrefix)
	if value == "" {
		return nil, errors.New("auth: empty signature")
	}
	decoded, err := hex.DecodeString(value)
	if err != nil {
		return nil, errors.New("auth: signature must be hex encoded")
	}
	return decoded, nil
}

// parseSignatureTimestamp accepts unix seconds or RFC 3339.
func parseSignatureTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("auth: timestamp empty")
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errors.New("auth: unable to parse timestamp")
	}
	return ts.UTC(), nil
}

// signingPayload is what senders sign: the timestamp and nonce bind the
// signature to this delivery, the method and path bind it to this
// endpoint, and the digest binds it to the body without re-signing
// large payloads directly.
func signingPayload(r *http.Request, body []byte, timestamp, nonce string) []byte {
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	digest := sha256.Sum256(body)
	parts := []string{
		timestamp,
		nonce,
		strings.ToUpper(r.Method),
		path,
		hex.EncodeToString(digest[:]),
	}
	return []byte(strings.Join(parts, "\n"))
}

func computeSignature(secret, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}
