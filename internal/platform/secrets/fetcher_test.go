package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values: make(map[string]string),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := req.GetName()
	f.calls[name]++
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	if value, ok := f.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (f *fakeSecretClient) Close() error { return nil }

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func writeFallbackFile(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(lines), 0o600); err != nil {
		t.Fatalf("write fallback file: %v", err)
	}
	return path
}

func TestResolveFetchesOnceThenServesFromCache(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/clovermart-prod/secrets/stripe_api_key/versions/latest"
	client.values[resource] = "sk_live_123"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("clovermart-prod"),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 3; i++ {
		got, err := fetcher.Resolve(ctx, "secret://stripe_api_key")
		if err != nil {
			t.Fatalf("Resolve call %d: %v", i+1, err)
		}
		if got != "sk_live_123" {
			t.Fatalf("unexpected value %q", got)
		}
	}
	if calls := client.callCount(resource); calls != 1 {
		t.Fatalf("expected one remote fetch, got %d", calls)
	}
}

func TestResolvePicksProjectByEnvironment(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/clovermart-stg/secrets/stripe_api_key/versions/latest"] = "sk_test_456"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithEnvironment("staging"),
		WithProjectMap(map[string]string{"staging": "clovermart-stg"}),
		WithDefaultProject("clovermart-prod"),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://stripe_api_key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "sk_test_456" {
		t.Fatalf("expected staging project secret, got %q", got)
	}
}

func TestResolveHonoursVersionPins(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	pinned := "projects/clovermart-prod/secrets/stripe_webhook_secret/versions/5"
	client.values[pinned] = "whsec_v5"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("clovermart-prod"),
		WithVersionPins(map[string]string{"secret://stripe_webhook_secret": "5"}),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://stripe_webhook_secret")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "whsec_v5" {
		t.Fatalf("expected pinned version value, got %q", got)
	}
	if calls := client.callCount(pinned); calls != 1 {
		t.Fatalf("expected pinned version fetch, got %d calls", calls)
	}
}

func TestResolveDegradesToFallbackOnPermissionDenied(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/clovermart-prod/secrets/stripe_api_key/versions/latest"
	client.errs[resource] = status.Error(codes.PermissionDenied, "denied")

	fallback := writeFallbackFile(t, "secret://stripe_api_key=sk_local\n")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("clovermart-prod"),
		WithFallbackFile(fallback),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://stripe_api_key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "sk_local" {
		t.Fatalf("expected fallback value, got %q", got)
	}
}

func TestResolveNotFoundIsAHardError(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/clovermart-prod/secrets/stripe_api_key/versions/latest"
	client.errs[resource] = status.Error(codes.NotFound, "missing")

	fallback := writeFallbackFile(t, "secret://stripe_api_key=sk_local\n")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("clovermart-prod"),
		WithFallbackFile(fallback),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	if _, err := fetcher.Resolve(ctx, "secret://stripe_api_key"); err == nil {
		t.Fatal("a missing secret must not silently fall back")
	}
}

func TestResolveWithoutClientUsesFallbackFile(t *testing.T) {
	ctx := context.Background()

	originalFactory := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { secretManagerClientFactory = originalFactory })

	fallback := writeFallbackFile(t, "# local development secrets\nsm://stripe_api_key=sk_local\n")

	fetcher, err := NewFetcher(ctx, WithFallbackFile(fallback))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://stripe_api_key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "sk_local" {
		t.Fatalf("expected sm:// fallback entry to resolve, got %q", got)
	}
}

func TestParseReferenceRejectsOtherSchemes(t *testing.T) {
	if _, err := parseReference("vault://stripe_api_key"); err == nil {
		t.Fatal("expected unsupported scheme to fail")
	}
	if _, err := parseReference("   "); err == nil {
		t.Fatal("expected empty reference to fail")
	}

	parsed, err := parseReference("secret://stripe_api_key?version=3&project=other-proj")
	if err != nil {
		t.Fatalf("parseReference: %v", err)
	}
	if parsed.Secret != "stripe_api_key" || parsed.Version != "3" || parsed.ProjectOverride != "other-proj" {
		t.Fatalf("unexpected parse result: %+v", parsed)
	}
	if parsed.Canonical != "secret://stripe_api_key" {
		t.Fatalf("expected canonical form without query, got %s", parsed.Canonical)
	}
}
