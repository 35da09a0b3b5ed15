package services

import (
	"context"
	"testing"
	"time"

	domain "github.com/clovermart/api/internal/domain"
)

type stubHealthRepository struct {
	collectFunc func(ctx context.Context) (domain.HealthReport, error)
}

func (s *stubHealthRepository) Collect(ctx context.Context) (domain.HealthReport, error) {
	if s.collectFunc == nil {
		return domain.HealthReport{}, nil
	}
	return s.collectFunc(ctx)
}

func TestSystemServiceHealthReportStampsTime(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	repo := &stubHealthRepository{
		collectFunc: func(ctx context.Context) (domain.HealthReport, error) {
			return domain.HealthReport{
				Components: []domain.ComponentHealth{{Name: "firestore", Status: "ok"}},
			}, nil
		},
	}

	service, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing system service: %v", err)
	}

	report, err := service.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.CheckedAt.Equal(now) {
		t.Fatalf("expected checked-at stamped, got %v", report.CheckedAt)
	}
	if !report.Healthy() {
		t.Fatalf("expected healthy report")
	}
}
