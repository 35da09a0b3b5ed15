package repositories

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/clovermart/api/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// DependencyProbe describes one downstream check executed on readiness requests.
type DependencyProbe struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

type probeHealthRepository struct {
	probes []DependencyProbe
	now    func() time.Time
}

var _ HealthRepository = (*probeHealthRepository)(nil)

// NewProbeHealthRepository builds a HealthRepository that runs the given probes.
func NewProbeHealthRepository(probes []DependencyProbe, clock func() time.Time) (HealthRepository, error) {
	if len(probes) == 0 {
		return nil, errors.New("health repository: at least one dependency probe is required")
	}
	for _, probe := range probes {
		if strings.TrimSpace(probe.Name) == "" || probe.Check == nil {
			return nil, errors.New("health repository: probe requires a name and a check function")
		}
	}
	if clock == nil {
		clock = time.Now
	}
	repo := &probeHealthRepository{probes: make([]DependencyProbe, len(probes)), now: clock}
	copy(repo.probes, probes)
	return repo, nil
}

func (r *probeHealthRepository) Collect(ctx context.Context) (domain.HealthReport, error) {
	if ctx == nil {
		return domain.HealthReport{}, errors.New("health repository: context is required")
	}

	components := make([]domain.ComponentHealth, 0, len(r.probes))
	for _, probe := range r.probes {
		timeout := probe.Timeout
		if timeout <= 0 {
			timeout = defaultProbeTimeout
		}
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		err := probe.Check(probeCtx)
		cancel()

		component := domain.ComponentHealth{Name: probe.Name, Status: "ok"}
		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded):
			component.Status = "error"
			component.Detail = "timeout"
		default:
			component.Status = "error"
			component.Detail = err.Error()
		}
		components = append(components, component)
	}

	return domain.HealthReport{Components: components, CheckedAt: r.now().UTC()}, nil
}
