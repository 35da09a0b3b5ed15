package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clovermart/api/internal/payments"
	"github.com/clovermart/api/internal/platform/config"
	"github.com/clovermart/api/internal/repositories"
	"github.com/clovermart/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Cart     services.CartService
	Pricer   services.Pricer
	Orders   services.OrderService
	Payments services.PaymentService
	System   services.SystemService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// ContainerDeps carries the externally constructed infrastructure the
// container composes into services.
type ContainerDeps struct {
	Registry repositories.Registry
	Gateway  *payments.Manager
	Notifier services.ReceiptNotifier
	Logger   services.Logger
}

// NewContainer assembles the service layer on top of the provided registry
// and gateway. Tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, deps ContainerDeps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payments gateway is required")
	}

	svc, err := buildServices(cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases repository clients and any held connections.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, deps ContainerDeps) (Services, error) {
	reg := deps.Registry

	pricer, err := services.NewPricingService(services.PricingServiceDeps{
		ShippingRates: reg.ShippingRates(),
		Logger:        deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing service: %w", err)
	}

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Repository:      reg.Carts(),
		Products:        reg.Products(),
		Users:           reg.Users(),
		Pricer:          pricer,
		Clock:           time.Now,
		DefaultCurrency: cfg.Checkout.Currency,
		Logger:          deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Repository:      reg.Orders(),
		Carts:           reg.Carts(),
		Users:           reg.Users(),
		Counters:        reg.Counters(),
		Pricer:          pricer,
		PaymentMethods:  deps.Gateway,
		Clock:           time.Now,
		DefaultCurrency: cfg.Checkout.Currency,
		Logger:          deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Repository: reg.Orders(),
		Users:      reg.Users(),
		Gateway:    deps.Gateway,
		Notifier:   deps.Notifier,
		SuccessURL: cfg.PSP.SuccessURL,
		CancelURL:  cfg.PSP.CancelURL,
		Clock:      time.Now,
		Logger:     deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}

	return Services{
		Cart:     cartSvc,
		Pricer:   pricer,
		Orders:   orderSvc,
		Payments: paymentSvc,
		System:   systemSvc,
	}, nil
}
