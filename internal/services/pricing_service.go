package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/repositories"
)

// ErrPricingInvalidInput indicates the caller supplied invalid input.
var ErrPricingInvalidInput = errors.New("pricing service: invalid input")

// ErrPricingUnavailable indicates the rate store could not be reached.
var ErrPricingUnavailable = errors.New("pricing service: unavailable")

// ErrPricingRateNotFound indicates neither the destination region nor the
// Default row exists in the rate table.
var ErrPricingRateNotFound = errors.New("pricing service: shipping rate not found")

// PricingServiceDeps wires the rate table and logging for the pricing engine.
type PricingServiceDeps struct {
	ShippingRates repositories.ShippingRateRepository
	Logger        Logger
}

type pricingService struct {
	rates  repositories.ShippingRateRepository
	logger Logger
}

// NewPricingService constructs the totals calculator backed by the
// regional shipping rate table.
func NewPricingService(deps PricingServiceDeps) (Pricer, error) {
	if deps.ShippingRates == nil {
		return nil, errors.New("pricing service: shipping rate repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &pricingService{rates: deps.ShippingRates, logger: logger}, nil
}

func (s *pricingService) Calculate(ctx context.Context, cmd PriceCommand) (Totals, error) {
	if s == nil || s.rates == nil {
		return Totals{}, ErrPricingUnavailable
	}

	var items int64
	for _, item := range cmd.Items {
		if item.Quantity <= 0 {
			return Totals{}, fmt.Errorf("%w: quantity must be greater than zero", ErrPricingInvalidInput)
		}
		if item.UnitPrice < 0 {
			return Totals{}, fmt.Errorf("%w: unit_price must be non-negative", ErrPricingInvalidInput)
		}
		items += item.LineTotal()
	}

	rate, err := s.lookupRate(ctx, cmd.Region)
	if err != nil {
		return Totals{}, err
	}

	totals := Totals{
		ItemsPrice:    items,
		ShippingPrice: rate.ShippingPrice,
		TaxPrice:      taxFor(items, rate.TaxRateBps),
	}
	totals.TotalPrice = totals.ItemsPrice + totals.ShippingPrice + totals.TaxPrice
	return totals, nil
}

// lookupRate resolves the destination region, falling back to the
// catch-all Default row when the region has no dedicated rate.
func (s *pricingService) lookupRate(ctx context.Context, region string) (ShippingRate, error) {
	if region != "" && region != domain.DefaultShippingRegion {
		rate, err := s.rates.FindByRegion(ctx, region)
		if err == nil {
			return rate, nil
		}
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			return ShippingRate{}, ErrPricingUnavailable
		}
	}

	rate, err := s.rates.FindByRegion(ctx, domain.DefaultShippingRegion)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			s.logger(ctx, "pricing.default_rate_missing", map[string]any{"region": region})
			return ShippingRate{}, fmt.Errorf("%w: no rate for region %q and no Default row", ErrPricingRateNotFound, region)
		}
		return ShippingRate{}, ErrPricingUnavailable
	}
	return rate, nil
}

// taxFor applies a basis-point rate with half-up rounding in integer space.
func taxFor(amount, rateBps int64) int64 {
	if amount <= 0 || rateBps <= 0 {
		return 0
	}
	return (amount*rateBps + 5000) / 10000
}
