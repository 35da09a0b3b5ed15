package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/clovermart/api/internal/domain"
	pfirestore "github.com/clovermart/api/internal/platform/firestore"
	"github.com/clovermart/api/internal/repositories"
)

const shippingRatesCollection = "shippingRates"

type shippingRateDocument struct {
	ShippingPrice int64     `firestore:"shippingPrice"`
	TaxRateBps    int64     `firestore:"taxRateBps"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

// ShippingRateRepository reads the region rate table. Documents are
// keyed by region name, including the fallback row.
type ShippingRateRepository struct {
	base *pfirestore.BaseRepository[shippingRateDocument]
}

// NewShippingRateRepository constructs a Firestore-backed rate repository.
func NewShippingRateRepository(provider *pfirestore.Provider) (*ShippingRateRepository, error) {
	if provider == nil {
		return nil, errors.New("shipping rate repository requires firestore provider")
	}
	return &ShippingRateRepository{
		base: pfirestore.NewBaseRepository[shippingRateDocument](provider, shippingRatesCollection, nil),
	}, nil
}

// FindByRegion loads the rate row for the exact region name. Falling
// back to the default region is the pricing service's decision.
func (r *ShippingRateRepository) FindByRegion(ctx context.Context, region string) (domain.ShippingRate, error) {
	if r == nil || r.base == nil {
		return domain.ShippingRate{}, errors.New("shipping rate repository not initialised")
	}
	name := strings.TrimSpace(region)
	if name == "" {
		return domain.ShippingRate{}, errors.New("shipping rate repository: region is required")
	}

	doc, err := r.base.Get(ctx, name)
	if err != nil {
		return domain.ShippingRate{}, err
	}
	return domain.ShippingRate{
		Region:        doc.ID,
		ShippingPrice: doc.Data.ShippingPrice,
		TaxRateBps:    doc.Data.TaxRateBps,
		UpdatedAt:     doc.UpdateTime,
	}, nil
}

var _ repositories.ShippingRateRepository = (*ShippingRateRepository)(nil)
