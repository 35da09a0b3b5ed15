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

type productDocument struct {
	Name      string    `firestore:"name"`
	Slug      string    `firestore:"slug,omitempty"`
	Image     string    `firestore:"image,omitempty"`
	Price     int64     `firestore:"price"`
	Currency  string    `firestore:"currency,omitempty"`
	Stock     int64     `firestore:"stock"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// ProductRepository reads the catalog slice needed by cart and stock flows.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		base: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil),
	}, nil
}

// FindByID loads a single product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID:        doc.ID,
		Name:      doc.Data.Name,
		Slug:      doc.Data.Slug,
		Image:     doc.Data.Image,
		Price:     doc.Data.Price,
		Currency:  doc.Data.Currency,
		Stock:     doc.Data.Stock,
		UpdatedAt: doc.UpdateTime,
	}, nil
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
