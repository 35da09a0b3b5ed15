package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/clovermart/api/internal/domain"
	pfirestore "github.com/clovermart/api/internal/platform/firestore"
	"github.com/clovermart/api/internal/repositories"
)

const usersCollection = "users"

type userDocument struct {
	Name                 string           `firestore:"name,omitempty"`
	Email                string           `firestore:"email,omitempty"`
	DefaultAddress       *addressDocument `firestore:"defaultAddress,omitempty"`
	DefaultPaymentMethod string           `firestore:"defaultPaymentMethod,omitempty"`
	CreatedAt            time.Time        `firestore:"createdAt"`
	UpdatedAt            time.Time        `firestore:"updatedAt"`
}

// UserRepository stores user profiles and their checkout defaults.
type UserRepository struct {
	base *pfirestore.BaseRepository[userDocument]
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{
		base: pfirestore.NewBaseRepository[userDocument](provider, usersCollection, nil),
	}, nil
}

// FindByID loads a user profile.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.UserProfile, error) {
	if r == nil || r.base == nil {
		return domain.UserProfile{}, errors.New("user repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.UserProfile{}, errors.New("user repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.UserProfile{}, err
	}
	return userFromDocument(doc), nil
}

// UpdateProfile merges the checkout defaults onto the profile document,
// creating it when the user has never checked out before.
func (r *UserRepository) UpdateProfile(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	if r == nil || r.base == nil {
		return domain.UserProfile{}, errors.New("user repository not initialised")
	}
	uid := strings.TrimSpace(profile.ID)
	if uid == "" {
		return domain.UserProfile{}, errors.New("user repository: user id is required")
	}

	now := profile.UpdatedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	payload := map[string]any{
		"updatedAt": now,
	}
	if name := strings.TrimSpace(profile.Name); name != "" {
		payload["name"] = name
	}
	if email := strings.TrimSpace(profile.Email); email != "" {
		payload["email"] = email
	}
	if method := strings.TrimSpace(profile.DefaultPaymentMethod); method != "" {
		payload["defaultPaymentMethod"] = method
	}
	if profile.DefaultAddress != nil && !profile.DefaultAddress.IsZero() {
		payload["defaultAddress"] = addressToDocument(*profile.DefaultAddress)
	}
	if !profile.CreatedAt.IsZero() {
		payload["createdAt"] = profile.CreatedAt.UTC()
	}

	ref, err := r.base.DocumentRef(ctx, uid)
	if err != nil {
		return domain.UserProfile{}, err
	}
	if _, err := ref.Set(ctx, payload, firestore.MergeAll); err != nil {
		return domain.UserProfile{}, pfirestore.WrapError("users.update", err)
	}
	return r.FindByID(ctx, uid)
}

func addressToDocument(addr domain.Address) *addressDocument {
	return &addressDocument{
		FullName:   addr.FullName,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		Region:     addr.Region,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
	}
}

func addressFromDocument(doc *addressDocument) *domain.Address {
	if doc == nil {
		return nil
	}
	return &domain.Address{
		FullName:   doc.FullName,
		Line1:      doc.Line1,
		Line2:      doc.Line2,
		City:       doc.City,
		Region:     doc.Region,
		PostalCode: doc.PostalCode,
		Country:    doc.Country,
	}
}

func userFromDocument(doc pfirestore.Document[userDocument]) domain.UserProfile {
	return domain.UserProfile{
		ID:                   doc.ID,
		Name:                 doc.Data.Name,
		Email:                doc.Data.Email,
		DefaultAddress:       addressFromDocument(doc.Data.DefaultAddress),
		DefaultPaymentMethod: doc.Data.DefaultPaymentMethod,
		CreatedAt:            doc.Data.CreatedAt,
		UpdatedAt:            doc.UpdateTime,
	}
}

var _ repositories.UserRepository = (*UserRepository)(nil)
