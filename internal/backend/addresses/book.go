package addresses

import (
	"context"

	"github.com/fjod/go_storefront/internal/domain"
)

// Book validates addresses before they reach the repository.
type Book struct {
	repo Repository
}

func NewBook(repo Repository) *Book {
	return &Book{repo: repo}
}

func (b *Book) List(ctx context.Context, userID string) ([]domain.Address, error) {
	return b.repo.List(ctx, userID)
}

// Create returns a *domain.AddressError when required fields are missing.
func (b *Book) Create(ctx context.Context, userID string, a domain.Address) (domain.Address, error) {
	if err := a.Validate(); err != nil {
		return domain.Address{}, err
	}
	return b.repo.Create(ctx, userID, a.Normalize())
}
