package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/tomato-food/api/internal/platform/firestore"
	"github.com/tomato-food/api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository clears customer carts stored as one document per customer.
type CartRepository struct {
	base  *pfirestore.BaseRepository[cartDocument]
	clock func() time.Time
}

var _ repositories.CartRepository = (*CartRepository)(nil)

type cartDocument struct {
	Items     map[string]int `firestore:"items"`
	UpdatedAt time.Time      `firestore:"updatedAt"`
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		base:  pfirestore.NewBaseRepository[cartDocument](provider, cartCollection),
		clock: time.Now,
	}, nil
}

// ClearCart empties the customer's cart. A customer without a cart document is already clear.
func (r *CartRepository) ClearCart(ctx context.Context, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	err := r.base.Update(ctx, customerID, []firestore.Update{
		{Path: "items", Value: map[string]int{}},
		{Path: "updatedAt", Value: r.clock().UTC()},
	})
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return nil
	}
	return err
}
