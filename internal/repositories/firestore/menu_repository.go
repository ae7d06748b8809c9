package firestore

import (
	"context"
	"errors"

	domain "github.com/tomato-food/api/internal/domain"
	pfirestore "github.com/tomato-food/api/internal/platform/firestore"
	"github.com/tomato-food/api/internal/repositories"
)

const menuCollection = "menu"

// MenuRepository reads menu items for order snapshots.
type MenuRepository struct {
	base *pfirestore.BaseRepository[menuDocument]
}

var _ repositories.MenuRepository = (*MenuRepository)(nil)

type menuDocument struct {
	Name        string `firestore:"name"`
	Price       int64  `firestore:"price"`
	Category    string `firestore:"category"`
	ImageURL    string `firestore:"imageUrl"`
	Description string `firestore:"description"`
	Available   *bool  `firestore:"available"`
}

// NewMenuRepository constructs a Firestore-backed menu repository.
func NewMenuRepository(provider *pfirestore.Provider) (*MenuRepository, error) {
	if provider == nil {
		return nil, errors.New("menu repository requires firestore provider")
	}
	return &MenuRepository{base: pfirestore.NewBaseRepository[menuDocument](provider, menuCollection)}, nil
}

// FindByIDs returns the menu items that exist among ids, keyed by id.
func (r *MenuRepository) FindByIDs(ctx context.Context, ids []string) (map[string]domain.MenuItem, error) {
	docs, err := r.base.GetAll(ctx, ids)
	if err != nil {
		return nil, err
	}
	items := make(map[string]domain.MenuItem, len(docs))
	for _, doc := range docs {
		available := doc.Data.Available == nil || *doc.Data.Available
		items[doc.ID] = domain.MenuItem{
			ID:          doc.ID,
			Name:        doc.Data.Name,
			Price:       doc.Data.Price,
			Category:    doc.Data.Category,
			ImageURL:    doc.Data.ImageURL,
			Description: doc.Data.Description,
			Available:   available,
		}
	}
	return items, nil
}
