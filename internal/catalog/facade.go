package catalog

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/bontafix/equipsearch/internal/models"
	"github.com/bontafix/equipsearch/internal/storage"
)

const defaultLimit = 10

// Facade is the boundary to the storage search engine. It normalizes a
// validated query and tags the result with the strategy the engine used;
// it never builds SQL itself.
type Facade struct {
	store  storage.SearchStore
	cache  *Cache
	logger *zap.SugaredLogger
}

// NewFacade creates the search boundary. The cache may be nil; suggestions
// on empty results are skipped then.
func NewFacade(store storage.SearchStore, cache *Cache, logger *zap.SugaredLogger) *Facade {
	return &Facade{store: store, cache: cache, logger: logger}
}

// SearchEquipment applies pagination defaults, strips empty filter fields
// and delegates to the storage engine. An empty result set comes back with
// fuzzy category suggestions so the UI can offer corrections.
func (f *Facade) SearchEquipment(ctx context.Context, q *models.SearchQuery) (*models.SearchResult, error) {
	normalized := *q
	normalized.Text = strings.TrimSpace(normalized.Text)
	normalized.Category = strings.TrimSpace(normalized.Category)
	normalized.Subcategory = strings.TrimSpace(normalized.Subcategory)
	normalized.Brand = strings.TrimSpace(normalized.Brand)
	normalized.Region = strings.TrimSpace(normalized.Region)
	switch {
	case normalized.Limit <= 0:
		normalized.Limit = defaultLimit
	case normalized.Limit > 100:
		normalized.Limit = 100
	}

	result, err := f.store.SearchEquipment(ctx, &normalized)
	if err != nil {
		return nil, err
	}

	if result.Total == 0 && f.cache != nil {
		seed := normalized.Category
		if seed == "" {
			seed = normalized.Text
		}
		if seed != "" {
			result.Suggestions = f.cache.FindSimilarCategories(seed, 3)
		}
	}

	f.logger.Debugw("equipment search executed",
		"strategy", result.UsedStrategy, "total", result.Total, "limit", normalized.Limit)
	return result, nil
}
