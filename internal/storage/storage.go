// Package storage defines the contracts the search core expects from the
// catalog store. The core never constructs SQL itself; adapters live in
// subpackages.
package storage

import (
	"context"

	"github.com/bontafix/equipsearch/internal/models"
)

// NameCount is one aggregation row: a category, brand or region name with
// its active item count.
type NameCount struct {
	Name  string
	Count int
}

// SearchStore executes validated queries against the catalog and returns a
// ranked result set tagged with the strategy used.
type SearchStore interface {
	SearchEquipment(ctx context.Context, q *models.SearchQuery) (*models.SearchResult, error)
}

// StatsStore serves the aggregation queries behind the catalog index.
type StatsStore interface {
	CategoryStats(ctx context.Context) ([]NameCount, error)
	BrandStats(ctx context.Context) ([]NameCount, error)
	RegionStats(ctx context.Context) ([]NameCount, error)
	CountActive(ctx context.Context) (int, error)

	// ParameterNames returns distinct parameter names with usage counts for
	// one category, for parameter-dictionary grounding.
	ParameterNames(ctx context.Context, category string) ([]NameCount, error)
}
