// Package mysql implements the storage contracts over a MySQL catalog
// schema. Every query is parameterized; user-derived values never reach
// the SQL text.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/bontafix/equipsearch/internal/models"
	"github.com/bontafix/equipsearch/internal/query"
	"github.com/bontafix/equipsearch/internal/storage"
)

// Store implements storage.SearchStore and storage.StatsStore.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// Open connects to the catalog database and verifies the connection.
func Open(dsn string, logger *zap.SugaredLogger) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening mysql: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging mysql: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// NewStore wraps an existing connection pool, mainly for tests.
func NewStore(db *sql.DB, logger *zap.SugaredLogger) *Store {
	return &Store{db: db, logger: logger}
}

func (s *Store) Close() error { return s.db.Close() }

// SearchEquipment runs a full-text ranked query when free text is present
// and a plain filtered query otherwise.
func (s *Store) SearchEquipment(ctx context.Context, q *models.SearchQuery) (*models.SearchResult, error) {
	where, args, ranked := buildPredicates(q)

	countQuery := "SELECT COUNT(*) FROM equipment" + where
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting equipment: %w", err)
	}

	selectQuery := "SELECT id, name, category, brand, price, parameters FROM equipment" + where
	if ranked {
		selectQuery += " ORDER BY MATCH(name, description) AGAINST (? IN NATURAL LANGUAGE MODE) DESC"
		args = append(args, q.Text)
	} else {
		selectQuery += " ORDER BY name"
	}
	selectQuery += " LIMIT ?"
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("searching equipment: %w", err)
	}
	defer rows.Close()

	items := make([]models.EquipmentSummary, 0, q.Limit)
	for rows.Next() {
		var (
			item   models.EquipmentSummary
			brand  sql.NullString
			price  sql.NullFloat64
			params sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.Name, &item.Category, &brand, &price, &params); err != nil {
			return nil, fmt.Errorf("scanning equipment row: %w", err)
		}
		item.Brand = brand.String
		if price.Valid {
			item.Price = price.Float64
		}
		if params.Valid && params.String != "" {
			var m map[string]any
			if err := json.Unmarshal([]byte(params.String), &m); err != nil {
				s.logger.Warnw("unreadable parameters JSON", "id", item.ID, "error", err)
			} else {
				item.MainParameters = m
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading equipment rows: %w", err)
	}

	strategy := models.StrategyFTS
	if ranked && hasFilters(q) {
		strategy = models.StrategyMixed
	}
	return &models.SearchResult{Items: items, Total: total, UsedStrategy: strategy}, nil
}

// buildPredicates renders the WHERE clause for a validated query. ranked
// reports whether a full-text score participates.
func buildPredicates(q *models.SearchQuery) (where string, args []any, ranked bool) {
	clauses := []string{"is_active = 1"}

	if q.Text != "" {
		clauses = append(clauses, "MATCH(name, description) AGAINST (? IN NATURAL LANGUAGE MODE)")
		args = append(args, q.Text)
		ranked = true
	}
	for _, f := range []struct {
		column string
		value  string
	}{
		{"category", q.Category},
		{"subcategory", q.Subcategory},
		{"brand", q.Brand},
		{"region", q.Region},
	} {
		if f.value != "" {
			clauses = append(clauses, f.column+" = ?")
			args = append(args, f.value)
		}
	}

	for name, value := range q.Parameters {
		canonical := query.CanonicalKey(name)
		base, suffix := query.SplitRangeSuffix(canonical)
		path := "$." + base

		switch v := value.(type) {
		case float64:
			converted := query.ConvertValue(base, v)
			expr := "CAST(JSON_UNQUOTE(JSON_EXTRACT(parameters, ?)) AS DECIMAL(18,4))"
			switch suffix {
			case "_min":
				clauses = append(clauses, expr+" >= ?")
			case "_max":
				clauses = append(clauses, expr+" <= ?")
			default:
				clauses = append(clauses, expr+" = ?")
			}
			args = append(args, path, converted)
		case string:
			clauses = append(clauses, "JSON_UNQUOTE(JSON_EXTRACT(parameters, ?)) = ?")
			args = append(args, path, v)
		}
	}

	return " WHERE " + strings.Join(clauses, " AND "), args, ranked
}

func hasFilters(q *models.SearchQuery) bool {
	return q.Category != "" || q.Subcategory != "" || q.Brand != "" ||
		q.Region != "" || len(q.Parameters) > 0
}

// CategoryStats returns (category, active item count) pairs.
func (s *Store) CategoryStats(ctx context.Context) ([]storage.NameCount, error) {
	return s.nameCounts(ctx,
		"SELECT category, COUNT(*) FROM equipment WHERE is_active = 1 AND category <> '' GROUP BY category ORDER BY COUNT(*) DESC")
}

// BrandStats returns (brand, active item count) pairs.
func (s *Store) BrandStats(ctx context.Context) ([]storage.NameCount, error) {
	return s.nameCounts(ctx,
		"SELECT brand, COUNT(*) FROM equipment WHERE is_active = 1 AND brand <> '' GROUP BY brand ORDER BY COUNT(*) DESC")
}

// RegionStats returns (region, active item count) pairs.
func (s *Store) RegionStats(ctx context.Context) ([]storage.NameCount, error) {
	return s.nameCounts(ctx,
		"SELECT region, COUNT(*) FROM equipment WHERE is_active = 1 AND region <> '' GROUP BY region ORDER BY COUNT(*) DESC")
}

// CountActive returns the total number of active catalog items.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM equipment WHERE is_active = 1").Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("counting active equipment: %w", err)
	}
	return total, nil
}

// ParameterNames returns distinct parameter-dictionary keys used within a
// category, with usage counts.
func (s *Store) ParameterNames(ctx context.Context, category string) ([]storage.NameCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT jt.name, COUNT(*)
		FROM equipment e
		CROSS JOIN JSON_TABLE(JSON_KEYS(e.parameters), '$[*]' COLUMNS (name VARCHAR(100) PATH '$')) jt
		WHERE e.is_active = 1 AND e.category = ?
		GROUP BY jt.name
		ORDER BY COUNT(*) DESC`, category)
	if err != nil {
		return nil, fmt.Errorf("querying parameter names: %w", err)
	}
	defer rows.Close()
	return scanNameCounts(rows)
}

func (s *Store) nameCounts(ctx context.Context, sqlText string) ([]storage.NameCount, error) {
	rows, err := s.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("querying catalog stats: %w", err)
	}
	defer rows.Close()
	return scanNameCounts(rows)
}

func scanNameCounts(rows *sql.Rows) ([]storage.NameCount, error) {
	var out []storage.NameCount
	for rows.Next() {
		var nc storage.NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, fmt.Errorf("scanning stats row: %w", err)
		}
		out = append(out, nc)
	}
	return out, rows.Err()
}
