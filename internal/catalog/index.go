// Package catalog maintains a background-refreshed snapshot of catalog
// statistics and the search facade over the storage boundary.
package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bontafix/equipsearch/internal/metrics"
	"github.com/bontafix/equipsearch/internal/storage"
)

// Index is a point-in-time aggregation of catalog statistics. It is
// read-only once published; refresh replaces the whole snapshot.
type Index struct {
	Categories  []storage.NameCount
	Brands      []storage.NameCount
	Regions     []storage.NameCount
	TotalActive int
	BuiltAt     time.Time

	// ParameterNames is the parameter dictionary for the most populated
	// categories: parameter name with usage count, keyed by category.
	ParameterNames map[string][]storage.NameCount
}

// paramDictCategories bounds the per-category dictionary queries run on
// each refresh.
const paramDictCategories = 5

// CacheOptions tunes refresh and fuzzy matching. The edit-distance
// threshold and containment score are inherited defaults that work
// reasonably for Russian equipment-category strings; both are configurable
// rather than derived.
type CacheOptions struct {
	RefreshInterval  time.Duration
	MaxEditDistance  int
	ContainmentScore float64
}

func (o *CacheOptions) fill() {
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 5 * time.Minute
	}
	if o.MaxEditDistance <= 0 {
		o.MaxEditDistance = 3
	}
	if o.ContainmentScore <= 0 {
		o.ContainmentScore = 0.92
	}
}

// Cache publishes immutable Index snapshots. Readers take the current
// snapshot without locking; the refresh task only ever swaps in a new one.
type Cache struct {
	store  storage.StatsStore
	logger *zap.SugaredLogger
	opts   CacheOptions

	snapshot   atomic.Pointer[Index]
	refreshing atomic.Bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewCache creates a cache without building an index yet. Call Start (or
// BuildIndex) to populate it.
func NewCache(store storage.StatsStore, opts CacheOptions, logger *zap.SugaredLogger) *Cache {
	opts.fill()
	return &Cache{
		store:  store,
		logger: logger,
		opts:   opts,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start builds the first snapshot and launches the periodic refresh. A
// failed initial build is logged, not fatal: projections stay empty until
// the next successful refresh.
func (c *Cache) Start(ctx context.Context) {
	if err := c.BuildIndex(ctx); err != nil {
		c.logger.Warnw("initial catalog index build failed", "error", err)
	}
	go c.refreshLoop()
}

// Stop terminates the refresh loop and waits for it to exit.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Cache) refreshLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.RefreshInterval)
			if err := c.BuildIndex(ctx); err != nil {
				// Stale-but-available beats unavailable: the previous
				// snapshot stays published.
				c.logger.Warnw("catalog index refresh failed, keeping previous snapshot",
					"error", err, "snapshot_age", c.SnapshotAge())
			}
			cancel()
		}
	}
}

// BuildIndex runs the aggregation queries and atomically publishes a new
// snapshot. Concurrent builds are collapsed: a build that finds another one
// outstanding returns immediately.
func (c *Cache) BuildIndex(ctx context.Context) error {
	if !c.refreshing.CompareAndSwap(false, true) {
		return nil
	}
	defer c.refreshing.Store(false)

	categories, err := c.store.CategoryStats(ctx)
	if err != nil {
		return err
	}
	brands, err := c.store.BrandStats(ctx)
	if err != nil {
		return err
	}
	regions, err := c.store.RegionStats(ctx)
	if err != nil {
		return err
	}
	total, err := c.store.CountActive(ctx)
	if err != nil {
		return err
	}

	idx := &Index{
		Categories:  categories,
		Brands:      brands,
		Regions:     regions,
		TotalActive: total,
		BuiltAt:     time.Now(),
	}
	sort.SliceStable(idx.Categories, func(i, j int) bool { return idx.Categories[i].Count > idx.Categories[j].Count })
	sort.SliceStable(idx.Brands, func(i, j int) bool { return idx.Brands[i].Count > idx.Brands[j].Count })

	idx.ParameterNames = make(map[string][]storage.NameCount, paramDictCategories)
	for i, cat := range idx.Categories {
		if i >= paramDictCategories {
			break
		}
		names, err := c.store.ParameterNames(ctx, cat.Name)
		if err != nil {
			return err
		}
		if len(names) > 0 {
			idx.ParameterNames[cat.Name] = names
		}
	}

	c.snapshot.Store(idx)
	metrics.RecordIndexSnapshot(total, idx.BuiltAt)
	c.logger.Infow("catalog index published",
		"categories", len(categories), "brands", len(brands), "regions", len(regions), "total_active", total)
	return nil
}

// Snapshot returns the current index, or nil when none has been built.
func (c *Cache) Snapshot() *Index {
	return c.snapshot.Load()
}

// SnapshotAge returns how old the published snapshot is, zero when none.
func (c *Cache) SnapshotAge() time.Duration {
	idx := c.snapshot.Load()
	if idx == nil {
		return 0
	}
	return time.Since(idx.BuiltAt)
}

// PopularCategories returns up to limit category names by item count.
// Callers must treat an empty result as "index not ready", never an error.
func (c *Cache) PopularCategories(limit int) []storage.NameCount {
	return topOf(c.snapshot.Load(), limit, func(i *Index) []storage.NameCount { return i.Categories })
}

// PopularBrands returns up to limit brand names by item count.
func (c *Cache) PopularBrands(limit int) []storage.NameCount {
	return topOf(c.snapshot.Load(), limit, func(i *Index) []storage.NameCount { return i.Brands })
}

// CategoryExists reports whether name matches a known category,
// normalization-insensitively. False when the index is not ready.
func (c *Cache) CategoryExists(name string) bool {
	idx := c.snapshot.Load()
	if idx == nil {
		return false
	}
	needle := normalize(name)
	for _, cat := range idx.Categories {
		if normalize(cat.Name) == needle {
			return true
		}
	}
	return false
}

// CategoriesForPrompt returns category names for grounding the system
// prompt, most populated first.
func (c *Cache) CategoriesForPrompt(limit int) []string {
	top := c.PopularCategories(limit)
	names := make([]string, 0, len(top))
	for _, nc := range top {
		names = append(names, nc.Name)
	}
	return names
}

// ParameterHints returns the most used parameter names for the most
// populated categories, for grounding the system prompt. Nil when the
// index is not ready.
func (c *Cache) ParameterHints(categoryLimit, paramLimit int) map[string][]string {
	idx := c.snapshot.Load()
	if idx == nil || categoryLimit <= 0 || paramLimit <= 0 {
		return nil
	}
	hints := make(map[string][]string)
	for i, cat := range idx.Categories {
		if i >= categoryLimit {
			break
		}
		names := idx.ParameterNames[cat.Name]
		if len(names) > paramLimit {
			names = names[:paramLimit]
		}
		for _, nc := range names {
			hints[cat.Name] = append(hints[cat.Name], nc.Name)
		}
	}
	if len(hints) == 0 {
		return nil
	}
	return hints
}

// FindSimilarCategories suggests category names close to the query. The
// first pass takes case-insensitive substring matches in either direction;
// if fewer than limit are found, a second pass adds names within the edit
// distance threshold, best score first.
func (c *Cache) FindSimilarCategories(qry string, limit int) []string {
	idx := c.snapshot.Load()
	if idx == nil || limit <= 0 {
		return nil
	}
	needle := normalize(qry)
	if needle == "" {
		return nil
	}

	var out []string
	seen := make(map[string]bool, limit)
	for _, cat := range idx.Categories {
		if len(out) >= limit {
			return out
		}
		name := normalize(cat.Name)
		if strings.Contains(name, needle) || strings.Contains(needle, name) {
			out = append(out, cat.Name)
			seen[cat.Name] = true
		}
	}
	if len(out) >= limit {
		return out
	}

	type scored struct {
		name  string
		score float64
	}
	var candidates []scored
	for _, cat := range idx.Categories {
		if seen[cat.Name] {
			continue
		}
		name := normalize(cat.Name)
		if dist := levenshtein(needle, name); dist <= c.opts.MaxEditDistance {
			candidates = append(candidates, scored{name: cat.Name, score: c.similarity(needle, name, dist)})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	for _, cand := range candidates {
		if len(out) >= limit {
			break
		}
		out = append(out, cand.name)
	}
	return out
}

// similarity scores a fuzzy candidate for ordering. Full token containment
// takes the configured shortcut score; otherwise the score decays with
// distance relative to the longer string.
func (c *Cache) similarity(needle, name string, dist int) float64 {
	for _, token := range strings.Fields(name) {
		if token != "" && strings.Contains(needle, token) {
			return c.opts.ContainmentScore
		}
	}
	longest := len([]rune(needle))
	if l := len([]rune(name)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(dist)/float64(longest)
}

func topOf(idx *Index, limit int, pick func(*Index) []storage.NameCount) []storage.NameCount {
	if idx == nil || limit <= 0 {
		return nil
	}
	items := pick(idx)
	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]storage.NameCount, len(items))
	copy(out, items)
	return out
}
