package catalog

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bontafix/equipsearch/internal/storage"
)

type fakeStatsStore struct {
	categories []storage.NameCount
	brands     []storage.NameCount
	regions    []storage.NameCount
	params     map[string][]storage.NameCount
	total      int
	err        error
}

func (s *fakeStatsStore) CategoryStats(context.Context) ([]storage.NameCount, error) {
	return s.categories, s.err
}

func (s *fakeStatsStore) BrandStats(context.Context) ([]storage.NameCount, error) {
	return s.brands, s.err
}

func (s *fakeStatsStore) RegionStats(context.Context) ([]storage.NameCount, error) {
	return s.regions, s.err
}

func (s *fakeStatsStore) CountActive(context.Context) (int, error) {
	return s.total, s.err
}

func (s *fakeStatsStore) ParameterNames(_ context.Context, category string) ([]storage.NameCount, error) {
	return s.params[category], s.err
}

func testStore() *fakeStatsStore {
	return &fakeStatsStore{
		categories: []storage.NameCount{
			{Name: "Погрузчик", Count: 12},
			{Name: "Экскаватор", Count: 40},
			{Name: "Бульдозер", Count: 7},
		},
		brands: []storage.NameCount{
			{Name: "Komatsu", Count: 20},
			{Name: "Hitachi", Count: 25},
		},
		regions: []storage.NameCount{{Name: "Москва", Count: 30}},
		params: map[string][]storage.NameCount{
			"Экскаватор": {
				{Name: "объем_ковша", Count: 35},
				{Name: "масса", Count: 30},
				{Name: "глубина_копания", Count: 12},
			},
			"Погрузчик": {
				{Name: "грузоподъемность", Count: 11},
			},
		},
		total: 59,
	}
}

func builtCache(t *testing.T, store storage.StatsStore) *Cache {
	t.Helper()
	c := NewCache(store, CacheOptions{}, zap.NewNop().Sugar())
	if err := c.BuildIndex(context.Background()); err != nil {
		t.Fatalf("building index: %v", err)
	}
	return c
}

func TestCache_NotReadyProjections(t *testing.T) {
	c := NewCache(testStore(), CacheOptions{}, zap.NewNop().Sugar())

	if c.Snapshot() != nil {
		t.Error("snapshot should be nil before first build")
	}
	if got := c.PopularCategories(5); got != nil {
		t.Errorf("PopularCategories on empty cache = %v, want nil", got)
	}
	if c.CategoryExists("Экскаватор") {
		t.Error("CategoryExists should be false before first build")
	}
	if got := c.FindSimilarCategories("кран", 3); got != nil {
		t.Errorf("FindSimilarCategories on empty cache = %v, want nil", got)
	}
	if c.SnapshotAge() != 0 {
		t.Errorf("SnapshotAge on empty cache = %v, want 0", c.SnapshotAge())
	}
}

func TestCache_BuildIndexSortsByCount(t *testing.T) {
	c := builtCache(t, testStore())

	idx := c.Snapshot()
	if idx == nil {
		t.Fatal("snapshot missing after build")
	}
	if idx.TotalActive != 59 {
		t.Errorf("TotalActive = %d, want 59", idx.TotalActive)
	}

	got := c.CategoriesForPrompt(2)
	want := []string{"Экскаватор", "Погрузчик"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CategoriesForPrompt(2) = %v, want %v", got, want)
	}

	brands := c.PopularBrands(10)
	if len(brands) != 2 || brands[0].Name != "Hitachi" {
		t.Errorf("PopularBrands = %v, want Hitachi first", brands)
	}
}

func TestCache_BuildFailureKeepsSnapshot(t *testing.T) {
	store := testStore()
	c := builtCache(t, store)
	first := c.Snapshot()

	store.err = errors.New("mysql gone")
	if err := c.BuildIndex(context.Background()); err == nil {
		t.Fatal("expected build error")
	}
	if c.Snapshot() != first {
		t.Error("failed build must not replace the published snapshot")
	}
}

func TestCache_RebuildReplacesSnapshot(t *testing.T) {
	store := testStore()
	c := builtCache(t, store)
	first := c.Snapshot()

	store.categories = append(store.categories, storage.NameCount{Name: "Автокран", Count: 50})
	store.total = 109
	if err := c.BuildIndex(context.Background()); err != nil {
		t.Fatalf("rebuilding: %v", err)
	}

	second := c.Snapshot()
	if second == first {
		t.Fatal("rebuild must publish a new snapshot")
	}
	if second.TotalActive != 109 {
		t.Errorf("TotalActive = %d, want 109", second.TotalActive)
	}
	if first.TotalActive != 59 {
		t.Error("previous snapshot was mutated")
	}
}

func TestCache_ParameterHints(t *testing.T) {
	c := builtCache(t, testStore())

	hints := c.ParameterHints(2, 2)
	want := map[string][]string{
		"Экскаватор": {"объем_ковша", "масса"},
		"Погрузчик":  {"грузоподъемность"},
	}
	if !reflect.DeepEqual(hints, want) {
		t.Errorf("ParameterHints = %v, want %v", hints, want)
	}

	// Only the top categories are queried during the build.
	if got := c.ParameterHints(1, 10); len(got) != 1 || got["Экскаватор"] == nil {
		t.Errorf("ParameterHints(1, 10) = %v", got)
	}

	empty := NewCache(testStore(), CacheOptions{}, zap.NewNop().Sugar())
	if got := empty.ParameterHints(5, 5); got != nil {
		t.Errorf("hints on empty cache = %v, want nil", got)
	}
}

func TestCache_CategoryExistsNormalizes(t *testing.T) {
	store := testStore()
	store.categories = append(store.categories, storage.NameCount{Name: "Подъёмник", Count: 3})
	c := builtCache(t, store)

	tests := []struct {
		name string
		want bool
	}{
		{"Экскаватор", true},
		{"экскаватор", true},
		{"  ЭКСКАВАТОР  ", true},
		{"подъемник", true},
		{"ПодъЁмник", true},
		{"кран", false},
	}
	for _, tt := range tests {
		if got := c.CategoryExists(tt.name); got != tt.want {
			t.Errorf("CategoryExists(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCache_FindSimilarCategories(t *testing.T) {
	c := builtCache(t, testStore())

	tests := []struct {
		qry  string
		want []string
	}{
		// One dropped letter stays within the edit distance threshold.
		{"экскватор", []string{"Экскаватор"}},
		// Substring match in either direction comes first.
		{"погруз", []string{"Погрузчик"}},
		{"мини-погрузчик", []string{"Погрузчик"}},
		// Nothing in the catalog is close.
		{"банан", nil},
		{"", nil},
	}
	for _, tt := range tests {
		got := c.FindSimilarCategories(tt.qry, 3)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("FindSimilarCategories(%q) = %v, want %v", tt.qry, got, tt.want)
		}
	}
}

func TestCache_FindSimilarCategoriesLimit(t *testing.T) {
	store := testStore()
	store.categories = []storage.NameCount{
		{Name: "Кран автомобильный", Count: 10},
		{Name: "Кран башенный", Count: 8},
		{Name: "Кран гусеничный", Count: 5},
	}
	c := builtCache(t, store)

	if got := c.FindSimilarCategories("кран", 2); len(got) != 2 {
		t.Errorf("limit 2 returned %v", got)
	}
	if got := c.FindSimilarCategories("кран", 0); got != nil {
		t.Errorf("limit 0 returned %v", got)
	}
}

func TestCache_StartStop(t *testing.T) {
	c := NewCache(testStore(), CacheOptions{RefreshInterval: time.Hour}, zap.NewNop().Sugar())
	c.Start(context.Background())

	if c.Snapshot() == nil {
		t.Error("Start should build the first snapshot")
	}

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
