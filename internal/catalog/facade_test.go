package catalog

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/bontafix/equipsearch/internal/models"
)

type fakeSearchStore struct {
	got    *models.SearchQuery
	result *models.SearchResult
	err    error
}

func (s *fakeSearchStore) SearchEquipment(_ context.Context, q *models.SearchQuery) (*models.SearchResult, error) {
	s.got = q
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func TestFacade_AppliesLimitDefault(t *testing.T) {
	store := &fakeSearchStore{result: &models.SearchResult{Total: 3, UsedStrategy: models.StrategyFTS}}
	f := NewFacade(store, nil, zap.NewNop().Sugar())

	tests := []struct {
		limit int
		want  int
	}{
		{0, 10},
		{-5, 10},
		{25, 25},
		{100, 100},
		{500, 100},
	}
	for _, tt := range tests {
		_, err := f.SearchEquipment(context.Background(), &models.SearchQuery{Text: "кран", Limit: tt.limit})
		if err != nil {
			t.Fatalf("limit %d: %v", tt.limit, err)
		}
		if store.got.Limit != tt.want {
			t.Errorf("limit %d passed to store as %d, want %d", tt.limit, store.got.Limit, tt.want)
		}
	}
}

func TestFacade_StripsEmptyFilters(t *testing.T) {
	store := &fakeSearchStore{result: &models.SearchResult{Total: 1, UsedStrategy: models.StrategyMixed}}
	f := NewFacade(store, nil, zap.NewNop().Sugar())

	in := &models.SearchQuery{
		Text:     "  автокран 25 тонн  ",
		Category: "   ",
		Brand:    " Liebherr ",
		Region:   "\t",
	}
	if _, err := f.SearchEquipment(context.Background(), in); err != nil {
		t.Fatal(err)
	}

	if store.got.Text != "автокран 25 тонн" {
		t.Errorf("text = %q", store.got.Text)
	}
	if store.got.Category != "" || store.got.Region != "" {
		t.Errorf("blank filters survived: %+v", store.got)
	}
	if store.got.Brand != "Liebherr" {
		t.Errorf("brand = %q", store.got.Brand)
	}
	// The caller's query is not mutated.
	if in.Text != "  автокран 25 тонн  " || in.Limit != 0 {
		t.Errorf("input query mutated: %+v", in)
	}
}

func TestFacade_SuggestionsOnEmptyResult(t *testing.T) {
	cache := builtCache(t, testStore())
	store := &fakeSearchStore{result: &models.SearchResult{Total: 0, UsedStrategy: models.StrategyFTS}}
	f := NewFacade(store, cache, zap.NewNop().Sugar())

	res, err := f.SearchEquipment(context.Background(), &models.SearchQuery{Category: "экскватор"})
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"Экскаватор"}; !reflect.DeepEqual(res.Suggestions, want) {
		t.Errorf("suggestions = %v, want %v", res.Suggestions, want)
	}

	// Text seeds the suggestion lookup when no category filter is present.
	res, err = f.SearchEquipment(context.Background(), &models.SearchQuery{Text: "погрузчик"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Suggestions) == 0 {
		t.Error("expected suggestions seeded from text")
	}
}

func TestFacade_NoSuggestionsWhenResultsExist(t *testing.T) {
	cache := builtCache(t, testStore())
	store := &fakeSearchStore{result: &models.SearchResult{Total: 4, UsedStrategy: models.StrategyFTS}}
	f := NewFacade(store, cache, zap.NewNop().Sugar())

	res, err := f.SearchEquipment(context.Background(), &models.SearchQuery{Category: "экскватор"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Suggestions != nil {
		t.Errorf("suggestions on non-empty result: %v", res.Suggestions)
	}
}

func TestFacade_StoreErrorPropagates(t *testing.T) {
	storeErr := errors.New("connection refused")
	store := &fakeSearchStore{err: storeErr}
	f := NewFacade(store, nil, zap.NewNop().Sugar())

	_, err := f.SearchEquipment(context.Background(), &models.SearchQuery{Text: "кран"})
	if !errors.Is(err, storeErr) {
		t.Errorf("err = %v, want %v", err, storeErr)
	}
}
