package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/open-workshop/workshop-cache/internal/storage"
)

type fakeCatalog struct {
	modFilter  storage.ModFilter
	gameFilter storage.GameFilter
	mods       []storage.Mod
	conditions map[uint64]int
}

func (f *fakeCatalog) ListMods(_ context.Context, filter storage.ModFilter) ([]storage.Mod, int64, error) {
	f.modFilter = filter
	return f.mods, int64(len(f.mods)), nil
}

func (f *fakeCatalog) ListGames(_ context.Context, filter storage.GameFilter) ([]storage.Game, int64, error) {
	f.gameFilter = filter
	return []storage.Game{{ID: 1, Name: "game"}}, 1, nil
}

func (f *fakeCatalog) ListTags(context.Context, storage.TagFilter) ([]storage.Tag, int64, error) {
	return []storage.Tag{{ID: 1, Name: "Maps"}}, 1, nil
}

func (f *fakeCatalog) ListGenres(context.Context, storage.GenreFilter) ([]storage.Genre, int64, error) {
	return nil, 0, nil
}

func (f *fakeCatalog) ListResources(context.Context, storage.ResourceFilter) ([]storage.Resource, int64, error) {
	return nil, 0, nil
}

func (f *fakeCatalog) GetMod(_ context.Context, id uint64) (storage.Mod, error) {
	for _, m := range f.mods {
		if m.ID == id {
			return m, nil
		}
	}
	return storage.Mod{}, storage.ErrNotFound
}

func (f *fakeCatalog) GetGame(context.Context, uint64) (storage.Game, error) {
	return storage.Game{}, storage.ErrNotFound
}

func (f *fakeCatalog) Conditions(_ context.Context, ids []uint64) (map[uint64]int, error) {
	out := make(map[uint64]int)
	for _, id := range ids {
		if c, ok := f.conditions[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (f *fakeCatalog) Counts(context.Context) (storage.Counts, error) {
	return storage.Counts{Mods: int64(len(f.mods))}, nil
}

func ids(n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = uint64(i + 1)
	}
	return out
}

func TestPageSizeBounds(t *testing.T) {
	e := New(&fakeCatalog{})
	testCases := []struct {
		size    int
		wantErr bool
	}{
		{0, true},
		{51, true},
		{1, false},
		{50, false},
	}
	for _, tc := range testCases {
		_, err := e.Mods(context.Background(), ModsRequest{Pagination: Pagination{PageSize: tc.size}})
		if tc.wantErr && !errors.Is(err, ErrPageSize) {
			t.Fatalf("page_size=%d: err = %v, want ErrPageSize", tc.size, err)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("page_size=%d: unexpected error %v", tc.size, err)
		}
	}
}

func TestFilterElementLimit(t *testing.T) {
	e := New(&fakeCatalog{})
	ok := ModsRequest{
		Pagination: Pagination{PageSize: 10},
		Tags:       ids(10),
		Games:      ids(10),
		Sources:    []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"},
	}
	if _, err := e.Mods(context.Background(), ok); err != nil {
		t.Fatalf("30 elements should pass: %v", err)
	}

	over := ok
	over.Games = ids(11)
	if _, err := e.Mods(context.Background(), over); !errors.Is(err, ErrFilterComplexity) {
		t.Fatalf("31 elements: err = %v, want ErrFilterComplexity", err)
	}

	games := GamesRequest{Pagination: Pagination{PageSize: 5}, Genres: ids(20), Types: make([]string, 11)}
	if _, err := e.Games(context.Background(), games); !errors.Is(err, ErrFilterComplexity) {
		t.Fatalf("games filter limit: err = %v", err)
	}
}

func TestSortParsing(t *testing.T) {
	cat := &fakeCatalog{}
	e := New(cat)
	testCases := []struct {
		raw   string
		field string
		desc  bool
	}{
		{"", storage.SortDownloads, true},
		{"NAME", storage.SortName, false},
		{"iNAME", storage.SortName, true},
		{"iMOD_DOWNLOADS", storage.SortDownloads, false},
		{"UPDATE_DATE", storage.SortUpdated, true},
	}
	for _, tc := range testCases {
		if _, err := e.Mods(context.Background(), ModsRequest{Pagination: Pagination{PageSize: 1}, Sort: tc.raw}); err != nil {
			t.Fatalf("sort %q: %v", tc.raw, err)
		}
		if cat.modFilter.Sort.Field != tc.field || cat.modFilter.Sort.Desc != tc.desc {
			t.Fatalf("sort %q = %+v", tc.raw, cat.modFilter.Sort)
		}
	}
	if _, err := e.Mods(context.Background(), ModsRequest{Pagination: Pagination{PageSize: 1}, Sort: "BOGUS"}); !errors.Is(err, ErrUnknownSort) {
		t.Fatalf("unknown sort err = %v", err)
	}
	if _, err := e.Games(context.Background(), GamesRequest{Pagination: Pagination{PageSize: 1}, Sort: "iMODS_COUNT"}); err != nil {
		t.Fatalf("games sort: %v", err)
	}
	if cat.gameFilter.Sort.Field != storage.SortModsCount || cat.gameFilter.Sort.Desc {
		t.Fatalf("games sort = %+v", cat.gameFilter.Sort)
	}
}

func TestPaginationOffset(t *testing.T) {
	cat := &fakeCatalog{}
	e := New(cat)
	if _, err := e.Mods(context.Background(), ModsRequest{Pagination: Pagination{Page: 3, PageSize: 20}}); err != nil {
		t.Fatalf("mods: %v", err)
	}
	if cat.modFilter.Offset != 60 || cat.modFilter.Limit != 20 {
		t.Fatalf("page = %+v", cat.modFilter.Page)
	}
	if _, err := e.Mods(context.Background(), ModsRequest{Pagination: Pagination{Page: -1, PageSize: 20}}); !errors.Is(err, ErrPage) {
		t.Fatalf("negative page err = %v", err)
	}
}

func TestShortDescriptionTruncated(t *testing.T) {
	long := strings.Repeat("я", 300)
	cat := &fakeCatalog{mods: []storage.Mod{{ID: 1, Description: long, ShortDescription: "short"}}}
	e := New(cat)

	res, err := e.Mods(context.Background(), ModsRequest{
		Pagination: Pagination{PageSize: 10},
		Fields:     Fields{Description: true, ShortDescription: true, Short: true},
	})
	if err != nil {
		t.Fatalf("mods: %v", err)
	}
	desc := res.Database[0]["description"].(string)
	if !strings.HasSuffix(desc, "...") || len([]rune(desc)) != ShortLength+3 {
		t.Fatalf("description not truncated: %d runes", len([]rune(desc)))
	}
	if res.Database[0]["short_description"] != "short" {
		t.Fatalf("short text must be unchanged")
	}
	if _, ok := res.Database[0]["name"]; ok {
		t.Fatalf("general fields were not requested")
	}
}

func TestConditionsArraySize(t *testing.T) {
	e := New(&fakeCatalog{conditions: map[uint64]int{1: 0, 2: 1}})
	if _, err := e.Conditions(context.Background(), nil); !errors.Is(err, ErrArraySize) {
		t.Fatalf("empty: err = %v", err)
	}
	if _, err := e.Conditions(context.Background(), ids(51)); !errors.Is(err, ErrArraySize) {
		t.Fatalf("51 ids: err = %v", err)
	}
	got, err := e.Conditions(context.Background(), []uint64{1, 2, 3})
	if err != nil {
		t.Fatalf("conditions: %v", err)
	}
	if len(got) != 2 || got["1"] != 0 || got["2"] != 1 {
		t.Fatalf("conditions = %v", got)
	}
}

func TestPointLookupReturnsNilWhenMissing(t *testing.T) {
	e := New(&fakeCatalog{mods: []storage.Mod{{ID: 4, Name: "four"}}})
	view, err := e.Mod(context.Background(), 5, DefaultFields())
	if err != nil || view != nil {
		t.Fatalf("missing mod = %v, %v", view, err)
	}
	view, err = e.Mod(context.Background(), 4, DefaultFields())
	if err != nil || view["name"] != "four" {
		t.Fatalf("mod view = %v, %v", view, err)
	}
	game, err := e.Game(context.Background(), 1, DefaultFields())
	if err != nil || game != nil {
		t.Fatalf("missing game = %v, %v", game, err)
	}
}

func TestParseIDs(t *testing.T) {
	testCases := []struct {
		raw  string
		want []uint64
		err  bool
	}{
		{"", nil, false},
		{"[1,2,3]", []uint64{1, 2, 3}, false},
		{"4, 5", []uint64{4, 5}, false},
		{"[1,", nil, true},
		{"a,b", nil, true},
	}
	for _, tc := range testCases {
		got, err := ParseIDs(tc.raw)
		if tc.err {
			if err == nil {
				t.Fatalf("%q: expected error", tc.raw)
			}
			continue
		}
		if err != nil || len(got) != len(tc.want) {
			t.Fatalf("%q = %v, %v", tc.raw, got, err)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%q = %v", tc.raw, got)
			}
		}
	}

	values, err := ParseStrings(`["steam","local"]`)
	if err != nil || len(values) != 2 || values[1] != "local" {
		t.Fatalf("strings = %v, %v", values, err)
	}
}
