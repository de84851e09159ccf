package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/open-workshop/workshop-cache/internal/storage"
)

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "workshop.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen with applied migrations: %v", err)
	}
	_ = second.Close()
}

func TestGetModMissing(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	if _, err := store.GetMod(context.Background(), 42); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get missing mod error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestCreatePendingModOnlyOnce(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)

	created, err := store.CreatePendingMod(ctx, 7, "steam", 1, now)
	if err != nil || !created {
		t.Fatalf("first create = %v, %v", created, err)
	}
	created, err = store.CreatePendingMod(ctx, 7, "steam", 1, now)
	if err != nil || created {
		t.Fatalf("second create = %v, %v, want false", created, err)
	}
	mod, err := store.GetMod(ctx, 7)
	if err != nil {
		t.Fatalf("get mod: %v", err)
	}
	if mod.Condition != 1 || mod.Source != "steam" || !mod.RequestedAt.Equal(now) {
		t.Fatalf("unexpected pending mod: %+v", mod)
	}
}

func TestUpdateConditionRequiresExpectedState(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	if _, err := store.CreatePendingMod(ctx, 9, "steam", 1, time.Now()); err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, err := store.UpdateCondition(ctx, 9, 0, 1)
	if err != nil || ok {
		t.Fatalf("update from wrong state = %v, %v", ok, err)
	}
	ok, err = store.UpdateCondition(ctx, 9, 1, 2)
	if err != nil || !ok {
		t.Fatalf("update pending->fetching = %v, %v", ok, err)
	}
	ids, err := store.ModIDsByCondition(ctx, 2)
	if err != nil || len(ids) != 1 || ids[0] != 9 {
		t.Fatalf("ids by condition = %v, %v", ids, err)
	}
	n, err := store.ResetConditions(ctx, 2, 1)
	if err != nil || n != 1 {
		t.Fatalf("reset = %d, %v", n, err)
	}
}

func TestCommitModWritesCatalog(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	created := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)
	updated := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)

	if err := store.UpsertGame(ctx, storage.Game{ID: 294100, Name: "RimWorld", Type: "game", Source: "steam"},
		[]storage.Genre{{ID: 2, Name: "Strategy"}}); err != nil {
		t.Fatalf("upsert game: %v", err)
	}
	commit := storage.ModCommit{
		Mod: storage.Mod{
			ID:        100,
			GameID:    294100,
			Name:      "Better Pawns",
			Size:      2048,
			Source:    "steam",
			CreatedAt: created,
			UpdatedAt: updated,
		},
		Tags:         []string{"Mod", "1.5"},
		Dependencies: []uint64{200, 100},
		Screenshots:  []string{"https://img/1.png"},
		LogoURL:      "https://img/logo.png",
	}
	if err := store.CommitMod(ctx, commit); err != nil {
		t.Fatalf("commit mod: %v", err)
	}

	mod, err := store.GetMod(ctx, 100)
	if err != nil {
		t.Fatalf("get mod: %v", err)
	}
	if mod.Condition != 0 || mod.Name != "Better Pawns" || !mod.UpdatedAt.Equal(updated) {
		t.Fatalf("unexpected mod: %+v", mod)
	}
	if len(mod.Dependencies) != 1 || mod.Dependencies[0] != 200 {
		t.Fatalf("dependencies = %v", mod.Dependencies)
	}

	if _, err := store.GetMod(ctx, 200); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("dependency must not get a mod row, err = %v", err)
	}

	game, err := store.GetGame(ctx, 294100)
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if game.ModsCount != 1 || len(game.Genres) != 1 {
		t.Fatalf("unexpected game: %+v", game)
	}

	tags, total, err := store.ListTags(ctx, storage.TagFilter{GameID: 294100, Page: storage.Page{Limit: 10}})
	if err != nil || total != 2 || len(tags) != 2 {
		t.Fatalf("tags = %v, %d, %v", tags, total, err)
	}

	resources, total, err := store.ListResources(ctx, storage.ResourceFilter{OwnerIDs: []uint64{100}, Page: storage.Page{Limit: 10}})
	if err != nil || total != 2 {
		t.Fatalf("resources = %v, %d, %v", resources, total, err)
	}
	if resources[0].Type != storage.ResourceLogo {
		t.Fatalf("first resource = %+v, want logo", resources[0])
	}
}

func TestDeleteModReportsOnce(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	if err := store.CommitMod(ctx, storage.ModCommit{Mod: storage.Mod{ID: 5, GameID: 1, Source: "steam"}}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	deleted, err := store.DeleteMod(ctx, 5)
	if err != nil || !deleted {
		t.Fatalf("first delete = %v, %v", deleted, err)
	}
	deleted, err = store.DeleteMod(ctx, 5)
	if err != nil || deleted {
		t.Fatalf("second delete = %v, %v, want false", deleted, err)
	}
}

func TestRecordDownloadBumpsCounters(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	if err := store.UpsertGame(ctx, storage.Game{ID: 1, Name: "Game"}, nil); err != nil {
		t.Fatalf("upsert game: %v", err)
	}
	if err := store.CommitMod(ctx, storage.ModCommit{Mod: storage.Mod{ID: 5, GameID: 1}}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	at := time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)
	if err := store.RecordDownload(ctx, 5, at); err != nil {
		t.Fatalf("record download: %v", err)
	}
	mod, _ := store.GetMod(ctx, 5)
	if mod.Downloads != 1 || !mod.RequestedAt.Equal(at) {
		t.Fatalf("mod counters = %+v", mod)
	}
	game, _ := store.GetGame(ctx, 1)
	if game.ModsDownloads != 1 {
		t.Fatalf("game mods_downloads = %d", game.ModsDownloads)
	}
	if err := store.RecordDownload(ctx, 999, at); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("record unknown download = %v", err)
	}
}

func TestListModsFiltersAndSorts(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	for i, name := range []string{"Alpha", "Beta", "Gamma"} {
		commit := storage.ModCommit{
			Mod:  storage.Mod{ID: uint64(i + 1), GameID: 10, Name: name, Size: int64(100 * (i + 1)), Source: "steam"},
			Tags: []string{"shared"},
		}
		if i == 2 {
			commit.Mod.GameID = 11
			commit.Tags = append(commit.Tags, "extra")
		}
		if err := store.CommitMod(ctx, commit); err != nil {
			t.Fatalf("commit %s: %v", name, err)
		}
	}

	mods, total, err := store.ListMods(ctx, storage.ModFilter{
		Page: storage.Page{Limit: 2},
		Sort: storage.Sort{Field: storage.SortSize, Desc: true},
	})
	if err != nil {
		t.Fatalf("list mods: %v", err)
	}
	if total != 3 || len(mods) != 2 || mods[0].Name != "Gamma" {
		t.Fatalf("page = %+v total %d", mods, total)
	}

	mods, total, err = store.ListMods(ctx, storage.ModFilter{Games: []uint64{10}, Page: storage.Page{Limit: 10}})
	if err != nil || total != 2 {
		t.Fatalf("game filter = %d, %v", total, err)
	}

	tags, _, err := store.ListTags(ctx, storage.TagFilter{Name: "extra", Page: storage.Page{Limit: 1}})
	if err != nil || len(tags) != 1 {
		t.Fatalf("tag lookup = %v, %v", tags, err)
	}
	mods, total, err = store.ListMods(ctx, storage.ModFilter{Tags: []uint64{tags[0].ID}, Page: storage.Page{Limit: 10}})
	if err != nil || total != 1 || mods[0].Name != "Gamma" {
		t.Fatalf("tag filter = %+v, %d, %v", mods, total, err)
	}

	mods, _, err = store.ListMods(ctx, storage.ModFilter{Name: "et", Page: storage.Page{Limit: 10}})
	if err != nil || len(mods) != 1 || mods[0].Name != "Beta" {
		t.Fatalf("name filter = %+v, %v", mods, err)
	}
}

func TestConditionsReturnsKnownIDs(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	if _, err := store.CreatePendingMod(ctx, 1, "steam", 1, time.Now()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CommitMod(ctx, storage.ModCommit{Mod: storage.Mod{ID: 2}}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	conds, err := store.Conditions(ctx, []uint64{1, 2, 3})
	if err != nil {
		t.Fatalf("conditions: %v", err)
	}
	if len(conds) != 2 || conds[1] != 1 || conds[2] != 0 {
		t.Fatalf("conditions = %v", conds)
	}
}

func TestBucketsAccumulate(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	day := time.Date(2026, time.April, 5, 0, 0, 0, 0, time.UTC)
	next := day.AddDate(0, 0, 1)

	if err := store.AddBuckets(ctx, storage.Daily, []storage.Bucket{
		{Type: "files_sent", Time: day, Count: 2},
		{Type: "files_sent", Time: next, Count: 1},
	}); err != nil {
		t.Fatalf("add buckets: %v", err)
	}
	if err := store.AddBuckets(ctx, storage.Daily, []storage.Bucket{{Type: "files_sent", Time: day, Count: 3}}); err != nil {
		t.Fatalf("add buckets again: %v", err)
	}

	buckets, err := store.QueryBuckets(ctx, storage.Daily, day, day)
	if err != nil {
		t.Fatalf("query buckets: %v", err)
	}
	if len(buckets) != 1 || buckets[0].Count != 5 || !buckets[0].Time.Equal(day) {
		t.Fatalf("buckets = %+v", buckets)
	}

	totals, err := store.TotalsByType(ctx)
	if err != nil || totals["files_sent"] != 6 {
		t.Fatalf("totals = %v, %v", totals, err)
	}

	if err := store.AddBuckets(ctx, storage.Granularity("week"), nil); err == nil {
		t.Fatal("expected unknown granularity error")
	}
}

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "workshop.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}
