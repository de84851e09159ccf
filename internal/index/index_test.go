package index

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/open-workshop/workshop-cache/internal/storage"
	"github.com/open-workshop/workshop-cache/internal/storage/sqlite"
)

func TestTransitionAllowsOnlyDocumentedPaths(t *testing.T) {
	all := []Condition{Downloaded, Pending, Fetching}
	allowed := map[[2]Condition]bool{
		{Pending, Fetching}:    true,
		{Fetching, Downloaded}: true,
		{Fetching, Pending}:    true,
		{Downloaded, Pending}:  true,
	}
	for _, from := range all {
		for _, to := range all {
			err := Transition(from, to)
			if allowed[[2]Condition{from, to}] {
				if err != nil {
					t.Fatalf("%s -> %s should be allowed: %v", from, to, err)
				}
				continue
			}
			if !errors.Is(err, ErrIllegalTransition) {
				t.Fatalf("%s -> %s should be rejected, got %v", from, to, err)
			}
		}
	}
}

func TestEnqueueIsSingleFlight(t *testing.T) {
	ix, _ := newTestIndex(t)
	ctx := context.Background()

	const callers = 16
	var (
		wg      sync.WaitGroup
		created atomic.Int32
		ids     sync.Map
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, isNew, err := ix.Enqueue(ctx, 42)
			if err != nil {
				t.Errorf("enqueue: %v", err)
				return
			}
			if isNew {
				created.Add(1)
			}
			ids.Store(job.ID, struct{}{})
		}()
	}
	wg.Wait()

	if created.Load() != 1 {
		t.Fatalf("created %d jobs, want 1", created.Load())
	}
	distinct := 0
	ids.Range(func(_, _ any) bool { distinct++; return true })
	if distinct != 1 {
		t.Fatalf("callers observed %d job ids, want 1", distinct)
	}
	if ix.JobCount() != 1 {
		t.Fatalf("job count = %d", ix.JobCount())
	}
	mod, err := ix.Get(ctx, 42)
	if err != nil || Condition(mod.Condition) != Pending {
		t.Fatalf("item = %+v, %v", mod, err)
	}
}

func TestFetchLifecyclePassesThroughFetching(t *testing.T) {
	ix, _ := newTestIndex(t)
	ctx := context.Background()

	if _, _, err := ix.Enqueue(ctx, 7); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := ix.UpsertAfterFetch(ctx, storage.ModCommit{Mod: storage.Mod{ID: 7}}); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("commit without claim = %v, want illegal transition", err)
	}
	if _, err := ix.Claim(ctx, 7); err != nil {
		t.Fatalf("claim: %v", err)
	}
	mod, _ := ix.Get(ctx, 7)
	if Condition(mod.Condition) != Fetching {
		t.Fatalf("condition after claim = %d", mod.Condition)
	}
	if _, err := ix.Claim(ctx, 7); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("second claim = %v", err)
	}

	previous, err := ix.UpsertAfterFetch(ctx, storage.ModCommit{Mod: storage.Mod{ID: 7, GameID: 3, Name: "mod"}})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if Condition(previous.Condition) != Fetching {
		t.Fatalf("previous condition = %d", previous.Condition)
	}
	mod, _ = ix.Get(ctx, 7)
	if Condition(mod.Condition) != Downloaded || mod.GameID != 3 {
		t.Fatalf("item after commit = %+v", mod)
	}
	if ix.JobCount() != 0 {
		t.Fatalf("job must be cleared after commit")
	}
	if _, _, err := ix.Enqueue(ctx, 7); !errors.Is(err, ErrDownloaded) {
		t.Fatalf("enqueue downloaded = %v", err)
	}
}

func TestClaimWithoutJob(t *testing.T) {
	ix, _ := newTestIndex(t)
	if _, err := ix.Claim(context.Background(), 99); !errors.Is(err, ErrNoJob) {
		t.Fatalf("claim without job = %v", err)
	}
}

func TestReleaseAfterFailureHonoursRetryLimit(t *testing.T) {
	ix, _ := newTestIndex(t)
	ctx := context.Background()

	if _, _, err := ix.Enqueue(ctx, 5); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := ix.Claim(ctx, 5); err != nil {
		t.Fatalf("claim: %v", err)
	}
	job, requeue, err := ix.ReleaseAfterFailure(ctx, 5, 1)
	if err != nil || !requeue {
		t.Fatalf("first failure = %v, %v", requeue, err)
	}
	if job.Attempts != 1 || !job.Unsuccessful {
		t.Fatalf("job after first failure = %+v", job)
	}
	live, ok := ix.LiveJob(5)
	if !ok || !live.Unsuccessful {
		t.Fatalf("live job should report unsuccessful attempts")
	}
	mod, _ := ix.Get(ctx, 5)
	if Condition(mod.Condition) != Pending {
		t.Fatalf("condition after failure = %d", mod.Condition)
	}

	if _, err := ix.Claim(ctx, 5); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	_, requeue, err = ix.ReleaseAfterFailure(ctx, 5, 1)
	if err != nil || requeue {
		t.Fatalf("second failure = %v, %v, want drop", requeue, err)
	}
	if _, ok := ix.LiveJob(5); ok {
		t.Fatalf("job must be dropped after the last retry")
	}
	mod, _ = ix.Get(ctx, 5)
	if Condition(mod.Condition) != Pending {
		t.Fatalf("dropped item must stay pending, got %d", mod.Condition)
	}

	job, created, err := ix.Enqueue(ctx, 5)
	if err != nil || !created || job.Unsuccessful {
		t.Fatalf("fresh enqueue after drop = %+v, %v, %v", job, created, err)
	}
}

func TestMarkDamagedAndRemoveReportsOnce(t *testing.T) {
	ix, db := newTestIndex(t)
	ctx := context.Background()
	if err := db.CommitMod(ctx, storage.ModCommit{Mod: storage.Mod{ID: 11, GameID: 1}}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	var (
		wg      sync.WaitGroup
		removed atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ix.MarkDamagedAndRemove(ctx, 11)
			if err != nil {
				t.Errorf("mark damaged: %v", err)
			}
			if ok {
				removed.Add(1)
			}
		}()
	}
	wg.Wait()

	if removed.Load() != 1 {
		t.Fatalf("damaged reported %d times, want 1", removed.Load())
	}
	if _, err := ix.Get(ctx, 11); !errors.Is(err, ErrNotFound) {
		t.Fatalf("record must be gone, got %v", err)
	}
}

func TestMarkDamagedIgnoresPendingItems(t *testing.T) {
	ix, _ := newTestIndex(t)
	ctx := context.Background()
	if _, _, err := ix.Enqueue(ctx, 12); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ok, err := ix.MarkDamagedAndRemove(ctx, 12)
	if err != nil || ok {
		t.Fatalf("pending item must not be removed: %v %v", ok, err)
	}
}

func TestBeginInvalidationOnlyOnce(t *testing.T) {
	ix, db := newTestIndex(t)
	ctx := context.Background()
	if err := db.CommitMod(ctx, storage.ModCommit{Mod: storage.Mod{ID: 20}}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	job, ok, err := ix.BeginInvalidation(ctx, 20)
	if err != nil || !ok {
		t.Fatalf("first invalidation = %v, %v", ok, err)
	}
	if !job.Updating {
		t.Fatalf("invalidation job must be marked updating")
	}
	if _, ok, _ := ix.BeginInvalidation(ctx, 20); ok {
		t.Fatalf("second invalidation must not transition")
	}
	mod, _ := ix.Get(ctx, 20)
	if Condition(mod.Condition) != Pending {
		t.Fatalf("condition = %d, want pending", mod.Condition)
	}
	if _, ok, _ := ix.BeginInvalidation(ctx, 404); ok {
		t.Fatalf("unknown id must not transition")
	}
}

func TestRecoverResetsFetching(t *testing.T) {
	ix, db := newTestIndex(t)
	ctx := context.Background()
	now := time.Now()
	if _, err := db.CreatePendingMod(ctx, 1, "steam", int(Pending), now); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.CreatePendingMod(ctx, 2, "steam", int(Fetching), now); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.CommitMod(ctx, storage.ModCommit{Mod: storage.Mod{ID: 3}}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	ids, err := ix.Recover(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("recovered ids = %v, want only the interrupted fetch", ids)
	}
	mod, _ := ix.Get(ctx, 2)
	if Condition(mod.Condition) != Pending {
		t.Fatalf("fetching item must be reset, got %d", mod.Condition)
	}
}

func TestAbandonDropsUnclaimedJob(t *testing.T) {
	ix, _ := newTestIndex(t)
	ctx := context.Background()
	if _, _, err := ix.Enqueue(ctx, 7); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := ix.Abandon(ctx, 7); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if ix.JobCount() != 0 {
		t.Fatalf("live jobs = %d, want 0", ix.JobCount())
	}
	mod, err := ix.Get(ctx, 7)
	if err != nil || Condition(mod.Condition) != Pending {
		t.Fatalf("item = %+v, %v; want pending", mod, err)
	}
	if err := ix.Abandon(ctx, 7); !errors.Is(err, ErrNoJob) {
		t.Fatalf("second abandon err = %v, want ErrNoJob", err)
	}
	if _, created, err := ix.Enqueue(ctx, 7); err != nil || !created {
		t.Fatalf("re-enqueue created = %v, err = %v", created, err)
	}
}

func newTestIndex(t *testing.T) (*Index, *sqlite.Store) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db, Options{Source: "steam"}), db
}
