package db

import (
	"errors"
	"testing"

	"github.com/adlibio/adprep/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// Use in-memory database for tests
	database := &DB{path: ":memory:"}
	var err error
	database.DB, err = openDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := database.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	return database
}

func TestInsertRun_AndGetRun(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := db.InsertRun("run-1", "job-abc", "running"); err != nil {
		t.Fatalf("InsertRun() error = %v", err)
	}

	run, err := db.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.JobID != "job-abc" {
		t.Errorf("run.JobID = %q, want job-abc", run.JobID)
	}
	if run.Status != "running" {
		t.Errorf("run.Status = %q, want running", run.Status)
	}
	if run.FinishedAt != nil {
		t.Error("run.FinishedAt set before FinishRun")
	}
}

func TestFinishRun_UpdatesCounters(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := db.InsertRun("run-1", "job-abc", "running"); err != nil {
		t.Fatalf("InsertRun() error = %v", err)
	}
	if err := db.FinishRun("run-1", "succeeded", 10, 42, 40, 38); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	run, err := db.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != "succeeded" {
		t.Errorf("run.Status = %q, want succeeded", run.Status)
	}
	if run.FinishedAt == nil {
		t.Error("run.FinishedAt not set")
	}
	if run.Entities != 10 || run.DownloadsAttempted != 42 ||
		run.DownloadsSucceeded != 40 || run.Optimized != 38 {
		t.Errorf("counters = (%d, %d, %d, %d), want (10, 42, 40, 38)",
			run.Entities, run.DownloadsAttempted, run.DownloadsSucceeded, run.Optimized)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if _, err := db.GetRun("missing"); err == nil {
		t.Error("GetRun() on missing run should fail")
	}
}

func TestInsertEntities_RankOrder(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := db.InsertRun("run-1", "job-abc", "running"); err != nil {
		t.Fatalf("InsertRun() error = %v", err)
	}

	aggs := []models.EntityAggregate{
		{EntityKey: "top", RowCount: 3, ImageCount: 5, VideoCount: 1, Score: 9.5},
		{EntityKey: "mid", RowCount: 2, ImageCount: 2, VideoCount: 0, Score: 4.0},
		{EntityKey: "low", RowCount: 1, ImageCount: 1, VideoCount: 0, Score: 1.2},
	}
	if err := db.InsertEntities("run-1", aggs); err != nil {
		t.Fatalf("InsertEntities() error = %v", err)
	}

	entities, err := db.GetEntities("run-1")
	if err != nil {
		t.Fatalf("GetEntities() error = %v", err)
	}
	if len(entities) != 3 {
		t.Fatalf("got %d entities, want 3", len(entities))
	}
	for i, want := range []string{"top", "mid", "low"} {
		if entities[i].EntityKey != want {
			t.Errorf("entities[%d] = %s, want %s", i, entities[i].EntityKey, want)
		}
		if entities[i].Rank != i+1 {
			t.Errorf("entities[%d].Rank = %d, want %d", i, entities[i].Rank, i+1)
		}
	}
	if entities[0].ImageCount != 5 || entities[0].Score != 9.5 {
		t.Errorf("top entity fields not persisted: %+v", entities[0])
	}
}

func TestInsertFetches_RecordsOutcomes(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := db.InsertRun("run-1", "job-abc", "running"); err != nil {
		t.Fatalf("InsertRun() error = %v", err)
	}

	results := []models.FetchResult{
		{EntityKey: "A", SourceURL: "http://cdn/a.jpg", LocalPath: "/m/A_a.jpg", Attempts: 1},
		{EntityKey: "A", SourceURL: "http://cdn/b.jpg", LocalPath: "/m/A_b.jpg", Attempts: 2, FromCache: true},
		{EntityKey: "B", SourceURL: "http://cdn/c.jpg", Attempts: 3, Error: errors.New("status 500")},
	}
	if err := db.InsertFetches("run-1", results); err != nil {
		t.Fatalf("InsertFetches() error = %v", err)
	}

	fetches, err := db.GetFetches("run-1")
	if err != nil {
		t.Fatalf("GetFetches() error = %v", err)
	}
	if len(fetches) != 3 {
		t.Fatalf("got %d fetches, want 3", len(fetches))
	}
	if fetches[0].LocalPath != "/m/A_a.jpg" || fetches[0].Error != "" {
		t.Errorf("success row mismatch: %+v", fetches[0])
	}
	if !fetches[1].FromCache {
		t.Error("cache hit not recorded")
	}
	if fetches[2].Error != "status 500" || fetches[2].LocalPath != "" {
		t.Errorf("failure row mismatch: %+v", fetches[2])
	}
}

func TestListRuns_MostRecentFirst(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		if err := db.InsertRun(id, "job", "running"); err != nil {
			t.Fatalf("InsertRun(%s) error = %v", id, err)
		}
	}

	runs, err := db.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("got %d runs, want 2 (limit)", len(runs))
	}
}
