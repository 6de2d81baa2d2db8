package fetchmedia

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adlibio/adprep/models"
	"github.com/adlibio/adprep/pkg/caching"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFetcher(opts Options) *Fetcher {
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = time.Millisecond
	}
	return New(opts)
}

func aggWithURLs(key string, urls ...string) *models.EntityAggregate {
	return &models.EntityAggregate{EntityKey: key, MediaURLs: urls}
}

func TestFetchTopN_PerEntityLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "payload")
	}))
	defer server.Close()

	var urls []string
	for i := 0; i < 10; i++ {
		urls = append(urls, fmt.Sprintf("%s/img%d.jpg", server.URL, i))
	}
	agg := aggWithURLs("E1", urls...)

	f := testFetcher(Options{})
	results, err := f.FetchTopN(context.Background(), []*models.EntityAggregate{agg}, 1, 3, t.TempDir())
	if err != nil {
		t.Fatalf("FetchTopN() failed: %v", err)
	}

	if got := len(results["E1"]); got != 3 {
		t.Errorf("got %d results for E1, want 3 (per-entity limit)", got)
	}
	// The preserved URL order selects the first three.
	for i, res := range results["E1"] {
		want := fmt.Sprintf("%s/img%d.jpg", server.URL, i)
		if res.SourceURL != want {
			t.Errorf("result %d URL = %s, want %s", i, res.SourceURL, want)
		}
		if res.LocalPath == "" {
			t.Errorf("result %d has no local path", i)
		}
	}
}

func TestFetchTopN_TopNSelection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "x")
	}))
	defer server.Close()

	aggs := []*models.EntityAggregate{
		aggWithURLs("top", server.URL+"/a.jpg"),
		aggWithURLs("also", server.URL+"/b.jpg"),
		aggWithURLs("cut", server.URL+"/c.jpg"),
	}

	f := testFetcher(Options{})
	results, err := f.FetchTopN(context.Background(), aggs, 2, 5, t.TempDir())
	if err != nil {
		t.Fatalf("FetchTopN() failed: %v", err)
	}

	if _, ok := results["cut"]; ok {
		t.Error("entity beyond top-N was fetched")
	}
	if len(results) != 2 {
		t.Errorf("got %d entities, want 2", len(results))
	}
}

func TestFetchTopN_FilenameCollisions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.URL.Path)
	}))
	defer server.Close()

	// Three distinct URLs sharing the basename photo.jpg.
	agg := aggWithURLs("E1",
		server.URL+"/a/photo.jpg",
		server.URL+"/b/photo.jpg",
		server.URL+"/c/photo.jpg",
	)

	dir := t.TempDir()
	f := testFetcher(Options{})
	results, err := f.FetchTopN(context.Background(), []*models.EntityAggregate{agg}, 1, 5, dir)
	if err != nil {
		t.Fatalf("FetchTopN() failed: %v", err)
	}

	paths := make(map[string]bool)
	for _, res := range results["E1"] {
		if res.Error != nil {
			t.Fatalf("unexpected fetch error: %v", res.Error)
		}
		if paths[res.LocalPath] {
			t.Errorf("filename collision: %s used twice", res.LocalPath)
		}
		paths[res.LocalPath] = true
		if _, err := os.Stat(res.LocalPath); err != nil {
			t.Errorf("local file missing: %v", err)
		}
		if filepath.Dir(res.LocalPath) != dir {
			t.Errorf("file written outside media dir: %s", res.LocalPath)
		}
	}
	if len(paths) != 3 {
		t.Errorf("got %d unique files, want 3", len(paths))
	}
}

func TestDownload_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "finally")
	}))
	defer server.Close()

	f := testFetcher(Options{MaxAttempts: 3})
	payload, attempts, err := f.download(context.Background(), server.URL+"/flaky.jpg")
	if err != nil {
		t.Fatalf("download() failed after retries: %v", err)
	}
	if string(payload) != "finally" {
		t.Errorf("payload = %q", payload)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDownload_NoRetryOnClientError(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := testFetcher(Options{MaxAttempts: 3})
	_, attempts, err := f.download(context.Background(), server.URL+"/gone.jpg")
	if err == nil {
		t.Fatal("download() should fail on 404")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (4xx is not retried)", attempts)
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}
}

func TestFetchTopN_FailureDoesNotAbortSiblings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad.jpg" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	agg := aggWithURLs("E1", server.URL+"/bad.jpg", server.URL+"/good.jpg")

	f := testFetcher(Options{})
	results, err := f.FetchTopN(context.Background(), []*models.EntityAggregate{agg}, 1, 5, t.TempDir())
	if err != nil {
		t.Fatalf("FetchTopN() failed: %v", err)
	}

	res := results["E1"]
	if len(res) != 2 {
		t.Fatalf("got %d results, want 2", len(res))
	}
	if res[0].Error == nil {
		t.Error("bad.jpg should record an error")
	}
	if res[0].LocalPath != "" {
		t.Error("failed download should have no local path")
	}
	if res[1].Error != nil {
		t.Errorf("good.jpg failed: %v", res[1].Error)
	}
}

func TestFetchTopN_CacheDedupsAcrossEntities(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "shared")
	}))
	defer server.Close()

	cache, err := caching.NewCache(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewCache() failed: %v", err)
	}

	shared := server.URL + "/shared.jpg"
	aggs := []*models.EntityAggregate{
		aggWithURLs("E1", shared),
		aggWithURLs("E2", shared),
	}

	// One worker so the second fetch observes the first one's cache write.
	f := testFetcher(Options{Workers: 1, Cache: cache})
	results, err := f.FetchTopN(context.Background(), aggs, 2, 5, t.TempDir())
	if err != nil {
		t.Fatalf("FetchTopN() failed: %v", err)
	}

	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1 (second entity should hit the cache)", hits.Load())
	}
	for _, key := range []string{"E1", "E2"} {
		res := results[key]
		if len(res) != 1 || res[0].Error != nil {
			t.Fatalf("%s result = %+v", key, res)
		}
		if _, err := os.Stat(res[0].LocalPath); err != nil {
			t.Errorf("%s local file missing: %v", key, err)
		}
	}
}

func TestFetchTopN_CancelledContextSchedulesNothing(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	agg := aggWithURLs("E1", server.URL+"/a.jpg", server.URL+"/b.jpg")
	f := testFetcher(Options{})
	results, err := f.FetchTopN(ctx, []*models.EntityAggregate{agg}, 1, 5, t.TempDir())
	if err != nil {
		t.Fatalf("FetchTopN() failed: %v", err)
	}

	if hits.Load() != 0 {
		t.Errorf("server hits = %d, want 0 after cancellation", hits.Load())
	}
	for _, res := range results["E1"] {
		if res.Error == nil {
			t.Error("cancelled download should record an error")
		}
	}
}
