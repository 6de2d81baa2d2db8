// Package fetchmedia downloads entity media over a bounded worker pool with
// retry, backoff and collision-free local filenames.
package fetchmedia

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/adlibio/adprep/internal/common"
	"github.com/adlibio/adprep/models"
	"github.com/adlibio/adprep/pkg/caching"
)

const (
	// DefaultWorkers bounds download concurrency process-wide, not per entity.
	DefaultWorkers = 6
	// DefaultMaxAttempts is the total number of tries per URL.
	DefaultMaxAttempts = 3
	// DefaultInitialBackoff is the first retry delay; it doubles per attempt.
	DefaultInitialBackoff = 500 * time.Millisecond
)

// Options configures a Fetcher. Zero values fall back to the defaults above.
type Options struct {
	Workers        int
	MaxAttempts    int
	InitialBackoff time.Duration
	Client         *http.Client
	Cache          *caching.Cache
	Logger         *slog.Logger
}

// Fetcher downloads media files into a local directory.
type Fetcher struct {
	client         *http.Client
	workers        int
	maxAttempts    int
	initialBackoff time.Duration
	cache          *caching.Cache
	logger         *slog.Logger
}

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	f := &Fetcher{
		client:         opts.Client,
		workers:        opts.Workers,
		maxAttempts:    opts.MaxAttempts,
		initialBackoff: opts.InitialBackoff,
		cache:          opts.Cache,
		logger:         opts.Logger,
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: 2 * time.Minute}
	}
	if f.workers < 1 {
		f.workers = DefaultWorkers
	}
	if f.maxAttempts < 1 {
		f.maxAttempts = DefaultMaxAttempts
	}
	if f.initialBackoff <= 0 {
		f.initialBackoff = DefaultInitialBackoff
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// job is one URL to download for one entity.
type job struct {
	index     int
	entityKey string
	url       string
}

type jobResult struct {
	index  int
	result models.FetchResult
}

// FetchTopN downloads at most perEntityLimit media URLs (in their preserved
// order) for each of the first n aggregates, writing payloads into mediaDir.
// A failed URL is recorded in its FetchResult and never aborts siblings.
// Once ctx is done no new downloads start; in-flight writes finish.
func (f *Fetcher) FetchTopN(ctx context.Context, aggregates []*models.EntityAggregate, n, perEntityLimit int, mediaDir string) (map[string][]models.FetchResult, error) {
	if err := os.MkdirAll(mediaDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}

	selected := aggregates
	if n > 0 && n < len(selected) {
		selected = selected[:n]
	}

	var work []job
	for _, agg := range selected {
		urls := agg.MediaURLs
		if perEntityLimit > 0 && perEntityLimit < len(urls) {
			urls = urls[:perEntityLimit]
		}
		for _, u := range urls {
			work = append(work, job{index: len(work), entityKey: agg.EntityKey, url: u})
		}
	}
	if len(work) == 0 {
		return map[string][]models.FetchResult{}, nil
	}

	names := newNameRegistry(mediaDir)

	jobs := make(chan job, len(work))
	results := make(chan jobResult, len(work))

	var wg sync.WaitGroup
	for w := 1; w <= f.workers; w++ {
		wg.Add(1)
		go f.worker(ctx, w, names, mediaDir, &wg, jobs, results)
	}

	for _, jb := range work {
		jobs <- jb
	}
	close(jobs)

	wg.Wait()
	close(results)

	ordered := make([]models.FetchResult, len(work))
	for jr := range results {
		ordered[jr.index] = jr.result
	}

	byEntity := make(map[string][]models.FetchResult)
	for _, res := range ordered {
		byEntity[res.EntityKey] = append(byEntity[res.EntityKey], res)
	}
	return byEntity, nil
}

// worker drains the job channel. It checks the run deadline before starting
// each download so an expired run schedules no new work but never truncates
// a write in progress.
func (f *Fetcher) worker(ctx context.Context, id int, names *nameRegistry, mediaDir string, wg *sync.WaitGroup, jobs <-chan job, results chan<- jobResult) {
	defer wg.Done()
	logger := f.logger.With("worker_id", id)

	for jb := range jobs {
		result := models.FetchResult{EntityKey: jb.entityKey, SourceURL: jb.url}

		if err := ctx.Err(); err != nil {
			result.Error = fmt.Errorf("download not started: %w", err)
			results <- jobResult{index: jb.index, result: result}
			continue
		}

		payload, attempts, fromCache, err := f.fetch(ctx, jb.url)
		result.Attempts = attempts
		result.FromCache = fromCache
		if err != nil {
			logger.Warn("download failed", "entity", jb.entityKey, "url", jb.url,
				"attempts", attempts, "error", err)
			result.Error = err
			results <- jobResult{index: jb.index, result: result}
			continue
		}

		filename := names.reserve(localFilename(jb.entityKey, jb.url))
		path := filepath.Join(mediaDir, filename)
		if err := os.WriteFile(path, payload, 0644); err != nil {
			result.Error = fmt.Errorf("failed to write media file: %w", err)
			results <- jobResult{index: jb.index, result: result}
			continue
		}

		result.LocalPath = path
		logger.Debug("download complete", "entity", jb.entityKey, "url", jb.url,
			"path", path, "bytes", len(payload), "from_cache", fromCache)
		results <- jobResult{index: jb.index, result: result}
	}
}

// fetch returns the payload for a URL, serving it from the cache when
// possible and retrying transient failures with exponential backoff.
func (f *Fetcher) fetch(ctx context.Context, url string) (payload []byte, attempts int, fromCache bool, err error) {
	if f.cache != nil {
		if data, ok := f.cache.Get(url); ok {
			return data, 0, true, nil
		}
	}

	payload, attempts, err = f.download(ctx, url)
	if err != nil {
		return nil, attempts, false, err
	}

	if f.cache != nil {
		if cacheErr := f.cache.Set(url, payload); cacheErr != nil {
			f.logger.Warn("failed to cache payload", "url", url, "error", cacheErr)
		}
	}
	return payload, attempts, false, nil
}

// download issues the request with the retry policy: transport errors and
// 5xx responses are retried up to maxAttempts with exponential backoff;
// 4xx-class responses fail immediately.
func (f *Fetcher) download(ctx context.Context, url string) ([]byte, int, error) {
	var payload []byte
	attempts := 0

	operation := func() error {
		attempts++

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("server error: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("unexpected status %d", resp.StatusCode))
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		payload = body
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.initialBackoff
	bo.RandomizationFactor = 0
	bo.Multiplier = 2

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(f.maxAttempts-1)), ctx))
	if err != nil {
		return nil, attempts, err
	}
	return payload, attempts, nil
}

// keyCleaner strips characters that are hostile in filenames.
var keyCleaner = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// localFilename derives the media filename from the entity key and the URL's
// basename.
func localFilename(entityKey, url string) string {
	key := keyCleaner.ReplaceAllString(entityKey, "_")
	base := keyCleaner.ReplaceAllString(common.URLBasename(url), "_")
	return fmt.Sprintf("%s_%s", key, base)
}

// nameRegistry hands out collision-free filenames within one media
// directory. Names already present on disk count as taken: the directory is
// append-only during a run and files are never overwritten.
type nameRegistry struct {
	dir string

	mu    sync.Mutex
	taken map[string]struct{}
}

func newNameRegistry(dir string) *nameRegistry {
	return &nameRegistry{dir: dir, taken: make(map[string]struct{})}
}

// reserve returns name, or the first numeric-suffixed variant of it that is
// neither reserved nor on disk.
func (r *nameRegistry) reserve(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidate := name
	for i := 1; ; i++ {
		if _, ok := r.taken[candidate]; !ok {
			if _, err := os.Stat(filepath.Join(r.dir, candidate)); os.IsNotExist(err) {
				r.taken[candidate] = struct{}{}
				return candidate
			}
		}
		candidate = suffixed(name, i)
	}
}

// suffixed inserts a numeric suffix before the extension: a.jpg -> a_1.jpg.
func suffixed(name string, i int) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s_%d%s", stem, i, ext)
}
