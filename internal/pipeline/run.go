// Package pipeline drives a full acquisition run: await the remote job,
// save the dataset, normalize, rank, fetch media, optimize, write the
// manifest. Stage failures on individual records or files are counted, not
// fatal; only a missing dataset aborts the run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/adlibio/adprep/models"
	"github.com/adlibio/adprep/pkg/caching"
	"github.com/adlibio/adprep/pkg/db"
	"github.com/adlibio/adprep/pkg/fetchmedia"
	"github.com/adlibio/adprep/pkg/jobrun"
	"github.com/adlibio/adprep/pkg/manifest"
	"github.com/adlibio/adprep/pkg/normalize"
	"github.com/adlibio/adprep/pkg/optimize"
	"github.com/adlibio/adprep/pkg/provider"
	"github.com/adlibio/adprep/pkg/ranking"
	"github.com/adlibio/adprep/pkg/runstore"
)

// Runner wires the pipeline stages together for one or more runs.
type Runner struct {
	Config   *models.Config
	Provider *provider.Client
	Store    *runstore.Store
	Catalog  *db.DB
	Logger   *slog.Logger
}

// Run drives one acquisition run against an already-started provider job
// and returns its summary. The returned error is fatal-only: a job that
// never succeeds, an unreadable dataset, or a manifest that cannot be
// written. Per-record and per-file failures are counted in the summary.
func (r *Runner) Run(ctx context.Context, jobID string) (*models.RunSummary, error) {
	started := time.Now()
	runID := uuid.NewString()
	summary := &models.RunSummary{RunID: runID, JobID: jobID}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run_id", runID, "job_id", jobID)

	if err := r.Store.InitRun(runID); err != nil {
		return summary, err
	}
	r.recordRunStart(runID, jobID, logger)

	// Stage 1: poll the job to a terminal status within the deadline.
	job := models.JobHandle{ID: jobID, StartedAt: started, Status: models.StatusPending}
	var datasetID string
	status := func(ctx context.Context) (models.JobStatus, error) {
		st, id, err := r.Provider.RunStatus(ctx, jobID)
		if id != "" {
			datasetID = id
		}
		return st, err
	}
	job = jobrun.AwaitCompletion(ctx, job, status, r.Config.JobTimeout(), r.Config.PollInterval(), logger)
	job.DatasetID = datasetID
	summary.JobStatus = string(job.Status)
	if job.Status != models.StatusSucceeded {
		r.recordRunFinish(runID, summary, logger)
		return summary, fmt.Errorf("job %s finished with status %s, no dataset to process", jobID, job.Status)
	}

	// Stage 2: stream the dataset to disk, then normalize from the local copy.
	items, err := r.Provider.DatasetItems(ctx, job.DatasetID)
	if err != nil {
		r.recordRunFinish(runID, summary, logger)
		return summary, fmt.Errorf("failed to stream dataset %s: %w", job.DatasetID, err)
	}
	if _, err := r.Store.SaveDataset(runID, items); err != nil {
		items.Close()
		r.recordRunFinish(runID, summary, logger)
		return summary, err
	}
	items.Close()

	dataset, err := r.Store.OpenDataset(runID)
	if err != nil {
		r.recordRunFinish(runID, summary, logger)
		return summary, err
	}
	defer dataset.Close()

	result, err := normalize.Normalize(dataset, normalize.FormatNDJSON, logger)
	if err != nil {
		r.recordRunFinish(runID, summary, logger)
		return summary, err
	}
	summary.RowsNormalized = result.Rows
	summary.ParseFailures = result.ParseFailures
	summary.Entities = len(result.Aggregates)

	// Stage 3: rank and select.
	ranked := ranking.Rank(orderedAggregates(result),
		ranking.ParseMethod(r.Config.Ranking.Method), r.Config.Ranking.Weights)
	selected := ranking.TopN(ranked, r.Config.Pipeline.TopN)
	summary.EntitiesSelected = len(selected)
	r.recordEntities(runID, selected, logger)

	// Stage 4: fetch media for the selected entities.
	fetched, err := r.fetchMedia(ctx, selected, runID, logger)
	if err != nil {
		r.recordRunFinish(runID, summary, logger)
		return summary, err
	}
	var flat []models.FetchResult
	for _, key := range keysOf(selected) {
		for _, res := range fetched[key] {
			flat = append(flat, res)
			summary.DownloadsAttempted++
			if res.Error == nil {
				summary.DownloadsSucceeded++
			}
			if res.FromCache {
				summary.CacheHits++
			}
		}
	}
	r.recordFetches(runID, flat, logger)

	// Stage 5: optimize.
	optimizer := optimize.New(optimize.Options{
		Workers:      r.Config.Pipeline.OptimizeWorkers,
		MaxDimension: r.Config.Media.MaxDimension,
		Quality:      r.Config.Media.Quality,
		VideoFrames:  r.Config.Media.VideoFrames,
		Embed:        r.Config.Media.Embed,
		Logger:       logger,
	})
	assets, fileErrs := optimizer.Optimize(ctx, fetched, r.Store.PreparedMediaDir(runID))
	summary.OptimizeAttempted = summary.DownloadsSucceeded
	summary.OptimizeSucceeded = len(assets)
	for _, fe := range fileErrs {
		logger.Warn("media optimization failed", "entity_key", fe.EntityKey, "path", fe.Path, "error", fe.Err)
	}

	// Stage 6: manifest + summary.
	m := manifest.Build(runID, assets)
	manifestPath, err := r.Store.WriteManifest(runID, m)
	if err != nil {
		r.recordRunFinish(runID, summary, logger)
		return summary, err
	}
	summary.ManifestPath = manifestPath
	summary.ElapsedSeconds = time.Since(started).Seconds()

	if _, err := r.Store.WriteSummary(runID, summary); err != nil {
		logger.Warn("failed to write run summary", "error", err)
	}
	r.recordRunFinish(runID, summary, logger)

	logger.Info("run complete",
		"entities_selected", summary.EntitiesSelected,
		"downloads_succeeded", summary.DownloadsSucceeded,
		"optimized", summary.OptimizeSucceeded,
		"elapsed_seconds", summary.ElapsedSeconds)
	return summary, nil
}

// fetchMedia builds the fetch stage from config and runs it.
func (r *Runner) fetchMedia(ctx context.Context, selected []*models.EntityAggregate, runID string, logger *slog.Logger) (map[string][]models.FetchResult, error) {
	var cache *caching.Cache
	ttl := time.Duration(r.Config.Pipeline.CacheTTLHours) * time.Hour
	cache, err := caching.NewCache(filepath.Join(r.Config.Pipeline.DataDir, "cache"), ttl)
	if err != nil {
		logger.Warn("payload cache unavailable, downloads will not dedup", "error", err)
		cache = nil
	}

	fetcher := fetchmedia.New(fetchmedia.Options{
		Workers:        r.Config.Pipeline.FetchWorkers,
		MaxAttempts:    r.Config.Pipeline.FetchAttempts,
		InitialBackoff: time.Duration(r.Config.Pipeline.FetchBackoffMs) * time.Millisecond,
		Cache:          cache,
		Logger:         logger,
	})
	return fetcher.FetchTopN(ctx, selected, len(selected), r.Config.Pipeline.PerEntityLimit, r.Store.MediaDir(runID))
}

// orderedAggregates flattens the normalization result in first-seen entity
// order, the order the stable sort uses to break score ties.
func orderedAggregates(res *normalize.Result) []*models.EntityAggregate {
	aggs := make([]*models.EntityAggregate, 0, len(res.Order))
	for _, key := range res.Order {
		aggs = append(aggs, res.Aggregates[key])
	}
	return aggs
}

func keysOf(aggs []*models.EntityAggregate) []string {
	keys := make([]string, len(aggs))
	for i, agg := range aggs {
		keys[i] = agg.EntityKey
	}
	return keys
}

// Catalog writes are best-effort: the catalog trails the run, it never
// gates it.

func (r *Runner) recordRunStart(runID, jobID string, logger *slog.Logger) {
	if r.Catalog == nil {
		return
	}
	if err := r.Catalog.InsertRun(runID, jobID, string(models.StatusRunning)); err != nil {
		logger.Warn("failed to record run start", "error", err)
	}
}

func (r *Runner) recordEntities(runID string, selected []*models.EntityAggregate, logger *slog.Logger) {
	if r.Catalog == nil {
		return
	}
	aggs := make([]models.EntityAggregate, len(selected))
	for i, agg := range selected {
		aggs[i] = *agg
	}
	if err := r.Catalog.InsertEntities(runID, aggs); err != nil {
		logger.Warn("failed to record entities", "error", err)
	}
}

func (r *Runner) recordFetches(runID string, results []models.FetchResult, logger *slog.Logger) {
	if r.Catalog == nil {
		return
	}
	if err := r.Catalog.InsertFetches(runID, results); err != nil {
		logger.Warn("failed to record fetches", "error", err)
	}
}

func (r *Runner) recordRunFinish(runID string, summary *models.RunSummary, logger *slog.Logger) {
	if r.Catalog == nil {
		return
	}
	if err := r.Catalog.FinishRun(runID, summary.JobStatus, summary.EntitiesSelected,
		summary.DownloadsAttempted, summary.DownloadsSucceeded, summary.OptimizeSucceeded); err != nil {
		logger.Warn("failed to record run finish", "error", err)
	}
}
