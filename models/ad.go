// Package models defines the data structures shared across pipeline stages.
package models

import "time"

// JobStatus is the lifecycle state of a remote scraping job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
	StatusAborted   JobStatus = "aborted"
	// StatusTimedOut is assigned locally when the caller stops waiting,
	// either because the poll deadline expired or its context was
	// cancelled. The provider never reports it.
	StatusTimedOut JobStatus = "timed_out"
)

// Terminal reports whether no further polling is meaningful.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusAborted, StatusTimedOut:
		return true
	}
	return false
}

// JobHandle identifies a scraping job on the remote provider.
type JobHandle struct {
	ID        string    `json:"job_id"`
	Endpoint  string    `json:"endpoint,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Status    JobStatus `json:"status"`
	// DatasetID is populated once the provider reports a terminal status.
	DatasetID string `json:"dataset_id,omitempty"`
}

// EntityAggregate is the canonical per-entity unit of work, produced by
// folding all raw records that share the same entity key.
type EntityAggregate struct {
	EntityKey  string   `json:"entity_key"`
	RowCount   int      `json:"row_count"`
	ImageCount int      `json:"image_count"`
	VideoCount int      `json:"video_count"`
	// MediaURLs preserves first-seen order and never contains duplicates.
	MediaURLs []string `json:"media_urls,omitempty"`

	// Running maxima across folded records. Nil means the field was
	// absent from every record.
	MaxReach         *float64 `json:"max_reach,omitempty"`
	MaxSpend         *float64 `json:"max_spend,omitempty"`
	MaxPageLikeCount *float64 `json:"max_page_like_count,omitempty"`

	// Score is assigned once by the ranking engine.
	Score float64 `json:"score"`
}

// FetchResult records one download attempt chain for a single media URL.
// LocalPath is empty iff all retries were exhausted.
type FetchResult struct {
	EntityKey string
	SourceURL string
	LocalPath string
	Attempts  int
	FromCache bool
	Error     error
}

// Asset source types.
const (
	SourceTypeImage      = "image"
	SourceTypeVideoFrame = "video-frame"
)

// OptimizedAsset is one re-encoded output produced from a successful fetch.
type OptimizedAsset struct {
	EntityKey        string `json:"entity_key"`
	SourceType       string `json:"source_type"` // "image" or "video-frame"
	SourceURL        string `json:"source_url,omitempty"`
	Path             string `json:"path"`
	EncodedSizeBytes int64  `json:"encoded_size_bytes"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	// Embedded holds the encoded payload when the optimizer runs with
	// embedding enabled; otherwise Path is the only reference.
	Embedded []byte `json:"-"`
}

// RunSummary carries the attempted-vs-succeeded counters surfaced to the
// caller alongside the manifest.
type RunSummary struct {
	RunID               string  `json:"run_id" yaml:"run_id"`
	JobID               string  `json:"job_id" yaml:"job_id"`
	JobStatus           string  `json:"job_status" yaml:"job_status"`
	RowsNormalized      int     `json:"rows_normalized" yaml:"rows_normalized"`
	ParseFailures       int     `json:"parse_failures" yaml:"parse_failures"`
	Entities            int     `json:"entities" yaml:"entities"`
	EntitiesSelected    int     `json:"entities_selected" yaml:"entities_selected"`
	DownloadsAttempted  int     `json:"downloads_attempted" yaml:"downloads_attempted"`
	DownloadsSucceeded  int     `json:"downloads_succeeded" yaml:"downloads_succeeded"`
	CacheHits           int     `json:"cache_hits" yaml:"cache_hits"`
	OptimizeAttempted   int     `json:"optimize_attempted" yaml:"optimize_attempted"`
	OptimizeSucceeded   int     `json:"optimize_succeeded" yaml:"optimize_succeeded"`
	ManifestPath        string  `json:"manifest_path,omitempty" yaml:"manifest_path,omitempty"`
	ElapsedSeconds      float64 `json:"elapsed_seconds" yaml:"elapsed_seconds"`
}
