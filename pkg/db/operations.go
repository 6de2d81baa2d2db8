package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/adlibio/adprep/models"
)

// Run is one catalog row describing a pipeline run.
type Run struct {
	RunID              string
	JobID              string
	Status             string
	StartedAt          time.Time
	FinishedAt         *time.Time
	Entities           int
	DownloadsAttempted int
	DownloadsSucceeded int
	Optimized          int
}

// InsertRun records the start of a run.
func (db *DB) InsertRun(runID, jobID, status string) error {
	_, err := db.Exec(`
		INSERT INTO runs (run_id, job_id, status)
		VALUES (?, ?, ?)
	`, runID, jobID, status)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun closes a run with its final status and stage counters.
func (db *DB) FinishRun(runID, status string, entities, attempted, succeeded, optimized int) error {
	_, err := db.Exec(`
		UPDATE runs
		SET status = ?, finished_at = CURRENT_TIMESTAMP,
		    entities = ?, downloads_attempted = ?, downloads_succeeded = ?, optimized = ?
		WHERE run_id = ?
	`, status, entities, attempted, succeeded, optimized, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by its ID.
func (db *DB) GetRun(runID string) (*Run, error) {
	var r Run
	var finished sql.NullTime
	err := db.QueryRow(`
		SELECT run_id, job_id, status, started_at, finished_at,
		       entities, downloads_attempted, downloads_succeeded, optimized
		FROM runs
		WHERE run_id = ?
	`, runID).Scan(&r.RunID, &r.JobID, &r.Status, &r.StartedAt, &finished,
		&r.Entities, &r.DownloadsAttempted, &r.DownloadsSucceeded, &r.Optimized)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return &r, nil
}

// ListRuns retrieves runs ordered by most recent first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	query := `
		SELECT run_id, job_id, status, started_at, finished_at,
		       entities, downloads_attempted, downloads_succeeded, optimized
		FROM runs
		ORDER BY started_at DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.RunID, &r.JobID, &r.Status, &r.StartedAt, &finished,
			&r.Entities, &r.DownloadsAttempted, &r.DownloadsSucceeded, &r.Optimized); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		runs = append(runs, r)
	}

	return runs, nil
}

// InsertEntities records the ranked aggregates selected for a run, in rank
// order starting at 1.
func (db *DB) InsertEntities(runID string, aggregates []models.EntityAggregate) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO entities (run_id, entity_key, row_count, image_count, video_count, score, rank)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare entity insert: %w", err)
	}
	defer stmt.Close()

	for i, agg := range aggregates {
		if _, err := stmt.Exec(runID, agg.EntityKey, agg.RowCount,
			agg.ImageCount, agg.VideoCount, agg.Score, i+1); err != nil {
			return fmt.Errorf("failed to insert entity %s: %w", agg.EntityKey, err)
		}
	}

	return tx.Commit()
}

// EntityRow is one ranked entity as stored in the catalog.
type EntityRow struct {
	EntityKey  string
	RowCount   int
	ImageCount int
	VideoCount int
	Score      float64
	Rank       int
}

// GetEntities retrieves a run's entities in rank order.
func (db *DB) GetEntities(runID string) ([]EntityRow, error) {
	rows, err := db.Query(`
		SELECT entity_key, row_count, image_count, video_count, score, rank
		FROM entities
		WHERE run_id = ?
		ORDER BY rank
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get entities: %w", err)
	}
	defer rows.Close()

	var entities []EntityRow
	for rows.Next() {
		var e EntityRow
		if err := rows.Scan(&e.EntityKey, &e.RowCount, &e.ImageCount,
			&e.VideoCount, &e.Score, &e.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, e)
	}

	return entities, nil
}

// InsertFetches records the outcome of every download attempt in a run.
func (db *DB) InsertFetches(runID string, results []models.FetchResult) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO fetches (run_id, entity_key, url, local_path, attempts, from_cache, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare fetch insert: %w", err)
	}
	defer stmt.Close()

	for _, res := range results {
		var errMsg interface{}
		if res.Error != nil {
			errMsg = res.Error.Error()
		}
		var localPath interface{}
		if res.LocalPath != "" {
			localPath = res.LocalPath
		}
		if _, err := stmt.Exec(runID, res.EntityKey, res.SourceURL,
			localPath, res.Attempts, res.FromCache, errMsg); err != nil {
			return fmt.Errorf("failed to insert fetch for %s: %w", res.SourceURL, err)
		}
	}

	return tx.Commit()
}

// FetchRow is one download attempt as stored in the catalog.
type FetchRow struct {
	EntityKey string
	URL       string
	LocalPath string
	Attempts  int
	FromCache bool
	Error     string
}

// GetFetches retrieves a run's download attempts in insertion order.
func (db *DB) GetFetches(runID string) ([]FetchRow, error) {
	rows, err := db.Query(`
		SELECT entity_key, url, local_path, attempts, from_cache, error
		FROM fetches
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get fetches: %w", err)
	}
	defer rows.Close()

	var fetches []FetchRow
	for rows.Next() {
		var f FetchRow
		var localPath, errMsg sql.NullString
		if err := rows.Scan(&f.EntityKey, &f.URL, &localPath,
			&f.Attempts, &f.FromCache, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan fetch: %w", err)
		}
		if localPath.Valid {
			f.LocalPath = localPath.String
		}
		if errMsg.Valid {
			f.Error = errMsg.String
		}
		fetches = append(fetches, f)
	}

	return fetches, nil
}
