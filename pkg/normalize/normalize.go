// Package normalize folds the raw provider record stream into canonical
// per-entity aggregates.
package normalize

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/adlibio/adprep/models"
	"github.com/adlibio/adprep/pkg/snapshot"
)

// Format identifies the dataset serialization.
type Format string

const (
	FormatNDJSON Format = "ndjson"
	FormatCSV    Format = "csv"
)

// UnknownEntityKey is the sentinel group key for records carrying none of
// the recognized id fields.
const UnknownEntityKey = "unknown"

// entityKeyFields are probed in priority order to derive the group key.
var entityKeyFields = []string{"ad_archive_id", "adArchiveId", "archive_id", "ad_id", "id"}

// snapshotFields are probed in priority order for the raw creative blob.
var snapshotFields = []string{"snapshot", "ad_snapshot"}

// reachFields, spendFields and pageLikeFields are the numeric columns folded
// into running maxima.
var (
	reachFields    = []string{"reach", "eu_total_reach", "impressions"}
	spendFields    = []string{"spend", "total_spend"}
	pageLikeFields = []string{"page_like_count", "page_likes"}
)

// Result is the output of one normalization pass.
type Result struct {
	// Aggregates is keyed by entity key.
	Aggregates map[string]*models.EntityAggregate
	// Order records first-seen entity order; ranking uses it to break ties.
	Order []string
	// Rows is the number of raw records consumed.
	Rows int
	// ParseFailures counts records whose snapshot no strategy could decode.
	// Those records still fold their numeric fields; they contribute no media.
	ParseFailures int
}

// Normalize consumes the raw record stream and folds records sharing an
// entity key into one aggregate. The fold is commutative: record order never
// affects the final aggregates (only the Order slice reflects input order).
//
// An unreadable stream is fatal; an undecodable individual record is not.
func Normalize(r io.Reader, format Format, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	res := &Result{Aggregates: make(map[string]*models.EntityAggregate)}

	var err error
	switch format {
	case FormatCSV:
		err = consumeCSV(r, res, logger)
	default:
		err = consumeNDJSON(r, res, logger)
	}
	if err != nil {
		return nil, err
	}

	// The per-record URL sets were deduplicated at extraction time; a final
	// pass guards against duplicates introduced across folded records.
	for _, agg := range res.Aggregates {
		agg.MediaURLs = dedupe(agg.MediaURLs)
	}

	logger.Info("normalization complete",
		"rows", res.Rows,
		"entities", len(res.Aggregates),
		"parse_failures", res.ParseFailures)
	return res, nil
}

func consumeNDJSON(r io.Reader, res *Result, logger *slog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var record map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			logger.Warn("skipping undecodable record", "line", line, "error", err)
			continue
		}
		foldRecord(res, record, logger)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read dataset stream: %w", err)
	}
	if res.Rows == 0 && line == 0 {
		return fmt.Errorf("dataset stream is empty")
	}
	return nil
}

func consumeCSV(r io.Reader, res *Result, logger *slog.Logger) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read dataset header: %w", err)
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Warn("skipping unreadable row", "error", err)
			continue
		}
		record := make(map[string]interface{}, len(header))
		for i, col := range header {
			if i < len(row) {
				record[col] = row[i]
			}
		}
		foldRecord(res, record, logger)
	}
	return nil
}

// foldRecord merges one raw record into its entity aggregate. Folding is
// commutative and associative: counts add, maxima only ever rise, and URL
// sets union.
func foldRecord(res *Result, record map[string]interface{}, logger *slog.Logger) {
	res.Rows++

	key := entityKey(record)
	agg, ok := res.Aggregates[key]
	if !ok {
		agg = &models.EntityAggregate{EntityKey: key}
		res.Aggregates[key] = agg
		res.Order = append(res.Order, key)
	}
	agg.RowCount++

	snap, ok := recordSnapshot(record)
	if !ok {
		res.ParseFailures++
		logger.Debug("record has no decodable snapshot", "entity", key)
	} else {
		images, videos := snapshot.CountMedia(snap)
		agg.ImageCount += images
		agg.VideoCount += videos
		agg.MediaURLs = append(agg.MediaURLs, snapshot.ExtractURLs(snap)...)
	}

	agg.MaxReach = foldMax(agg.MaxReach, numericField(record, reachFields))
	agg.MaxSpend = foldMax(agg.MaxSpend, numericField(record, spendFields))
	agg.MaxPageLikeCount = foldMax(agg.MaxPageLikeCount, numericField(record, pageLikeFields))
}

// entityKey derives the group key from the prioritized candidate id fields.
func entityKey(record map[string]interface{}) string {
	for _, field := range entityKeyFields {
		switch v := record[field].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return UnknownEntityKey
}

// recordSnapshot decodes the record's snapshot field, which may arrive as an
// already-decoded map or as a string in any of the parser's dialects.
func recordSnapshot(record map[string]interface{}) (snapshot.Snapshot, bool) {
	for _, field := range snapshotFields {
		switch v := record[field].(type) {
		case map[string]interface{}:
			return snapshot.Snapshot(v), true
		case string:
			snap, err := snapshot.Parse(v)
			if err != nil {
				return nil, false
			}
			return snap, true
		}
	}
	return nil, false
}

// numericField returns the first of the candidate fields coercible to a
// float, or nil when every candidate is absent or non-numeric.
func numericField(record map[string]interface{}, fields []string) *float64 {
	for _, field := range fields {
		switch v := record[field].(type) {
		case float64:
			f := v
			return &f
		case int:
			f := float64(v)
			return &f
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return &f
			}
		case string:
			if v == "" {
				continue
			}
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

// foldMax keeps the running maximum, treating nil as "not yet observed".
func foldMax(current, candidate *float64) *float64 {
	if candidate == nil {
		return current
	}
	if current == nil || *candidate > *current {
		return candidate
	}
	return current
}

// dedupe removes exact duplicates preserving first-seen order.
func dedupe(urls []string) []string {
	if len(urls) < 2 {
		return urls
	}
	seen := make(map[string]struct{}, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
