// Package optimize re-encodes fetched media under a bounded concurrency cap:
// images are flattened, downscaled and re-encoded; videos contribute a small
// number of extracted frames run through the same image pipeline.
package optimize

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/semaphore"

	"github.com/adlibio/adprep/models"
)

const (
	// DefaultWorkers bounds concurrent re-encodes, independent of the
	// fetch stage's pool.
	DefaultWorkers = 10
	// DefaultMaxDimension caps the longer output edge.
	DefaultMaxDimension = 640
	// DefaultQuality is the JPEG re-encode quality.
	DefaultQuality = 80
	// DefaultVideoFrames is how many frames a video contributes.
	DefaultVideoFrames = 3
)

// videoExtensions classify a fetched file as a video source.
var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".webm": true, ".avi": true, ".mkv": true, ".m4v": true,
}

// Options configures an Optimizer. Zero values fall back to the defaults.
type Options struct {
	Workers      int
	MaxDimension int
	Quality      int
	VideoFrames  int
	// Embed loads the encoded payload into each asset in addition to
	// writing the file.
	Embed  bool
	Logger *slog.Logger
}

// Optimizer re-encodes media files.
type Optimizer struct {
	sem         *semaphore.Weighted
	maxDim      int
	quality     int
	videoFrames int
	embed       bool
	ffmpegPath  string
	ffprobePath string
	logger      *slog.Logger
}

// New creates an Optimizer.
func New(opts Options) *Optimizer {
	workers := opts.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}
	o := &Optimizer{
		sem:         semaphore.NewWeighted(int64(workers)),
		maxDim:      opts.MaxDimension,
		quality:     opts.Quality,
		videoFrames: opts.VideoFrames,
		embed:       opts.Embed,
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		logger:      opts.Logger,
	}
	if o.maxDim < 1 {
		o.maxDim = DefaultMaxDimension
	}
	if o.quality < 1 {
		o.quality = DefaultQuality
	}
	if o.videoFrames < 1 {
		o.videoFrames = DefaultVideoFrames
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// FileError records a per-file optimization failure. Failures never abort
// sibling files or the run.
type FileError struct {
	EntityKey string
	Path      string
	Err       error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("optimize %s (%s): %v", e.Path, e.EntityKey, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Optimize re-encodes every successfully fetched file into
// preparedDir/{entityKey}/. A corrupt or unreadable source yields a recorded
// FileError and no asset; a video failing partway through keeps the frames
// encoded before the failure alongside its FileError. Once ctx is done no
// new tasks are scheduled; in-flight encodes finish their writes.
func (o *Optimizer) Optimize(ctx context.Context, fetched map[string][]models.FetchResult, preparedDir string) ([]models.OptimizedAsset, []*FileError) {
	var (
		mu     sync.Mutex
		assets []models.OptimizedAsset
		errs   []*FileError
		wg     sync.WaitGroup
	)

	record := func(a []models.OptimizedAsset, e *FileError) {
		mu.Lock()
		defer mu.Unlock()
		assets = append(assets, a...)
		if e != nil {
			errs = append(errs, e)
		}
	}

	// Deterministic scheduling order; completion order is unconstrained.
	keys := make([]string, 0, len(fetched))
	for key := range fetched {
		keys = append(keys, key)
	}
	sort.Strings(keys)

scheduling:
	for _, key := range keys {
		entityDir := filepath.Join(preparedDir, sanitizeDir(key))
		if err := os.MkdirAll(entityDir, 0755); err != nil {
			record(nil, &FileError{EntityKey: key, Path: entityDir, Err: err})
			continue
		}

		for _, res := range fetched[key] {
			if res.Error != nil || res.LocalPath == "" {
				continue
			}
			if ctx.Err() != nil {
				break scheduling
			}
			if err := o.sem.Acquire(ctx, 1); err != nil {
				break scheduling
			}

			wg.Add(1)
			go func(entityKey, src, sourceURL, outDir string) {
				defer wg.Done()
				defer o.sem.Release(1)

				a, err := o.processOne(ctx, entityKey, src, sourceURL, outDir)
				if err != nil {
					o.logger.Warn("optimization failed", "entity", entityKey,
						"source", src, "error", err)
					// A video failing mid-extraction has already written
					// its earlier frames under the entity directory; keep
					// them so the manifest references every output file.
					record(a, &FileError{EntityKey: entityKey, Path: src, Err: err})
					return
				}
				record(a, nil)
			}(key, res.LocalPath, res.SourceURL, entityDir)
		}
	}

	wg.Wait()

	// Stable output order for manifest building and tests.
	sort.SliceStable(assets, func(i, j int) bool {
		if assets[i].EntityKey != assets[j].EntityKey {
			return assets[i].EntityKey < assets[j].EntityKey
		}
		return assets[i].Path < assets[j].Path
	})
	return assets, errs
}

// processOne dispatches a single fetched file to the image or video path.
func (o *Optimizer) processOne(ctx context.Context, entityKey, src, sourceURL, outDir string) ([]models.OptimizedAsset, error) {
	if videoExtensions[strings.ToLower(filepath.Ext(src))] {
		return o.processVideo(ctx, entityKey, src, sourceURL, outDir)
	}
	asset, err := o.processImage(entityKey, src, sourceURL, outDir, models.SourceTypeImage)
	if err != nil {
		return nil, err
	}
	return []models.OptimizedAsset{asset}, nil
}

// processImage decodes, flattens, downscales and re-encodes one image.
func (o *Optimizer) processImage(entityKey, src, sourceURL, outDir, sourceType string) (models.OptimizedAsset, error) {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return models.OptimizedAsset{}, fmt.Errorf("failed to decode image: %w", err)
	}

	// Flatten any transparency onto a white background before the JPEG
	// encode; a no-op for fully opaque sources.
	flattened := flattenOntoWhite(img)

	bounds := flattened.Bounds()
	if bounds.Dx() > o.maxDim || bounds.Dy() > o.maxDim {
		flattened = imaging.Fit(flattened, o.maxDim, o.maxDim, imaging.Lanczos)
	}

	outPath := filepath.Join(outDir, jpegName(src))
	if err := imaging.Save(flattened, outPath, imaging.JPEGQuality(o.quality)); err != nil {
		return models.OptimizedAsset{}, fmt.Errorf("failed to encode output: %w", err)
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return models.OptimizedAsset{}, fmt.Errorf("failed to stat output: %w", err)
	}

	asset := models.OptimizedAsset{
		EntityKey:        entityKey,
		SourceType:       sourceType,
		SourceURL:        sourceURL,
		Path:             outPath,
		EncodedSizeBytes: info.Size(),
		Width:            flattened.Bounds().Dx(),
		Height:           flattened.Bounds().Dy(),
	}
	if o.embed {
		payload, err := os.ReadFile(outPath)
		if err != nil {
			return models.OptimizedAsset{}, fmt.Errorf("failed to read encoded output: %w", err)
		}
		asset.Embedded = payload
	}
	return asset, nil
}

// processVideo extracts evenly spaced frames with ffmpeg and runs each
// through the image pipeline. On failure it returns the assets for frames
// already encoded; their files exist and the caller records them.
func (o *Optimizer) processVideo(ctx context.Context, entityKey, src, sourceURL, outDir string) ([]models.OptimizedAsset, error) {
	duration, err := o.probeDuration(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("failed to probe video: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "adprep-frames-")
	if err != nil {
		return nil, fmt.Errorf("failed to create frame directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	var assets []models.OptimizedAsset
	for i, ts := range frameTimestamps(duration, o.videoFrames) {
		framePath := filepath.Join(tmpDir, fmt.Sprintf("%s_frame%d.jpg", stem(src), i))
		if err := o.extractFrame(ctx, src, ts, framePath); err != nil {
			return assets, fmt.Errorf("failed to extract frame at %.2fs: %w", ts, err)
		}
		asset, err := o.processImage(entityKey, framePath, sourceURL, outDir, models.SourceTypeVideoFrame)
		if err != nil {
			return assets, err
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

// probeDuration asks ffprobe for the container duration in seconds.
func (o *Optimizer) probeDuration(ctx context.Context, src string) (float64, error) {
	cmd := exec.CommandContext(ctx, o.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		src)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe returned unparsable duration %q", strings.TrimSpace(string(out)))
	}
	return duration, nil
}

// extractFrame grabs one frame at the given timestamp.
func (o *Optimizer) extractFrame(ctx context.Context, src string, ts float64, outPath string) error {
	cmd := exec.CommandContext(ctx, o.ffmpegPath,
		"-y",
		"-ss", fmt.Sprintf("%.3f", ts),
		"-i", src,
		"-frames:v", "1",
		"-q:v", "2",
		outPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w, output: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// frameTimestamps spaces n timestamps evenly across the duration, avoiding
// the exact start and end.
func frameTimestamps(duration float64, n int) []float64 {
	if duration <= 0 {
		return []float64{0}
	}
	timestamps := make([]float64, n)
	for i := 0; i < n; i++ {
		timestamps[i] = duration * float64(i+1) / float64(n+1)
	}
	return timestamps
}

// flattenOntoWhite composites the image onto a white background.
func flattenOntoWhite(img image.Image) *image.NRGBA {
	bg := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), color.White)
	return imaging.OverlayCenter(bg, img, 1.0)
}

// jpegName swaps the source extension for .jpg.
func jpegName(src string) string {
	return stem(src) + ".jpg"
}

// stem is the source basename without extension.
func stem(src string) string {
	base := filepath.Base(src)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// sanitizeDir strips path separators from an entity key used as a directory
// name.
func sanitizeDir(key string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, key)
}
