package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/adlibio/adprep/models"
	"github.com/adlibio/adprep/pkg/db"
	"github.com/adlibio/adprep/pkg/normalize"
	"github.com/adlibio/adprep/pkg/provider"
	"github.com/adlibio/adprep/pkg/ranking"
	"github.com/adlibio/adprep/pkg/runstore"
)

// TokenEnvVar names the environment variable carrying the provider API token.
const TokenEnvVar = "SCRAPE_API_TOKEN"

func newLogger(quiet bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if quiet {
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// loadConfig reads the config file and applies CLI flag overrides.
func loadConfig(c *cli.Context, logger *slog.Logger) *models.Config {
	cfg, err := models.LoadConfig(c.String("config"))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	if c.IsSet("top-n") {
		cfg.Pipeline.TopN = c.Int("top-n")
	}
	if c.IsSet("per-entity-limit") {
		cfg.Pipeline.PerEntityLimit = c.Int("per-entity-limit")
	}
	if c.IsSet("data-dir") {
		cfg.Pipeline.DataDir = c.String("data-dir")
	}
	if c.IsSet("timeout") {
		cfg.Job.TimeoutSeconds = c.Int("timeout")
	}
	if c.IsSet("method") {
		cfg.Ranking.Method = c.String("method")
	}
	if c.IsSet("embed") {
		cfg.Media.Embed = c.Bool("embed")
	}
	return cfg
}

// RunAction drives a full acquisition run. It either awaits an existing
// provider job (--job-id) or starts one first (--actor, --input).
func RunAction(c *cli.Context) error {
	logger := newLogger(c.Bool("quiet"))
	cfg := loadConfig(c, logger)

	client, err := provider.NewClient(c.String("base-url"), os.Getenv(TokenEnvVar))
	if err != nil {
		logger.Error("failed to create provider client", "error", err, "env", TokenEnvVar)
		os.Exit(2)
	}

	jobID := c.String("job-id")
	if jobID == "" && c.IsSet("actor") {
		input := map[string]interface{}{}
		if raw := c.String("input"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &input); err != nil {
				logger.Error("invalid actor input JSON", "error", err)
				os.Exit(2)
			}
		}
		jobID, err = client.StartRun(c.Context, c.String("actor"), input)
		if err != nil {
			logger.Error("failed to start actor run", "error", err)
			os.Exit(2)
		}
		logger.Info("actor run started", "job_id", jobID)
	}
	if jobID == "" {
		fmt.Fprintln(os.Stderr, "Error: No job provided")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Usage:")
		fmt.Fprintln(os.Stderr, `  adprep run --job-id <id>                 # Await an existing provider job`)
		fmt.Fprintln(os.Stderr, `  adprep run --actor <id> --input '{...}' # Start a job, then await it`)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.Pipeline.DataDir, 0755); err != nil {
		logger.Error("failed to create data directory", "error", err)
		os.Exit(2)
	}

	var catalog *db.DB
	catalog, err = db.Open(cfg.Pipeline.DataDir)
	if err != nil {
		logger.Warn("run catalog unavailable, continuing without it", "error", err)
		catalog = nil
	} else {
		defer catalog.Close()
	}

	runner := &Runner{
		Config:   cfg,
		Provider: client,
		Store:    runstore.NewStore(cfg.Pipeline.DataDir),
		Catalog:  catalog,
		Logger:   logger,
	}

	summary, runErr := runner.Run(c.Context, jobID)

	output, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		logger.Error("failed to marshal run summary", "error", err)
		os.Exit(2)
	}
	fmt.Println(string(output))

	if runErr != nil {
		logger.Error("run failed", "error", runErr)
		os.Exit(2)
	}
	if summary.DownloadsAttempted > 0 && summary.DownloadsSucceeded == 0 {
		os.Exit(1)
	}
	return nil
}

// NormalizeAction folds a local dataset file into per-entity aggregates and
// prints them to stdout.
func NormalizeAction(c *cli.Context) error {
	logger := newLogger(c.Bool("quiet"))

	result := normalizeFile(c, logger)

	aggs := orderedAggregates(result)
	output, err := json.MarshalIndent(aggs, "", "  ")
	if err != nil {
		logger.Error("failed to marshal aggregates", "error", err)
		os.Exit(2)
	}
	fmt.Println(string(output))
	return nil
}

// RankAction normalizes a local dataset, ranks the aggregates and prints the
// top selection with scores.
func RankAction(c *cli.Context) error {
	logger := newLogger(c.Bool("quiet"))
	cfg := loadConfig(c, logger)

	result := normalizeFile(c, logger)

	ranked := ranking.Rank(orderedAggregates(result),
		ranking.ParseMethod(cfg.Ranking.Method), cfg.Ranking.Weights)
	selected := ranking.TopN(ranked, cfg.Pipeline.TopN)

	output, err := json.MarshalIndent(selected, "", "  ")
	if err != nil {
		logger.Error("failed to marshal ranked aggregates", "error", err)
		os.Exit(2)
	}
	fmt.Println(string(output))
	return nil
}

// normalizeFile opens the --dataset file and folds it with the --format codec.
func normalizeFile(c *cli.Context, logger *slog.Logger) *normalize.Result {
	path := c.String("dataset")
	if path == "" {
		fmt.Fprintln(os.Stderr, "Error: No dataset provided")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Usage:")
		fmt.Fprintln(os.Stderr, `  adprep normalize --dataset ./data/runs/<id>/dataset.ndjson`)
		fmt.Fprintln(os.Stderr, `  adprep rank --dataset export.csv --format csv --top-n 5`)
		os.Exit(1)
	}

	file, err := os.Open(path)
	if err != nil {
		logger.Error("failed to open dataset", "path", path, "error", err)
		os.Exit(2)
	}
	defer file.Close()

	format := normalize.FormatNDJSON
	if c.String("format") == "csv" {
		format = normalize.FormatCSV
	}

	result, err := normalize.Normalize(file, format, logger)
	if err != nil {
		logger.Error("normalization failed", "error", err)
		os.Exit(2)
	}
	return result
}
