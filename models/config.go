package models

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for a pipeline run.
// Values come from an optional YAML file; CLI flags override.
type Config struct {
	Job      JobConfig      `yaml:"job"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Media    MediaConfig    `yaml:"media"`
	Ranking  RankingConfig  `yaml:"ranking"`
}

// JobConfig controls the poll loop against the scraping provider.
type JobConfig struct {
	TimeoutSeconds      int `yaml:"timeout_seconds"`
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
}

// PipelineConfig controls entity selection and stage concurrency.
type PipelineConfig struct {
	TopN            int    `yaml:"top_n"`
	PerEntityLimit  int    `yaml:"per_entity_limit"`
	FetchWorkers    int    `yaml:"fetch_workers"`
	OptimizeWorkers int    `yaml:"optimize_workers"`
	DataDir         string `yaml:"data_dir"`
	FetchAttempts   int    `yaml:"fetch_attempts"`
	FetchBackoffMs  int    `yaml:"fetch_backoff_ms"`
	CacheTTLHours   int    `yaml:"cache_ttl_hours"`
}

// MediaConfig controls the re-encoding stage.
type MediaConfig struct {
	MaxDimension int  `yaml:"max_dimension"`
	Quality      int  `yaml:"quality"`
	VideoFrames  int  `yaml:"video_frames"`
	Embed        bool `yaml:"embed"`
}

// RankingConfig selects the scoring method and its weights.
type RankingConfig struct {
	Method  string         `yaml:"method"` // "heuristic" or "media-count"
	Weights RankingWeights `yaml:"weights"`
}

// RankingWeights are the heuristic score coefficients.
type RankingWeights struct {
	Reach     float64 `yaml:"reach"`
	Spend     float64 `yaml:"spend"`
	Media     float64 `yaml:"media"`
	Video     float64 `yaml:"video"`
	PageLikes float64 `yaml:"page_likes"`
}

// DefaultConfig returns the configuration used when no file or flags are given.
func DefaultConfig() *Config {
	return &Config{
		Job: JobConfig{
			TimeoutSeconds:      600,
			PollIntervalSeconds: 5,
		},
		Pipeline: PipelineConfig{
			TopN:            10,
			PerEntityLimit:  5,
			FetchWorkers:    6,
			OptimizeWorkers: 10,
			DataDir:         "./data",
			FetchAttempts:   3,
			FetchBackoffMs:  500,
			CacheTTLHours:   24,
		},
		Media: MediaConfig{
			MaxDimension: 640,
			Quality:      80,
			VideoFrames:  3,
		},
		Ranking: RankingConfig{
			Method: "heuristic",
			Weights: RankingWeights{
				Reach:     0.6,
				Spend:     0.2,
				Media:     1.0,
				Video:     0.5,
				PageLikes: 0.1,
			},
		},
	}
}

// LoadConfig reads a YAML config file over the defaults.
// A missing file is not an error; the defaults are returned.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// JobTimeout returns the poll timeout as a duration.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Job.TimeoutSeconds) * time.Second
}

// PollInterval returns the poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Job.PollIntervalSeconds) * time.Second
}
