// Package runstore manages the on-disk layout of a pipeline run: one
// directory per run holding the raw dataset, downloaded media, prepared
// media and the final manifest. The layout is append-only during a run.
package runstore

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// File and directory names inside a run directory.
const (
	DatasetFile  = "dataset.ndjson"
	MediaDirName = "media"
	PreparedDir  = "prepared"
	ManifestFile = "manifest.json"
	SummaryFile  = "summary.yaml"
)

// Store lays out run directories under a base path.
type Store struct {
	BaseDir string
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{BaseDir: baseDir}
}

// RunDir returns the directory for a run.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.BaseDir, "runs", runID)
}

// InitRun creates the run directory structure.
func (s *Store) InitRun(runID string) error {
	for _, dir := range []string{
		s.RunDir(runID),
		s.MediaDir(runID),
		filepath.Join(s.RunDir(runID), PreparedDir),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create run directory %s: %w", dir, err)
		}
	}
	return nil
}

// MediaDir returns the downloaded-media directory for a run.
func (s *Store) MediaDir(runID string) string {
	return filepath.Join(s.RunDir(runID), MediaDirName)
}

// PreparedMediaDir returns the optimized-media directory for a run.
func (s *Store) PreparedMediaDir(runID string) string {
	return filepath.Join(s.RunDir(runID), PreparedDir)
}

// DatasetPath returns the raw dataset path for a run.
func (s *Store) DatasetPath(runID string) string {
	return filepath.Join(s.RunDir(runID), DatasetFile)
}

// SaveDataset streams the raw record set to the run's dataset file and
// returns its path.
func (s *Store) SaveDataset(runID string, r io.Reader) (string, error) {
	path := s.DatasetPath(runID)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create dataset file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, r); err != nil {
		return "", fmt.Errorf("failed to write dataset file: %w", err)
	}
	return path, nil
}

// OpenDataset opens the run's saved dataset for reading.
func (s *Store) OpenDataset(runID string) (io.ReadCloser, error) {
	file, err := os.Open(s.DatasetPath(runID))
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file: %w", err)
	}
	return file, nil
}

// WriteManifest writes the manifest as indented JSON and returns its path.
func (s *Store) WriteManifest(runID string, manifest interface{}) (string, error) {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode manifest: %w", err)
	}
	path := filepath.Join(s.RunDir(runID), ManifestFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	return path, nil
}

// WriteSummary writes the run summary as YAML and returns its path.
func (s *Store) WriteSummary(runID string, summary interface{}) (string, error) {
	data, err := yaml.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("failed to encode summary: %w", err)
	}
	path := filepath.Join(s.RunDir(runID), SummaryFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write summary: %w", err)
	}
	return path, nil
}
