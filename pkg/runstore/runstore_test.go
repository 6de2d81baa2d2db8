package runstore

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitRun_CreatesLayout(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.InitRun("run-1"); err != nil {
		t.Fatalf("InitRun failed: %v", err)
	}

	for _, dir := range []string{s.RunDir("run-1"), s.MediaDir("run-1"), s.PreparedMediaDir("run-1")} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("missing directory %s: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}

func TestSaveDataset_RoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.InitRun("run-1"); err != nil {
		t.Fatalf("InitRun failed: %v", err)
	}

	const body = `{"id":"1"}` + "\n" + `{"id":"2"}` + "\n"
	path, err := s.SaveDataset("run-1", strings.NewReader(body))
	if err != nil {
		t.Fatalf("SaveDataset failed: %v", err)
	}
	if filepath.Base(path) != DatasetFile {
		t.Errorf("dataset path = %s, want %s", path, DatasetFile)
	}

	rc, err := s.OpenDataset("run-1")
	if err != nil {
		t.Fatalf("OpenDataset failed: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(got) != body {
		t.Errorf("dataset = %q, want %q", got, body)
	}
}

func TestWriteManifestAndSummary(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.InitRun("run-1"); err != nil {
		t.Fatalf("InitRun failed: %v", err)
	}

	mPath, err := s.WriteManifest("run-1", map[string]int{"asset_count": 3})
	if err != nil {
		t.Fatalf("WriteManifest failed: %v", err)
	}
	data, err := os.ReadFile(mPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if !strings.Contains(string(data), `"asset_count": 3`) {
		t.Errorf("manifest content unexpected: %s", data)
	}

	sPath, err := s.WriteSummary("run-1", map[string]int{"attempted": 5})
	if err != nil {
		t.Fatalf("WriteSummary failed: %v", err)
	}
	data, err = os.ReadFile(sPath)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if !strings.Contains(string(data), "attempted: 5") {
		t.Errorf("summary content unexpected: %s", data)
	}
}
