package manifest

import (
	"testing"

	"github.com/adlibio/adprep/models"
)

func TestBuild_GroupsByEntity(t *testing.T) {
	assets := []models.OptimizedAsset{
		{EntityKey: "A", SourceType: models.SourceTypeImage, Path: "prepared/A/1.jpg"},
		{EntityKey: "B", SourceType: models.SourceTypeVideoFrame, Path: "prepared/B/f0.jpg"},
		{EntityKey: "A", SourceType: models.SourceTypeImage, Path: "prepared/A/2.jpg"},
		{EntityKey: "B", SourceType: models.SourceTypeVideoFrame, Path: "prepared/B/f1.jpg"},
	}

	m := Build("run-1", assets)

	if m.RunID != "run-1" {
		t.Errorf("RunID = %s, want run-1", m.RunID)
	}
	if m.AssetCount != 4 {
		t.Errorf("AssetCount = %d, want 4", m.AssetCount)
	}
	if len(m.Entities) != 2 {
		t.Fatalf("got %d entities, want 2", len(m.Entities))
	}

	// Entity order follows first appearance.
	if m.Entities[0].EntityKey != "A" || m.Entities[1].EntityKey != "B" {
		t.Errorf("entity order = [%s, %s], want [A, B]",
			m.Entities[0].EntityKey, m.Entities[1].EntityKey)
	}
	if len(m.Entities[0].Assets) != 2 {
		t.Errorf("entity A has %d assets, want 2", len(m.Entities[0].Assets))
	}
	if m.Entities[0].Assets[0].Ref != "prepared/A/1.jpg" {
		t.Errorf("asset order not preserved: %s", m.Entities[0].Assets[0].Ref)
	}
}

func TestBuild_KindClassification(t *testing.T) {
	tests := []struct {
		name       string
		sourceType string
		want       string
	}{
		{name: "image source", sourceType: models.SourceTypeImage, want: KindImage},
		{name: "video frame source", sourceType: models.SourceTypeVideoFrame, want: KindVideo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Build("r", []models.OptimizedAsset{
				{EntityKey: "E", SourceType: tt.sourceType, Path: "x.jpg"},
			})
			if got := m.Entities[0].Assets[0].Kind; got != tt.want {
				t.Errorf("kind = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBuild_EmbeddedPayload(t *testing.T) {
	m := Build("r", []models.OptimizedAsset{
		{EntityKey: "E", SourceType: models.SourceTypeImage, Path: "x.jpg", Embedded: []byte{0xFF, 0xD8}},
	})
	if m.Entities[0].Assets[0].Embedded == "" {
		t.Error("embedded payload not base64-encoded into the manifest")
	}
}

func TestBuild_Empty(t *testing.T) {
	m := Build("r", nil)
	if len(m.Entities) != 0 || m.AssetCount != 0 {
		t.Errorf("empty build produced entities=%d assets=%d", len(m.Entities), m.AssetCount)
	}
}
