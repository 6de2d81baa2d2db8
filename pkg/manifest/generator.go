package manifest

import (
	"encoding/base64"
	"time"

	"github.com/adlibio/adprep/models"
)

// Build groups optimized assets by entity key into the run manifest,
// classifying each asset as image or video by its source type. Pure
// aggregation: no I/O. Entity order follows first appearance in the asset
// slice; asset order within an entity is preserved.
func Build(runID string, assets []models.OptimizedAsset) Manifest {
	m := Manifest{
		RunID:       runID,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		AssetCount:  len(assets),
	}

	index := make(map[string]int)
	for _, asset := range assets {
		entry := ManifestAsset{
			Ref:    asset.Path,
			Kind:   classifyKind(asset),
			Width:  asset.Width,
			Height: asset.Height,
		}
		if len(asset.Embedded) > 0 {
			entry.Embedded = base64.StdEncoding.EncodeToString(asset.Embedded)
		}

		i, ok := index[asset.EntityKey]
		if !ok {
			i = len(m.Entities)
			index[asset.EntityKey] = i
			m.Entities = append(m.Entities, ManifestEntity{EntityKey: asset.EntityKey})
		}
		m.Entities[i].Assets = append(m.Entities[i].Assets, entry)
	}
	return m
}

// classifyKind maps an asset's source type onto its manifest kind: frames
// extracted from a video stay classified as video media.
func classifyKind(asset models.OptimizedAsset) string {
	if asset.SourceType == models.SourceTypeVideoFrame {
		return KindVideo
	}
	return KindImage
}
