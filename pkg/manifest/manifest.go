// Package manifest assembles the final per-entity media listing handed to
// downstream collaborators.
package manifest

// Asset kinds in the manifest.
const (
	KindImage = "image"
	KindVideo = "video"
)

// Manifest maps each selected entity to its processed media set.
// It is built once at the end of a run and read-only afterward.
type Manifest struct {
	RunID       string           `json:"run_id"`
	GeneratedAt string           `json:"generated_at"`
	Entities    []ManifestEntity `json:"entities"`
	AssetCount  int              `json:"asset_count"`
}

// ManifestEntity is one entity's processed media list.
type ManifestEntity struct {
	EntityKey string          `json:"entity_key"`
	Assets    []ManifestAsset `json:"assets"`
}

// ManifestAsset references one processed file, either by path or by an
// embedded base64 payload.
type ManifestAsset struct {
	Ref      string `json:"ref"`
	Kind     string `json:"kind"`
	Embedded string `json:"embedded,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}
