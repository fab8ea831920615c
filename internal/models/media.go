package models

// MediaKind classifies a piece of media.
type MediaKind string

const (
	MediaImage   MediaKind = "image"
	MediaVideo   MediaKind = "video"
	MediaAudio   MediaKind = "audio"
	MediaUnknown MediaKind = "unknown"
)

// MediaReference is the resolved classification of a remote resource.
type MediaReference struct {
	Kind      MediaKind `json:"media_type"`
	Extension string    `json:"extension"`
	SourceURL string    `json:"source_url"`
}

// Known reports whether the reference resolved to a scannable kind.
func (r MediaReference) Known() bool {
	return r.Kind == MediaImage || r.Kind == MediaVideo || r.Kind == MediaAudio
}
