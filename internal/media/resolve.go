package media

import (
	"strings"

	"deepguard/internal/models"
)

// defaultExtensions is the extension a staged download gets once its kind is known.
var defaultExtensions = map[models.MediaKind]string{
	models.MediaImage: ".jpg",
	models.MediaVideo: ".mp4",
	models.MediaAudio: ".mp3",
}

// urlHints is consulted only when the content type says nothing useful.
var urlHints = []struct {
	kind models.MediaKind
	exts []string
}{
	{models.MediaImage, []string{".jpg", ".jpeg", ".png"}},
	{models.MediaVideo, []string{".mp4", ".mov"}},
	{models.MediaAudio, []string{".mp3", ".wav"}},
}

// Resolve classifies a remote resource from its declared content type, falling back
// to extension substrings in the URL. No bytes are inspected.
func Resolve(rawURL, contentType string) models.MediaReference {
	ref := models.MediaReference{Kind: models.MediaUnknown, SourceURL: rawURL}

	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "image"):
		ref.Kind = models.MediaImage
	case strings.Contains(ct, "video"):
		ref.Kind = models.MediaVideo
	case strings.Contains(ct, "audio"):
		ref.Kind = models.MediaAudio
	default:
		ref.Kind = kindFromURL(rawURL)
	}
	ref.Extension = defaultExtensions[ref.Kind]
	return ref
}

// kindFromURL matches the raw URL, so the hints are case-sensitive.
func kindFromURL(rawURL string) models.MediaKind {
	for _, hint := range urlHints {
		for _, ext := range hint.exts {
			if strings.Contains(rawURL, ext) {
				return hint.kind
			}
		}
	}
	return models.MediaUnknown
}

// DefaultExtension returns the staging extension for kind, or "" for unknown kinds.
func DefaultExtension(kind models.MediaKind) string {
	return defaultExtensions[kind]
}
