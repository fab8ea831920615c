package media

import (
	"path/filepath"
	"strings"

	"deepguard/internal/models"
)

var allowedUploads = map[models.MediaKind][]string{
	models.MediaImage: {".jpg", ".jpeg", ".png", ".webp"},
	models.MediaAudio: {".wav", ".mp3", ".m4a", ".aac", ".ogg"},
	models.MediaVideo: {".mp4", ".mov", ".avi"},
}

// UploadExtension checks filename against the allow-list for kind and returns its
// lower-cased extension. Matching ignores case for every kind.
func UploadExtension(kind models.MediaKind, filename string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if ext == "" {
		return "", false
	}
	for _, allowed := range allowedUploads[kind] {
		if ext == allowed {
			return ext, true
		}
	}
	return "", false
}

// AllowedExtensions lists the accepted upload extensions for kind.
func AllowedExtensions(kind models.MediaKind) []string {
	exts := allowedUploads[kind]
	out := make([]string, len(exts))
	copy(out, exts)
	return out
}
