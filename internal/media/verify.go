package media

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"

	"deepguard/internal/models"
)

// ErrContentMismatch is returned when the bytes on disk do not look like the claimed kind.
var ErrContentMismatch = errors.New("content does not match media type")

// containers that carry a kind without announcing it in the top-level MIME type.
var extraContainers = map[models.MediaKind][]string{
	models.MediaAudio: {"application/ogg", "video/mp4"},
	models.MediaVideo: {"application/ogg"},
}

// Verify sniffs the file at path and checks it against kind. Images must also
// decode far enough to report their dimensions.
func Verify(path string, kind models.MediaKind) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("sniff %s: %w", path, err)
	}
	if !matchesKind(mt, kind) {
		return mt.String(), fmt.Errorf("%w: detected %s, expected %s", ErrContentMismatch, mt.String(), kind)
	}
	if kind == models.MediaImage {
		if err := decodeImageHeader(path); err != nil {
			return mt.String(), fmt.Errorf("%w: %v", ErrContentMismatch, err)
		}
	}
	return mt.String(), nil
}

func kindOf(mt *mimetype.MIME) models.MediaKind {
	for m := mt; m != nil; m = m.Parent() {
		top, _, _ := strings.Cut(m.String(), "/")
		switch models.MediaKind(top) {
		case models.MediaImage, models.MediaVideo, models.MediaAudio:
			return models.MediaKind(top)
		}
	}
	return models.MediaUnknown
}

func matchesKind(mt *mimetype.MIME, kind models.MediaKind) bool {
	if kindOf(mt) == kind {
		return true
	}
	for _, container := range extraContainers[kind] {
		if mt.Is(container) {
			return true
		}
	}
	return false
}

func decodeImageHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("invalid image dimensions %dx%d", cfg.Width, cfg.Height)
	}
	return nil
}
