package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"deepguard/internal/models"
)

// ChunkSize is the buffer used when copying media into the staging area.
const ChunkSize = 32 << 10

// ErrTooLarge is returned when a stream exceeds the store's size cap.
var ErrTooLarge = errors.New("staged file exceeds size limit")

// Store persists media for the duration of one request.
type Store interface {
	Put(ctx context.Context, ext string, r io.Reader) (*models.StagedFile, error)
	Delete(file *models.StagedFile) error
}

// LocalStore stages files in a directory on the local filesystem.
type LocalStore struct {
	dir      string
	maxBytes int64
}

// NewLocalStore creates dir if needed. maxBytes <= 0 disables the size cap.
func NewLocalStore(dir string, maxBytes int64) (*LocalStore, error) {
	if dir == "" {
		return nil, errors.New("staging dir required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &LocalStore{dir: filepath.Clean(dir), maxBytes: maxBytes}, nil
}

// Dir returns the staging directory.
func (s *LocalStore) Dir() string { return s.dir }

// Put copies r into a freshly named file. A partial file is removed on any failure.
func (s *LocalStore) Put(ctx context.Context, ext string, r io.Reader) (*models.StagedFile, error) {
	ext = sanitizeExt(ext)
	key := uuid.NewString() + ext
	path := filepath.Join(s.dir, key)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create staged file: %w", err)
	}

	size, copyErr := s.copyChunks(ctx, f, r)
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("remove partial staged file %s failed: %v", path, err)
		}
		return nil, copyErr
	}

	return &models.StagedFile{
		Key:       key,
		Path:      path,
		Extension: ext,
		Size:      size,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (s *LocalStore) copyChunks(ctx context.Context, w io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, ChunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, readErr := r.Read(buf)
		if n > 0 {
			if s.maxBytes > 0 && written+int64(n) > s.maxBytes {
				return written, ErrTooLarge
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write staged file: %w", err)
			}
			written += int64(n)
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, fmt.Errorf("read media stream: %w", readErr)
		}
	}
}

// Delete removes the staged file. A file that is already gone is not an error.
func (s *LocalStore) Delete(file *models.StagedFile) error {
	if file == nil || file.Path == "" {
		return nil
	}
	if filepath.Dir(file.Path) != filepath.Clean(s.dir) {
		return fmt.Errorf("staged file %s is outside %s", file.Path, s.dir)
	}
	if err := os.Remove(file.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete staged file: %w", err)
	}
	return nil
}

func sanitizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
