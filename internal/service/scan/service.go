package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"deepguard/internal/fetch"
	"deepguard/internal/media"
	"deepguard/internal/models"
	"deepguard/internal/service/inference"
	"deepguard/internal/staging"
)

// LinkExtractor turns a page url into a direct media url, or "" when it cannot.
type LinkExtractor interface {
	Extract(ctx context.Context, pageURL string) string
	Forget(ctx context.Context, pageURL string)
}

// MediaFetcher downloads a direct media url into staging.
type MediaFetcher interface {
	Fetch(ctx context.Context, mediaURL string) (*models.StagedFile, error)
}

// Recorder persists finished scans.
type Recorder interface {
	Record(ctx context.Context, rec *models.ScanRecord) error
}

// Deps wires the collaborators of a Service. History is optional.
type Deps struct {
	Store         staging.Store
	Detectors     inference.Detectors
	Aggregator    inference.Aggregator
	Extractor     LinkExtractor
	Fetcher       MediaFetcher
	History       Recorder
	VerifyContent bool
}

// Service runs the scan pipeline: validate, stage, infer, aggregate, release.
type Service struct {
	store         staging.Store
	detectors     inference.Detectors
	aggregator    inference.Aggregator
	extractor     LinkExtractor
	fetcher       MediaFetcher
	history       Recorder
	verifyContent bool
	now           func() time.Time
}

func NewService(deps Deps) *Service {
	return &Service{
		store:         deps.Store,
		detectors:     deps.Detectors,
		aggregator:    deps.Aggregator,
		extractor:     deps.Extractor,
		fetcher:       deps.Fetcher,
		history:       deps.History,
		verifyContent: deps.VerifyContent,
		now:           time.Now,
	}
}

// ScanUpload validates filename against the allow-list for kind, stages body and scores it.
// Nothing is staged when validation fails.
func (s *Service) ScanUpload(ctx context.Context, kind models.MediaKind, filename string, body io.Reader) (*models.ScanResult, error) {
	ext, ok := media.UploadExtension(kind, filename)
	if !ok {
		return nil, fmt.Errorf("%w: %s file %q", ErrInvalidFormat, kind, filename)
	}
	detector, ok := s.detectors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, kind)
	}

	file, err := s.store.Put(ctx, ext, body)
	if err != nil {
		if errors.Is(err, staging.ErrTooLarge) {
			return nil, fmt.Errorf("%w: %v", ErrFileTooLarge, err)
		}
		return nil, fmt.Errorf("stage upload: %w", err)
	}
	defer s.release(file)

	if s.verifyContent {
		if _, err := media.Verify(file.Path, kind); err != nil {
			if errors.Is(err, media.ErrContentMismatch) {
				return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
			}
			return nil, fmt.Errorf("verify upload: %w", err)
		}
	}

	result, err := s.score(ctx, detector, kind, file)
	if err != nil {
		return nil, err
	}
	s.record(ctx, result, models.SourceUpload, filepath.Base(filename))
	return result, nil
}

// ScanLink extracts a direct media url from pageURL, downloads it and scores it
// with the detector matching the resolved kind.
func (s *Service) ScanLink(ctx context.Context, pageURL string) (*models.ScanResult, error) {
	direct := s.extractor.Extract(ctx, pageURL)
	if direct == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvableLink, pageURL)
	}

	file, err := s.fetcher.Fetch(ctx, direct)
	if err != nil {
		switch {
		case errors.Is(err, fetch.ErrUnknownMedia):
			return nil, fmt.Errorf("%w: %s", ErrUnknownMediaType, direct)
		case errors.Is(err, fetch.ErrDownload):
			// a cached direct url may have expired
			s.extractor.Forget(ctx, pageURL)
			return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
		}
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer s.release(file)

	kind := models.MediaUnknown
	if file.Reference != nil {
		kind = file.Reference.Kind
	}
	detector, ok := s.detectors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, kind)
	}

	result, err := s.score(ctx, detector, kind, file)
	if err != nil {
		return nil, err
	}
	s.record(ctx, result, models.SourceLink, pageURL)
	return result, nil
}

func (s *Service) score(ctx context.Context, detector inference.Detector, kind models.MediaKind, file *models.StagedFile) (*models.ScanResult, error) {
	scores, err := detector.Detect(ctx, file.Path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrInferenceUnavailable, err)
	}
	return &models.ScanResult{
		Status:      models.StatusSuccess,
		Kind:        kind,
		Probability: s.aggregator.Combine(scores),
		Breakdown:   scores,
	}, nil
}

func (s *Service) release(file *models.StagedFile) {
	if err := s.store.Delete(file); err != nil {
		log.Printf("release staged file %s: %v", file.Key, err)
	}
}

func (s *Service) record(ctx context.Context, result *models.ScanResult, source, name string) {
	if s.history == nil {
		return
	}
	rec := &models.ScanRecord{
		Kind:        result.Kind,
		Source:      source,
		FileName:    name,
		Probability: result.Probability,
		Breakdown:   result.Breakdown,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.history.Record(ctx, rec); err != nil {
		log.Printf("record scan history: %v", err)
	}
}
