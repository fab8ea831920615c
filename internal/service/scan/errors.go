package scan

import "errors"

var (
	// ErrInvalidFormat means the upload failed the extension allow-list or content check.
	ErrInvalidFormat = errors.New("invalid format")
	// ErrUnresolvableLink means no direct media url could be extracted from the page url.
	ErrUnresolvableLink = errors.New("unresolvable link")
	// ErrUnknownMediaType means the fetched resource could not be classified.
	ErrUnknownMediaType = errors.New("unknown media type")
	// ErrDownloadFailed covers network errors, non-2xx responses and oversized downloads.
	ErrDownloadFailed = errors.New("download failed")
	// ErrUnsupportedMediaType means no detector is registered for the resolved kind.
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	// ErrInferenceUnavailable means the detector could not score the staged file.
	ErrInferenceUnavailable = errors.New("inference unavailable")
	// ErrFileTooLarge means an upload exceeded the staging size limit.
	ErrFileTooLarge = errors.New("file too large")
)
