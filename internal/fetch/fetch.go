package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"deepguard/internal/media"
	"deepguard/internal/models"
	"deepguard/internal/staging"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultUserAgent = "Mozilla/5.0 (compatible; deepguard/1.0)"
	maxRedirects     = 5
)

var (
	// ErrDownload covers transport failures and non-2xx responses.
	ErrDownload = errors.New("download failed")
	// ErrUnknownMedia is returned when neither headers nor URL reveal the media kind.
	ErrUnknownMedia = errors.New("unknown media type")
)

// Options configures a Fetcher. Zero values fall back to defaults.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	Client    *http.Client
}

// Fetcher streams remote media into the staging store.
type Fetcher struct {
	store     staging.Store
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

func New(store staging.Store, opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errors.New("too many redirects")
				}
				return nil
			},
		}
	}
	return &Fetcher{store: store, client: client, timeout: opts.Timeout, userAgent: opts.UserAgent}
}

// Fetch downloads mediaURL, resolves its kind from the response and stages the body.
// Nothing is staged when the status is not 2xx or the kind stays unknown.
func (f *Fetcher) Fetch(ctx context.Context, mediaURL string) (*models.StagedFile, error) {
	parsed, err := url.Parse(mediaURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("%w: unsupported url %q", ErrDownload, mediaURL)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s", ErrDownload, resp.Status)
	}

	ref := media.Resolve(mediaURL, resp.Header.Get("Content-Type"))
	if !ref.Known() {
		return nil, ErrUnknownMedia
	}

	file, err := f.store.Put(ctx, ref.Extension, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	file.Reference = &ref
	return file, nil
}
