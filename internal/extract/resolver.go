package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

// Format is one downloadable variant reported by a resolver.
type Format struct {
	URL string `json:"url"`
	Ext string `json:"ext"`
}

// Info is the metadata a resolver returns for a page URL.
type Info struct {
	URL     string   `json:"url"`
	Ext     string   `json:"ext"`
	Formats []Format `json:"formats"`
}

// Resolver turns a page or share URL into candidate media URLs without fetching media bytes.
type Resolver interface {
	Resolve(ctx context.Context, pageURL string) (*Info, error)
}

var errNotDirect = errors.New("not a direct media url")

var directExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".webp": {},
	".mp4": {}, ".mov": {}, ".avi": {},
	".mp3": {}, ".wav": {}, ".m4a": {}, ".aac": {}, ".ogg": {},
}

// DirectResolver accepts URLs whose path already names a media file.
type DirectResolver struct{}

func (DirectResolver) Resolve(_ context.Context, pageURL string) (*Info, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if _, ok := directExtensions[ext]; !ok {
		return nil, errNotDirect
	}
	return &Info{URL: pageURL, Ext: strings.TrimPrefix(ext, ".")}, nil
}

// YTDLPResolver asks yt-dlp for page metadata without downloading media.
type YTDLPResolver struct {
	Binary  string
	Timeout time.Duration
}

func (r YTDLPResolver) command() *ytdlp.Command {
	cmd := ytdlp.New().
		DumpSingleJSON().
		SkipDownload().
		NoPlaylist().
		NoWarnings().
		Quiet()
	if r.Binary != "" {
		cmd = cmd.SetExecutable(r.Binary)
	}
	return cmd
}

func (r YTDLPResolver) Resolve(ctx context.Context, pageURL string) (*Info, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	res, err := r.command().Run(ctx, pageURL)
	if err != nil {
		if res != nil && res.Stderr != "" {
			return nil, fmt.Errorf("yt-dlp: %w: %s", err, strings.TrimSpace(res.Stderr))
		}
		return nil, fmt.Errorf("yt-dlp: %w", err)
	}

	var info Info
	if err := json.Unmarshal([]byte(res.Stdout), &info); err != nil {
		return nil, fmt.Errorf("decode yt-dlp output: %w", err)
	}
	return &info, nil
}

// ChainResolver tries each resolver in order and returns the first success.
type ChainResolver []Resolver

func (c ChainResolver) Resolve(ctx context.Context, pageURL string) (*Info, error) {
	var errs []error
	for _, r := range c {
		info, err := r.Resolve(ctx, pageURL)
		if err == nil && info != nil {
			return info, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil, errors.New("no resolver configured")
	}
	return nil, errors.Join(errs...)
}
