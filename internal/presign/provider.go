// Package presign hands out time-limited storage URLs for one file and
// refreshes them from the metadata service shortly before they expire.
package presign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/synget/synget/internal/utils"
)

const DefaultBuffer = 5 * time.Second

var ErrExpiredOnIssue = errors.New("presign: url expired at issuance")

// Info is one issued URL. A refresh produces a new Info; old values are
// simply dropped.
type Info struct {
	FileName   string
	URL        string
	Expiration time.Time
}

// Source is the metadata service that signs download URLs.
type Source interface {
	FetchURL(ctx context.Context, req utils.DownloadRequest) (fileName, url string, err error)
}

type Option func(*Provider)

// WithBuffer sets how long before expiration a URL stops being handed out.
func WithBuffer(d time.Duration) Option {
	return func(p *Provider) {
		p.buffer = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// Provider caches the URL for a single DownloadRequest. It is safe for
// concurrent use; the validity check and any refresh happen under one lock.
type Provider struct {
	source  Source
	request utils.DownloadRequest
	buffer  time.Duration
	now     func() time.Time

	mu        sync.Mutex
	cached    *Info
	refreshes int
}

func NewProvider(source Source, request utils.DownloadRequest, opts ...Option) *Provider {
	p := &Provider{
		source:  source,
		request: request,
		buffer:  DefaultBuffer,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetInfo returns a URL that is valid for at least the safety buffer.
// Errors from the source are returned as-is.
func (p *Provider) GetInfo(ctx context.Context) (Info, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && p.valid(p.cached.Expiration) {
		return *p.cached, nil
	}

	fileName, rawURL, err := p.source.FetchURL(ctx, p.request)
	if err != nil {
		return Info{}, err
	}
	expiration, err := ParseExpiration(rawURL)
	if err != nil {
		return Info{}, fmt.Errorf("url for file handle %s: %w", p.request.FileHandleID, err)
	}
	if !p.valid(expiration) {
		return Info{}, fmt.Errorf("%w: file handle %s expires %s", ErrExpiredOnIssue, p.request.FileHandleID, expiration.Format(time.RFC3339))
	}

	p.cached = &Info{FileName: fileName, URL: rawURL, Expiration: expiration}
	p.refreshes++
	log.Debug().Str("op", "presign/provider").Msgf("issued url for file handle %s valid until %s", p.request.FileHandleID, expiration.Format(time.RFC3339))
	return *p.cached, nil
}

// Refreshes reports how many times the source has been called successfully.
func (p *Provider) Refreshes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes
}

func (p *Provider) valid(expiration time.Time) bool {
	return p.now().Add(p.buffer).Before(expiration)
}
