// Package transfer downloads one remote file as many concurrent range
// requests written into a single pre-sized destination file.
//
// A download moves through init (first presigned URL and a size probe),
// planning (byte ranges and file allocation), fetching (one bounded task
// per range) and then either completes or aborts. The first failing range
// aborts the download: ranges not yet started are skipped, ranges already
// in flight finish their current attempt, the partial file is removed and
// the first error is returned.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/synget/synget/internal/chunk"
	"github.com/synget/synget/internal/presign"
	"github.com/synget/synget/internal/utils"
)

type Options struct {
	// Connections bounds the number of ranges fetched at once.
	Connections int
	PartSize    int64
	Retry       RetryPolicy
	// RateLimit caps the download in bytes per second; 0 disables it.
	RateLimit       int64
	Progress        ProgressSink
	ProviderOptions []presign.Option
}

// Stats describes a finished download.
type Stats struct {
	Size        int64
	Ranges      int
	Transferred int64
	Writes      int
	Duration    time.Duration
	URLRefresh  int
}

type Coordinator struct {
	client utils.HTTPDoer
	source presign.Source
	opts   Options
}

// NewCoordinator builds a coordinator that signs URLs through source and
// fetches them with client. client must not add credentials of its own.
func NewCoordinator(client utils.HTTPDoer, source presign.Source, opts Options) *Coordinator {
	if opts.Connections <= 0 {
		opts.Connections = utils.DefaultConnections
	}
	if opts.PartSize <= 0 {
		opts.PartSize = chunk.DefaultPartSize
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Progress == nil {
		opts.Progress = noProgress{}
	}
	return &Coordinator{client: client, source: source, opts: opts}
}

// Download fetches the file described by req to req.DestinationPath. On
// failure no file is left at the destination.
func (c *Coordinator) Download(ctx context.Context, req utils.DownloadRequest) error {
	_, err := c.DownloadWithStats(ctx, req)
	return err
}

func (c *Coordinator) DownloadWithStats(ctx context.Context, req utils.DownloadRequest) (Stats, error) {
	started := time.Now()
	urls := presign.NewProvider(c.source, req, c.opts.ProviderOptions...)

	info, err := urls.GetInfo(ctx)
	if err != nil {
		return Stats{}, err
	}
	size, err := c.probeSize(ctx, urls)
	if err != nil {
		return Stats{}, fmt.Errorf("error getting size of %s: %w", info.FileName, err)
	}
	log.Debug().Str("op", "transfer/coordinator").Msgf("%s is %d bytes, %d ranges of %d", info.FileName, size, chunk.Count(size, c.opts.PartSize), c.opts.PartSize)

	dest, err := createDestination(req.DestinationPath, size)
	if err != nil {
		return Stats{}, err
	}
	state := newTransferState()
	fetcher := &Fetcher{
		client:   c.client,
		urls:     urls,
		dest:     dest,
		state:    state,
		progress: c.opts.Progress,
		policy:   c.opts.Retry,
		limiter:  NewRateLimiter(c.opts.RateLimit),
	}

	// In-flight requests keep the caller's ctx: an abort stops scheduling
	// but does not cut off requests that already started.
	var g errgroup.Group
	g.SetLimit(c.opts.Connections)
	for r := range chunk.Plan(size, c.opts.PartSize) {
		if state.isAborted() || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			done, err := fetcher.Fetch(ctx, r)
			if err != nil {
				c.recordFailure(state, req, r, err)
				return err
			}
			state.complete(done)
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		state.abort(err)
	}

	closeErr := dest.close()
	ranges, transferred := state.totals()
	stats := Stats{
		Size:        size,
		Ranges:      ranges,
		Transferred: transferred,
		Writes:      dest.writeCount(),
		Duration:    time.Since(started),
		URLRefresh:  urls.Refreshes(),
	}

	cause := state.failure()
	if cause == nil && closeErr != nil {
		cause = fmt.Errorf("error closing %s: %w", req.DestinationPath, closeErr)
	}
	if cause == nil && transferred != size {
		cause = fmt.Errorf("incomplete download of %s: %d of %d bytes", req.DestinationPath, transferred, size)
	}
	if cause != nil {
		if err := dest.remove(); err != nil {
			log.Warn().Str("op", "transfer/coordinator").Err(err).Msgf("could not remove partial file %s", req.DestinationPath)
		}
		return stats, cause
	}

	log.Info().Str("op", "transfer/coordinator").Msgf("downloaded %s (%s) in %s", req.DestinationPath, utils.FormatBytes(uint64(size)), stats.Duration.Round(time.Millisecond))
	return stats, nil
}

func (c *Coordinator) recordFailure(state *transferState, req utils.DownloadRequest, r chunk.ByteRange, err error) {
	if errors.Is(err, ErrAborted) {
		log.Debug().Str("op", "transfer/coordinator").Msgf("range %s of %s skipped after abort", r, req.DestinationPath)
		return
	}
	if state.abort(err) {
		log.Error().Str("op", "transfer/coordinator").Err(err).Msgf("aborting download of %s", req.DestinationPath)
		return
	}
	log.Debug().Str("op", "transfer/coordinator").Err(err).Msgf("additional failure in %s after abort", req.DestinationPath)
}

// probeSize issues an unranged GET and reads only Content-Length. A GET is
// used because presigned URLs are signed for one method.
func (c *Coordinator) probeSize(ctx context.Context, urls URLProvider) (int64, error) {
	var size int64
	op := func() error {
		info, err := urls.GetInfo(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			statusErr := newStatusError(resp)
			if retryableStatus(resp.StatusCode) {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}
		if resp.ContentLength < 0 {
			return backoff.Permanent(ErrUnknownSize)
		}
		size = resp.ContentLength
		return nil
	}
	if err := backoff.Retry(op, c.opts.Retry.newBackOff(ctx)); err != nil {
		return 0, err
	}
	return size, nil
}
