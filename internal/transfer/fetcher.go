package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/synget/synget/internal/chunk"
	"github.com/synget/synget/internal/presign"
	"github.com/synget/synget/internal/utils"
)

// ProgressSink receives the size of every chunk written to disk. It is
// called from fetch goroutines and must return quickly.
type ProgressSink interface {
	OnBytes(n int64)
}

type ProgressFunc func(n int64)

func (f ProgressFunc) OnBytes(n int64) {
	f(n)
}

type noProgress struct{}

func (noProgress) OnBytes(int64) {}

// URLProvider supplies a currently valid presigned URL.
type URLProvider interface {
	GetInfo(ctx context.Context) (presign.Info, error)
}

// Fetcher downloads single byte ranges of one file into its destination.
type Fetcher struct {
	client   utils.HTTPDoer
	urls     URLProvider
	dest     *destination
	state    *transferState
	progress ProgressSink
	policy   RetryPolicy
	limiter  *rate.Limiter
}

// Fetch downloads r, retrying transient failures, and writes it at its
// offset. It returns the completed range.
func (f *Fetcher) Fetch(ctx context.Context, r chunk.ByteRange) (chunk.ByteRange, error) {
	attempts := 0
	op := func() error {
		if f.state.isAborted() {
			return backoff.Permanent(ErrAborted)
		}
		attempts++
		data, err := f.attempt(ctx, r)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := f.dest.writeAt(data, r.Start); err != nil {
			return backoff.Permanent(err)
		}
		f.progress.OnBytes(int64(len(data)))
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Debug().Str("op", "transfer/fetcher").Err(err).Msgf("range %s attempt %d failed, retrying in %s", r, attempts, wait.Round(time.Millisecond))
	}

	// An abort elsewhere cuts the backoff sleep short.
	waitCtx, cancel := f.state.waitContext(ctx)
	defer cancel()
	err := backoff.RetryNotify(op, f.policy.newBackOff(waitCtx), notify)
	if err == nil {
		return r, nil
	}
	if errors.Is(err, ErrAborted) || (ctx.Err() == nil && errors.Is(err, context.Canceled) && f.state.isAborted()) {
		return r, ErrAborted
	}
	return r, &ChunkError{Range: r, Destination: f.dest.path, Attempts: attempts, Err: err}
}

// attempt performs one ranged GET and returns exactly r.Len() bytes.
func (f *Fetcher) attempt(ctx context.Context, r chunk.ByteRange) ([]byte, error) {
	info, err := f.urls.GetInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("presigned url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("error creating request: %w", err))
	}
	req.Header.Set("Range", r.HeaderValue())
	req.Header.Set("Connection", "keep-alive")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusOK:
		return nil, fmt.Errorf("%w: status %d for %s", ErrRangeIgnored, resp.StatusCode, r.HeaderValue())
	default:
		return nil, newStatusError(resp)
	}
	if resp.ContentLength >= 0 && resp.ContentLength != r.Len() {
		return nil, fmt.Errorf("%w: content length %d, want %d", ErrBodyLength, resp.ContentLength, r.Len())
	}
	if err := checkContentRange(resp.Header.Get("Content-Range"), r); err != nil {
		return nil, err
	}

	var body io.Reader = resp.Body
	if f.limiter != nil {
		body = &rateLimitedReader{ctx: ctx, r: body, limiter: f.limiter}
	}
	data := make([]byte, r.Len())
	if n, err := io.ReadFull(body, data); err != nil {
		return nil, fmt.Errorf("%w: read %d of %d bytes: %v", ErrBodyLength, n, r.Len(), err)
	}
	return data, nil
}

// checkContentRange verifies that a 206 answered exactly r. The header
// has the form "bytes start-end/total" with total possibly "*".
func checkContentRange(header string, r chunk.ByteRange) error {
	value, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return fmt.Errorf("%w: content range %q for %s", ErrRangeMismatch, header, r.HeaderValue())
	}
	span, _, ok := strings.Cut(value, "/")
	if !ok {
		return fmt.Errorf("%w: content range %q for %s", ErrRangeMismatch, header, r.HeaderValue())
	}
	first, last, ok := strings.Cut(span, "-")
	if !ok {
		return fmt.Errorf("%w: content range %q for %s", ErrRangeMismatch, header, r.HeaderValue())
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid start in %q: %v", ErrRangeMismatch, header, err)
	}
	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid end in %q: %v", ErrRangeMismatch, header, err)
	}
	if start != r.Start || end != r.End {
		return fmt.Errorf("%w: got bytes %d-%d, want %s", ErrRangeMismatch, start, end, r)
	}
	return nil
}
