package transfer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/synget/synget/internal/s3source"
	"github.com/synget/synget/internal/synapse"
	"github.com/synget/synget/internal/utils"
)

// RetryPolicy is the exponential backoff applied to every ranged GET.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first one.
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
	// Jitter randomizes each wait by ±Jitter of its value.
	Jitter float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:   utils.DefaultRetryAttempts,
		Backoff:    utils.DefaultRetryBackoff,
		MaxBackoff: utils.DefaultRetryMax,
		Jitter:     0.5,
	}
}

func RetryPolicyFrom(cfg utils.RetryConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.Attempts > 0 {
		p.Attempts = cfg.Attempts
	}
	if cfg.Backoff > 0 {
		p.Backoff = cfg.Backoff
	}
	if cfg.MaxBackoff > 0 {
		p.MaxBackoff = cfg.MaxBackoff
	}
	return p
}

func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	attempts := max(p.Attempts, 1)
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Backoff,
		RandomizationFactor: p.Jitter,
		Multiplier:          2,
		MaxInterval:         max(p.MaxBackoff, p.Backoff),
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// retryableStatus lists storage responses worth another attempt. 403 is
// included because an S3 signature can lapse between issuance and use; the
// next attempt asks the provider again.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusForbidden,
		http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsRetryable reports whether err is a transient storage condition.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// The file handle itself is gone or forbidden; a new URL will not help.
	if errors.Is(err, synapse.ErrNotFound) || errors.Is(err, synapse.ErrUnauthorized) || errors.Is(err, s3source.ErrNotS3Handle) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return retryableStatus(status.StatusCode)
	}
	return true
}

type rateLimitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (l *rateLimitedReader) Read(p []byte) (int, error) {
	if burst := l.limiter.Burst(); burst > 0 && len(p) > burst {
		p = p[:burst]
	}
	n, err := l.r.Read(p)
	if n > 0 {
		if werr := l.limiter.WaitN(l.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// NewRateLimiter returns a limiter for bytesPerSecond, or nil when unlimited.
func NewRateLimiter(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := int(min(bytesPerSecond, 1024*1024))
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}
