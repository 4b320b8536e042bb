package presign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synget/synget/internal/utils"
)

type fakeSource struct {
	calls  atomic.Int32
	issued func() time.Time
	ttl    int
	err    error
	last   utils.DownloadRequest
	mu     sync.Mutex
}

func (s *fakeSource) FetchURL(ctx context.Context, req utils.DownloadRequest) (string, string, error) {
	n := s.calls.Add(1)
	s.mu.Lock()
	s.last = req
	s.mu.Unlock()
	if s.err != nil {
		return "", "", s.err
	}
	url := fmt.Sprintf("https://bucket.s3.amazonaws.com/key?X-Amz-Date=%s&X-Amz-Expires=%d&n=%d",
		s.issued().UTC().Format(amzDateLayout), s.ttl, n)
	return "data.bin", url, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var testRequest = utils.DownloadRequest{
	FileHandleID:    "42",
	ObjectID:        "syn123",
	ObjectType:      utils.ObjectTypeFileEntity,
	DestinationPath: "data.bin",
}

func TestParseExpiration(t *testing.T) {
	got, err := ParseExpiration("https://examplebucket.s3.amazonaws.com/test.txt?X-Amz-Algorithm=AWS4-HMAC-SHA256&X-Amz-Date=20130721T201207Z&X-Amz-Expires=86400&X-Amz-SignedHeaders=host")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2013, 7, 22, 20, 12, 7, 0, time.UTC)), "got %s", got)
}

func TestParseExpirationInvalid(t *testing.T) {
	for _, raw := range []string{
		"https://example.com/file",
		"https://example.com/file?X-Amz-Date=20130721T201207Z",
		"https://example.com/file?X-Amz-Expires=60",
		"https://example.com/file?X-Amz-Date=2013-07-21&X-Amz-Expires=60",
		"https://example.com/file?X-Amz-Date=20130721T201207Z&X-Amz-Expires=soon",
	} {
		_, err := ParseExpiration(raw)
		assert.ErrorIs(t, err, ErrNoExpiration, raw)
	}
}

func TestProviderCachesWithinWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	source := &fakeSource{issued: clock.Now, ttl: 60}
	p := NewProvider(source, testRequest, WithClock(clock.Now))

	first, err := p.GetInfo(context.Background())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		clock.Advance(5 * time.Second)
		again, err := p.GetInfo(context.Background())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, int32(1), source.calls.Load())
	assert.Equal(t, "data.bin", first.FileName)
	assert.Equal(t, testRequest, source.last)
}

func TestProviderRefreshesNearExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	source := &fakeSource{issued: clock.Now, ttl: 60}
	p := NewProvider(source, testRequest, WithClock(clock.Now), WithBuffer(5*time.Second))

	first, err := p.GetInfo(context.Background())
	require.NoError(t, err)

	// 54s in: 54+5 < 60, still good
	clock.Advance(54 * time.Second)
	again, err := p.GetInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.URL, again.URL)

	// 55s in: 55+5 is not before 60
	clock.Advance(time.Second)
	refreshed, err := p.GetInfo(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.URL, refreshed.URL)
	assert.Equal(t, int32(2), source.calls.Load())
	assert.Equal(t, 2, p.Refreshes())

	_, err = p.GetInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), source.calls.Load())
}

func TestProviderConcurrentCallersRefreshOnce(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	source := &fakeSource{issued: clock.Now, ttl: 3600}
	p := NewProvider(source, testRequest, WithClock(clock.Now))

	var wg sync.WaitGroup
	urls := make([]string, 32)
	for i := range urls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := p.GetInfo(context.Background())
			if err == nil {
				urls[i] = info.URL
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), source.calls.Load())
	for _, u := range urls {
		assert.Equal(t, urls[0], u)
	}
}

func TestProviderSurfacesSourceError(t *testing.T) {
	sourceErr := errors.New("synapse: not found")
	source := &fakeSource{err: sourceErr}
	p := NewProvider(source, testRequest)

	_, err := p.GetInfo(context.Background())
	assert.Same(t, sourceErr, err)
	assert.Equal(t, 0, p.Refreshes())
}

func TestProviderRejectsUrlExpiredOnIssue(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	source := &fakeSource{issued: clock.Now, ttl: 3}
	p := NewProvider(source, testRequest, WithClock(clock.Now))

	_, err := p.GetInfo(context.Background())
	assert.ErrorIs(t, err, ErrExpiredOnIssue)
}
