package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synget/synget/internal/chunk"
	"github.com/synget/synget/internal/presign"
	"github.com/synget/synget/internal/s3source"
	"github.com/synget/synget/internal/synapse"
	"github.com/synget/synget/internal/utils"
)

func newTestFetcher(t *testing.T, server *rangeServer, size int64) *Fetcher {
	t.Helper()
	dest, err := createDestination(filepath.Join(t.TempDir(), "file.bin"), size)
	require.NoError(t, err)
	t.Cleanup(func() { dest.close() })
	return &Fetcher{
		client:   server.Client(),
		urls:     presign.NewProvider(&testSource{baseURL: server.URL}, testRequest(dest.path)),
		dest:     dest,
		state:    newTransferState(),
		progress: noProgress{},
		policy:   fastRetry(3),
	}
}

func TestFetchWritesAtOffset(t *testing.T) {
	data := generateTestData(4096)
	server := newRangeServer(t, data, nil)
	f := newTestFetcher(t, server, int64(len(data)))

	r := chunk.ByteRange{Start: 1024, End: 2047}
	done, err := f.Fetch(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, r, done)
	require.NoError(t, f.dest.close())

	got, err := os.ReadFile(f.dest.path)
	require.NoError(t, err)
	require.Len(t, got, len(data))
	assert.Equal(t, data[1024:2048], got[1024:2048])
	assert.Equal(t, make([]byte, 1024), got[:1024])
}

func TestFetchAfterAbortMakesNoRequest(t *testing.T) {
	server := newRangeServer(t, generateTestData(4096), nil)
	f := newTestFetcher(t, server, 4096)
	f.state.abort(errors.New("another range failed"))

	_, err := f.Fetch(context.Background(), chunk.ByteRange{Start: 0, End: 1023})
	assert.ErrorIs(t, err, ErrAborted)
	assert.Zero(t, server.ranged.Load())
	assert.Zero(t, f.dest.writeCount())
}

func TestFetchStopsRetryingOnceAborted(t *testing.T) {
	var f *Fetcher
	server := newRangeServer(t, generateTestData(4096), func(w http.ResponseWriter, rangeHeader string, hit int) bool {
		f.state.abort(errors.New("another range failed"))
		w.WriteHeader(http.StatusBadGateway)
		return true
	})
	f = newTestFetcher(t, server, 4096)
	f.policy = fastRetry(5)

	_, err := f.Fetch(context.Background(), chunk.ByteRange{Start: 0, End: 1023})
	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, int32(1), server.ranged.Load())
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport", errors.New("connection reset by peer"), true},
		{"forbidden", &StatusError{StatusCode: http.StatusForbidden}, true},
		{"too many requests", &StatusError{StatusCode: http.StatusTooManyRequests}, true},
		{"service unavailable", &StatusError{StatusCode: http.StatusServiceUnavailable}, true},
		{"gateway timeout", &StatusError{StatusCode: http.StatusGatewayTimeout}, true},
		{"not found", &StatusError{StatusCode: http.StatusNotFound}, false},
		{"range not satisfiable", &StatusError{StatusCode: http.StatusRequestedRangeNotSatisfiable}, false},
		{"wrapped status", fmt.Errorf("range: %w", &StatusError{StatusCode: http.StatusBadRequest}), false},
		{"range ignored", ErrRangeIgnored, true},
		{"short body", ErrBodyLength, true},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), false},
		{"permanent", backoff.Permanent(errors.New("disk full")), false},
		{"range mismatch", ErrRangeMismatch, true},
		{"synapse not found", fmt.Errorf("presigned url: %w", synapse.ErrNotFound), false},
		{"synapse unauthorized", fmt.Errorf("presigned url: %w", &synapse.APIError{StatusCode: http.StatusForbidden}), false},
		{"synapse unavailable", &synapse.APIError{StatusCode: http.StatusServiceUnavailable}, true},
		{"not an s3 handle", s3source.ErrNotS3Handle, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestRetryPolicyFromDefaults(t *testing.T) {
	assert.Equal(t, DefaultRetryPolicy(), RetryPolicyFrom(utils.RetryConfig{}))

	p := RetryPolicyFrom(utils.RetryConfig{Attempts: 2, Backoff: time.Millisecond})
	assert.Equal(t, 2, p.Attempts)
	assert.Equal(t, time.Millisecond, p.Backoff)
	assert.Equal(t, utils.DefaultRetryMax, p.MaxBackoff)
}

func TestNewRateLimiter(t *testing.T) {
	assert.Nil(t, NewRateLimiter(0))
	assert.Nil(t, NewRateLimiter(-1))

	small := NewRateLimiter(1000)
	require.NotNil(t, small)
	assert.Equal(t, 1000, small.Burst())

	large := NewRateLimiter(100 * 1024 * 1024)
	require.NotNil(t, large)
	assert.Equal(t, 1024*1024, large.Burst())
}

func TestDestinationConcurrentWrites(t *testing.T) {
	const parts = 64
	const partSize = 512
	path := filepath.Join(t.TempDir(), "nested", "dir", "file.bin")
	dest, err := createDestination(path, parts*partSize)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := parts - 1; i >= 0; i-- {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, partSize)
			for j := range buf {
				buf[j] = byte(i)
			}
			assert.NoError(t, dest.writeAt(buf, int64(i*partSize)))
		}()
	}
	wg.Wait()
	assert.Equal(t, parts, dest.writeCount())
	require.NoError(t, dest.close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, got, parts*partSize)
	for i := 0; i < parts; i++ {
		for _, b := range got[i*partSize : (i+1)*partSize] {
			if b != byte(i) {
				t.Fatalf("part %d has byte %d", i, b)
			}
		}
	}
}

func TestDestinationRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.bin")
	dest, err := createDestination(path, 128)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(128), info.Size())

	require.NoError(t, dest.remove())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, dest.remove())
	assert.ErrorIs(t, dest.writeAt([]byte{1}, 0), os.ErrClosed)
}

func TestTransferStateFirstAbortWins(t *testing.T) {
	s := newTransferState()
	first := errors.New("first")
	assert.True(t, s.abort(first))
	assert.False(t, s.abort(errors.New("second")))
	assert.Same(t, first, s.failure())
	assert.True(t, s.isAborted())

	s.complete(chunk.ByteRange{Start: 0, End: 9})
	s.complete(chunk.ByteRange{Start: 0, End: 9})
	ranges, transferred := s.totals()
	assert.Equal(t, 1, ranges)
	assert.Equal(t, int64(10), transferred)
}

func TestTransferStateAbortCancelsWaits(t *testing.T) {
	s := newTransferState()
	waitCtx, cancel := s.waitContext(context.Background())
	defer cancel()
	assert.NoError(t, waitCtx.Err())

	s.abort(errors.New("range failed"))
	select {
	case <-waitCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("wait context not cancelled by abort")
	}
	assert.ErrorIs(t, waitCtx.Err(), context.Canceled)
}

func TestFetchRejectsWrongContentRange(t *testing.T) {
	data := generateTestData(4096)
	server := newRangeServer(t, data, func(w http.ResponseWriter, rangeHeader string, hit int) bool {
		if hit > 1 {
			return false
		}
		w.Header().Set("Content-Range", "bytes 0-1023/4096")
		w.Header().Set("Content-Length", "1024")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[:1024])
		return true
	})
	f := newTestFetcher(t, server, int64(len(data)))

	r := chunk.ByteRange{Start: 2048, End: 3071}
	_, err := f.Fetch(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 2, server.hitsFor(r.HeaderValue()))
	require.NoError(t, f.dest.close())

	got, err := os.ReadFile(f.dest.path)
	require.NoError(t, err)
	assert.Equal(t, data[2048:3072], got[2048:3072])
}

func TestCheckContentRange(t *testing.T) {
	r := chunk.ByteRange{Start: 8192, End: 16383}
	assert.NoError(t, checkContentRange("bytes 8192-16383/65536", r))
	assert.NoError(t, checkContentRange("bytes 8192-16383/*", r))
	for _, bad := range []string{"", "bytes 0-8191/65536", "bytes 8192-16384/65536", "items 8192-16383/65536", "bytes 8192/65536", "bytes x-16383/65536"} {
		assert.ErrorIs(t, checkContentRange(bad, r), ErrRangeMismatch, bad)
	}
}

func TestFetchDoesNotRetryMissingFileHandle(t *testing.T) {
	server := newRangeServer(t, generateTestData(4096), nil)
	f := newTestFetcher(t, server, 4096)
	source := &testSource{baseURL: server.URL, err: fmt.Errorf("%w: file handle 1001", synapse.ErrNotFound)}
	f.urls = presign.NewProvider(source, testRequest(f.dest.path))
	f.policy = fastRetry(5)

	_, err := f.Fetch(context.Background(), chunk.ByteRange{Start: 0, End: 1023})
	var chunkErr *ChunkError
	require.ErrorAs(t, err, &chunkErr)
	assert.Equal(t, 1, chunkErr.Attempts)
	assert.ErrorIs(t, err, synapse.ErrNotFound)
	assert.Equal(t, int32(1), source.calls.Load())
	assert.Zero(t, server.ranged.Load())
}
