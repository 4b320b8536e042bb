package transfer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/synget/synget/internal/utils"
)

// generateTestData returns size bytes of a repeating pattern that never
// lines up with power-of-two part sizes.
func generateTestData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// injectFunc may take over a ranged request. hit counts requests for the
// same Range header, starting at 1.
type injectFunc func(w http.ResponseWriter, rangeHeader string, hit int) bool

type rangeServer struct {
	*httptest.Server
	data []byte

	mu     sync.Mutex
	hits   map[string]int
	probes atomic.Int32
	ranged atomic.Int32
}

func newRangeServer(t *testing.T, data []byte, inject injectFunc) *rangeServer {
	t.Helper()
	rs := &rangeServer{data: data, hits: make(map[string]int)}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("X-Amz-Date") == "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		size := int64(len(rs.data))
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			rs.probes.Add(1)
			w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
			w.WriteHeader(http.StatusOK)
			w.Write(rs.data)
			return
		}

		rs.ranged.Add(1)
		rs.mu.Lock()
		rs.hits[rangeHeader]++
		hit := rs.hits[rangeHeader]
		rs.mu.Unlock()
		if inject != nil && inject(w, rangeHeader, hit) {
			return
		}

		start, end := parseRange(rangeHeader)
		if end >= size {
			end = size - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(rs.data[start : end+1])
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *rangeServer) hitsFor(rangeHeader string) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.hits[rangeHeader]
}

func parseRange(header string) (int64, int64) {
	parts := strings.Split(strings.TrimPrefix(header, "bytes="), "-")
	start, _ := strconv.ParseInt(parts[0], 10, 64)
	end, _ := strconv.ParseInt(parts[1], 10, 64)
	return start, end
}

// testSource signs URLs for a rangeServer the way S3 would.
type testSource struct {
	baseURL string
	ttl     time.Duration
	now     func() time.Time
	err     error
	calls   atomic.Int32
}

func (s *testSource) FetchURL(ctx context.Context, req utils.DownloadRequest) (string, string, error) {
	n := s.calls.Add(1)
	if s.err != nil {
		return "", "", s.err
	}
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	ttl := s.ttl
	if ttl == 0 {
		ttl = time.Hour
	}
	url := fmt.Sprintf("%s/%s?X-Amz-Date=%s&X-Amz-Expires=%d&X-Amz-Signature=sig%d",
		s.baseURL, req.FileHandleID, now().UTC().Format("20060102T150405Z"), int(ttl.Seconds()), n)
	return "file.bin", url, nil
}

func testRequest(dest string) utils.DownloadRequest {
	return utils.DownloadRequest{
		FileHandleID:    "1001",
		ObjectID:        "syn123",
		ObjectType:      utils.ObjectTypeFileEntity,
		DestinationPath: dest,
	}
}

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{Attempts: attempts, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Jitter: 0.5}
}

type byteCounter struct {
	total atomic.Int64
	calls atomic.Int32
}

func (b *byteCounter) OnBytes(n int64) {
	b.total.Add(n)
	b.calls.Add(1)
}
