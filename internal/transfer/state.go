package transfer

import (
	"context"
	"sync"

	"github.com/synget/synget/internal/chunk"
)

// transferState is shared by every fetch of one download. The abort flag
// only ever goes from false to true; done is closed when it flips.
type transferState struct {
	mu          sync.Mutex
	aborted     bool
	done        chan struct{}
	cause       error
	completed   map[chunk.ByteRange]struct{}
	transferred int64
}

func newTransferState() *transferState {
	return &transferState{
		done:      make(chan struct{}),
		completed: make(map[chunk.ByteRange]struct{}),
	}
}

// abort flags the download as failing. It reports whether err became the
// cause, which only happens for the first caller.
func (s *transferState) abort(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return false
	}
	s.aborted = true
	s.cause = err
	close(s.done)
	return true
}

// waitContext derives a context from ctx that is also cancelled on abort.
// It bounds retry waits only; requests keep using ctx.
func (s *transferState) waitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	waitCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-waitCtx.Done():
		}
	}()
	return waitCtx, cancel
}

func (s *transferState) isAborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

func (s *transferState) complete(r chunk.ByteRange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.completed[r]; dup {
		return
	}
	s.completed[r] = struct{}{}
	s.transferred += r.Len()
}

func (s *transferState) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

func (s *transferState) totals() (ranges int, transferred int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completed), s.transferred
}
