package transfer

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/synget/synget/internal/chunk"
)

var (
	// ErrAborted is returned by a chunk fetch that saw the download already
	// failing before it started an attempt. It is never the reported cause.
	ErrAborted       = errors.New("transfer: download aborted")
	ErrRangeIgnored  = errors.New("transfer: server ignored range request")
	ErrBodyLength    = errors.New("transfer: response length does not match range")
	ErrUnknownSize   = errors.New("transfer: server did not report content length")
	ErrRangeMismatch = errors.New("transfer: response covers a different range")
)

// StatusError is an unexpected HTTP status from object storage.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("unexpected status: %s", e.Status)
	}
	return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
}

func newStatusError(resp *http.Response) *StatusError {
	return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
}

// ChunkError reports a byte range that could not be downloaded.
type ChunkError struct {
	Range       chunk.ByteRange
	Destination string
	Attempts    int
	Err         error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("download of bytes %s to %s failed after %d attempt(s): %v", e.Range, e.Destination, e.Attempts, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}
