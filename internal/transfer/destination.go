package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// destination is the output file shared by all fetches of a download.
// Writes are serialized: lock, seek, write, unlock.
type destination struct {
	path string

	mu     sync.Mutex
	file   *os.File
	writes int
}

// createDestination creates (or truncates) path and sizes it to exactly size
// bytes. Fetches never change the size afterwards.
func createDestination(path string, size int64) (*destination, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("error creating output directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening output file: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("error allocating output file: %w", err)
	}
	return &destination{path: path, file: f}, nil
}

func (d *destination) writeAt(p []byte, off int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return os.ErrClosed
	}
	if _, err := d.file.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("seek to %d: %w", off, err)
	}
	if _, err := d.file.Write(p); err != nil {
		return fmt.Errorf("write at %d: %w", off, err)
	}
	d.writes++
	return nil
}

func (d *destination) writeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

func (d *destination) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

// remove deletes the partial file. A file that is already gone is fine.
func (d *destination) remove() error {
	if err := d.close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	if err := os.Remove(d.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
