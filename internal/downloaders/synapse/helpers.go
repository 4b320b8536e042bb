package synapsedl

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/synget/synget/internal/synapse"
	"github.com/synget/synget/internal/utils"
)

// outputClaims holds every output path handed out by one downloader, keyed
// by absolute path, with the file handle written there. A path is claimed
// at build time, long before the download creates the file.
type outputClaims struct {
	mu    sync.Mutex
	paths map[string]string
}

func newOutputClaims() *outputClaims {
	return &outputClaims{paths: make(map[string]string)}
}

func claimKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// claim returns the path the handle should be written to: path itself, or
// a renamed path when path is on disk with another size or claimed by a
// different handle.
func (c *outputClaims) claim(path string, handle synapse.FileHandle) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	taken := func(p string) bool {
		_, ok := c.paths[claimKey(p)]
		return ok
	}

	if owner, ok := c.paths[claimKey(path)]; ok {
		if owner == handle.ID {
			return "", fmt.Errorf("%w: %s is already queued", utils.ErrAlreadyDownloaded, path)
		}
		path = utils.RenewOutputPathFunc(path, taken)
	} else if size, exists := utils.FileSize(path); exists {
		if size == handle.ContentSize {
			return "", fmt.Errorf("%w: %s", utils.ErrAlreadyDownloaded, path)
		}
		path = utils.RenewOutputPathFunc(path, taken)
	}
	c.paths[claimKey(path)] = handle.ID
	return path, nil
}

// verifyMD5 removes path when its digest differs from want.
func verifyMD5(path, want string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error opening %s for verification: %v", path, err)
	}
	h := md5.New()
	_, err = io.Copy(h, f)
	f.Close()
	if err != nil {
		return fmt.Errorf("error reading %s for verification: %v", path, err)
	}

	got := hex.EncodeToString(h.Sum(nil))
	if strings.EqualFold(got, want) {
		return nil
	}
	if err := os.Remove(path); err != nil {
		log.Warn().Str("op", "synapse/helpers").Err(err).Msgf("could not remove %s", path)
	}
	return fmt.Errorf("%w: %s has %s, want %s", utils.ErrChecksumMismatch, path, got, want)
}
