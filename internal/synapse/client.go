// Package synapse is a small client for the Synapse REST API: entity lookup
// and file handle resolution with presigned download URLs.
package synapse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/synget/synget/internal/utils"
)

type Config struct {
	RepoEndpoint string
	FileEndpoint string
	// AuthToken is a Synapse personal access token; empty means anonymous.
	AuthToken string
	HTTP      utils.HTTPClientConfig
	// Attempts bounds retries of throttled or unavailable API calls.
	Attempts int
}

type Client struct {
	http         utils.HTTPDoer
	repoEndpoint string
	fileEndpoint string
	attempts     int
}

func NewClient(cfg Config) *Client {
	httpClient := utils.NewSyngetHTTPClient(cfg.HTTP).WithBearerToken(cfg.AuthToken)
	return newClient(httpClient, cfg)
}

func newClient(doer utils.HTTPDoer, cfg Config) *Client {
	if cfg.RepoEndpoint == "" {
		cfg.RepoEndpoint = DefaultRepoEndpoint
	}
	if cfg.FileEndpoint == "" {
		cfg.FileEndpoint = DefaultFileEndpoint
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	return &Client{
		http:         doer,
		repoEndpoint: strings.TrimSuffix(cfg.RepoEndpoint, "/"),
		fileEndpoint: strings.TrimSuffix(cfg.FileEndpoint, "/"),
		attempts:     cfg.Attempts,
	}
}

// GetEntity returns the entity header for id; version 0 means the latest.
func (c *Client) GetEntity(ctx context.Context, id string, version int) (Entity, error) {
	id, err := utils.NormalizeSynapseID(id)
	if err != nil {
		return Entity{}, err
	}
	path := "/entity/" + id
	if version > 0 {
		path = fmt.Sprintf("/entity/%s/version/%d", id, version)
	}
	var entity Entity
	if err := c.doJSON(ctx, http.MethodGet, c.repoEndpoint, path, nil, &entity); err != nil {
		return Entity{}, err
	}
	log.Debug().Str("op", "synapse/client").Msgf("entity %s is %s (version %d)", entity.ID, entity.ConcreteType, entity.VersionNumber)
	return entity, nil
}

// GetFileHandleForDownload resolves one file handle through the object it
// is associated with and asks for a presigned URL in the same call.
func (c *Client) GetFileHandleForDownload(ctx context.Context, fileHandleID, objectID string, objectType utils.ObjectType) (FileHandleDownload, error) {
	body := batchFileRequest{
		RequestedFiles: []fileHandleAssociation{{
			FileHandleID:        fileHandleID,
			AssociateObjectID:   objectID,
			AssociateObjectType: string(objectType),
		}},
		IncludePreSignedURLs: true,
		IncludeFileHandles:   true,
	}
	var result batchFileResult
	if err := c.doJSON(ctx, http.MethodPost, c.fileEndpoint, "/fileHandle/batch", body, &result); err != nil {
		return FileHandleDownload{}, err
	}
	if len(result.RequestedFiles) == 0 {
		return FileHandleDownload{}, fmt.Errorf("%w: file handle %s", ErrNotFound, fileHandleID)
	}

	file := result.RequestedFiles[0]
	if file.FailureCode != "" {
		return FileHandleDownload{}, failureError(file.FailureCode, fileHandleID)
	}
	download := FileHandleDownload{PreSignedURL: file.PreSignedURL}
	if file.FileHandle != nil {
		download.FileHandle = *file.FileHandle
	} else {
		download.FileHandle.ID = fileHandleID
	}
	return download, nil
}

// FetchURL issues a fresh presigned URL for req. It satisfies presign.Source.
func (c *Client) FetchURL(ctx context.Context, req utils.DownloadRequest) (string, string, error) {
	download, err := c.GetFileHandleForDownload(ctx, req.FileHandleID, req.ObjectID, req.ObjectType)
	if err != nil {
		return "", "", err
	}
	if download.PreSignedURL == "" {
		return "", "", fmt.Errorf("%w: file handle %s", ErrNoPresignedURL, req.FileHandleID)
	}
	return download.FileHandle.FileName, download.PreSignedURL, nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("error encoding request: %v", err)
		}
	}

	op := func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint+path, body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("error creating request: %v", err))
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("error making request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode}
			var reason errorBody
			if data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024)); json.Unmarshal(data, &reason) == nil {
				apiErr.Reason = reason.Reason
			}
			if apiErr.temporary() {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("error decoding response: %v", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff(backoff.WithInitialInterval(500*time.Millisecond), backoff.WithMaxInterval(5*time.Second))
	notify := func(err error, wait time.Duration) {
		log.Debug().Str("op", "synapse/client").Err(err).Msgf("%s %s retrying in %s", method, path, wait.Round(time.Millisecond))
	}
	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.attempts-1)), ctx), notify)
	var apiErr *APIError
	if err != nil && !errors.As(err, &apiErr) {
		return fmt.Errorf("synapse %s %s: %w", method, path, err)
	}
	return err
}
