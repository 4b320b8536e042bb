package utils

import (
	"context"
	"time"
)

// Downloader runs one job through validation, resolution and transfer.
type Downloader interface {
	ValidateJob(job *SyngetJob) error
	BuildJob(ctx context.Context, job *SyngetJob) error
	Download(ctx context.Context, job *SyngetJob) error
}

type SyngetJob struct {
	ID               string
	JobType          string
	EntityID         string
	Version          int
	FileHandleID     string
	ObjectType       ObjectType
	OutputPath       string
	ProgressFunc     func(downloaded, total int64)
	Connections      int
	PartSize         int64
	RateLimit        int64
	Retry            RetryConfig
	AWSProfile       string
	AWSRegion        string
	Metadata         map[string]any
	HTTPClientConfig HTTPClientConfig
}

// RetryConfig bounds the per-chunk retry loop.
type RetryConfig struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Request assembles the immutable download description once BuildJob has
// resolved the file handle and output path.
func (j *SyngetJob) Request() DownloadRequest {
	objectType := j.ObjectType
	if objectType == "" {
		objectType = ObjectTypeFileEntity
	}
	return DownloadRequest{
		FileHandleID:    j.FileHandleID,
		ObjectID:        j.EntityID,
		ObjectType:      objectType,
		DestinationPath: j.OutputPath,
	}
}
