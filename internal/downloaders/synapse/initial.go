package synapsedl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/synget/synget/internal/presign"
	"github.com/synget/synget/internal/s3source"
	"github.com/synget/synget/internal/synapse"
	"github.com/synget/synget/internal/utils"
)

// Client is the part of the Synapse API a download job needs.
type Client interface {
	GetEntity(ctx context.Context, id string, version int) (synapse.Entity, error)
	s3source.HandleResolver
	presign.Source
}

type Options struct {
	// Direct signs storage URLs locally with AWS credentials instead of
	// asking Synapse for them.
	Direct     bool
	AWSExpires time.Duration
	URLBuffer  time.Duration
	// VerifyMD5 checks the finished file against the handle's checksum.
	VerifyMD5 bool
}

type SynapseDownloader struct {
	client Client
	opts   Options
	claims *outputClaims
}

func New(client Client, opts Options) *SynapseDownloader {
	if opts.URLBuffer <= 0 {
		opts.URLBuffer = utils.DefaultURLBuffer
	}
	return &SynapseDownloader{client: client, opts: opts, claims: newOutputClaims()}
}

func (d *SynapseDownloader) ValidateJob(job *utils.SyngetJob) error {
	if job.EntityID == "" {
		return errors.New("a synapse id is required")
	}
	if job.FileHandleID != "" && job.ObjectType == "" {
		job.ObjectType = utils.ObjectTypeFileEntity
	}
	// Attachments are keyed by plain object ids; entities need a syn id.
	if job.FileHandleID == "" || job.ObjectType == utils.ObjectTypeFileEntity || job.ObjectType == utils.ObjectTypeTableEntity {
		id, err := utils.NormalizeSynapseID(job.EntityID)
		if err != nil {
			return err
		}
		job.EntityID = id
	}
	if job.FileHandleID != "" {
		if !job.ObjectType.Valid() {
			return fmt.Errorf("unsupported object type: %s", job.ObjectType)
		}
		if job.Version != 0 {
			return errors.New("version cannot be combined with an explicit file handle")
		}
	}
	if job.Version < 0 {
		return fmt.Errorf("invalid version: %d", job.Version)
	}
	if job.Connections < 0 || job.Connections > utils.MaxConnections {
		return fmt.Errorf("connections must be between 1 and %d", utils.MaxConnections)
	}
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	log.Info().Str("op", "synapse/initial").Msgf("job validated for %s", job.EntityID)
	return nil
}

// BuildJob resolves the file handle and claims the output path. A file that
// already exists with the expected size, or the same file handle already
// claimed by another job, ends the job with utils.ErrAlreadyDownloaded.
func (d *SynapseDownloader) BuildJob(ctx context.Context, job *utils.SyngetJob) error {
	if job.FileHandleID == "" {
		entity, err := d.client.GetEntity(ctx, job.EntityID, job.Version)
		if err != nil {
			return fmt.Errorf("error getting entity %s: %w", job.EntityID, err)
		}
		if !entity.IsFile() {
			return fmt.Errorf("%w: %s is %s", synapse.ErrNotAFile, job.EntityID, entity.ConcreteType)
		}
		job.FileHandleID = entity.DataFileHandleID
		job.ObjectType = utils.ObjectTypeFileEntity
		job.Metadata["version"] = entity.VersionNumber
	}

	download, err := d.client.GetFileHandleForDownload(ctx, job.FileHandleID, job.EntityID, job.ObjectType)
	if err != nil {
		return fmt.Errorf("error resolving file handle %s: %w", job.FileHandleID, err)
	}
	handle := download.FileHandle
	fileName := utils.SanitizeFileName(handle.FileName)
	if fileName == "" {
		fileName = job.EntityID
	}
	path, err := d.claims.claim(outputPath(job.OutputPath, fileName), handle)
	if err != nil {
		return err
	}
	job.OutputPath = path

	job.Metadata["fileName"] = handle.FileName
	job.Metadata["size"] = handle.ContentSize
	job.Metadata["md5"] = handle.ContentMD5
	log.Debug().Str("op", "synapse/initial").Msgf("%s resolved to file handle %s (%s) -> %s", job.EntityID, job.FileHandleID, utils.FormatBytes(uint64(max(handle.ContentSize, 0))), job.OutputPath)
	return nil
}

// outputPath places fileName under requested when requested is empty, an
// existing directory, or ends in a separator.
func outputPath(requested, fileName string) string {
	if requested == "" {
		return fileName
	}
	if strings.HasSuffix(requested, "/") || strings.HasSuffix(requested, string(filepath.Separator)) {
		return filepath.Join(requested, fileName)
	}
	if info, err := os.Stat(requested); err == nil && info.IsDir() {
		return filepath.Join(requested, fileName)
	}
	return requested
}
