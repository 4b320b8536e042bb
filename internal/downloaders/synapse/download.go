package synapsedl

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/synget/synget/internal/presign"
	"github.com/synget/synget/internal/s3source"
	"github.com/synget/synget/internal/transfer"
	"github.com/synget/synget/internal/utils"
)

func (d *SynapseDownloader) Download(ctx context.Context, job *utils.SyngetJob) error {
	source, err := d.source(ctx, job)
	if err != nil {
		return err
	}
	size, _ := job.Metadata["size"].(int64)

	progressCh := make(chan int64, 100)
	progressDone := make(chan struct{})
	go trackProgress(job, size, progressCh, progressDone)

	// Storage requests carry the signature in the URL; the plain client
	// keeps the Synapse token off them.
	client := utils.NewSyngetHTTPClient(job.HTTPClientConfig)
	coordinator := transfer.NewCoordinator(client, source, transfer.Options{
		Connections: job.Connections,
		PartSize:    job.PartSize,
		Retry:       transfer.RetryPolicyFrom(job.Retry),
		RateLimit:   job.RateLimit,
		Progress: transfer.ProgressFunc(func(n int64) {
			progressCh <- n
		}),
		ProviderOptions: []presign.Option{presign.WithBuffer(d.opts.URLBuffer)},
	})
	stats, err := coordinator.DownloadWithStats(ctx, job.Request())
	close(progressCh)
	<-progressDone

	job.Metadata["totalDownloaded"] = stats.Transferred
	job.Metadata["totalTime"] = stats.Duration.Seconds()
	job.Metadata["urlRefreshes"] = stats.URLRefresh
	if err != nil {
		return err
	}
	if stats.Size != size && size > 0 {
		log.Warn().Str("op", "synapse/download").Msgf("storage reported %d bytes for %s, file handle says %d", stats.Size, job.OutputPath, size)
	}

	if md5sum, _ := job.Metadata["md5"].(string); d.opts.VerifyMD5 && md5sum != "" {
		if err := verifyMD5(job.OutputPath, md5sum); err != nil {
			return err
		}
		log.Debug().Str("op", "synapse/download").Msgf("md5 verified for %s", job.OutputPath)
	}
	return nil
}

func (d *SynapseDownloader) source(ctx context.Context, job *utils.SyngetJob) (presign.Source, error) {
	if !d.opts.Direct {
		return d.client, nil
	}
	presigner, err := s3source.New(ctx, d.client, s3source.Options{
		Profile: job.AWSProfile,
		Region:  job.AWSRegion,
		Expires: d.opts.AWSExpires,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating S3 presigner: %w", err)
	}
	return presigner, nil
}

// trackProgress folds per-chunk byte counts into running totals for the
// job's progress callback.
func trackProgress(job *utils.SyngetJob, size int64, progressCh <-chan int64, done chan<- struct{}) {
	defer close(done)
	var totalDownloaded, lastReported int64
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case n, ok := <-progressCh:
			if !ok {
				if job.ProgressFunc != nil {
					job.ProgressFunc(totalDownloaded, size)
				}
				return
			}
			totalDownloaded += n
		case <-ticker.C:
			if totalDownloaded > lastReported && job.ProgressFunc != nil {
				job.ProgressFunc(totalDownloaded, size)
				lastReported = totalDownloaded
			}
		}
	}
}
