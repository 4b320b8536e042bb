package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/synget/synget/internal/output"
	"github.com/synget/synget/internal/utils"
)

var ErrJobsFailed = errors.New("one or more downloads failed")

// Scheduler runs jobs on a fixed number of workers. Each job is dispatched
// to the downloader registered for its JobType.
type Scheduler struct {
	downloaders map[string]utils.Downloader
	output      *output.Manager
}

func New(out *output.Manager) *Scheduler {
	return &Scheduler{downloaders: make(map[string]utils.Downloader), output: out}
}

func (s *Scheduler) Register(jobType string, d utils.Downloader) {
	s.downloaders[jobType] = d
}

// Run processes every job and waits for all of them. It returns
// ErrJobsFailed when any job failed; skipped jobs count as done.
func (s *Scheduler) Run(ctx context.Context, jobs []utils.SyngetJob, numWorkers int) error {
	numWorkers = max(1, min(numWorkers, len(jobs)))
	s.output.StartDisplay()
	defer s.output.StopDisplay()

	jobCh := make(chan utils.SyngetJob, len(jobs))
	for _, job := range jobs {
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		jobCh <- job
	}
	close(jobCh)

	var failed int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				if err := s.process(ctx, &job); err != nil {
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrJobsFailed, failed, len(jobs))
	}
	return nil
}

func (s *Scheduler) process(ctx context.Context, job *utils.SyngetJob) error {
	label := job.EntityID
	if job.FileHandleID != "" {
		label = fmt.Sprintf("%s (file handle %s)", job.EntityID, job.FileHandleID)
	}
	id := s.output.RegisterJob(label)
	fail := func(stage string, err error) error {
		log.Error().Str("op", "scheduler").Str("job", job.ID).Err(err).Msgf("%s failed for %s", stage, label)
		s.output.ReportError(id, fmt.Errorf("%s: %w", stage, err))
		return err
	}

	downloader, exists := s.downloaders[job.JobType]
	if !exists {
		return fail("dispatch", fmt.Errorf("unknown job type: %s", job.JobType))
	}
	if ctx.Err() != nil {
		return fail("dispatch", ctx.Err())
	}
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}

	s.output.SetMessage(id, fmt.Sprintf("Validating %s", label))
	if err := downloader.ValidateJob(job); err != nil {
		return fail("validation", err)
	}

	s.output.SetMessage(id, fmt.Sprintf("Resolving %s", label))
	if err := downloader.BuildJob(ctx, job); err != nil {
		if errors.Is(err, utils.ErrAlreadyDownloaded) {
			log.Info().Str("op", "scheduler").Str("job", job.ID).Msgf("skipping %s, already downloaded", job.OutputPath)
			s.output.Skip(id, fmt.Sprintf("Already downloaded %s", job.OutputPath))
			return nil
		}
		return fail("build", err)
	}

	s.output.SetStatus(id, output.StatusActive)
	s.output.SetMessage(id, fmt.Sprintf("Downloading %s", job.OutputPath))
	progress := job.ProgressFunc
	job.ProgressFunc = func(downloaded, total int64) {
		s.output.SetProgress(id, downloaded, total)
		if progress != nil {
			progress(downloaded, total)
		}
	}
	if err := downloader.Download(ctx, job); err != nil {
		return fail("download", err)
	}

	size, _ := job.Metadata["totalDownloaded"].(int64)
	s.output.Complete(id, fmt.Sprintf("Downloaded %s (%s)", job.OutputPath, utils.FormatBytes(uint64(max(size, 0)))))
	return nil
}
