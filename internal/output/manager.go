package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	StatusPending = "pending"
	StatusActive  = "active"
	StatusSuccess = "success"
	StatusSkipped = "warning"
	StatusError   = "error"
)

type jobOutput struct {
	ID          int
	Label       string
	Status      string
	Message     string
	Downloaded  int64
	Total       int64
	Complete    bool
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
}

type ErrorReport struct {
	Label string
	Error error
	Time  time.Time
}

// Manager tracks one status line per job. On a terminal it redraws the
// lines in place; otherwise only the final summary is written.
type Manager struct {
	out         io.Writer
	interactive bool

	mutex       sync.RWMutex
	jobs        map[int]*jobOutput
	jobCount    int
	numLines    int
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	displayWg   sync.WaitGroup
	stopOnce    sync.Once
}

func NewManager(out io.Writer) *Manager {
	return &Manager{
		out:         out,
		interactive: IsTerminal(out),
		jobs:        make(map[int]*jobOutput),
		doneCh:      make(chan struct{}),
		displayTick: 300 * time.Millisecond,
	}
}

// Interactive reports whether the live display is drawn.
func (m *Manager) Interactive() bool {
	return m.interactive
}

func (m *Manager) RegisterJob(label string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.jobCount++
	now := time.Now()
	m.jobs[m.jobCount] = &jobOutput{
		ID:          m.jobCount,
		Label:       label,
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
	}
	return m.jobCount
}

func (m *Manager) update(id int, fn func(*jobOutput)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if job, exists := m.jobs[id]; exists {
		fn(job)
		job.LastUpdated = time.Now()
	}
}

func (m *Manager) SetStatus(id int, status string) {
	m.update(id, func(j *jobOutput) { j.Status = status })
}

func (m *Manager) SetMessage(id int, message string) {
	m.update(id, func(j *jobOutput) { j.Message = message })
}

func (m *Manager) SetProgress(id int, downloaded, total int64) {
	m.update(id, func(j *jobOutput) {
		j.Downloaded = downloaded
		j.Total = total
	})
}

func (m *Manager) GetStatus(id int) string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if job, exists := m.jobs[id]; exists {
		return job.Status
	}
	return "unknown"
}

func (m *Manager) Complete(id int, message string) {
	m.finish(id, StatusSuccess, message)
}

// Skip marks a job that finished without downloading anything.
func (m *Manager) Skip(id int, message string) {
	m.finish(id, StatusSkipped, message)
}

func (m *Manager) finish(id int, status, message string) {
	m.update(id, func(j *jobOutput) {
		if message == "" {
			message = fmt.Sprintf("Completed %s", j.Label)
		}
		j.Message = message
		j.Status = status
		j.Complete = true
	})
}

func (m *Manager) ReportError(id int, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if job, exists := m.jobs[id]; exists {
		job.Complete = true
		job.Status = StatusError
		job.Error = err
		job.Message = fmt.Sprintf("Failed %s", job.Label)
		job.LastUpdated = time.Now()
		m.errors = append(m.errors, ErrorReport{Label: job.Label, Error: err, Time: job.LastUpdated})
	}
}

// Counts returns the number of succeeded, failed and registered jobs.
func (m *Manager) Counts() (success, failed, total int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, job := range m.jobs {
		switch job.Status {
		case StatusSuccess, StatusSkipped:
			success++
		case StatusError:
			failed++
		}
	}
	return success, failed, len(m.jobs)
}

func (m *Manager) statusIndicator(status string) string {
	switch status {
	case StatusSuccess:
		return successStyle.Render(StyleSymbols["pass"])
	case StatusError:
		return errorStyle.Render(StyleSymbols["fail"])
	case StatusSkipped:
		return warningStyle.Render(StyleSymbols["warning"])
	case StatusPending:
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func styleMessage(status, message string) string {
	switch status {
	case StatusSuccess:
		return successStyle.Render(message)
	case StatusError:
		return errorStyle.Render(message)
	case StatusSkipped:
		return warningStyle.Render(message)
	default:
		return pendingStyle.Render(message)
	}
}

func (m *Manager) sortedJobs() []*jobOutput {
	jobs := make([]*jobOutput, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].ID < jobs[j].ID
	})
	return jobs
}

// lines renders every job. Active jobs get a progress line under them.
func (m *Manager) lines(limit int) []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var active, completed []string
	indent := strings.Repeat(" ", 2)
	for _, job := range m.sortedJobs() {
		elapsed := time.Since(job.StartTime)
		if job.Complete {
			elapsed = job.LastUpdated.Sub(job.StartTime)
		}
		message := job.Message
		if message == "" {
			message = job.Label
		}
		line := fmt.Sprintf("%s%s %s %s", indent, m.statusIndicator(job.Status), debugStyle.Render(elapsed.Round(time.Second).String()), styleMessage(job.Status, message))
		if job.Complete {
			completed = append(completed, line)
			continue
		}
		active = append(active, line)
		if job.Status == StatusActive && job.Total > 0 {
			bar := PrintProgressBar(job.Downloaded, job.Total, 30)
			speed := FormatSpeed(job.Downloaded, time.Since(job.StartTime).Seconds())
			active = append(active, fmt.Sprintf("%s%s%s %s", strings.Repeat(" ", 6), bar, debugStyle.Render(speed), streamStyle.Render(job.Label)))
		}
	}

	if limit > 0 && len(active)+len(completed) > limit {
		keep := max(0, limit-len(active))
		completed = completed[len(completed)-min(keep, len(completed)):]
	}
	return append(active, completed...)
}

func (m *Manager) updateDisplay() {
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	lines := m.lines(terminalHeight(m.out) - 3)
	for _, line := range lines {
		fmt.Fprintln(m.out, line)
	}
	m.numLines = len(lines)
}

func (m *Manager) StartDisplay() {
	if !m.interactive {
		return
	}
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				return
			}
		}
	}()
}

// StopDisplay draws the final state and the summary. It is safe to call
// more than once.
func (m *Manager) StopDisplay() {
	m.stopOnce.Do(func() {
		close(m.doneCh)
		m.displayWg.Wait()
		if !m.interactive {
			for _, line := range m.lines(0) {
				fmt.Fprintln(m.out, line)
			}
		}
		m.ShowSummary()
	})
}

func (m *Manager) ShowSummary() {
	success, failures, total := m.Counts()
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, "  "+FSuccess(fmt.Sprintf("Completed %d of %d", success, total)))
	if skipped := m.countStatus(StatusSkipped); skipped > 0 {
		fmt.Fprintln(m.out, "  "+FWarning(fmt.Sprintf("Skipped %d already downloaded", skipped)))
	}
	if failures > 0 {
		fmt.Fprintln(m.out, "  "+FError(fmt.Sprintf("Failed %d of %d", failures, total)))
	}
	m.displayErrors()
	fmt.Fprintln(m.out)
}

func (m *Manager) countStatus(status string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	n := 0
	for _, job := range m.jobs {
		if job.Status == status {
			n++
		}
	}
	return n
}

func (m *Manager) displayErrors() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if len(m.errors) == 0 {
		return
	}
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, "  "+errorStyle.Bold(true).Render("Errors:"))
	for i, report := range m.errors {
		fmt.Fprintf(m.out, "    %s %s %s\n",
			FError(fmt.Sprintf("%d.", i+1)),
			FDebug(fmt.Sprintf("[%s]", report.Time.Format("15:04:05"))),
			FError(report.Label))
		fmt.Fprintf(m.out, "      %s\n", FError(fmt.Sprintf("Error: %v", report.Error)))
	}
}
