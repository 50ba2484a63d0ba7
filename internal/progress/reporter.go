package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Options configures the progress reporter.
type Options struct {
	// StatementID identifies the result being fetched (for display).
	StatementID string

	// TotalChunks is the total number of chunks.
	TotalChunks int

	// TotalRows is the number of rows announced for the result.
	TotalRows int64

	// Strategy names the download strategy (for display).
	Strategy string

	// Workers is the number of network workers.
	Workers int

	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Reporter outputs human-readable progress information.
type Reporter struct {
	opts Options

	mu              sync.Mutex
	completedBytes  atomic.Int64
	completedRows   atomic.Int64
	completedChunks atomic.Int32
	failedChunks    atomic.Int32
	retries         atomic.Int32
	inProgress      atomic.Int32
	startTime       time.Time
	lastUpdate      time.Time
	lastBytes       int64
	stopCh          chan struct{}
	doneCh          chan struct{}
	started         bool
	stopped         bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.started = true
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[chunkfetch] Fetching statement: %s\n", r.opts.StatementID)
	fmt.Fprintf(r.opts.Output, "[chunkfetch] Chunks: %d | Rows: %s | Strategy: %s | Workers: %d\n",
		r.opts.TotalChunks,
		humanize.Comma(r.opts.TotalRows),
		r.opts.Strategy,
		r.opts.Workers,
	)

	go r.updateLoop()
}

// Stop stops the progress reporter and prints the final status.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// ChunkStarted marks a chunk as in progress.
func (r *Reporter) ChunkStarted() {
	r.inProgress.Add(1)
}

// ChunkRetried counts a retried fetch attempt.
func (r *Reporter) ChunkRetried() {
	r.retries.Add(1)
}

// ChunkCompleted marks a chunk as completed.
func (r *Reporter) ChunkCompleted(size, rows int64) {
	r.completedBytes.Add(size)
	r.completedRows.Add(rows)
	r.completedChunks.Add(1)
	r.inProgress.Add(-1)
}

// ChunkFailed marks a chunk as failed (removes from in-progress).
func (r *Reporter) ChunkFailed() {
	r.failedChunks.Add(1)
	r.inProgress.Add(-1)
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	now := time.Now()
	completed := r.completedBytes.Load()
	completedChunks := int(r.completedChunks.Load())
	inProgress := int(r.inProgress.Load())

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(completed-r.lastBytes) / elapsed

	r.lastUpdate = now
	r.lastBytes = completed

	var percent float64
	if r.opts.TotalChunks > 0 {
		percent = float64(completedChunks) / float64(r.opts.TotalChunks) * 100
	}

	pending := max(r.opts.TotalChunks-completedChunks-inProgress-int(r.failedChunks.Load()), 0)

	fmt.Fprintf(r.opts.Output, "\r[chunkfetch] Progress: %.1f%% | %s rows | %s | Speed: %s/s    ",
		percent,
		humanize.Comma(r.completedRows.Load()),
		FormatBytes(completed),
		FormatBytes(int64(speed)),
	)
	fmt.Fprintf(r.opts.Output, "\n[chunkfetch] Chunks: %d completed | %d in-progress | %d pending | %d retries | %d failed    \033[A",
		completedChunks,
		inProgress,
		pending,
		r.retries.Load(),
		r.failedChunks.Load(),
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	completed := r.completedBytes.Load()
	duration := time.Since(r.startTime)
	avgSpeed := float64(completed) / max(duration.Seconds(), 0.001)

	state := "Complete!"
	if r.failedChunks.Load() > 0 {
		state = "Failed"
	}

	fmt.Fprintf(r.opts.Output, "\r[chunkfetch] Rows: %s | %s | %s    \n",
		humanize.Comma(r.completedRows.Load()),
		FormatBytes(completed),
		state,
	)
	fmt.Fprintf(r.opts.Output, "[chunkfetch] Chunks: %d completed | %d retries | %d failed    \n",
		r.completedChunks.Load(),
		r.retries.Load(),
		r.failedChunks.Load(),
	)
	fmt.Fprintf(r.opts.Output, "[chunkfetch] Total time: %s | Average speed: %s/s\n",
		formatDuration(duration),
		FormatBytes(int64(avgSpeed)),
	)
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes formats bytes with binary units, e.g. "1.5 KiB".
func FormatBytes(b int64) string {
	if b < 0 {
		b = 0
	}
	return humanize.IBytes(uint64(b))
}

// ParseBytes parses a human-readable byte string. Binary suffixes (KiB, MiB)
// are powers of 1024, SI suffixes (KB, MB) powers of 1000.
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}
	return int64(n), nil
}
