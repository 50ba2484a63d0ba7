package download

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ligustah/chunkfetch/internal/compress"
	"github.com/ligustah/chunkfetch/internal/pool"
	"github.com/ligustah/chunkfetch/pkg/chunk"
)

// AsyncDownloader drives chunks with non-blocking fetches. Waiting for a
// retry never occupies a goroutine: failed attempts are resubmitted by a
// small scheduler after their backoff. Link refreshes and fetch submission
// run on an I/O pool, and decompression plus decoding run on a separate
// processing pool so CPU work cannot starve the network side.
type AsyncDownloader struct {
	transport  Transport
	provider   Provider
	opts       Options
	logger     *slog.Logger
	scheduler  *pool.Scheduler
	io         *pool.Pool
	processing *pool.Pool
}

// NewAsync creates an async downloader.
func NewAsync(transport Transport, provider Provider, opts Options) *AsyncDownloader {
	opts.applyDefaults()
	return &AsyncDownloader{
		transport:  transport,
		provider:   provider,
		opts:       opts,
		logger:     opts.Logger,
		scheduler:  pool.NewScheduler(opts.SchedulerWorkers, opts.Logger),
		io:         pool.New("io", opts.Workers, opts.Logger),
		processing: pool.New("processing", opts.ProcessingWorkers, opts.Logger),
	}
}

// Download queues the first fetch attempt for c and returns. After Close it
// cancels c and returns ErrClosed.
func (d *AsyncDownloader) Download(ctx context.Context, c *chunk.Chunk) error {
	a := &attempt{
		d:     d,
		ctx:   ctx,
		chunk: c,
		codec: d.provider.CompressionCodec(),
		n:     1,
	}
	if err := d.io.Submit(a.start); err != nil {
		c.Cancel()
		return ErrClosed
	}
	return nil
}

// Close stops the scheduler and both pools. Pending retries and queued
// jobs resolve their chunks as cancelled.
func (d *AsyncDownloader) Close() error {
	d.scheduler.Stop()
	d.io.Stop()
	d.processing.Stop()
	return nil
}

// ProcessingJobs returns the number of processing jobs submitted so far.
func (d *AsyncDownloader) ProcessingJobs() int64 {
	return d.processing.Submitted()
}

// ScheduledRetries returns the number of retries scheduled so far.
func (d *AsyncDownloader) ScheduledRetries() int64 {
	return d.scheduler.Scheduled()
}

// attempt is one fetch attempt of a chunk. It receives the fetch outcome
// and carries the retry context (attempt number, codec) to the next one.
type attempt struct {
	d      *AsyncDownloader
	ctx    context.Context
	chunk  *chunk.Chunk
	codec  compress.Codec
	n      int
	cancel context.CancelFunc
}

// start refreshes the link if needed and issues the fetch. It runs on the
// I/O pool; jobCtx is cancelled when the downloader closes.
func (a *attempt) start(jobCtx context.Context) {
	c := a.chunk
	if err := c.BeginAttempt(); err != nil {
		a.abort(err)
		return
	}
	if a.ctx.Err() != nil || jobCtx.Err() != nil {
		a.cancelChunk()
		return
	}
	if err := refreshLink(a.ctx, c, a.d.provider, a.logger()); err != nil {
		a.Failed(err)
		return
	}
	link, ok := c.Link()
	if !ok {
		a.Failed(chunk.ErrNoLink)
		return
	}

	ctx, cancel := c.Attach(a.ctx)
	a.cancel = cancel
	c.MarkDownloadStarted()
	a.d.opts.Metrics.Attempt()
	a.d.transport.FetchAsync(ctx, link.URL, link.Headers, a)
}

// Completed stores the bytes and hands processing to the processing pool.
func (a *attempt) Completed(data []byte) {
	a.done()
	c := a.chunk
	if err := c.SetDownloaded(data); err != nil {
		a.abort(err)
		return
	}

	err := a.d.processing.Submit(func(ctx context.Context) {
		if ctx.Err() != nil {
			a.cancelChunk()
			return
		}
		if err := c.Process(a.codec); err != nil {
			if !errors.Is(err, chunk.ErrReleased) {
				a.d.opts.Metrics.Failure("processing")
			}
			return
		}
		a.d.opts.Metrics.Processed(c.BytesDownloaded(), c.DownloadDuration())
	})
	if err != nil {
		a.cancelChunk()
	}
}

// Failed retries with backoff when the error is transient and attempts
// remain, and fails the chunk otherwise.
func (a *attempt) Failed(err error) {
	a.done()
	c := a.chunk
	// a chunk that never had a link fails before reaching URL_FETCHED
	pending := c.Status() == chunk.StatusPending
	if !pending {
		if merr := c.MarkDownloadFailed(); errors.Is(merr, chunk.ErrReleased) {
			return
		}
	}

	policy := a.d.opts.Retry
	if !policy.ShouldRetry(a.n, err) {
		a.d.opts.Metrics.Failure("download")
		c.Fail(chunk.StatusDownloadFailed, err)
		return
	}
	if !pending {
		if terr := c.Transition(chunk.StatusDownloadRetry); terr != nil {
			a.abort(terr)
			return
		}
	}

	delay := policy.Backoff(a.n)
	a.logger().Warn("retrying chunk download",
		"chunk_index", c.Index(),
		"statement_id", c.StatementID(),
		"attempt", a.n,
		"max_attempts", policy.MaxAttempts,
		"delay", delay,
		"error", err,
	)
	a.d.opts.Metrics.Retry()
	if a.d.opts.Progress != nil {
		a.d.opts.Progress.ChunkRetried()
	}

	next := &attempt{
		d:     a.d,
		ctx:   a.ctx,
		chunk: c,
		codec: a.codec,
		n:     a.n + 1,
	}
	if serr := a.d.scheduler.Schedule(delay, next.resubmit); serr != nil {
		a.cancelChunk()
	}
}

// resubmit hands a due retry from the scheduler to the I/O pool.
func (a *attempt) resubmit(ctx context.Context) {
	if ctx.Err() != nil {
		a.cancelChunk()
		return
	}
	if err := a.d.io.Submit(a.start); err != nil {
		a.cancelChunk()
	}
}

// Cancelled propagates a transport cancellation to the chunk.
func (a *attempt) Cancelled() {
	a.done()
	a.cancelChunk()
}

func (a *attempt) cancelChunk() {
	if err := a.chunk.Cancel(); err == nil {
		a.d.opts.Metrics.Cancelled()
	}
}

// abort handles a status conflict. A released chunk needs nothing more;
// anything else is a broken invariant and fails the chunk.
func (a *attempt) abort(err error) {
	if errors.Is(err, chunk.ErrReleased) {
		return
	}
	a.chunk.Fail(chunk.StatusDownloadFailed, err)
}

func (a *attempt) done() {
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *attempt) logger() *slog.Logger {
	return a.d.logger
}
