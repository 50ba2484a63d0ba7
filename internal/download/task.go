package download

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"github.com/ligustah/chunkfetch/internal/metrics"
	"github.com/ligustah/chunkfetch/internal/pool"
	"github.com/ligustah/chunkfetch/internal/progress"
	"github.com/ligustah/chunkfetch/internal/retry"
	"github.com/ligustah/chunkfetch/pkg/chunk"
)

// MaxRetries is the number of fetch attempts a blocking Task makes before
// giving up.
const MaxRetries = 5

var now = time.Now

// Task downloads one chunk synchronously, retrying transient failures
// immediately up to MaxRetries attempts.
type Task struct {
	chunk    *chunk.Chunk
	fetcher  chunk.Fetcher
	provider Provider
	logger   *slog.Logger
	progress *progress.Reporter
	metrics  *metrics.Metrics

	attempts atomic.Int64
}

// NewTask creates a task for c. Only Logger, Progress and Metrics of opts
// are used.
func NewTask(c *chunk.Chunk, fetcher chunk.Fetcher, provider Provider, opts Options) *Task {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Task{
		chunk:    c,
		fetcher:  fetcher,
		provider: provider,
		logger:   logger,
		progress: opts.Progress,
		metrics:  opts.Metrics,
	}
}

// Attempts returns how many attempts the task made. An attempt whose link
// refresh failed counts.
func (t *Task) Attempts() int64 {
	return t.attempts.Load()
}

// Call runs the task. On success the chunk is processed and its signal
// completed. Once attempts are exhausted, or on a terminal error, the chunk
// is failed and the returned error is the same *chunk.Error its signal
// carries.
func (t *Task) Call(ctx context.Context) error {
	c := t.chunk
	codec := t.provider.CompressionCodec()

	// no delay between attempts; the cap bounds the loop
	backoff := goretry.WithMaxRetries(MaxRetries-1, goretry.BackoffFunc(func() (time.Duration, bool) {
		return 0, false
	}))

	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := refreshLink(ctx, c, t.provider, t.logger); err != nil {
			return t.retryable(t.attempts.Add(1), err)
		}

		n := t.attempts.Add(1)
		t.metrics.Attempt()
		err := c.DownloadData(ctx, t.fetcher, codec)
		if err == nil {
			return nil
		}
		if c.Signal().Resolved() || errors.Is(err, chunk.ErrReleased) {
			return err
		}
		return t.retryable(n, err)
	})
	if err == nil {
		c.Signal().Complete()
		return nil
	}

	switch {
	case errors.Is(err, chunk.ErrReleased):
		return err
	case c.Signal().Resolved():
		// processing failed and already went through Fail
		t.metrics.Failure("processing")
		if serr := c.Signal().Err(); serr != nil {
			return serr
		}
		return err
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		t.metrics.Cancelled()
		c.Cancel()
		return err
	}

	t.metrics.Failure("download")
	return c.Fail(chunk.StatusDownloadFailed, err)
}

// retryable marks err for another attempt when it is transient and attempt n
// was not the last one.
func (t *Task) retryable(n int64, err error) error {
	if !retry.IsRetryable(err) || n >= MaxRetries {
		return err
	}
	t.logger.Warn("retrying chunk download",
		"chunk_index", t.chunk.Index(),
		"statement_id", t.chunk.StatementID(),
		"attempt", n,
		"max_attempts", MaxRetries,
		"error", err,
	)
	t.metrics.Retry()
	if t.progress != nil {
		t.progress.ChunkRetried()
	}
	return goretry.RetryableError(err)
}

// BlockingDownloader runs a Task per chunk on a general worker pool. Each
// task occupies a worker for all of its attempts.
type BlockingDownloader struct {
	transport Transport
	provider  Provider
	opts      Options
	pool      *pool.Pool
}

// NewBlocking creates a blocking downloader.
func NewBlocking(transport Transport, provider Provider, opts Options) *BlockingDownloader {
	opts.applyDefaults()
	return &BlockingDownloader{
		transport: transport,
		provider:  provider,
		opts:      opts,
		pool:      pool.New("download", opts.Workers, opts.Logger),
	}
}

// Download submits a task for c.
func (d *BlockingDownloader) Download(ctx context.Context, c *chunk.Chunk) error {
	task := NewTask(c, d.transport, d.provider, d.opts)
	err := d.pool.Submit(func(pctx context.Context) {
		ctx, cancel := joinContext(ctx, pctx)
		defer cancel()
		task.Call(ctx)
	})
	if err != nil {
		c.Cancel()
		return ErrClosed
	}
	return nil
}

// Close stops the worker pool. Tasks still running see a cancelled context.
func (d *BlockingDownloader) Close() error {
	d.pool.Stop()
	return nil
}
