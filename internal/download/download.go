package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/ligustah/chunkfetch/internal/compress"
	"github.com/ligustah/chunkfetch/internal/http"
	"github.com/ligustah/chunkfetch/internal/metrics"
	"github.com/ligustah/chunkfetch/internal/progress"
	"github.com/ligustah/chunkfetch/internal/retry"
	"github.com/ligustah/chunkfetch/pkg/chunk"
)

// Strategy selects how chunks are downloaded.
type Strategy string

const (
	// StrategyBlocking runs one synchronous retry loop per chunk on a
	// general worker pool.
	StrategyBlocking Strategy = "blocking"
	// StrategyAsync issues non-blocking fetches, schedules retries with
	// backoff and hands processing to a dedicated pool.
	StrategyAsync Strategy = "async"
)

// DefaultProcessingWorkers is the default size of the async processing pool.
const DefaultProcessingWorkers = 150

// ErrClosed is returned by Download after the downloader was closed.
var ErrClosed = errors.New("download: downloader closed")

// Provider supplies what a result needs beyond the chunks themselves.
type Provider interface {
	// CompressionCodec returns the codec of every chunk in the result.
	CompressionCodec() compress.Codec
	// RefreshLink returns a fresh link for the chunk at index.
	RefreshLink(ctx context.Context, statementID string, index int64) (chunk.Link, error)
}

// Transport is the fetch capability used by both strategies.
type Transport interface {
	chunk.Fetcher
	FetchAsync(ctx context.Context, url string, headers map[string]string, cb http.Callback)
}

// Downloader drives chunks to a resolved completion signal. Download starts
// the work and returns without waiting; the outcome is observed through
// the chunk's signal.
type Downloader interface {
	Download(ctx context.Context, c *chunk.Chunk) error
	Close() error
}

// Options configures a downloader.
type Options struct {
	// Strategy selects the downloader built by New.
	// Default: StrategyBlocking
	Strategy Strategy

	// Workers is the size of the blocking worker pool, and of the async
	// pool running link refreshes.
	// Default: runtime.NumCPU()
	Workers int

	// ProcessingWorkers is the size of the async processing pool.
	// Default: 150
	ProcessingWorkers int

	// SchedulerWorkers is the size of the async retry scheduler pool.
	// Default: runtime.NumCPU()
	SchedulerWorkers int

	// Retry is the async retry policy.
	// Default: retry.DefaultPolicy()
	Retry retry.Policy

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.Strategy == "" {
		o.Strategy = StrategyBlocking
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.ProcessingWorkers <= 0 {
		o.ProcessingWorkers = DefaultProcessingWorkers
	}
	if o.SchedulerWorkers <= 0 {
		o.SchedulerWorkers = runtime.NumCPU()
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = retry.DefaultPolicy()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// New creates the downloader selected by opts.Strategy.
func New(transport Transport, provider Provider, opts Options) (Downloader, error) {
	opts.applyDefaults()
	switch opts.Strategy {
	case StrategyBlocking:
		return NewBlocking(transport, provider, opts), nil
	case StrategyAsync:
		if err := opts.Retry.Validate(); err != nil {
			return nil, err
		}
		return NewAsync(transport, provider, opts), nil
	default:
		return nil, fmt.Errorf("download: unknown strategy %q", opts.Strategy)
	}
}

// ParseStrategy parses a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyBlocking, StrategyAsync:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("download: unknown strategy %q", s)
	}
}

// refreshLink installs a fresh link from provider if the chunk's link is
// missing or about to expire.
func refreshLink(ctx context.Context, c *chunk.Chunk, provider Provider, logger *slog.Logger) error {
	if !c.LinkInvalid(now()) {
		return nil
	}
	link, err := provider.RefreshLink(ctx, c.StatementID(), c.Index())
	if err != nil {
		return fmt.Errorf("refresh link: %w", err)
	}
	logger.Debug("refreshed chunk link",
		"chunk_index", c.Index(),
		"statement_id", c.StatementID(),
		"expires_at", link.ExpiresAt,
	)
	return c.SetLink(link)
}

// joinContext returns a context cancelled when either parent is.
func joinContext(ctx, other context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
