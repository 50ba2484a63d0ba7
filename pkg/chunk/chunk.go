package chunk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ligustah/chunkfetch/internal/compress"
	"github.com/ligustah/chunkfetch/internal/decode"
)

// ErrNotReady is returned by Records before the chunk has been processed.
var ErrNotReady = errors.New("chunk: records not ready")

// Fetcher performs a blocking fetch of a chunk link.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error)
}

// Options configures a chunk.
type Options struct {
	RowCount  int64
	RowOffset int64
	Link      *Link
	Logger    *slog.Logger
	Allocator memory.Allocator
}

// Option is a functional option for configuring a chunk.
type Option func(*Options)

// WithRows sets the row count and the offset of the first row within the result.
func WithRows(count, offset int64) Option {
	return func(o *Options) {
		o.RowCount = count
		o.RowOffset = offset
	}
}

// WithLink sets a known download link. Chunks created with a link start in
// StatusURLFetched instead of StatusPending.
func WithLink(link Link) Option {
	return func(o *Options) {
		l := link.clone()
		o.Link = &l
	}
}

// WithLogger sets the logger used for failure reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithAllocator sets the Arrow allocator used when decoding records.
func WithAllocator(mem memory.Allocator) Option {
	return func(o *Options) {
		o.Allocator = mem
	}
}

// Chunk is one independently fetchable unit of a query result.
//
// A chunk is driven by exactly one orchestrator, which moves it through its
// status table and resolves its completion signal. Consumers wait on Signal,
// read Records, and call Release once they are done.
type Chunk struct {
	statementID string
	index       int64
	rowCount    int64
	rowOffset   int64
	logger      *slog.Logger
	mem         memory.Allocator

	sm     *StateMachine
	signal *Signal

	// ctx is cancelled by Release to abort in-flight work.
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	link          *Link
	raw           []byte
	batches       *decode.Batches
	downloadStart time.Time
	downloadEnd   time.Time
	downloaded    int64
}

// New creates a chunk of the given statement.
func New(statementID string, index int64, options ...Option) *Chunk {
	var opts Options
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Allocator == nil {
		opts.Allocator = memory.DefaultAllocator
	}

	initial := StatusPending
	if opts.Link != nil && opts.Link.URL != "" {
		initial = StatusURLFetched
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Chunk{
		statementID: statementID,
		index:       index,
		rowCount:    opts.RowCount,
		rowOffset:   opts.RowOffset,
		logger:      opts.Logger,
		mem:         opts.Allocator,
		sm:          NewStateMachine(initial, index, statementID),
		signal:      NewSignal(),
		ctx:         ctx,
		cancel:      cancel,
		link:        opts.Link,
	}
}

// StatementID returns the ID of the statement owning the chunk.
func (c *Chunk) StatementID() string { return c.statementID }

// Index returns the chunk index within the result.
func (c *Chunk) Index() int64 { return c.index }

// RowCount returns the number of rows the server announced for the chunk.
func (c *Chunk) RowCount() int64 { return c.rowCount }

// RowOffset returns the offset of the chunk's first row within the result.
func (c *Chunk) RowOffset() int64 { return c.rowOffset }

// Status returns the current status.
func (c *Chunk) Status() Status { return c.sm.Current() }

// Transition moves the chunk to target. See StateMachine.Transition.
func (c *Chunk) Transition(target Status) error { return c.sm.Transition(target) }

// IsValidTransition reports whether target is reachable from the current status.
func (c *Chunk) IsValidTransition(target Status) bool { return c.sm.IsValidTransition(target) }

// ValidTargets returns the statuses reachable from the current status.
func (c *Chunk) ValidTargets() []Status { return c.sm.ValidTargets() }

// Signal returns the chunk's completion signal.
func (c *Chunk) Signal() *Signal { return c.signal }

// Context returns a context cancelled when the chunk is released.
func (c *Chunk) Context() context.Context { return c.ctx }

// Attach derives a context from ctx that is also cancelled when the chunk is
// released. The returned cancel func must be called when the work is done.
func (c *Chunk) Attach(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Link returns a copy of the current download link.
func (c *Chunk) Link() (Link, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return Link{}, false
	}
	return c.link.clone(), true
}

// SetLink installs a fresh download link. A pending chunk moves to
// StatusURLFetched.
func (c *Chunk) SetLink(link Link) error {
	if link.URL == "" {
		return ErrNoLink
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sm.Current() == StatusPending {
		if err := c.sm.Transition(StatusURLFetched); err != nil {
			return err
		}
	}
	if c.sm.Current() == StatusReleased {
		return ErrReleased
	}
	l := link.clone()
	c.link = &l
	return nil
}

// LinkInvalid reports whether the link must be obtained or refreshed before
// the next fetch.
func (c *Chunk) LinkInvalid(now time.Time) bool {
	if c.sm.Current() == StatusPending {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link == nil || c.link.URL == "" || c.link.Expired(now)
}

// BeginAttempt rearms a chunk whose previous fetch failed, moving it through
// StatusDownloadRetry back to StatusURLFetched. It is a no-op otherwise.
func (c *Chunk) BeginAttempt() error {
	switch c.sm.Current() {
	case StatusDownloadFailed:
		if err := c.sm.Transition(StatusDownloadRetry); err != nil {
			return c.released(err)
		}
		fallthrough
	case StatusDownloadRetry:
		if err := c.sm.Transition(StatusURLFetched); err != nil {
			return c.released(err)
		}
	case StatusReleased:
		return ErrReleased
	}
	return nil
}

// MarkDownloadFailed records a failed fetch attempt without resolving the
// signal, so the attempt can be retried.
func (c *Chunk) MarkDownloadFailed() error {
	return c.released(c.sm.Transition(StatusDownloadFailed))
}

// MarkDownloadStarted records the start time of a fetch attempt.
func (c *Chunk) MarkDownloadStarted() {
	c.mu.Lock()
	c.downloadStart = time.Now()
	c.mu.Unlock()
}

// DownloadData fetches the chunk synchronously and processes it. A failed
// fetch leaves the chunk in StatusDownloadFailed and returns the transport
// error unchanged, so the caller can decide whether to retry.
func (c *Chunk) DownloadData(ctx context.Context, f Fetcher, codec compress.Codec) error {
	if err := c.BeginAttempt(); err != nil {
		return err
	}
	link, ok := c.Link()
	if !ok {
		return ErrNoLink
	}

	ctx, cancel := c.Attach(ctx)
	defer cancel()

	c.MarkDownloadStarted()
	data, err := f.Fetch(ctx, link.URL, link.Headers)
	if err != nil {
		if c.ctx.Err() != nil {
			return ErrReleased
		}
		if merr := c.MarkDownloadFailed(); errors.Is(merr, ErrReleased) {
			return ErrReleased
		}
		return err
	}

	if err := c.SetDownloaded(data); err != nil {
		return err
	}
	return c.Process(codec)
}

// SetDownloaded hands the raw bytes of a completed fetch to the chunk and
// moves it to StatusDownloadSucceeded.
func (c *Chunk) SetDownloaded(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sm.Transition(StatusDownloadSucceeded); err != nil {
		return c.released(err)
	}
	c.raw = data
	c.downloaded = int64(len(data))
	c.downloadEnd = time.Now()
	return nil
}

// Process decompresses and decodes the raw bytes. On success the raw bytes
// are dropped, the chunk moves to StatusProcessingSucceeded and only then is
// the signal completed. Failures go through Fail with StatusProcessingFailed.
func (c *Chunk) Process(codec compress.Codec) error {
	c.mu.Lock()
	raw := c.raw
	current := c.sm.Current()
	c.mu.Unlock()

	switch current {
	case StatusDownloadSucceeded:
	case StatusReleased:
		return ErrReleased
	default:
		return &TransitionError{
			StatementID: c.statementID,
			Index:       c.index,
			From:        current,
			To:          StatusProcessingSucceeded,
		}
	}

	data, err := compress.Decompress(raw, codec)
	if err != nil {
		return c.Fail(StatusProcessingFailed, err)
	}
	batches, err := decode.Records(data, c.mem)
	if err != nil {
		return c.Fail(StatusProcessingFailed, err)
	}
	if c.rowCount > 0 && batches.NumRows != c.rowCount {
		c.logger.Warn("decoded row count differs from announced row count",
			"chunk_index", c.index,
			"statement_id", c.statementID,
			"expected", c.rowCount,
			"decoded", batches.NumRows,
		)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sm.Transition(StatusProcessingSucceeded); err != nil {
		// released while decoding; nobody else will free these
		batches.Release()
		return c.released(err)
	}
	c.batches = batches
	c.raw = nil
	c.signal.Complete()
	return nil
}

// Fail is the failure handler shared by every orchestrator. It logs the
// failure, moves the chunk to failed (StatusDownloadFailed or
// StatusProcessingFailed), and fails the completion signal with an *Error
// wrapping cause. The returned error is the one delivered to consumers.
func (c *Chunk) Fail(failed Status, cause error) error {
	code, phase := CodeChunkDownload, "download"
	if failed == StatusProcessingFailed {
		code, phase = CodeChunkProcessing, "processing"
	}
	msg := fmt.Sprintf("chunk %s failed for chunk index [%d] and statement [%s]", phase, c.index, c.statementID)
	typed := &Error{Code: code, Message: msg, Err: cause}

	c.mu.Lock()
	terr := c.sm.Transition(failed)
	if terr != nil && c.sm.Current() == StatusReleased {
		c.mu.Unlock()
		return ErrReleased
	}
	if failed == StatusProcessingFailed {
		c.raw = nil
	}
	resolved := c.signal.Fail(typed)
	c.mu.Unlock()

	c.logger.Error(msg,
		"chunk_index", c.index,
		"statement_id", c.statementID,
		"phase", phase,
		"error", cause,
	)
	if terr != nil {
		c.logger.Warn("chunk failed without status change",
			"chunk_index", c.index,
			"statement_id", c.statementID,
			"error", terr,
		)
	}
	if !resolved {
		if err := c.signal.Err(); err != nil {
			return err
		}
	}
	return typed
}

// Cancel records a cancellation: the chunk moves to StatusCancelled when
// that is reachable, and the signal resolves as cancelled, not failed.
func (c *Chunk) Cancel() error {
	c.mu.Lock()
	terr := c.sm.Transition(StatusCancelled)
	if terr != nil && c.sm.Current() == StatusReleased {
		c.mu.Unlock()
		return ErrReleased
	}
	c.signal.Cancel()
	c.mu.Unlock()

	c.logger.Info("chunk download cancelled",
		"chunk_index", c.index,
		"statement_id", c.statementID,
		"status", c.sm.Current(),
	)
	return nil
}

// Release reclaims the chunk's memory. It first cancels any in-flight work
// through the chunk context, then moves to StatusReleased and frees raw bytes
// and decoded records. Work finishing afterwards discards its own results.
// A pending signal resolves as cancelled. Releasing twice is a no-op.
func (c *Chunk) Release() error {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sm.Current() == StatusReleased {
		return nil
	}
	if err := c.sm.Transition(StatusReleased); err != nil {
		return err
	}
	c.raw = nil
	if c.batches != nil {
		c.batches.Release()
		c.batches = nil
	}
	c.signal.Cancel()
	return nil
}

// Records returns the decoded record batches. They stay owned by the chunk
// and are released by Release.
func (c *Chunk) Records() ([]arrow.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.sm.Current() {
	case StatusProcessingSucceeded:
		return c.batches.Records, nil
	case StatusReleased:
		return nil, ErrReleased
	default:
		return nil, ErrNotReady
	}
}

// Schema returns the Arrow schema of the decoded records, or nil before
// processing.
func (c *Chunk) Schema() *arrow.Schema {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.batches == nil {
		return nil
	}
	return c.batches.Schema
}

// NumRows returns the number of decoded rows, or 0 before processing.
func (c *Chunk) NumRows() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.batches == nil {
		return 0
	}
	return c.batches.NumRows
}

// BytesDownloaded returns the size of the raw chunk as fetched.
func (c *Chunk) BytesDownloaded() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.downloaded
}

// DownloadDuration returns how long the successful fetch took.
func (c *Chunk) DownloadDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.downloadEnd.IsZero() || c.downloadStart.IsZero() {
		return 0
	}
	return c.downloadEnd.Sub(c.downloadStart)
}

// rawSize reports the size of the raw buffer still held.
func (c *Chunk) rawSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.raw)
}

// released maps a transition failure caused by a concurrent Release to
// ErrReleased.
func (c *Chunk) released(err error) error {
	if err != nil && c.sm.Current() == StatusReleased {
		return ErrReleased
	}
	return err
}
