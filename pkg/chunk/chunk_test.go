package chunk

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligustah/chunkfetch/internal/compress"
	"github.com/ligustah/chunkfetch/internal/testutils"
)

var discard = slog.New(slog.DiscardHandler)

type fetchFunc func(ctx context.Context, url string, headers map[string]string) ([]byte, error)

func (f fetchFunc) Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	return f(ctx, url, headers)
}

func staticFetcher(data []byte) Fetcher {
	return fetchFunc(func(context.Context, string, map[string]string) ([]byte, error) {
		return data, nil
	})
}

func newTestChunk(t *testing.T, mem memory.Allocator, opts ...Option) *Chunk {
	t.Helper()
	opts = append([]Option{
		WithLink(Link{URL: "https://storage.test/chunk/0"}),
		WithLogger(discard),
		WithAllocator(mem),
	}, opts...)
	return New("stmt-1", 0, opts...)
}

func TestNewInitialStatus(t *testing.T) {
	assert.Equal(t, StatusPending, New("s", 0, WithLogger(discard)).Status())
	assert.Equal(t, StatusURLFetched, New("s", 0, WithLink(Link{URL: "u"})).Status())
	assert.Equal(t, StatusPending, New("s", 0, WithLink(Link{})).Status())
}

func TestSetLink(t *testing.T) {
	c := New("s", 2, WithLogger(discard))
	assert.True(t, c.LinkInvalid(time.Now()))

	require.ErrorIs(t, c.SetLink(Link{}), ErrNoLink)
	require.NoError(t, c.SetLink(Link{URL: "https://x", Headers: map[string]string{"k": "v"}}))
	assert.Equal(t, StatusURLFetched, c.Status())
	assert.False(t, c.LinkInvalid(time.Now()))

	link, ok := c.Link()
	require.True(t, ok)
	link.Headers["k"] = "changed"
	again, _ := c.Link()
	assert.Equal(t, "v", again.Headers["k"], "Link must return a copy")
}

func TestLinkInvalidNearExpiry(t *testing.T) {
	now := time.Now()
	c := New("s", 0, WithLink(Link{URL: "u", ExpiresAt: now.Add(30 * time.Second)}))
	assert.True(t, c.LinkInvalid(now), "link inside expiry buffer must be invalid")

	c = New("s", 0, WithLink(Link{URL: "u", ExpiresAt: now.Add(10 * time.Minute)}))
	assert.False(t, c.LinkInvalid(now))
}

func TestDownloadDataSuccess(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	data := testutils.ArrowStream(t, mem, testutils.Sequence(0, 3), testutils.Sequence(3, 2))
	compressed, err := compress.Compress(data, compress.LZ4Frame)
	require.NoError(t, err)

	c := newTestChunk(t, mem, WithRows(5, 100))
	require.NoError(t, c.DownloadData(context.Background(), staticFetcher(compressed), compress.LZ4Frame))

	assert.Equal(t, StatusProcessingSucceeded, c.Status())
	assert.True(t, c.Signal().Resolved())
	assert.NoError(t, c.Signal().Err())
	assert.Equal(t, 0, c.rawSize(), "raw bytes must be dropped after processing")
	assert.Equal(t, int64(len(compressed)), c.BytesDownloaded())
	assert.Equal(t, int64(100), c.RowOffset())

	recs, err := c.Records()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(4), recs[1].Column(0).(*array.Int64).Value(1))
	require.NotNil(t, c.Schema())

	require.NoError(t, c.Release())
	assert.Equal(t, StatusReleased, c.Status())
	_, err = c.Records()
	assert.ErrorIs(t, err, ErrReleased)
}

func TestDownloadDataFetchErrorIsRetryable(t *testing.T) {
	c := newTestChunk(t, nil)
	reset := syscall.ECONNRESET
	fail := fetchFunc(func(context.Context, string, map[string]string) ([]byte, error) {
		return nil, reset
	})

	err := c.DownloadData(context.Background(), fail, compress.None)
	require.ErrorIs(t, err, syscall.ECONNRESET)
	assert.Equal(t, StatusDownloadFailed, c.Status())
	assert.False(t, c.Signal().Resolved(), "a failed attempt must not resolve the signal")

	// next attempt rearms through DOWNLOAD_RETRY
	mem := memory.NewGoAllocator()
	require.NoError(t, c.DownloadData(context.Background(), staticFetcher(testutils.ArrowStream(t, mem, []int64{1})), compress.None))
	assert.Equal(t, StatusProcessingSucceeded, c.Status())
	require.NoError(t, c.Release())
}

func TestDownloadDataNoLink(t *testing.T) {
	c := New("s", 0, WithLogger(discard))
	assert.ErrorIs(t, c.DownloadData(context.Background(), staticFetcher(nil), compress.None), ErrNoLink)
}

func TestProcessFailure(t *testing.T) {
	c := newTestChunk(t, nil)
	c.index = 7

	err := c.DownloadData(context.Background(), staticFetcher([]byte("garbage")), compress.Zstd)
	require.Error(t, err)
	assert.Equal(t, StatusProcessingFailed, c.Status())

	var ce *Error
	require.ErrorAs(t, c.Signal().Err(), &ce)
	assert.Equal(t, CodeChunkProcessing, ce.Code)
	assert.Contains(t, ce.Error(), "[7]")
	assert.Equal(t, err, c.Signal().Err(), "caller and consumers see the same error")
	assert.Equal(t, 0, c.rawSize())
}

func TestFailDownload(t *testing.T) {
	c := newTestChunk(t, nil)
	c.index = 7
	require.NoError(t, c.MarkDownloadFailed())

	err := c.Fail(StatusDownloadFailed, syscall.ECONNRESET)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeChunkDownload, ce.Code)
	assert.Contains(t, ce.Message, "chunk index [7]")
	assert.Contains(t, ce.Message, "stmt-1")
	assert.ErrorIs(t, err, syscall.ECONNRESET)
	assert.Equal(t, CodeChunkDownload, CodeOf(c.Signal().Err()))
}

func TestFailWithInvalidTransitionStillFailsSignal(t *testing.T) {
	c := New("s", 0, WithLogger(discard))

	err := c.Fail(StatusProcessingFailed, errors.New("decode"))
	require.Error(t, err)
	assert.Equal(t, StatusPending, c.Status())
	assert.True(t, c.Signal().Resolved())
	assert.Equal(t, CodeChunkProcessing, CodeOf(c.Signal().Err()))
}

func TestFailTwiceReturnsFirstError(t *testing.T) {
	c := newTestChunk(t, nil)
	require.NoError(t, c.MarkDownloadFailed())

	first := c.Fail(StatusDownloadFailed, errors.New("first"))
	second := c.Fail(StatusDownloadFailed, errors.New("second"))
	assert.Same(t, first, second)
}

func TestCancel(t *testing.T) {
	c := newTestChunk(t, nil)
	require.NoError(t, c.Cancel())
	assert.Equal(t, StatusCancelled, c.Status())
	assert.True(t, c.Signal().Cancelled())
	assert.ErrorIs(t, c.Signal().Err(), ErrCancelled)
}

func TestReleasePendingCancelsSignal(t *testing.T) {
	c := New("s", 0, WithLogger(discard))
	require.NoError(t, c.Release())
	assert.True(t, c.Signal().Cancelled())
	require.NoError(t, c.Release(), "second release is a no-op")
	assert.ErrorIs(t, c.Context().Err(), context.Canceled)
}

func TestReleaseAbortsInFlightFetch(t *testing.T) {
	c := newTestChunk(t, nil)
	started := make(chan struct{})
	blocking := fetchFunc(func(ctx context.Context, _ string, _ map[string]string) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	done := make(chan error, 1)
	go func() { done <- c.DownloadData(context.Background(), blocking, compress.None) }()

	<-started
	require.NoError(t, c.Release())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrReleased)
	case <-time.After(5 * time.Second):
		t.Fatal("fetch not aborted by release")
	}
	assert.Equal(t, StatusReleased, c.Status())
	assert.True(t, c.Signal().Cancelled())
}

func TestReleaseDuringProcessing(t *testing.T) {
	// A release racing with processing frees the records exactly once,
	// whichever side wins.
	for range 50 {
		mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
		data := testutils.ArrowStream(t, mem, testutils.Sequence(0, 64))

		c := newTestChunk(t, mem)
		require.NoError(t, c.SetDownloaded(data))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Process(compress.None)
		}()
		go func() {
			defer wg.Done()
			c.Release()
		}()
		wg.Wait()

		assert.Equal(t, StatusReleased, c.Status())
		assert.True(t, c.Signal().Resolved())
		mem.AssertSize(t, 0)
	}
}

func TestConcurrentRelease(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	c := newTestChunk(t, mem)
	require.NoError(t, c.DownloadData(context.Background(), staticFetcher(testutils.ArrowStream(t, mem, []int64{1, 2})), compress.None))

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Release())
		}()
	}
	wg.Wait()
	assert.Equal(t, StatusReleased, c.Status())
}

func TestAttachFollowsRelease(t *testing.T) {
	c := newTestChunk(t, nil)
	ctx, cancel := c.Attach(context.Background())
	defer cancel()

	require.NoError(t, ctx.Err())
	c.Release()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("attached context not cancelled by release")
	}
}

func TestCancelAfterFailedAttempt(t *testing.T) {
	c := newTestChunk(t, nil)
	require.NoError(t, c.MarkDownloadFailed())

	require.NoError(t, c.Cancel())
	assert.Equal(t, StatusDownloadFailed, c.Status())
	assert.True(t, c.Signal().Cancelled())

	require.NoError(t, c.Release())
	assert.ErrorIs(t, c.Cancel(), ErrReleased)
}
