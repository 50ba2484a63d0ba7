package download

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ligustah/chunkfetch/internal/progress"
	"github.com/ligustah/chunkfetch/pkg/chunk"
)

// Run downloads every chunk with d and waits until all completion signals
// have resolved. The first failure cancels the remaining work and is
// returned. Chunks are not released; that is left to the consumer.
func Run(ctx context.Context, d Downloader, chunks []*chunk.Chunk, reporter *progress.Reporter) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, c := range chunks {
		if reporter != nil {
			reporter.ChunkStarted()
		}
		if err := d.Download(gctx, c); err != nil {
			if reporter != nil {
				reporter.ChunkFailed()
			}
			g.Go(func() error {
				return fmt.Errorf("download chunk %d: %w", c.Index(), err)
			})
			break
		}

		g.Go(func() error {
			err := c.Signal().Wait(gctx)
			if reporter != nil {
				if err == nil {
					reporter.ChunkCompleted(c.BytesDownloaded(), c.NumRows())
				} else {
					reporter.ChunkFailed()
				}
			}
			return err
		})
	}

	return g.Wait()
}
