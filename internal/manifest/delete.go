package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gocloud.dev/blob"
	"golang.org/x/sync/errgroup"
)

// deleteConcurrency bounds concurrent object deletions.
const deleteConcurrency = 16

// Delete removes the manifest at key together with every object under its
// "<key>.chunks/" prefix, which includes chunks of an interrupted publish
// that never made it into a manifest. A missing manifest is not an error as
// long as chunk objects were found.
//
// Returns an error if:
//   - Neither the manifest nor any chunk object exists (error wraps gcerrors.NotFound)
//   - An object cannot be deleted (permission denied, network error)
//   - The context is cancelled (context.Canceled or context.DeadlineExceeded)
func Delete(ctx context.Context, bucket *blob.Bucket, key string) (int, error) {
	keys := make(map[string]struct{})

	m, err := Read(ctx, bucket, key)
	switch {
	case err == nil:
		for _, ci := range m.Chunks {
			if ci.Object != "" {
				keys[ci.Object] = struct{}{}
			}
		}
	case !isNotExist(err):
		return 0, err
	}

	iter := bucket.List(&blob.ListOptions{Prefix: key + ".chunks/"})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("manifest: list chunks: %w", err)
		}
		if !obj.IsDir {
			keys[obj.Key] = struct{}{}
		}
	}

	if m == nil && len(keys) == 0 {
		return 0, fmt.Errorf("manifest: nothing to delete for %s: %w", key, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deleteConcurrency)
	for k := range keys {
		g.Go(func() error {
			if err := bucket.Delete(gctx, k); err != nil && !isNotExist(err) {
				return fmt.Errorf("manifest: delete chunk %s: %w", k, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if m != nil {
		if err := bucket.Delete(ctx, key); err != nil {
			return 0, fmt.Errorf("manifest: delete %s: %w", key, err)
		}
	}
	return len(keys), nil
}
