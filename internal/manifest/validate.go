package manifest

import (
	"context"
	"fmt"
	"time"

	"gocloud.dev/blob"
)

// ValidationResult contains the results of validating a manifest.
type ValidationResult struct {
	Valid          bool     // true if the chunk layout is consistent and every chunk is reachable
	StatementID    string   // statement from manifest
	TotalRows      int64    // total rows from manifest
	ChunkCount     int      // number of chunks in manifest
	LayoutErrors   int      // number of index, offset or row count inconsistencies
	MissingChunks  int      // number of chunks without a stored object or URL
	SizeMismatches int      // number of stored objects with wrong size
	ExpiredLinks   int      // number of URL-only chunks whose link has expired
	Errors         []string // detailed error messages
}

func (r *ValidationResult) fail(counter *int, format string, args ...any) {
	r.Valid = false
	*counter++
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Validate checks that the manifest at key describes a complete result:
// chunk indexes are dense and ordered, row offsets are contiguous, row
// counts add up to TotalRows, and every chunk has a stored object of the
// recorded size or an unexpired URL.
//
// Returns an error if:
//   - The manifest doesn't exist (error wraps gcerrors.NotFound)
//   - The manifest JSON is malformed or names an unknown codec
//   - Cannot access object store to check chunk attributes (network/permission error)
//   - The context is cancelled (context.Canceled or context.DeadlineExceeded)
//
// Note: Inconsistent or unreachable chunks are NOT returned as errors.
// Instead, they are reported in the ValidationResult with Valid=false.
func Validate(ctx context.Context, bucket *blob.Bucket, key string) (*ValidationResult, error) {
	m, err := Read(ctx, bucket, key)
	if err != nil {
		return nil, err
	}

	result := m.Check(time.Now())

	for _, ci := range m.Chunks {
		if ci.Object == "" {
			continue
		}
		attrs, err := bucket.Attributes(ctx, ci.Object)
		if err != nil {
			if isNotExist(err) {
				result.fail(&result.MissingChunks, "chunk %d missing: %s", ci.Index, ci.Object)
				continue
			}
			return nil, fmt.Errorf("manifest: check chunk %d: %w", ci.Index, err)
		}
		if ci.Size > 0 && attrs.Size != ci.Size {
			result.fail(&result.SizeMismatches, "chunk %d size mismatch: expected %d, got %d",
				ci.Index, ci.Size, attrs.Size)
		}
	}

	return result, nil
}

// Check validates the manifest layout and links without touching storage.
// Stored objects are assumed to exist.
func (m *Manifest) Check(now time.Time) *ValidationResult {
	result := &ValidationResult{
		Valid:       true,
		StatementID: m.StatementID,
		TotalRows:   m.TotalRows,
		ChunkCount:  len(m.Chunks),
		Errors:      make([]string, 0),
	}

	var offset int64
	for i, ci := range m.Chunks {
		if ci.Index != int64(i) {
			result.fail(&result.LayoutErrors, "chunk at position %d has index %d", i, ci.Index)
		}
		if ci.RowCount < 0 {
			result.fail(&result.LayoutErrors, "chunk %d has negative row count %d", ci.Index, ci.RowCount)
		}
		if ci.RowOffset != offset {
			result.fail(&result.LayoutErrors, "chunk %d row offset mismatch: expected %d, got %d",
				ci.Index, offset, ci.RowOffset)
		}
		offset = ci.RowOffset + ci.RowCount

		switch {
		case ci.Object != "":
		case ci.URL == "":
			result.fail(&result.MissingChunks, "chunk %d has neither object nor url", ci.Index)
		case ci.Link().Expired(now):
			result.fail(&result.ExpiredLinks, "chunk %d link expired at %s",
				ci.Index, ci.ExpiresAt.Format(time.RFC3339))
		}
	}

	var rows int64
	for _, ci := range m.Chunks {
		rows += ci.RowCount
	}
	if rows != m.TotalRows {
		result.fail(&result.LayoutErrors, "row count mismatch: manifest total %d, chunks sum to %d",
			m.TotalRows, rows)
	}

	return result
}
