package manifest

import (
	"context"
	"testing"
	"time"

	"github.com/ligustah/chunkfetch/internal/compress"
	"github.com/ligustah/chunkfetch/internal/testutils"
)

func TestValidate(t *testing.T) {
	ctx := context.Background()
	bucket := openMem(t)

	pub := NewPublisher(bucket, "test/valid.json", "stmt-valid", compress.LZ4Frame)
	for i := range 3 {
		if _, err := pub.Add(ctx, testutils.ArrowStream(t, nil, testutils.Sequence(int64(i*10), 10))); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if _, err := pub.Complete(ctx); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// Validate should succeed
	result, err := Validate(ctx, bucket, "test/valid.json")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid, got invalid: %v", result.Errors)
	}
	if result.ChunkCount != 3 || result.TotalRows != 30 || result.StatementID != "stmt-valid" {
		t.Errorf("result = %+v", result)
	}

	// Delete one chunk
	if err := bucket.Delete(ctx, "test/valid.json.chunks/chunk-000001"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	result, err = Validate(ctx, bucket, "test/valid.json")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid {
		t.Error("expected invalid after deleting a chunk")
	}
	if result.MissingChunks != 1 {
		t.Errorf("MissingChunks = %d, want 1", result.MissingChunks)
	}

	// Truncate another
	bucket.WriteAll(ctx, "test/valid.json.chunks/chunk-000002", []byte("x"), nil)
	result, _ = Validate(ctx, bucket, "test/valid.json")
	if result.SizeMismatches != 1 {
		t.Errorf("SizeMismatches = %d, want 1", result.SizeMismatches)
	}
}

func TestValidateMissingManifest(t *testing.T) {
	bucket := openMem(t)
	if _, err := Validate(context.Background(), bucket, "nope.json"); !isNotExist(err) {
		t.Errorf("got %v, want NotFound", err)
	}
}

func TestCheck(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)

	tests := []struct {
		name    string
		m       Manifest
		layout  int
		missing int
		expired int
	}{
		{
			name: "valid",
			m: Manifest{TotalRows: 5, Chunks: []ChunkInfo{
				{Index: 0, RowCount: 2, RowOffset: 0, URL: "u0", ExpiresAt: future},
				{Index: 1, RowCount: 3, RowOffset: 2, URL: "u1"},
			}},
		},
		{
			name: "empty",
			m:    Manifest{},
		},
		{
			name: "gap in indexes",
			m: Manifest{TotalRows: 2, Chunks: []ChunkInfo{
				{Index: 0, RowCount: 1, RowOffset: 0, URL: "u0"},
				{Index: 2, RowCount: 1, RowOffset: 1, URL: "u2"},
			}},
			layout: 1,
		},
		{
			name: "overlapping offsets",
			m: Manifest{TotalRows: 4, Chunks: []ChunkInfo{
				{Index: 0, RowCount: 2, RowOffset: 0, URL: "u0"},
				{Index: 1, RowCount: 2, RowOffset: 1, URL: "u1"},
			}},
			layout: 1,
		},
		{
			name: "total mismatch",
			m: Manifest{TotalRows: 9, Chunks: []ChunkInfo{
				{Index: 0, RowCount: 2, RowOffset: 0, URL: "u0"},
			}},
			layout: 1,
		},
		{
			name: "no link",
			m: Manifest{TotalRows: 1, Chunks: []ChunkInfo{
				{Index: 0, RowCount: 1, RowOffset: 0},
			}},
			missing: 1,
		},
		{
			name: "expired within buffer",
			m: Manifest{TotalRows: 1, Chunks: []ChunkInfo{
				{Index: 0, RowCount: 1, RowOffset: 0, URL: "u0", ExpiresAt: now.Add(30 * time.Second)},
			}},
			expired: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.m.Check(now)
			if r.LayoutErrors != tt.layout || r.MissingChunks != tt.missing || r.ExpiredLinks != tt.expired {
				t.Errorf("got layout=%d missing=%d expired=%d, want %d/%d/%d (%v)",
					r.LayoutErrors, r.MissingChunks, r.ExpiredLinks,
					tt.layout, tt.missing, tt.expired, r.Errors)
			}
			wantValid := tt.layout+tt.missing+tt.expired == 0
			if r.Valid != wantValid {
				t.Errorf("Valid = %v, want %v", r.Valid, wantValid)
			}
		})
	}
}
