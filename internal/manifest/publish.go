package manifest

import (
	"context"
	"fmt"

	"gocloud.dev/blob"

	"github.com/ligustah/chunkfetch/internal/compress"
	"github.com/ligustah/chunkfetch/internal/decode"
)

// Publisher stores Arrow IPC streams as compressed chunk objects and writes
// the manifest describing them. Chunk objects are written under
// "<key>.chunks/".
type Publisher struct {
	bucket   *blob.Bucket
	key      string
	prefix   string
	codec    compress.Codec
	manifest Manifest
}

// NewPublisher creates a publisher for a new result stored at key.
// statementID may be empty, in which case one is generated on Complete.
func NewPublisher(bucket *blob.Bucket, key, statementID string, codec compress.Codec) *Publisher {
	return &Publisher{
		bucket: bucket,
		key:    key,
		prefix: key + ".chunks/",
		codec:  codec,
		manifest: Manifest{
			StatementID: statementID,
			Compression: string(codec),
			Chunks:      make([]ChunkInfo, 0),
		},
	}
}

// Add appends one chunk holding the Arrow IPC stream in data. The stream is
// decoded to count its rows before it is compressed and stored.
func (p *Publisher) Add(ctx context.Context, data []byte) (ChunkInfo, error) {
	batches, err := decode.Records(data, nil)
	if err != nil {
		return ChunkInfo{}, fmt.Errorf("manifest: chunk %d: %w", len(p.manifest.Chunks), err)
	}
	rows := batches.NumRows
	batches.Release()

	body, err := compress.Compress(data, p.codec)
	if err != nil {
		return ChunkInfo{}, fmt.Errorf("manifest: chunk %d: %w", len(p.manifest.Chunks), err)
	}

	index := int64(len(p.manifest.Chunks))
	object := fmt.Sprintf("%schunk-%06d", p.prefix, index)
	if err := p.bucket.WriteAll(ctx, object, body, nil); err != nil {
		return ChunkInfo{}, fmt.Errorf("manifest: write chunk %d: %w", index, err)
	}

	ci := ChunkInfo{
		Index:     index,
		RowCount:  rows,
		RowOffset: p.manifest.TotalRows,
		Object:    object,
		Size:      int64(len(body)),
	}
	p.manifest.Chunks = append(p.manifest.Chunks, ci)
	p.manifest.TotalRows += rows
	return ci, nil
}

// Complete writes the manifest and returns it.
func (p *Publisher) Complete(ctx context.Context) (*Manifest, error) {
	m := p.manifest
	if err := Write(ctx, p.bucket, p.key, &m); err != nil {
		return nil, err
	}
	p.manifest.StatementID = m.StatementID
	return &m, nil
}
