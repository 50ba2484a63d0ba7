package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/ligustah/chunkfetch/internal/compress"
	"github.com/ligustah/chunkfetch/pkg/chunk"
)

// DefaultLinkTTL is how long signed links minted for stored chunk objects
// stay valid.
const DefaultLinkTTL = 15 * time.Minute

// ErrLinkUnavailable is returned by RefreshLink when the manifest holds no
// usable link for a chunk: no stored object, and no URL or only an expired
// one.
var ErrLinkUnavailable = errors.New("manifest: link unavailable")

// ErrUnknownStatement is returned by RefreshLink for a statement the
// manifest does not describe.
var ErrUnknownStatement = errors.New("manifest: unknown statement")

// ErrUnknownChunk is returned by RefreshLink for an index missing from the
// manifest.
var ErrUnknownChunk = errors.New("manifest: unknown chunk")

// Manifest describes the chunks of one statement result.
type Manifest struct {
	StatementID string      `json:"statement_id"`
	Compression string      `json:"compression,omitempty"`
	TotalRows   int64       `json:"total_rows"`
	Chunks      []ChunkInfo `json:"chunks"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ChunkInfo describes a single chunk. A chunk is reachable either through
// Object, a key in the manifest's bucket that is signed on demand, or
// through a pre-issued URL.
type ChunkInfo struct {
	Index     int64             `json:"index"`
	RowCount  int64             `json:"row_count"`
	RowOffset int64             `json:"row_offset"`
	Object    string            `json:"object,omitempty"`
	Size      int64             `json:"size,omitempty"`
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expires_at,omitzero"`
}

// Link returns the pre-issued link of the chunk.
func (ci ChunkInfo) Link() chunk.Link {
	return chunk.Link{URL: ci.URL, Headers: ci.Headers, ExpiresAt: ci.ExpiresAt}
}

// Codec returns the parsed compression codec.
func (m *Manifest) Codec() (compress.Codec, error) {
	return compress.ParseCodec(m.Compression)
}

// Read reads and decodes the manifest stored at key.
func Read(ctx context.Context, bucket *blob.Bucket, key string) (*Manifest, error) {
	data, err := bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", key, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: unmarshal %s: %w", key, err)
	}
	if _, err := m.Codec(); err != nil {
		return nil, fmt.Errorf("manifest: %s: %w", key, err)
	}
	return &m, nil
}

// Write stores m at key. A missing statement ID is generated and a zero
// CreatedAt is set to the current time; both are written back into m.
func Write(ctx context.Context, bucket *blob.Bucket, key string, m *Manifest) error {
	if m.StatementID == "" {
		m.StatementID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: marshal: %w", err)
	}
	if err := bucket.WriteAll(ctx, key, data, &blob.WriterOptions{
		ContentType: "application/json",
	}); err != nil {
		return fmt.Errorf("manifest: write %s: %w", key, err)
	}
	return nil
}

// Options configures a Provider.
type Options struct {
	// LinkTTL is the lifetime of signed links for stored chunk objects.
	// Default: 15 minutes
	LinkTTL time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Option configures a Provider.
type Option func(*Options)

// WithLinkTTL sets the lifetime of signed links.
func WithLinkTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.LinkTTL = ttl
	}
}

// WithLogger sets the provider logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// Provider serves a result described by a manifest. Links are refreshed by
// re-reading the manifest, so a producer rewriting it with fresh URLs is
// picked up by downloads already in progress.
type Provider struct {
	bucket *blob.Bucket
	key    string
	owned  bool
	opts   Options

	mu       sync.Mutex
	manifest *Manifest
	codec    compress.Codec
}

// Open reads the manifest at key in bucket. The bucket stays owned by the
// caller.
func Open(ctx context.Context, bucket *blob.Bucket, key string, options ...Option) (*Provider, error) {
	opts := Options{LinkTTL: DefaultLinkTTL}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.LinkTTL <= 0 {
		opts.LinkTTL = DefaultLinkTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m, err := Read(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	codec, _ := m.Codec()
	return &Provider{
		bucket:   bucket,
		key:      key,
		opts:     opts,
		manifest: m,
		codec:    codec,
	}, nil
}

// OpenURL opens the bucket at bucketURL and reads the manifest at key.
// Close closes the bucket.
func OpenURL(ctx context.Context, bucketURL, key string, options ...Option) (*Provider, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("manifest: open bucket: %w", err)
	}
	p, err := Open(ctx, bucket, key, options...)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	p.owned = true
	return p, nil
}

// Manifest returns the most recently read manifest.
func (p *Provider) Manifest() *Manifest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.manifest
}

// StatementID returns the statement the manifest describes.
func (p *Provider) StatementID() string {
	return p.Manifest().StatementID
}

// CompressionCodec returns the codec shared by all chunks.
func (p *Provider) CompressionCodec() compress.Codec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.codec
}

// Chunks creates a chunk per manifest entry. Entries with a URL that is
// still valid start as URL_FETCHED; all others start PENDING and get their
// link through RefreshLink. options are applied to every chunk.
func (p *Provider) Chunks(options ...chunk.Option) []*chunk.Chunk {
	m := p.Manifest()
	now := time.Now()

	chunks := make([]*chunk.Chunk, 0, len(m.Chunks))
	for _, ci := range m.Chunks {
		opts := []chunk.Option{chunk.WithRows(ci.RowCount, ci.RowOffset)}
		if link := ci.Link(); link.URL != "" && !link.Expired(now) {
			opts = append(opts, chunk.WithLink(link))
		}
		opts = append(opts, options...)
		chunks = append(chunks, chunk.New(m.StatementID, ci.Index, opts...))
	}
	return chunks
}

// RefreshLink re-reads the manifest and returns a link for the chunk at
// index. Stored objects get a freshly signed URL; otherwise the manifest URL
// is returned if it has not expired.
func (p *Provider) RefreshLink(ctx context.Context, statementID string, index int64) (chunk.Link, error) {
	m, err := p.reload(ctx)
	if err != nil {
		return chunk.Link{}, err
	}
	if statementID != m.StatementID {
		return chunk.Link{}, fmt.Errorf("%w: %s", ErrUnknownStatement, statementID)
	}

	ci, ok := m.find(index)
	if !ok {
		return chunk.Link{}, fmt.Errorf("%w: %d", ErrUnknownChunk, index)
	}

	if ci.Object != "" {
		link, err := p.sign(ctx, ci)
		if err == nil {
			return link, nil
		}
		if gcerrors.Code(err) != gcerrors.Unimplemented || ci.URL == "" {
			return chunk.Link{}, fmt.Errorf("manifest: sign chunk %d: %w", index, err)
		}
		p.opts.Logger.Debug("bucket cannot sign urls, using manifest link",
			"chunk_index", index,
			"statement_id", statementID,
		)
	}

	link := ci.Link()
	if link.URL == "" || link.Expired(time.Now()) {
		return chunk.Link{}, fmt.Errorf("%w: chunk %d", ErrLinkUnavailable, index)
	}
	return link, nil
}

// Close closes the bucket if the provider opened it.
func (p *Provider) Close() error {
	if !p.owned {
		return nil
	}
	return p.bucket.Close()
}

func (p *Provider) sign(ctx context.Context, ci ChunkInfo) (chunk.Link, error) {
	expires := time.Now().Add(p.opts.LinkTTL)
	url, err := p.bucket.SignedURL(ctx, ci.Object, &blob.SignedURLOptions{
		Expiry: p.opts.LinkTTL,
		Method: "GET",
	})
	if err != nil {
		return chunk.Link{}, err
	}
	return chunk.Link{URL: url, Headers: ci.Headers, ExpiresAt: expires}, nil
}

// reload re-reads the manifest. A manifest that disappeared or now names a
// different codec is an error; the previous copy stays in place.
func (p *Provider) reload(ctx context.Context) (*Manifest, error) {
	m, err := Read(ctx, p.bucket, p.key)
	if err != nil {
		if isNotExist(err) {
			return nil, fmt.Errorf("%w: manifest %s removed", ErrLinkUnavailable, p.key)
		}
		return nil, err
	}
	codec, _ := m.Codec()

	p.mu.Lock()
	defer p.mu.Unlock()
	if codec != p.codec {
		return nil, fmt.Errorf("manifest: compression changed from %s to %s", p.codec, codec)
	}
	p.manifest = m
	return m, nil
}

func (m *Manifest) find(index int64) (ChunkInfo, bool) {
	if index >= 0 && index < int64(len(m.Chunks)) && m.Chunks[index].Index == index {
		return m.Chunks[index], true
	}
	for _, ci := range m.Chunks {
		if ci.Index == index {
			return ci, true
		}
	}
	return ChunkInfo{}, false
}

// isNotExist returns true if the error indicates the object doesn't exist.
func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
