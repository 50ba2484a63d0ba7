package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression applied to chunk bytes by the server.
type Codec string

const (
	None     Codec = "NONE"
	LZ4Frame Codec = "LZ4_FRAME"
	Zstd     Codec = "ZSTD"
	Gzip     Codec = "GZIP"
)

// ErrUnknownCodec is returned for codec names this package does not handle.
var ErrUnknownCodec = errors.New("compress: unknown codec")

// Error reports a failed decompression.
type Error struct {
	Codec Codec
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("compress: decompress %s: %v", e.Codec, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var zstdDecoder *zstd.Decoder

func init() {
	// by default, concurrency is min(4, GOMAXPROCS);
	// chunks are decoded from many goroutines at once
	z, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(runtime.GOMAXPROCS(0)))
	if err != nil {
		panic(err)
	}
	zstdDecoder = z
}

// ParseCodec parses a codec name. The empty string means None.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "NONE":
		return None, nil
	case "LZ4_FRAME", "LZ4":
		return LZ4Frame, nil
	case "ZSTD":
		return Zstd, nil
	case "GZIP":
		return Gzip, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// Decompress returns the decompressed form of src. For None, src is
// returned as is.
func Decompress(src []byte, codec Codec) ([]byte, error) {
	switch codec {
	case None, "":
		return src, nil
	case Zstd:
		out, err := zstdDecoder.DecodeAll(src, nil)
		if err != nil {
			return nil, &Error{Codec: codec, Err: err}
		}
		return out, nil
	}

	r, err := NewReader(bytes.NewReader(src), codec)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, &Error{Codec: codec, Err: err}
	}
	return out, nil
}

// NewReader wraps r with a decompressing reader for codec.
func NewReader(r io.Reader, codec Codec) (io.ReadCloser, error) {
	switch codec {
	case None, "":
		return io.NopCloser(r), nil
	case LZ4Frame:
		return io.NopCloser(lz4.NewReader(r)), nil
	case Zstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, &Error{Codec: codec, Err: err}
		}
		return d.IOReadCloser(), nil
	case Gzip:
		g, err := gzip.NewReader(r)
		if err != nil {
			return nil, &Error{Codec: codec, Err: err}
		}
		return g, nil
	default:
		return nil, &Error{Codec: codec, Err: ErrUnknownCodec}
	}
}

// Compress returns src compressed with codec. Servers produce compressed
// chunks; this is used to build fixtures.
func Compress(src []byte, codec Codec) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser

	switch codec {
	case None, "":
		return src, nil
	case LZ4Frame:
		w = lz4.NewWriter(&buf)
	case Zstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(src, nil), nil
	case Gzip:
		w = gzip.NewWriter(&buf)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, codec)
	}

	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("compress %s: %w", codec, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress %s: %w", codec, err)
	}
	return buf.Bytes(), nil
}
