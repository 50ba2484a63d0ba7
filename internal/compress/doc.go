// Package compress decompresses result chunk bytes.
//
// Servers may compress each chunk with one of the codecs below; the codec is
// announced once per statement and applies to every chunk of the result.
//
//   - [None]: bytes are an Arrow IPC stream as is
//   - [LZ4Frame]: LZ4 frame format (github.com/pierrec/lz4/v4)
//   - [Zstd]: Zstandard (github.com/klauspost/compress/zstd)
//   - [Gzip]: gzip (github.com/klauspost/compress/gzip)
//
// # Usage
//
//	codec, err := compress.ParseCodec("LZ4_FRAME")
//	data, err := compress.Decompress(raw, codec)
//
// Decompression failures are returned as *[Error].
package compress
