// Package decode turns decompressed chunk bytes into Arrow record batches.
//
// Each chunk is a self-contained Arrow IPC stream: a schema message followed
// by zero or more record batches. Decoded records are retained; the owner
// releases them with [Batches.Release].
package decode
