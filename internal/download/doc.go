// Package download drives result chunks from a known link to decoded
// records.
//
// Two strategies implement [Downloader] over the same chunk contract:
//
//   - [BlockingDownloader] runs a [Task] per chunk on a worker pool sized to
//     the machine. A task retries transient failures immediately, up to
//     [MaxRetries] attempts, refreshing expired links before each attempt.
//   - [AsyncDownloader] issues non-blocking fetches from an I/O pool that
//     also refreshes links. A transient failure is resubmitted after a
//     capped exponential backoff by a small scheduler;
//     a completed fetch hands decompression and decoding to a processing
//     pool of [DefaultProcessingWorkers] workers.
//
// Both report unrecoverable failures through [chunk.Chunk.Fail], so the
// chunk's completion signal carries a *chunk.Error with the failing phase.
// Cancellation resolves the signal as cancelled instead.
//
// [Run] downloads a whole result set and waits for every signal.
package download
