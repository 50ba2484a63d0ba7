// Package chunk models one result chunk of a query and its lifecycle.
//
// A [Chunk] moves through the statuses in [Statuses] under a fixed
// transition table enforced by [StateMachine]. Each chunk carries a
// single-fire completion [Signal] that consumers wait on: it resolves once,
// with success, a typed [*Error], or as cancelled.
//
// The normal path is
//
//	PENDING -> URL_FETCHED -> DOWNLOAD_SUCCEEDED -> PROCESSING_SUCCEEDED -> CHUNK_RELEASED
//
// and a failed fetch cycles through DOWNLOAD_FAILED and DOWNLOAD_RETRY back to
// URL_FETCHED. Every status may be released; CHUNK_RELEASED is terminal.
//
// Orchestrators in internal/download drive chunks; they never write the
// signal directly on failure but go through [Chunk.Fail], which logs, moves
// the status and fails the signal in one place.
//
// [Chunk.Release] may be called at any time. It cancels in-flight work through
// the chunk context, frees raw bytes and decoded records exactly once, and
// resolves a still pending signal as cancelled.
package chunk
