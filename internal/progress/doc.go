// Package progress provides progress reporting for result fetches.
//
// This package outputs human-readable progress information to stdout,
// including completed chunks and rows, retries, failures and transfer speed.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    StatementID: m.StatementID,
//	    TotalChunks: len(chunks),
//	    TotalRows:   m.TotalRows,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	// Update as chunks resolve
//	reporter.ChunkCompleted(bytes, rows)
//
// # Output Format
//
//	[chunkfetch] Fetching statement: 01ef5a7c-8d3b-4f1e-9a2b-1c2d3e4f5a6b
//	[chunkfetch] Chunks: 128 | Rows: 12,800,000 | Strategy: async | Workers: 16
//	[chunkfetch] Progress: 45.3% | 5,800,000 rows | 1.1 GiB | Speed: 180 MiB/s
//	[chunkfetch] Chunks: 58 completed | 16 in-progress | 54 pending | 3 retries | 0 failed
package progress
