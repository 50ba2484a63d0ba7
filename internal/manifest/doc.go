// Package manifest stores and serves statement results described by a JSON
// manifest in any gocloud.dev/blob bucket.
//
// A manifest lists the chunks of one statement with their row counts, row
// offsets and either a bucket object key or a pre-issued URL:
//
//	{
//	  "statement_id": "0b7d...",
//	  "compression": "LZ4_FRAME",
//	  "total_rows": 2000,
//	  "chunks": [
//	    {"index": 0, "row_count": 1000, "row_offset": 0, "object": "result.json.chunks/chunk-000000", "size": 8123},
//	    {"index": 1, "row_count": 1000, "row_offset": 1000, "url": "https://...", "expires_at": "..."}
//	  ]
//	}
//
// # Serving
//
// [Provider] implements the link provider used by internal/download.
// [Provider.Chunks] creates the chunks; [Provider.RefreshLink] re-reads the
// manifest and signs stored objects with [blob.Bucket.SignedURL], falling
// back to the manifest URL on buckets that cannot sign.
//
// # Publishing
//
// [Publisher] compresses Arrow IPC streams, stores them as chunk objects and
// writes the manifest on [Publisher.Complete].
//
// [Delete] removes a manifest with all objects under its chunk prefix.
//
// # Validation
//
// [Validate] checks chunk layout, links and stored object sizes without
// downloading chunk data. [Manifest.Check] runs the storage-free part.
package manifest
