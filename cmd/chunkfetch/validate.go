package main

import (
	"flag"
	"fmt"
	"os"

	"gocloud.dev/blob"

	"github.com/ligustah/chunkfetch/internal/manifest"
)

// runValidate checks that a manifest describes a complete result and that
// every stored chunk exists with the recorded size. No chunk data is
// downloaded.
func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)

	bucket := fs.String("bucket", os.Getenv("CHUNKFETCH_BUCKET"), "Bucket URL (required)")
	key := fs.String("manifest", os.Getenv("CHUNKFETCH_MANIFEST"), "Manifest object key (required)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: chunkfetch validate [options]

Verify that chunk indexes are dense, row offsets contiguous, links present
and unexpired, and stored chunk objects exist with the recorded sizes.
Does not download chunk data.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if *bucket == "" || *key == "" {
		fmt.Fprintln(os.Stderr, "Error: -bucket and -manifest are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	bkt, err := blob.OpenBucket(ctx, *bucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer bkt.Close()

	result, err := manifest.Validate(ctx, bkt, *key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	fmt.Printf("Manifest: %s\n", *key)
	fmt.Printf("Statement: %s\n", result.StatementID)
	fmt.Printf("Total rows: %d\n", result.TotalRows)
	fmt.Printf("Chunks: %d\n", result.ChunkCount)

	if result.Valid {
		fmt.Println("Status: VALID")
		return ExitSuccess
	}

	fmt.Println("Status: INVALID")
	fmt.Printf("Layout errors: %d\n", result.LayoutErrors)
	fmt.Printf("Missing chunks: %d\n", result.MissingChunks)
	fmt.Printf("Size mismatches: %d\n", result.SizeMismatches)
	fmt.Printf("Expired links: %d\n", result.ExpiredLinks)

	if len(result.Errors) > 0 {
		fmt.Println("\nErrors:")
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}

	return ExitValidationFailed
}
