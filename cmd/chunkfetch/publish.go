package main

import (
	"flag"
	"fmt"
	"os"

	"gocloud.dev/blob"

	"github.com/ligustah/chunkfetch/internal/compress"
	"github.com/ligustah/chunkfetch/internal/manifest"
	"github.com/ligustah/chunkfetch/internal/progress"
)

// runPublish stores Arrow IPC stream files as compressed chunk objects, one
// chunk per file in argument order, and writes a manifest for them.
func runPublish(args []string) int {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)

	bucket := fs.String("bucket", os.Getenv("CHUNKFETCH_BUCKET"), "Destination bucket URL (required)")
	key := fs.String("manifest", os.Getenv("CHUNKFETCH_MANIFEST"), "Manifest object key (required)")
	codecName := fs.String("codec", "LZ4_FRAME", "Chunk compression: NONE, LZ4_FRAME, ZSTD or GZIP")
	statementID := fs.String("statement-id", "", "Statement ID (default: random UUID)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: chunkfetch publish [options] <file.arrows>...

Store Arrow IPC stream files as compressed chunks next to a new manifest.
Chunks are written to "<manifest>.chunks/" and served with signed URLs.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if *bucket == "" || *key == "" || fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: -bucket, -manifest and at least one file are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	codec, err := compress.ParseCodec(*codecName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid codec: %v\n", err)
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

	pub := manifest.NewPublisher(bkt, *key, *statementID, codec)
	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitGeneralError
		}
		ci, err := pub.Add(ctx, data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", path, err)
			return ExitStorageError
		}
		fmt.Fprintf(os.Stderr, "[chunkfetch] chunk %d: %s, %d rows, %s stored\n",
			ci.Index, path, ci.RowCount, progress.FormatBytes(ci.Size))
	}

	m, err := pub.Complete(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	fmt.Printf("Manifest: %s\n", *key)
	fmt.Printf("Statement: %s\n", m.StatementID)
	fmt.Printf("Chunks: %d\n", len(m.Chunks))
	fmt.Printf("Total rows: %d\n", m.TotalRows)
	return ExitSuccess
}
