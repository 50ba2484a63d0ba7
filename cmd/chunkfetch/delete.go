package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"gocloud.dev/blob"

	"github.com/ligustah/chunkfetch/internal/manifest"
)

// runDelete removes a manifest and its stored chunk objects. Prompts for
// confirmation unless -force is given.
func runDelete(args []string) int {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)

	bucket := fs.String("bucket", os.Getenv("CHUNKFETCH_BUCKET"), "Bucket URL (required)")
	key := fs.String("manifest", os.Getenv("CHUNKFETCH_MANIFEST"), "Manifest object key (required)")
	force := fs.Bool("force", false, "Skip confirmation prompt")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: chunkfetch delete [options]

Remove a manifest and every chunk object stored under "<manifest>.chunks/",
including chunks left behind by an interrupted publish.

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

	if !*force {
		fmt.Fprintf(os.Stderr, "Delete %s and its chunks from %s? [y/N] ", *key, *bucket)
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Fprintln(os.Stderr, "Aborted")
			return ExitSuccess
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	bkt, err := blob.OpenBucket(ctx, *bucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer bkt.Close()

	n, err := manifest.Delete(ctx, bkt, *key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	fmt.Fprintf(os.Stderr, "[chunkfetch] Deleted %s and %d chunk objects\n", *key, n)
	return ExitSuccess
}
