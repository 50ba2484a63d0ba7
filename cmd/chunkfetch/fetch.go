package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/prometheus/client_golang/prometheus"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/chunkfetch/internal/config"
	"github.com/ligustah/chunkfetch/internal/download"
	chunkhttp "github.com/ligustah/chunkfetch/internal/http"
	"github.com/ligustah/chunkfetch/internal/manifest"
	"github.com/ligustah/chunkfetch/internal/metrics"
	"github.com/ligustah/chunkfetch/internal/progress"
	"github.com/ligustah/chunkfetch/pkg/chunk"
)

// runFetch downloads and decodes every chunk listed in a manifest, optionally
// writing the decoded result as one Arrow IPC stream.
func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)

	configPath := fs.String("config", "", "YAML configuration file")
	envFile := fs.String("env-file", ".env", "Load environment variables from this file if it exists")
	output := fs.String("output", "", "Write the decoded result as an Arrow IPC stream to this file")
	verbose := fs.Bool("v", false, "Enable debug logging")
	logJSON := fs.Bool("log-json", false, "Log as JSON")

	var flags config.Config
	fs.StringVar(&flags.Bucket, "bucket", "", "Bucket URL holding the manifest (required)")
	fs.StringVar(&flags.Manifest, "manifest", "", "Manifest object key (required)")
	fs.StringVar(&flags.Strategy, "strategy", "", "Download strategy: blocking or async (default blocking)")
	fs.IntVar(&flags.Workers, "workers", 0, "Number of download workers (default 16)")
	fs.IntVar(&flags.ProcessingWorkers, "processing-workers", 0, "Async processing pool size (default 150)")
	fs.IntVar(&flags.SchedulerWorkers, "scheduler-workers", 0, "Async retry scheduler pool size (default 4)")
	fs.BoolVar(&flags.Progress, "progress", false, "Show progress output")
	fs.DurationVar(&flags.RequestTimeout, "request-timeout", 0, "Per-request timeout (default 60s)")
	fs.Float64Var(&flags.RequestsPerSecond, "rps", 0, "Limit fetches started per second (default unlimited)")
	fs.DurationVar(&flags.LinkTTL, "link-ttl", 0, "Lifetime of signed chunk links (default 15m)")
	fs.StringVar(&flags.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.IntVar(&flags.Retry.Attempts, "retry-attempts", 0, "Max async attempts per chunk (default 3)")
	fs.DurationVar(&flags.Retry.Backoff, "retry-backoff", 0, "Initial async retry backoff (default 1s)")
	fs.DurationVar(&flags.Retry.MaxBackoff, "retry-max-backoff", 0, "Max async retry backoff (default 5s)")
	fs.DurationVar(&flags.Retry.Jitter, "retry-jitter", 0, "Max random jitter added to async backoff (default 100ms)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: chunkfetch fetch [options]

Download every chunk of a result described by a manifest, decompress and
decode it. Options can also be set with CHUNKFETCH_* environment variables
or a YAML file given by -config; flags take precedence.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(*configPath, *envFile, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		return ExitInvalidArgs
	}

	logger := newLogger(os.Stderr, *verbose, *logJSON)

	ctx, cancel := signalContext()
	defer cancel()

	return fetch(ctx, cfg, *output, logger)
}

func loadConfig(path, envFile string, flags config.Config) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return config.Config{}, err
		}
	}
	if envFile != "" {
		if err := config.LoadDotEnv(envFile); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}
	cfg = cfg.Merge(flags)
	return cfg, cfg.Validate()
}

func fetch(ctx context.Context, cfg config.Config, output string, logger *slog.Logger) int {
	p, err := manifest.OpenURL(ctx, cfg.Bucket, cfg.Manifest,
		manifest.WithLinkTTL(cfg.LinkTTL),
		manifest.WithLogger(logger),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}
	defer p.Close()

	// closed last; releasing the chunks cancels fetches still in flight
	client := chunkhttp.NewClient(cfg.HTTPOptions())
	defer client.Close()

	m := p.Manifest()
	chunks := p.Chunks(chunk.WithLogger(logger))
	defer func() {
		for _, c := range chunks {
			c.Release()
		}
	}()

	opts := cfg.DownloadOptions()
	opts.Logger = logger

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts.Metrics = metrics.New(reg)
		stop := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer stop()
	}

	if cfg.Progress {
		opts.Progress = progress.NewReporter(progress.Options{
			StatementID:    m.StatementID,
			TotalChunks:    len(chunks),
			TotalRows:      m.TotalRows,
			Strategy:       cfg.Strategy,
			Workers:        cfg.Workers,
			Output:         os.Stderr,
			UpdateInterval: 5 * time.Second,
		})
		opts.Progress.Start()
		defer opts.Progress.Stop()
	}

	d, err := download.New(client, p, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	defer d.Close()

	logger.Info("fetching result",
		"statement_id", m.StatementID,
		"chunks", len(chunks),
		"total_rows", m.TotalRows,
		"strategy", cfg.Strategy,
	)

	if err := download.Run(ctx, d, chunks, opts.Progress); err != nil {
		switch {
		case ctx.Err() != nil:
			fmt.Fprintln(os.Stderr, "[chunkfetch] Fetch interrupted")
			return ExitInterrupted
		case chunk.CodeOf(err) == chunk.CodeChunkProcessing:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitProcessingFailed
		case chunk.CodeOf(err) == chunk.CodeChunkDownload:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitDownloadFailed
		default:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitGeneralError
		}
	}

	var rows, size int64
	for _, c := range chunks {
		rows += c.NumRows()
		size += c.BytesDownloaded()
	}
	if rows != m.TotalRows {
		logger.Warn("decoded row count differs from manifest",
			"statement_id", m.StatementID,
			"rows", rows,
			"total_rows", m.TotalRows,
		)
	}

	if output != "" {
		if err := writeStream(output, chunks); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
			return ExitGeneralError
		}
	}

	for _, c := range chunks {
		fmt.Printf("chunk %d: %s rows=%d offset=%d bytes=%d\n",
			c.Index(), c.Status(), c.NumRows(), c.RowOffset(), c.BytesDownloaded())
	}
	fmt.Printf("Statement: %s\n", m.StatementID)
	fmt.Printf("Chunks: %d\n", len(chunks))
	fmt.Printf("Rows: %d\n", rows)
	fmt.Printf("Downloaded: %s\n", progress.FormatBytes(size))
	return ExitSuccess
}

// writeStream writes the records of all chunks, in chunk order, as one
// Arrow IPC stream.
func writeStream(path string, chunks []*chunk.Chunk) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	var w *ipc.Writer
	for _, c := range chunks {
		records, err := c.Records()
		if err != nil {
			return fmt.Errorf("chunk %d: %w", c.Index(), err)
		}
		if w == nil {
			schema := c.Schema()
			if schema == nil {
				continue
			}
			w = ipc.NewWriter(f, ipc.WithSchema(schema))
		}
		for _, rec := range records {
			if err := w.Write(rec); err != nil {
				return fmt.Errorf("chunk %d: %w", c.Index(), err)
			}
		}
	}
	if w == nil {
		return errors.New("result has no schema")
	}
	return w.Close()
}

// serveMetrics serves the registry on addr until the returned func is
// called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
