// Package config defines configuration structures for the chunkfetch CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (CHUNKFETCH_ prefix), optionally from .env files
//   - YAML configuration file
//
// Flags override the environment, which overrides the file, which overrides
// [Default]. The result converts to [download.Options], [http.Options] and
// a [retry.Policy].
//
// # File
//
//	bucket: s3://results?region=eu-west-1
//	manifest: queries/q1.json
//	strategy: async
//	workers: 32
//	processing_workers: 150
//	request_timeout: 30s
//	retry:
//	  attempts: 3
//	  backoff: 1s
//	  max_backoff: 5s
//	  jitter: 100ms
package config
