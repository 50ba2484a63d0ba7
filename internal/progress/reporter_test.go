package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{100, "100 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1024 * 1024, "1.0 MiB"},
		{256 * 1024 * 1024, "256 MiB"},
		{1024 * 1024 * 1024, "1.0 GiB"},
		{2.5 * 1024 * 1024 * 1024 * 1024, "2.5 TiB"},
		{-5, "0 B"},
	}

	for _, tt := range tests {
		result := FormatBytes(tt.input)
		if result != tt.expected {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"100", 100},
		{"100B", 100},
		{"1KiB", 1024},
		{"1.5KiB", 1536},
		{"256MiB", 256 * 1024 * 1024},
		{" 1GiB ", 1024 * 1024 * 1024},
		// SI units
		{"1KB", 1000},
		{"1MB", 1000 * 1000},
	}

	for _, tt := range tests {
		result, err := ParseBytes(tt.input)
		if err != nil {
			t.Errorf("ParseBytes(%q): %v", tt.input, err)
			continue
		}
		if result != tt.expected {
			t.Errorf("ParseBytes(%q) = %d, want %d", tt.input, result, tt.expected)
		}
	}
}

func TestParseBytesInvalid(t *testing.T) {
	if _, err := ParseBytes("invalid"); err == nil {
		t.Error("expected error for invalid input")
	}
}

func TestReporterChunkTracking(t *testing.T) {
	reporter := NewReporter(Options{
		TotalChunks:    4,
		Workers:        2,
		UpdateInterval: 100 * time.Millisecond,
	})

	reporter.ChunkStarted()
	if reporter.inProgress.Load() != 1 {
		t.Errorf("expected 1 in-progress, got %d", reporter.inProgress.Load())
	}

	reporter.ChunkRetried()
	reporter.ChunkCompleted(256, 10)
	if reporter.inProgress.Load() != 0 {
		t.Errorf("expected 0 in-progress after complete, got %d", reporter.inProgress.Load())
	}
	if reporter.completedChunks.Load() != 1 {
		t.Errorf("expected 1 completed, got %d", reporter.completedChunks.Load())
	}
	if reporter.completedBytes.Load() != 256 || reporter.completedRows.Load() != 10 {
		t.Errorf("expected 256 bytes / 10 rows, got %d / %d", reporter.completedBytes.Load(), reporter.completedRows.Load())
	}
	if reporter.retries.Load() != 1 {
		t.Errorf("expected 1 retry, got %d", reporter.retries.Load())
	}

	reporter.ChunkStarted()
	reporter.ChunkFailed()
	if reporter.inProgress.Load() != 0 {
		t.Errorf("expected 0 in-progress after fail, got %d", reporter.inProgress.Load())
	}
	if reporter.failedChunks.Load() != 1 {
		t.Errorf("expected 1 failed, got %d", reporter.failedChunks.Load())
	}

	// Stop without Start must not block
	reporter.Stop()
}

func TestReporterStartStop(t *testing.T) {
	var out bytes.Buffer
	reporter := NewReporter(Options{
		StatementID:    "01f0-stmt",
		TotalChunks:    2,
		TotalRows:      2000,
		Strategy:       "async",
		Workers:        2,
		UpdateInterval: 10 * time.Millisecond,
		Output:         &out,
	})

	reporter.Start()

	reporter.ChunkStarted()
	reporter.ChunkCompleted(256*1024, 1000)
	reporter.ChunkStarted()
	reporter.ChunkCompleted(256*1024, 1000)

	time.Sleep(50 * time.Millisecond)
	reporter.Stop()
	reporter.Stop()

	got := out.String()
	for _, want := range []string{
		"[chunkfetch] Fetching statement: 01f0-stmt",
		"Rows: 2,000 | Strategy: async",
		"[chunkfetch] Chunks: 2 completed | 0 retries | 0 failed",
		"512 KiB",
		"Complete!",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}
