package decode

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ErrEmpty is returned when a chunk contains no bytes at all.
var ErrEmpty = errors.New("decode: empty arrow stream")

// Batches holds the record batches decoded from one chunk.
type Batches struct {
	Schema  *arrow.Schema
	Records []arrow.Record
	NumRows int64
}

// Release releases every record. Safe to call more than once.
func (b *Batches) Release() {
	for _, rec := range b.Records {
		rec.Release()
	}
	b.Records = nil
}

// Records decodes an Arrow IPC stream into record batches. The returned
// records are retained and must be released by the caller.
func Records(data []byte, mem memory.Allocator) (*Batches, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	return Read(bytes.NewReader(data), mem)
}

// Read decodes an Arrow IPC stream from r.
func Read(r io.Reader, mem memory.Allocator) (*Batches, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	rdr, err := ipc.NewReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("decode: open arrow stream: %w", err)
	}
	defer rdr.Release()

	out := &Batches{Schema: rdr.Schema()}
	for rdr.Next() {
		rec := rdr.Record()
		rec.Retain()
		out.Records = append(out.Records, rec)
		out.NumRows += rec.NumRows()
	}
	if err := rdr.Err(); err != nil {
		out.Release()
		return nil, fmt.Errorf("decode: read record batch %d: %w", len(out.Records), err)
	}

	return out, nil
}
