// Package testutils provides shared test infrastructure: Arrow fixtures, a
// chunk HTTP server with failure injection and, behind the integration build
// tag, a MinIO container for manifest storage.
package testutils

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ArrowStream encodes one int64 column named "id" as an Arrow IPC stream,
// one record batch per values slice.
func ArrowStream(t testing.TB, mem memory.Allocator, batches ...[]int64) []byte {
	t.Helper()
	if mem == nil {
		mem = memory.NewGoAllocator()
	}

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	}, nil)

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(mem))

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	for _, values := range batches {
		b.Field(0).(*array.Int64Builder).AppendValues(values, nil)
		rec := b.NewRecord()
		if err := w.Write(rec); err != nil {
			t.Fatalf("write record: %v", err)
		}
		rec.Release()
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return buf.Bytes()
}

// Sequence returns n consecutive int64 values starting at from.
func Sequence(from, n int64) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = from + int64(i)
	}
	return out
}

// ChunkServer serves chunk bodies by path and can be told to fail requests.
type ChunkServer struct {
	*httptest.Server

	mu       sync.Mutex
	bodies   map[string][]byte
	failures map[string]failure
	requests map[string]int
	headers  map[string]http.Header
	holds    map[string]chan struct{}
}

type failure struct {
	remaining int
	status    int
}

// StartChunkServer starts a server that serves bodies keyed by URL path.
// The server is closed when the test ends.
func StartChunkServer(t testing.TB, bodies map[string][]byte) *ChunkServer {
	t.Helper()

	s := &ChunkServer{
		bodies:   make(map[string][]byte, len(bodies)),
		failures: make(map[string]failure),
		requests: make(map[string]int),
		headers:  make(map[string]http.Header),
		holds:    make(map[string]chan struct{}),
	}
	for path, body := range bodies {
		s.bodies[path] = body
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *ChunkServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests[r.URL.Path]++
	s.headers[r.URL.Path] = r.Header.Clone()
	body, ok := s.bodies[r.URL.Path]
	status := 0
	if f := s.failures[r.URL.Path]; f.remaining != 0 {
		status = f.status
		if f.remaining > 0 {
			f.remaining--
			s.failures[r.URL.Path] = f
		}
	}
	hold := s.holds[r.URL.Path]
	s.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Write(body)
}

// FailNext makes the next n requests for path answer with status. A negative
// n fails every request.
func (s *ChunkServer) FailNext(path string, n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 {
		n = -1
	}
	s.failures[path] = failure{remaining: n, status: status}
}

// Hold blocks requests for path until the returned func is called or the
// client goes away.
func (s *ChunkServer) Hold(path string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.holds[path] = ch
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.holds, path)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Requests returns how many requests hit path.
func (s *ChunkServer) Requests(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

// Header returns the request headers last seen for path.
func (s *ChunkServer) Header(path string) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[path]
}

// URLFor returns the absolute URL of path on the server.
func (s *ChunkServer) URLFor(path string) string {
	return s.URL + path
}
