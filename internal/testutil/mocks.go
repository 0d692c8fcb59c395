package testutil

import (
	"bytes"
	"errors"
	"net/http"
	"sync"

	"github.com/vnykmshr/bufstream/pkg/streaming/producer"
)

// RecordingSink is a synchronous sink that records every call a producer
// makes into it. It can re-enter the producer from Write to mimic a
// transport that becomes writable immediately.
type RecordingSink struct {
	Producer  producer.PullProducer
	Streaming bool

	// Events is the ordered call log: "register", "write", "unregister", "finish".
	Events []string

	// Chunks holds a copy of every chunk written.
	Chunks [][]byte

	// Reentrant makes Write call ResumeProducing before returning.
	Reentrant bool

	// MaxDepth bounds re-entrant nesting. Zero means unbounded.
	MaxDepth int

	// OnWrite is called after a chunk is recorded, before any re-entrant resume.
	OnWrite func(chunk []byte)

	depth    int
	maxDepth int
}

// NewRecordingSink creates an empty RecordingSink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

// RegisterProducer implements the sink contract.
func (s *RecordingSink) RegisterProducer(p producer.PullProducer, streaming bool) {
	s.Producer = p
	s.Streaming = streaming
	s.Events = append(s.Events, "register")
}

// UnregisterProducer implements the sink contract.
func (s *RecordingSink) UnregisterProducer() {
	s.Producer = nil
	s.Events = append(s.Events, "unregister")
}

// Write implements the sink contract.
func (s *RecordingSink) Write(chunk []byte) {
	s.Events = append(s.Events, "write")
	s.Chunks = append(s.Chunks, append([]byte(nil), chunk...))

	if s.OnWrite != nil {
		s.OnWrite(chunk)
	}

	if s.Reentrant && s.Producer != nil && (s.MaxDepth == 0 || s.depth < s.MaxDepth) {
		s.depth++
		if s.depth > s.maxDepth {
			s.maxDepth = s.depth
		}
		s.Producer.ResumeProducing()
		s.depth--
	}
}

// Finish implements the sink contract.
func (s *RecordingSink) Finish() {
	s.Events = append(s.Events, "finish")
}

// Pump calls ResumeProducing until the producer unregisters or limit
// calls have been made. It returns the number of calls.
func (s *RecordingSink) Pump(limit int) int {
	n := 0
	for s.Producer != nil && n < limit {
		s.Producer.ResumeProducing()
		n++
	}
	return n
}

// Count returns how many times event was recorded.
func (s *RecordingSink) Count(event string) int {
	n := 0
	for _, e := range s.Events {
		if e == event {
			n++
		}
	}
	return n
}

// Bytes returns all written chunks concatenated.
func (s *RecordingSink) Bytes() []byte {
	return bytes.Join(s.Chunks, nil)
}

// MaxReentrantDepth returns the deepest nesting reached by re-entrant writes.
func (s *RecordingSink) MaxReentrantDepth() int {
	return s.maxDepth
}

// MockResponseWriter is an http.ResponseWriter and http.Flusher that can
// simulate transport failures.
type MockResponseWriter struct {
	mu          sync.Mutex
	header      http.Header
	buf         bytes.Buffer
	status      int
	writeCount  int
	flushCount  int
	errorOnNth  int
	shouldError bool
	err         error
}

// NewMockResponseWriter creates a new MockResponseWriter.
func NewMockResponseWriter() *MockResponseWriter {
	return &MockResponseWriter{header: make(http.Header)}
}

// Header implements http.ResponseWriter.
func (m *MockResponseWriter) Header() http.Header {
	return m.header
}

// WriteHeader implements http.ResponseWriter.
func (m *MockResponseWriter) WriteHeader(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == 0 {
		m.status = status
	}
}

// Write implements io.Writer with configurable failures.
func (m *MockResponseWriter) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == 0 {
		m.status = http.StatusOK
	}
	m.writeCount++

	if m.shouldError {
		return 0, m.err
	}
	if m.errorOnNth > 0 && m.writeCount == m.errorOnNth {
		return 0, errors.New("simulated error")
	}
	return m.buf.Write(p)
}

// Flush implements http.Flusher.
func (m *MockResponseWriter) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushCount++
}

// Status returns the status code written, or 0.
func (m *MockResponseWriter) Status() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Bytes returns a copy of the body written so far.
func (m *MockResponseWriter) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.buf.Bytes()...)
}

// Len returns the current body length.
func (m *MockResponseWriter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.Len()
}

// WriteCount returns the number of Write calls.
func (m *MockResponseWriter) WriteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeCount
}

// FlushCount returns the number of Flush calls.
func (m *MockResponseWriter) FlushCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushCount
}

// SetErrorOnNth configures the writer to error on the nth write.
func (m *MockResponseWriter) SetErrorOnNth(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorOnNth = n
}

// SetAlwaysError configures the writer to always return the given error.
func (m *MockResponseWriter) SetAlwaysError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldError = true
	m.err = err
}

var _ producer.Sink = (*RecordingSink)(nil)
