package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// FileSink appends messages as JSON lines to a local audit file. The file
// stays open until Close.
type FileSink struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

var _ io.Closer = (*FileSink)(nil)

// NewFileSink opens path for appending, creating it if needed.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening alert file: %w", err)
	}
	return &FileSink{f: f, enc: json.NewEncoder(f)}, nil
}

// Name returns the sink identifier.
func (s *FileSink) Name() string { return "file" }

// Send writes msg as one line. Encoder output ends with a newline.
func (s *FileSink) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("alert file closed")
	}
	return s.enc.Encode(msg)
}

// Close flushes and closes the file. Later sends fail.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
