package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// JSONLSink appends one JSON object per record to a file
type JSONLSink struct {
	path string

	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLSink opens path for appending, creating it if needed
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open jsonl sink: %w", err)
	}
	return &JSONLSink{path: path, file: f, enc: json.NewEncoder(f)}, nil
}

// Path returns the file being written
func (s *JSONLSink) Path() string {
	return s.path
}

// Write appends r as a single line
func (s *JSONLSink) Write(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return ErrClosed
	}
	if err := s.enc.Encode(r); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// Records reads the file back
func (s *JSONLSink) Records(ctx context.Context, runID string) ([]Record, error) {
	return JSONLFile(s.path).Records(ctx, runID)
}

// Runs lists the run IDs in the file
func (s *JSONLSink) Runs(ctx context.Context) ([]string, error) {
	return JSONLFile(s.path).Runs(ctx)
}

// Close syncs and closes the file
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	syncErr := s.file.Sync()
	closeErr := s.file.Close()
	s.file = nil
	if closeErr != nil {
		return closeErr
	}
	return syncErr
}

// JSONLFile reads records from a JSON lines file without opening it for writing
type JSONLFile string

// Records reads every record for runID
func (f JSONLFile) Records(ctx context.Context, runID string) ([]Record, error) {
	fh, err := os.Open(string(f))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", string(f), err)
	}
	defer fh.Close()

	records, err := ReadJSONL(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", string(f), err)
	}
	return filterRun(records, runID), nil
}

// Runs lists the run IDs in order of first appearance
func (f JSONLFile) Runs(ctx context.Context) ([]string, error) {
	records, err := f.Records(ctx, "")
	if err != nil {
		return nil, err
	}
	return runsOf(records), nil
}

// ReadJSONL decodes records from r, one per line. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var records []Record
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
