package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gold-price-alerts/internal/storage"
)

// Timestamps written by older tooling carry no zone; they are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// FileBackend stores the window as a JSON array of {price, source, timestamp}.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend reading and writing path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Path returns the backing file location.
func (f *FileBackend) Path() string {
	return f.path
}

type fileRecordIn struct {
	Price     decimal.Decimal `json:"price"`
	Source    string          `json:"source"`
	Timestamp string          `json:"timestamp"`
}

type fileRecordOut struct {
	Price     json.Number `json:"price"`
	Source    string      `json:"source"`
	Timestamp string      `json:"timestamp"`
}

// Read decodes the file. A missing file reports ErrNotFound.
func (f *FileBackend) Read(_ context.Context) ([]storage.PriceSample, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read history file: %w", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, ErrNotFound
	}

	var records []fileRecordIn
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode history file: %w", err)
	}

	samples := make([]storage.PriceSample, 0, len(records))
	for i, rec := range records {
		ts, err := parseTimestamp(rec.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("history record %d: %w", i, err)
		}
		samples = append(samples, storage.PriceSample{
			Price:     rec.Price,
			Source:    rec.Source,
			Timestamp: ts,
		})
	}
	return samples, nil
}

// Write replaces the file atomically through a temp file in the same directory.
func (f *FileBackend) Write(_ context.Context, samples []storage.PriceSample) error {
	records := make([]fileRecordOut, 0, len(samples))
	for _, s := range samples {
		records = append(records, fileRecordOut{
			Price:     json.Number(s.Price.String()),
			Source:    s.Source,
			Timestamp: s.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}

	payload, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	dir := filepath.Dir(f.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create history dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".history-*.json")
	if err != nil {
		return fmt.Errorf("create temp history file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp history file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp history file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace history file: %w", err)
	}
	return nil
}

func parseTimestamp(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", v)
}

var _ Backend = (*FileBackend)(nil)
