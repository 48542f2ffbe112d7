// Package spool implements write-behind persistence of served bits.
//
// Bits handed out by the HTTP API are appended to an in-memory buffer and
// flushed to timestamped JSON files in a spool directory, either when the
// buffer reaches a threshold or on a periodic interval. The uploader package
// later ships these files to object storage and removes them.
//
// Appends never block on disk I/O; a flush failure keeps the buffered bits
// so they are retried on the next flush.
package spool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/consciouslab/qrand/internal/logger"
)

// Record is a single served bit with the time it was served.
type Record struct {
	Bit       int   `json:"bit"`
	Timestamp int64 `json:"timestamp"`
}

// FilePayload is the on-disk format of a spool file.
type FilePayload struct {
	Count   int      `json:"count"`
	Records []Record `json:"records"`
}

// Status is a point-in-time snapshot of the spool state.
type Status struct {
	BufferedBits int    `json:"buffered_bits"`
	FilesWritten uint64 `json:"files_written"`
	BitsFlushed  uint64 `json:"bits_flushed"`
	FlushErrors  uint64 `json:"flush_errors"`
	Dir          string `json:"dir"`
}

// Config controls spool behavior.
type Config struct {
	// Dir is the directory spool files are written to.
	Dir string

	// FlushThreshold flushes once the buffer holds this many bits.
	FlushThreshold int

	// FlushInterval flushes any buffered bits at least this often.
	FlushInterval time.Duration
}

// Spool buffers served bits in memory and flushes them to disk.
// All methods are safe for concurrent use.
type Spool struct {
	dir       string
	threshold int

	mu           sync.Mutex
	buf          []Record
	seq          uint64
	filesWritten uint64
	bitsFlushed  uint64
	flushErrors  uint64

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a spool writing to cfg.Dir and starts the periodic flush
// worker. The directory is created if it does not exist.
func New(cfg Config) (*Spool, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("spool dir must not be empty")
	}
	if cfg.FlushThreshold < 1 {
		return nil, fmt.Errorf("spool flush threshold must be positive, got %d", cfg.FlushThreshold)
	}
	if cfg.FlushInterval <= 0 {
		return nil, fmt.Errorf("spool flush interval must be positive, got %s", cfg.FlushInterval)
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}

	s := &Spool{
		dir:       cfg.Dir,
		threshold: cfg.FlushThreshold,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	go s.flushLoop(cfg.FlushInterval)

	logger.Info("Spool started",
		"dir", cfg.Dir,
		"flush_threshold", cfg.FlushThreshold,
		"flush_interval", cfg.FlushInterval.String(),
	)

	return s, nil
}

// Append adds served bits to the buffer, stamping them with the current
// time. Crossing the flush threshold triggers a synchronous flush.
func (s *Spool) Append(bits []int) {
	if len(bits) == 0 {
		return
	}

	now := time.Now().Unix()

	s.mu.Lock()
	for _, b := range bits {
		s.buf = append(s.buf, Record{Bit: b, Timestamp: now})
	}
	full := len(s.buf) >= s.threshold
	s.mu.Unlock()

	if full {
		if err := s.Flush(); err != nil {
			logger.Warn("Spool flush failed, bits retained", "error", err)
		}
	}
}

// Flush writes all buffered bits to a new spool file. A failure leaves the
// buffer intact so the bits are retried later. Flushing an empty buffer is
// a no-op.
func (s *Spool) Flush() error {
	s.mu.Lock()
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return nil
	}
	records := s.buf
	s.buf = nil
	s.mu.Unlock()

	if err := s.writeFile(records); err != nil {
		// Put the records back at the front so ordering survives a retry.
		s.mu.Lock()
		s.buf = append(records, s.buf...)
		s.flushErrors++
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.filesWritten++
	s.bitsFlushed += uint64(len(records))
	s.mu.Unlock()

	return nil
}

// writeFile persists records atomically: write to a temp file in the same
// directory, then rename into place. Readers never observe a partial file.
func (s *Spool) writeFile(records []Record) error {
	payload := FilePayload{Count: len(records), Records: records}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal spool payload: %w", err)
	}

	// Allocate the sequence at naming time so two flushes racing within the
	// same second can never build the same name and overwrite each other.
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	name := fmt.Sprintf("bits_%s_%06d.json", time.Now().UTC().Format("20060102_150405"), seq)
	final := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create spool temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write spool file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close spool file: %w", err)
	}

	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish spool file: %w", err)
	}

	logger.Debug("Spool file written", "file", name, "bits", len(records))
	return nil
}

// Status returns a snapshot of the spool state.
func (s *Spool) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		BufferedBits: len(s.buf),
		FilesWritten: s.filesWritten,
		BitsFlushed:  s.bitsFlushed,
		FlushErrors:  s.flushErrors,
		Dir:          s.dir,
	}
}

// Close stops the flush worker and flushes any remaining buffered bits.
func (s *Spool) Close() error {
	close(s.stopCh)
	<-s.doneCh

	if err := s.Flush(); err != nil {
		return fmt.Errorf("final spool flush failed: %w", err)
	}

	logger.Info("Spool stopped")
	return nil
}

// flushLoop periodically flushes buffered bits until Close is called.
func (s *Spool) flushLoop(interval time.Duration) {
	defer close(s.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				logger.Warn("Periodic spool flush failed", "error", err)
			}
		case <-s.stopCh:
			return
		}
	}
}

// ReadFile parses a spool file written by Flush.
func ReadFile(path string) (FilePayload, error) {
	var payload FilePayload

	data, err := os.ReadFile(path)
	if err != nil {
		return payload, fmt.Errorf("failed to read spool file: %w", err)
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("failed to parse spool file %s: %w", filepath.Base(path), err)
	}

	return payload, nil
}

// ListFiles returns the completed spool files in dir, oldest first.
// Temp files still being written are excluded.
func ListFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "bits_*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list spool files: %w", err)
	}

	// Glob already sorts lexically; the timestamped names make that
	// chronological.
	return matches, nil
}
