// Package uploader ships spool files to S3-compatible object storage.
//
// A background worker periodically scans the spool directory, serializes
// each file's bits as JSON Lines, and uploads them. A spool file is deleted
// only after the remote store has accepted the object, so a crash or a
// failed upload never loses bits; at-least-once delivery means the dataset
// consumer must tolerate duplicates.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/consciouslab/qrand/internal/logger"
	"github.com/consciouslab/qrand/pkg/spool"
)

// Config controls uploader behavior.
type Config struct {
	// SpoolDir is the directory scanned for spool files.
	SpoolDir string

	// Bucket is the destination S3 bucket.
	Bucket string

	// Prefix is the object key prefix.
	Prefix string

	// Interval is how often the worker scans the spool directory.
	Interval time.Duration

	// MinFiles is how many spool files must accumulate before a scheduled
	// upload runs. TriggerUpload ignores it.
	MinFiles int

	// PackWords packs bits into 32-bit words before upload.
	PackWords bool

	// BatchSize caps how many records go into a single uploaded object; a
	// spool file holding more is split across several objects.
	BatchSize int

	// InterBatchDelay is the pause between consecutive batch uploads of the
	// same file. Zero disables the pause.
	InterBatchDelay time.Duration
}

// Stats is a point-in-time snapshot of uploader activity.
type Stats struct {
	FilesUploaded     uint64    `json:"files_uploaded"`
	BitsUploaded      uint64    `json:"bits_uploaded"`
	UploadErrors      uint64    `json:"upload_errors"`
	IncompleteBatches uint64    `json:"incomplete_batches"`
	LastUpload        time.Time `json:"last_upload"`
	PendingFiles      int       `json:"pending_files"`
}

// Uploader ships spool files to object storage.
type Uploader struct {
	cfg    Config
	putter ObjectPutter

	mu                sync.Mutex
	filesUploaded     uint64
	bitsUploaded      uint64
	uploadErrors      uint64
	incompleteBatches uint64
	lastUpload        time.Time
	uploading         bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates an uploader. Call Start to launch the background worker.
func New(putter ObjectPutter, cfg Config) (*Uploader, error) {
	if cfg.SpoolDir == "" {
		return nil, fmt.Errorf("uploader spool dir must not be empty")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("uploader bucket must not be empty")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("uploader interval must be positive, got %s", cfg.Interval)
	}
	if cfg.MinFiles < 1 {
		cfg.MinFiles = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 10000
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "qrand"
	}

	return &Uploader{
		cfg:    cfg,
		putter: putter,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start launches the background worker.
func (u *Uploader) Start() {
	go u.run()

	logger.Info("Uploader started",
		"bucket", u.cfg.Bucket,
		"prefix", u.cfg.Prefix,
		"interval", u.cfg.Interval.String(),
		"pack_words", u.cfg.PackWords,
	)
}

// Stop shuts the worker down and drains any remaining spool files with one
// final upload attempt.
func (u *Uploader) Stop(ctx context.Context) error {
	close(u.stopCh)
	<-u.doneCh

	if err := u.uploadAll(ctx); err != nil {
		return fmt.Errorf("final upload failed: %w", err)
	}

	logger.Info("Uploader stopped")
	return nil
}

// TriggerUpload uploads all pending spool files immediately, regardless of
// the MinFiles threshold.
func (u *Uploader) TriggerUpload(ctx context.Context) error {
	return u.uploadAll(ctx)
}

// Stats returns a snapshot of uploader activity.
func (u *Uploader) Stats() Stats {
	files, _ := spool.ListFiles(u.cfg.SpoolDir)

	u.mu.Lock()
	defer u.mu.Unlock()

	return Stats{
		FilesUploaded:     u.filesUploaded,
		BitsUploaded:      u.bitsUploaded,
		UploadErrors:      u.uploadErrors,
		IncompleteBatches: u.incompleteBatches,
		LastUpload:        u.lastUpload,
		PendingFiles:      len(files),
	}
}

func (u *Uploader) run() {
	defer close(u.doneCh)

	ticker := time.NewTicker(u.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			u.scheduledUpload()
		case <-u.stopCh:
			return
		}
	}
}

// scheduledUpload runs an upload pass when enough spool files accumulated.
func (u *Uploader) scheduledUpload() {
	files, err := spool.ListFiles(u.cfg.SpoolDir)
	if err != nil {
		logger.Warn("Spool scan failed", "error", err)
		return
	}
	if len(files) < u.cfg.MinFiles {
		logger.Debug("Upload deferred, not enough spool files",
			"pending", len(files),
			"min_files", u.cfg.MinFiles,
		)
		return
	}

	if err := u.uploadAll(context.Background()); err != nil {
		logger.Warn("Scheduled upload failed", "error", err)
	}
}

// uploadAll uploads every pending spool file, oldest first. It stops at the
// first failure; the remaining files are retried on the next pass. A second
// concurrent call returns immediately.
func (u *Uploader) uploadAll(ctx context.Context) error {
	u.mu.Lock()
	if u.uploading {
		u.mu.Unlock()
		return nil
	}
	u.uploading = true
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		u.uploading = false
		u.mu.Unlock()
	}()

	files, err := spool.ListFiles(u.cfg.SpoolDir)
	if err != nil {
		return fmt.Errorf("failed to scan spool dir: %w", err)
	}

	for _, path := range files {
		if err := u.uploadFile(ctx, path); err != nil {
			u.mu.Lock()
			u.uploadErrors++
			u.mu.Unlock()
			return err
		}
	}

	return nil
}

// uploadFile ships one spool file in batches of at most BatchSize records
// and deletes it only after every batch has been accepted. PutObject
// returning without error means the write is durable, so deleting the local
// file cannot lose bits.
func (u *Uploader) uploadFile(ctx context.Context, path string) error {
	payload, err := spool.ReadFile(path)
	if err != nil {
		return err
	}

	for i, batch := range splitBatches(payload.Records, u.cfg.BatchSize) {
		if i > 0 && u.cfg.InterBatchDelay > 0 {
			select {
			case <-time.After(u.cfg.InterBatchDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := u.uploadBatch(ctx, path, batch); err != nil {
			return err
		}
	}

	if err := os.Remove(path); err != nil {
		// The objects are already durable; a leftover file means duplicate
		// uploads next pass, not data loss.
		logger.Warn("Failed to remove uploaded spool file",
			"file", filepath.Base(path),
			"error", err,
		)
	}

	u.mu.Lock()
	u.filesUploaded++
	u.bitsUploaded += uint64(payload.Count)
	u.lastUpload = time.Now()
	u.mu.Unlock()

	logger.Info("Spool file uploaded",
		"file", filepath.Base(path),
		"bits", payload.Count,
	)

	return nil
}

// uploadBatch ships one batch of records as a single object.
func (u *Uploader) uploadBatch(ctx context.Context, path string, batch []spool.Record) error {
	body, err := u.encode(batch)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}

	key := u.objectKey()

	_, err = u.putter.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}

	if len(batch) < u.cfg.BatchSize {
		u.mu.Lock()
		u.incompleteBatches++
		u.mu.Unlock()
	}

	logger.Debug("Batch uploaded", "key", key, "records", len(batch))
	return nil
}

// splitBatches cuts records into consecutive runs of at most size records.
func splitBatches(records []spool.Record, size int) [][]spool.Record {
	var batches [][]spool.Record
	for len(records) > size {
		batches = append(batches, records[:size])
		records = records[size:]
	}
	if len(records) > 0 {
		batches = append(batches, records)
	}
	return batches
}

// encode serializes records as JSON Lines, packed into 32-bit words when
// configured.
func (u *Uploader) encode(records []spool.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	if u.cfg.PackWords {
		for _, word := range packRecords(records) {
			if err := enc.Encode(word); err != nil {
				return nil, err
			}
		}
		return buf.Bytes(), nil
	}

	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// objectKey builds the destination key. Objects are partitioned by UTC hour
// so downstream consumers can scan a bounded key range.
func (u *Uploader) objectKey() string {
	return fmt.Sprintf("%s/bits_%s/%s.jsonl",
		u.cfg.Prefix,
		time.Now().UTC().Format("2006010215"),
		uuid.NewString(),
	)
}
