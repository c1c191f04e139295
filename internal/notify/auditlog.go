package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/roach88/tokenbot/internal/ir"
)

const auditPrefix = "audit"

// AuditLog appends audit records as JSON lines to zstd-compressed files, one
// file per UTC hour: <dir>/audit-2006-01-02-15.jsonl.zst.
//
// Each record is flushed through the encoder before Audit returns. A process
// restart appends a new zstd frame to the hour's file; readers decode
// concatenated frames transparently.
type AuditLog struct {
	dir string
	now func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

// AuditLogOption configures an AuditLog.
type AuditLogOption func(*AuditLog)

// WithAuditClock sets the clock that picks the hourly file.
func WithAuditClock(now func() time.Time) AuditLogOption {
	return func(l *AuditLog) { l.now = now }
}

// NewAuditLog creates a log rooted at dir. Files are created lazily.
func NewAuditLog(dir string, opts ...AuditLogOption) *AuditLog {
	l := &AuditLog{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dir returns the directory holding the log files.
func (l *AuditLog) Dir() string {
	return l.dir
}

// Audit appends rec.
func (l *AuditLog) Audit(_ context.Context, rec ir.AuditRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	hour := l.now().UTC().Format("2006-01-02-15")
	if hour != l.curHour {
		if err := l.rotateLocked(hour); err != nil {
			return fmt.Errorf("rotate audit log: %w", err)
		}
	}

	if _, err := l.w.Write(b); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("flush audit record: %w", err)
	}
	if err := l.enc.Flush(); err != nil {
		return fmt.Errorf("flush audit encoder: %w", err)
	}
	return nil
}

// AnnouncePublic is a no-op; the audit log only keeps records.
func (l *AuditLog) AnnouncePublic(context.Context, string) error {
	return nil
}

// Close finishes the current frame and closes the file.
func (l *AuditLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *AuditLog) rotateLocked(hour string) error {
	if err := l.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	l.f = f
	l.enc = enc
	l.w = bufio.NewWriterSize(enc, 64*1024)
	l.curHour = hour
	return nil
}

func (l *AuditLog) closeLocked() error {
	var err error
	if l.w != nil {
		err = l.w.Flush()
	}
	if l.enc != nil {
		err = errors.Join(err, l.enc.Close())
		l.enc = nil
	}
	if l.f != nil {
		err = errors.Join(err, l.f.Close())
		l.f = nil
	}
	l.w = nil
	l.curHour = ""
	return err
}

func (l *AuditLog) pathForHour(hour string) string {
	return filepath.Join(l.dir, fmt.Sprintf("%s-%s.jsonl.zst", auditPrefix, hour))
}

// ReadAuditLog decodes every record under dir, oldest file first.
//
// A file still being written ends in an unterminated frame; records up to
// the last flushed block are returned.
func ReadAuditLog(dir string) ([]ir.AuditRecord, error) {
	paths, err := filepath.Glob(filepath.Join(dir, auditPrefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, fmt.Errorf("list audit files: %w", err)
	}
	sort.Strings(paths)

	var out []ir.AuditRecord
	for _, p := range paths {
		recs, err := readAuditFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", filepath.Base(p), err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

func readAuditFile(path string) ([]ir.AuditRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	var out []ir.AuditRecord
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec ir.AuditRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("decode line %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return out, nil
}
