package store

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/openride/surgecast/core/override"
)

// RotatingJSONLAudit stores audit entries in a JSONL file with automatic
// rotation. It is the file-backed alternative when no SQLite path is
// configured.
type RotatingJSONLAudit struct {
	mu     sync.Mutex
	logger *lumberjack.Logger
	path   string
}

// NewRotatingJSONLAudit creates a store with rotation options in megabytes
// and days.
func NewRotatingJSONLAudit(path string, maxSizeMB, maxBackups, maxAgeDays int) (*RotatingJSONLAudit, error) {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   false,
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &RotatingJSONLAudit{logger: lj, path: path}, nil
}

// Append writes the entry and triggers rotation if needed.
func (s *RotatingJSONLAudit) Append(ctx context.Context, e override.AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(s.logger)
	return enc.Encode(e)
}

// QueryAudit reads entries from all files including rotated ones.
func (s *RotatingJSONLAudit) QueryAudit(ctx context.Context, q AuditQuery) ([]override.AuditEntry, error) {
	_ = ctx
	files, err := filepath.Glob(s.path + "*")
	if err != nil {
		return nil, err
	}
	var res []override.AuditEntry
	for _, f := range files {
		file, err := os.Open(f)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			var e override.AuditEntry
			if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
				continue
			}
			if q.ZoneID != "" && e.ZoneID != q.ZoneID {
				continue
			}
			if !q.Start.IsZero() && e.At.Before(q.Start) {
				continue
			}
			if !q.End.IsZero() && e.At.After(q.End) {
				continue
			}
			res = append(res, e)
		}
		_ = file.Close()
	}
	return res, nil
}

// Close closes the underlying writer.
func (s *RotatingJSONLAudit) Close() error {
	return s.logger.Close()
}
