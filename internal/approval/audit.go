package approval

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// AuditLog appends approval decisions to approvals.jsonl, one JSON object
// per line. Decisions are never mutated after write.
type AuditLog struct {
	file   *os.File
	writer *bufio.Writer
	mutex  sync.Mutex
}

// NewAuditLog opens (or creates) the audit log for appending.
func NewAuditLog(filePath string) (*AuditLog, error) {
	// #nosec G304 -- audit log path is intentionally configurable by user
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open approvals log: %w", err)
	}
	return &AuditLog{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

// Record appends exactly one line per decision.
func (l *AuditLog) Record(decision Decision) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if decision.ApprovedAt.IsZero() && decision.Approved {
		decision.ApprovedAt = time.Now().UTC()
	}

	data, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("failed to marshal approval decision: %w", err)
	}
	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write approval decision: %w", err)
	}
	if _, err := l.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	// Flush immediately for crash safety
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush approvals log: %w", err)
	}
	return nil
}

// Close flushes and closes the log.
func (l *AuditLog) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	var errs []error
	if err := l.writer.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush approvals log: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close approvals log: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing approvals log: %v", errs)
	}
	return nil
}
