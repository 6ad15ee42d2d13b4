package helpers

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FailureJournal records failed jobs so an operator can rerun them
type FailureJournal interface {
	Record(job string, err error) error
}

// FailureLog appends failed jobs to a file, one line each
type FailureLog struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewFailureLog creates a journal writing to path
func NewFailureLog(path string) *FailureLog {
	return &FailureLog{path: path, now: time.Now}
}

// Record appends one failure with a timestamp
func (l *FailureLog) Record(job string, err error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "" {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return mkErr
		}
	}
	f, openErr := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if openErr != nil {
		return openErr
	}
	defer f.Close()

	timestamp := l.now().Format("2006-01-02 15:04:05")
	_, writeErr := fmt.Fprintf(f, "[%s] [%s] %v\n", timestamp, job, err)
	return writeErr
}
