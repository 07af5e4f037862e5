package deadletter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sargonas/meshcord/internal/domain"
	"github.com/sargonas/meshcord/internal/ports"
)

// FileLog appends abandoned deliveries to a local file, one JSON object per
// line, for operator inspection. It is write-only on purpose: replaying a
// dead-lettered delivery could double-send a message that was already marked
// seen, so recovery stays a human decision.
type FileLog struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	records   int64
	sizeBytes int64
	closed    bool
}

type record struct {
	Time     time.Time        `json:"time"`
	Reason   string           `json:"reason"`
	Delivery *domain.Delivery `json:"delivery"`
}

func NewFileLog(dir string) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("deadletter: create dir: %w", err)
	}
	path := filepath.Join(dir, "deadletter.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("deadletter: open log: %w", err)
	}

	l := &FileLog{path: path, file: f}
	if err := l.bootstrap(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return l, nil
}

// bootstrap restores record count and size from a previous run so Stats
// stay meaningful across restarts.
func (l *FileLog) bootstrap() error {
	stat, err := os.Stat(l.path)
	if err != nil {
		return fmt.Errorf("deadletter: stat log: %w", err)
	}
	l.sizeBytes = stat.Size()
	if l.sizeBytes == 0 {
		return nil
	}

	rf, err := os.Open(l.path)
	if err != nil {
		return fmt.Errorf("deadletter: scan log: %w", err)
	}
	defer rf.Close()

	sc := bufio.NewScanner(rf)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		l.records++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("deadletter: scan log: %w", err)
	}
	return nil
}

func (l *FileLog) Record(ctx context.Context, d *domain.Delivery, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(record{Time: time.Now().UTC(), Reason: reason, Delivery: d})
	if err != nil {
		return fmt.Errorf("deadletter: encode record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("deadletter: log closed")
	}
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("deadletter: write record: %w", err)
	}
	// Dead letters are rare and each one matters; sync immediately.
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("deadletter: sync: %w", err)
	}
	l.records++
	l.sizeBytes += int64(len(line))
	return nil
}

func (l *FileLog) Stats() ports.DeadLetterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ports.DeadLetterStats{Records: l.records, SizeBytes: l.sizeBytes}
}

func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("deadletter: close: %w", err)
	}
	return nil
}

var _ ports.DeadLetter = (*FileLog)(nil)
