package backup

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/models"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/observability"
)

// JSONL appends one JSON object per line. The file is opened per write so external tools
// (Logstash file input, tail -f) see complete lines and rotation needs no coordination.
type JSONL struct {
	path string
	mu   sync.Mutex
}

// NewJSONL returns a store writing to path; the file is created on first Append.
func NewJSONL(path string) *JSONL {
	return &JSONL{path: path}
}

func (j *JSONL) Backend() string { return "jsonl" }

// Path returns the backing file.
func (j *JSONL) Path() string { return j.path }

func (j *JSONL) Append(ctx context.Context, e models.BackupEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode backup entry: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		observability.BackupWritesTotal.WithLabelValues(j.Backend(), "error").Inc()
		return fmt.Errorf("open backup file: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		observability.BackupWritesTotal.WithLabelValues(j.Backend(), "error").Inc()
		return fmt.Errorf("write backup file: %w", err)
	}
	if err := f.Close(); err != nil {
		observability.BackupWritesTotal.WithLabelValues(j.Backend(), "error").Inc()
		return fmt.Errorf("close backup file: %w", err)
	}
	observability.BackupWritesTotal.WithLabelValues(j.Backend(), "success").Inc()
	return nil
}

// Recent scans the whole file and keeps the last n parseable lines. A missing file yields no
// entries; malformed lines are skipped.
func (j *JSONL) Recent(ctx context.Context, n int) ([]models.BackupEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open backup file: %w", err)
	}
	defer f.Close()

	ring := make([]models.BackupEntry, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var e models.BackupEntry
		if json.Unmarshal(scanner.Bytes(), &e) != nil {
			continue
		}
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read backup file: %w", err)
	}

	out := make([]models.BackupEntry, len(ring))
	for i, e := range ring {
		out[len(ring)-1-i] = e
	}
	return out, nil
}

func (j *JSONL) Close() error { return nil }
