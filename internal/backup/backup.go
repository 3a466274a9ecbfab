// Package backup keeps a local record of every successful weather check so no reading is lost
// when the broker is down.
package backup

import (
	"context"
	"fmt"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/models"
)

// Store appends backup entries and reads back the most recent ones.
type Store interface {
	Append(ctx context.Context, e models.BackupEntry) error
	// Recent returns up to n entries, newest first.
	Recent(ctx context.Context, n int) ([]models.BackupEntry, error)
	Backend() string
	Close() error
}

// Open returns the store for backend ("jsonl" or "sqlite") at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "jsonl", "":
		return NewJSONL(path), nil
	case "sqlite":
		s, err := NewSQLite(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown backup backend %q", backend)
	}
}
