// Package persistence saves and loads snapshots of the presence store.
//
// Snapshots are a historical record: user ids are per connection and are never
// resumed after a restart. Two backends exist, a CSV file (default) and SQLite.
package persistence

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mmuslimabdulj/goat-space/internal/domain"
)

// Backend names accepted by Open
const (
	BackendCSV    = "csv"
	BackendSQLite = "sqlite"
)

// SnapshotStore persists the full set of presence records.
// Save replaces the previous snapshot as a whole.
type SnapshotStore interface {
	Save(records []domain.PresenceRecord) error
	Load() ([]domain.PresenceRecord, error)
	Close() error
}

// Open returns the snapshot backend named by backend, rooted at path
func Open(backend, path string) (SnapshotStore, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendCSV:
		return NewCSVFile(path), nil
	case BackendSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", backend)
	}
}

func encodeListening(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeListening(s string) ([]string, error) {
	ids := []string{}
	if strings.TrimSpace(s) == "" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, fmt.Errorf("listeningTo: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
