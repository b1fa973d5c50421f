// Package device reads the raw address book. On a phone this is the
// platform contacts API; here it is a JSON export dropped on disk.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/lendbridge/contactsync/internal/model"
)

// ErrNoSource is returned when no export path is configured.
var ErrNoSource = errors.New("device: no contact source configured")

// Source produces the current device contacts, unordered.
type Source interface {
	Scan(ctx context.Context) ([]model.DeviceRecord, error)
}

// FileSource reads a JSON array of {id,name,phones[],emails[]}.
type FileSource struct {
	Path string
}

// Scan reads and decodes the export. Records without an id get their index.
func (f FileSource) Scan(ctx context.Context) ([]model.DeviceRecord, error) {
	if f.Path == "" {
		return nil, ErrNoSource
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read device export: %w", err)
	}
	var records []model.DeviceRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode device export %s: %w", f.Path, err)
	}
	for i := range records {
		if records[i].ID == "" {
			records[i].ID = fmt.Sprintf("%d", i)
		}
	}
	return records, nil
}

// StaticSource returns a fixed list; for tests and demos.
type StaticSource []model.DeviceRecord

func (s StaticSource) Scan(ctx context.Context) ([]model.DeviceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]model.DeviceRecord, len(s))
	copy(out, s)
	return out, nil
}

// WriteExport writes records in the format FileSource reads.
func WriteExport(path string, records []model.DeviceRecord) error {
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}
