package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bft-labs/chunkship/internal/domain"
)

// StatusFileName is the file written inside the status directory.
const StatusFileName = "status.json"

// StatusFile implements ports.StatusRepository with a JSON file.
type StatusFile struct {
	dir string
}

// NewStatusFile stores status in dir/status.json.
func NewStatusFile(dir string) *StatusFile {
	return &StatusFile{dir: dir}
}

// Load reads the last saved status.
// A missing file yields an empty status and no error.
func (r *StatusFile) Load(ctx context.Context) (domain.Status, error) {
	data, err := os.ReadFile(r.Path())
	if errors.Is(err, os.ErrNotExist) {
		return domain.Status{Devices: map[string]domain.DeviceStatus{}}, nil
	}
	if err != nil {
		return domain.Status{}, err
	}

	var st domain.Status
	if err := json.Unmarshal(data, &st); err != nil {
		return domain.Status{}, fmt.Errorf("decode %s: %w", r.Path(), err)
	}
	if st.Devices == nil {
		st.Devices = map[string]domain.DeviceStatus{}
	}
	return st, nil
}

// Save writes the status through a temp file and rename, so readers never
// observe a partial file.
func (r *StatusFile) Save(ctx context.Context, st domain.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(r.dir, StatusFileName+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), r.Path())
}

// Path returns the full path of the status file.
func (r *StatusFile) Path() string {
	return filepath.Join(r.dir, StatusFileName)
}
