package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
)

const manifestName = "manifest.json"

// StateDir is the per-target directory holding locks and backups.
const StateDir = ".sif"

// BackupDir returns the snapshot directory for a step within a target.
// Characters that are not valid in file names on every platform (step IDs
// contain ':') are replaced with '_'.
func BackupDir(targetPath, stepID string) string {
	return filepath.Join(targetPath, StateDir, "backups", safeName(stepID))
}

func safeName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, strings.ContainsRune(`<>:"/\|?*`, r):
			return '_'
		}
		return r
	}, id)
}

// Snapshot holds the pre-change state of project files and their records so
// that a sync or render can be reverted.
type Snapshot struct {
	dir     string
	Entries []SnapshotEntry `json:"entries"`
	seen    map[string]bool
}

// SnapshotEntry is the captured state of one path.
type SnapshotEntry struct {
	Path    string              `json:"path"`
	Existed bool                `json:"existed"`
	Mode    fs.FileMode         `json:"mode,omitempty"`
	Record  *ProjectAssetRecord `json:"record,omitempty"`
}

// NewSnapshot creates an empty snapshot stored under dir.
func NewSnapshot(dir string) *Snapshot {
	return &Snapshot{dir: dir, seen: make(map[string]bool)}
}

// Dir returns the snapshot directory.
func (s *Snapshot) Dir() string {
	return s.dir
}

// Capture saves the current content of rel (if any) and its prior record,
// then rewrites the manifest so the capture survives a crash before the
// change it guards. Only the first capture of a path is kept.
func (s *Snapshot) Capture(root, rel string, prior *ProjectAssetRecord) error {
	if s.seen[rel] {
		return nil
	}

	path, err := ResolvePath(root, rel)
	if err != nil {
		return err
	}

	entry := SnapshotEntry{Path: rel}
	if prior != nil {
		cp := *prior
		entry.Record = &cp
	}

	info, err := os.Stat(path)
	switch {
	case err == nil:
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s for snapshot: %w", rel, err)
		}
		entry.Existed = true
		entry.Mode = info.Mode().Perm()
		if err := WriteFile(s.filesDir(), rel, data, 0o600); err != nil {
			return fmt.Errorf("saving snapshot of %s: %w", rel, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	s.Entries = append(s.Entries, entry)
	s.seen[rel] = true
	if err := s.Save(); err != nil {
		return fmt.Errorf("saving snapshot manifest: %w", err)
	}
	return nil
}

// Save writes the snapshot manifest.
func (s *Snapshot) Save() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return WriteFile(s.dir, manifestName, data, 0o644)
}

// LoadSnapshot reads a snapshot saved under dir. A missing manifest yields an
// empty snapshot, which restores nothing.
func LoadSnapshot(dir string) (*Snapshot, error) {
	s := NewSnapshot(dir)
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing snapshot manifest: %w", err)
	}
	for _, e := range s.Entries {
		s.seen[e.Path] = true
	}
	return s, nil
}

// Restore puts every captured path back the way it was, in reverse capture
// order, and restores or removes the corresponding records. It keeps going
// after a failure and reports all of them. records may be nil.
func (s *Snapshot) Restore(ctx context.Context, root string, records RecordStore) error {
	var result *multierror.Error

	for i := len(s.Entries) - 1; i >= 0; i-- {
		e := s.Entries[i]

		if e.Existed {
			data, err := os.ReadFile(filepath.Join(s.filesDir(), filepath.FromSlash(e.Path)))
			if err == nil {
				mode := e.Mode
				if mode == 0 {
					mode = 0o644
				}
				err = WriteFile(root, e.Path, data, mode)
			}
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("restoring %s: %w", e.Path, err))
				continue
			}
		} else if err := RemoveFile(root, e.Path); err != nil {
			result = multierror.Append(result, fmt.Errorf("removing %s: %w", e.Path, err))
			continue
		}

		if records == nil {
			continue
		}
		var err error
		if e.Record != nil {
			err = records.PutProjectAsset(ctx, e.Record)
		} else {
			abs, _ := filepath.Abs(root)
			err = records.DeleteProjectAsset(ctx, abs, e.Path)
		}
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("restoring record for %s: %w", e.Path, err))
		}
	}

	return result.ErrorOrNil()
}

// Discard removes the snapshot directory.
func (s *Snapshot) Discard() error {
	return os.RemoveAll(s.dir)
}

func (s *Snapshot) filesDir() string {
	return filepath.Join(s.dir, "files")
}
