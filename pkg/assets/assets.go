// Package assets synchronizes files from canonical reuse libraries into
// project directories. Every synced file carries a record of the checksum it
// was synced at, which lets Sync tell library updates from local edits and
// report conflicts instead of overwriting either side.
package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"
)

// Library is a canonical source of reusable assets.
type Library struct {
	// ID is the unique identifier for this library.
	ID string `json:"id" yaml:"id" validate:"required"`

	// Name is a human-readable name.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Root is the directory holding the library's files.
	Root string `json:"root" yaml:"root" validate:"required"`

	// Version is an informational library version.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Include restricts the library to files matching these glob patterns
	// (matched against the slash-separated relative path). Empty means all files.
	Include []string `json:"include,omitempty" yaml:"include,omitempty"`
}

// LibraryAsset is a file in a library. Sync never mutates it.
type LibraryAsset struct {
	LibraryID string    `json:"library_id"`
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Version   string    `json:"version,omitempty"`
	Size      int64     `json:"size"`
	ScannedAt time.Time `json:"scanned_at"`
}

// ProjectAssetRecord tracks a library file synced into a project.
type ProjectAssetRecord struct {
	// ProjectPath is the absolute project root.
	ProjectPath string `json:"project_path"`

	// Path is the slash-separated path relative to the project root.
	Path string `json:"path"`

	// LibraryID is the library the file came from.
	LibraryID string `json:"library_id"`

	// SyncedChecksum is the checksum of the content last written or found identical.
	SyncedChecksum string `json:"synced_checksum"`

	// LocalModified is set when the project copy diverged from SyncedChecksum.
	LocalModified bool `json:"local_modified"`

	// SyncedAt is when SyncedChecksum was last updated.
	SyncedAt time.Time `json:"synced_at"`
}

// SyncAction is the decision Sync made for one asset.
type SyncAction string

const (
	// ActionNoop means no project file was written. The record may still be
	// updated, for example when an identical file already existed.
	ActionNoop SyncAction = "no-op"

	// ActionCreated means the file was absent and has been copied.
	ActionCreated SyncAction = "created"

	// ActionOverwritten means the library changed and the untouched project copy was replaced.
	ActionOverwritten SyncAction = "overwritten"

	// ActionConflict means both sides changed; the project file was left untouched.
	ActionConflict SyncAction = "conflict"
)

// SyncResult is the outcome for a single asset.
type SyncResult struct {
	Path   string     `json:"path"`
	Action SyncAction `json:"action"`

	// LocalModified reports that the project copy differs from what was last synced.
	LocalModified bool `json:"local_modified,omitempty"`

	// Deleted reports that the project copy is missing although a record exists.
	Deleted bool `json:"deleted,omitempty"`

	LibraryChecksum string `json:"library_checksum"`
	ProjectChecksum string `json:"project_checksum,omitempty"`
	RecordChecksum  string `json:"record_checksum,omitempty"`
}

// RecordStore persists project asset records.
type RecordStore interface {
	// GetProjectAsset returns the record for a project file. found is false when absent.
	GetProjectAsset(ctx context.Context, projectPath, path string) (rec *ProjectAssetRecord, found bool, err error)

	// PutProjectAsset inserts or replaces a record.
	PutProjectAsset(ctx context.Context, rec *ProjectAssetRecord) error

	// DeleteProjectAsset removes a record.
	DeleteProjectAsset(ctx context.Context, projectPath, path string) error

	// ListProjectAssets lists a project's records, optionally filtered by library.
	ListProjectAssets(ctx context.Context, projectPath, libraryID string) ([]*ProjectAssetRecord, error)
}

// LibraryResolver looks up libraries by ID.
type LibraryResolver interface {
	Library(ctx context.Context, id string) (*Library, error)
}

// ErrLibraryNotFound is returned when a library ID is unknown.
var ErrLibraryNotFound = errors.New("library not found")

// Libraries is a LibraryResolver over a fixed set of libraries.
type Libraries map[string]*Library

// Library implements LibraryResolver.
func (l Libraries) Library(_ context.Context, id string) (*Library, error) {
	lib, ok := l[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLibraryNotFound, id)
	}
	return lib, nil
}

// Checksum returns the hex sha256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FileChecksum returns the hex sha256 of a file. exists is false when the file is absent.
func FileChecksum(path string) (sum string, exists bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", true, fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), true, nil
}
