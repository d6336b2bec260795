package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sif-factory/sif/pkg/assets"
	"github.com/sif-factory/sif/pkg/composition"
	"github.com/sif-factory/sif/pkg/engine"
)

// ErrNotFound is wrapped by lookups that find no row.
var ErrNotFound = errors.New("not found")

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`              // e.g., "job.submitted", "asset.conflict", "catalog.published"
	Actor     string    `json:"actor"`               // user or system identifier
	TargetID  *string   `json:"target_id,omitempty"` // job/library/path ID
	Details   *string   `json:"details,omitempty"`   // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// MigrationStatus reports the schema version of a database.
type MigrationStatus struct {
	// Version is the last applied migration. Zero means none.
	Version uint `json:"version"`

	// Dirty is true when a migration failed half way.
	Dirty bool `json:"dirty"`
}

// Store defines the interface for the persistence layer
type Store interface {
	engine.JobStore
	engine.Journal
	engine.FingerprintStore
	assets.RecordStore
	assets.LibraryResolver
	composition.Source

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	MigrateDown(ctx context.Context) error
	MigrationStatus(ctx context.Context) (*MigrationStatus, error)

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Job operations beyond engine.JobStore
	DeleteJob(ctx context.Context, id string) error
	ListJobsByTarget(ctx context.Context, targetPath string, status *engine.JobStatus) ([]*engine.Job, error)

	// Fingerprint operations beyond engine.FingerprintStore
	ListFingerprints(ctx context.Context, targetPath string) ([]*engine.FingerprintRecord, error)

	// Component catalog operations
	SaveComponents(ctx context.Context, components []engine.Component) error
	ListComponents(ctx context.Context) ([]engine.Component, error)

	// Library operations
	SaveLibrary(ctx context.Context, lib *assets.Library) error
	ListLibraries(ctx context.Context) ([]*assets.Library, error)
	ReplaceLibraryAssets(ctx context.Context, libraryID string, libAssets []assets.LibraryAsset) error
	ListLibraryAssets(ctx context.Context, libraryID string) ([]assets.LibraryAsset, error)

	// Content operations
	SaveContent(ctx context.Context, catalog *composition.Catalog) error

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

var _ Store = (*SQLiteStore)(nil)
