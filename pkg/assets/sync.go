package assets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sif-factory/sif/pkg/engine"
)

// SyncOptions configures a Sync call.
type SyncOptions struct {
	// DryRun reports decisions without writing files or records.
	DryRun bool

	// Snapshot, when set, captures every file and record before it changes.
	Snapshot *Snapshot

	// FailOnConflict makes Sync return a conflict error after processing all
	// assets if any asset conflicted.
	FailOnConflict bool
}

// Synchronizer copies library assets into projects following the checksum
// decision table:
//
//	library  project   action
//	same     same      no-op
//	same     changed   no-op, local-modified
//	changed  same      overwrite, record updated
//	changed  changed   conflict, project untouched
//	absent   -         copy, record created
type Synchronizer struct {
	libraries LibraryResolver
	records   RecordStore
	logger    zerolog.Logger
	observe   func(libraryID string, res SyncResult)
	scanned   func(ctx context.Context, libraryID string, assets []LibraryAsset)

	// mu serializes record writes across concurrent Sync calls
	mu sync.Mutex
}

// NewSynchronizer creates a synchronizer.
func NewSynchronizer(libraries LibraryResolver, records RecordStore, logger zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		libraries: libraries,
		records:   records,
		logger:    logger,
	}
}

// OnResult registers a callback invoked for every asset decision.
func (s *Synchronizer) OnResult(fn func(libraryID string, res SyncResult)) {
	s.observe = fn
}

// OnScan registers a callback invoked with every library scan Sync performs.
func (s *Synchronizer) OnScan(fn func(ctx context.Context, libraryID string, assets []LibraryAsset)) {
	s.scanned = fn
}

// Records returns the synchronizer's record store.
func (s *Synchronizer) Records() RecordStore {
	return s.records
}

// Sync synchronizes every asset of a library into targetPath. It returns one
// result per asset, sorted by path. Conflicts are reported, not resolved.
func (s *Synchronizer) Sync(ctx context.Context, libraryID, targetPath string, opts SyncOptions) ([]SyncResult, error) {
	lib, err := s.libraries.Library(ctx, libraryID)
	if err != nil {
		return nil, err
	}

	projectRoot, err := filepath.Abs(targetPath)
	if err != nil {
		return nil, fmt.Errorf("resolving project path: %w", err)
	}
	if info, err := os.Stat(projectRoot); err != nil || !info.IsDir() {
		return nil, engine.NewPermanentError(fmt.Sprintf("target %s is not a directory", projectRoot), err).
			WithCode(engine.ErrCodeValidation)
	}

	assets, err := ScanLibrary(ctx, lib)
	if err != nil {
		return nil, err
	}
	if s.scanned != nil {
		s.scanned(ctx, libraryID, assets)
	}

	paths := make([]string, len(assets))
	for i, a := range assets {
		paths[i] = a.Path
	}
	projectSums, err := projectChecksums(ctx, projectRoot, paths)
	if err != nil {
		return nil, fmt.Errorf("checksumming project files: %w", err)
	}

	log := s.logger.With().Str("library", libraryID).Str("target", projectRoot).Logger()

	results := make([]SyncResult, 0, len(assets))
	conflicts := 0
	for _, asset := range assets {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res, err := s.syncAsset(ctx, lib, projectRoot, asset, projectSums, opts)
		if err != nil {
			return results, fmt.Errorf("syncing %s: %w", asset.Path, err)
		}
		if res.Action == ActionConflict {
			conflicts++
			log.Warn().Str("path", res.Path).Msg("Library and project both changed, leaving file untouched")
		} else {
			log.Debug().Str("path", res.Path).Str("action", string(res.Action)).Bool("local_modified", res.LocalModified).Msg("Asset synced")
		}
		if s.observe != nil {
			s.observe(libraryID, res)
		}
		results = append(results, res)
	}

	if conflicts > 0 && opts.FailOnConflict {
		return results, engine.NewConflictError(
			fmt.Sprintf("%d asset(s) changed in both library %s and project", conflicts, libraryID), nil,
		).WithCode(engine.ErrCodeSyncConflict).WithResource(libraryID).WithDetail("conflicts", conflictPaths(results))
	}
	return results, nil
}

func (s *Synchronizer) syncAsset(ctx context.Context, lib *Library, root string, asset LibraryAsset, projectSums map[string]string, opts SyncOptions) (SyncResult, error) {
	res := SyncResult{Path: asset.Path, LibraryChecksum: asset.Checksum}

	projectSum, exists := projectSums[asset.Path]
	res.ProjectChecksum = projectSum

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, found, err := s.records.GetProjectAsset(ctx, root, asset.Path)
	if err != nil {
		return res, err
	}

	if !found {
		switch {
		case !exists:
			res.Action = ActionCreated
			return res, s.apply(ctx, lib, root, asset, nil, true, opts)
		case projectSum == asset.Checksum:
			// Already in place; only the record is created.
			res.Action = ActionNoop
			return res, s.apply(ctx, lib, root, asset, nil, false, opts)
		default:
			res.Action = ActionConflict
			return res, nil
		}
	}

	res.RecordChecksum = rec.SyncedChecksum
	libraryChanged := asset.Checksum != rec.SyncedChecksum
	localChanged := !exists || projectSum != rec.SyncedChecksum
	res.Deleted = !exists

	switch {
	case !libraryChanged && !localChanged:
		res.Action = ActionNoop
		if rec.LocalModified && !opts.DryRun {
			// The local edit was reverted.
			updated := *rec
			updated.LocalModified = false
			return res, s.putRecord(ctx, root, &updated, rec, opts)
		}
	case !libraryChanged && localChanged:
		res.Action = ActionNoop
		res.LocalModified = true
		if !rec.LocalModified && !opts.DryRun {
			updated := *rec
			updated.LocalModified = true
			return res, s.putRecord(ctx, root, &updated, rec, opts)
		}
	case libraryChanged && !localChanged:
		res.Action = ActionOverwritten
		return res, s.apply(ctx, lib, root, asset, rec, true, opts)
	case exists && projectSum == asset.Checksum:
		// Both sides changed to the same content: nothing to write, the
		// record moves to the new checksum.
		res.Action = ActionNoop
		return res, s.apply(ctx, lib, root, asset, rec, false, opts)
	default:
		res.Action = ActionConflict
		res.LocalModified = true
	}
	return res, nil
}

// apply optionally copies the asset into the project and records the synced checksum.
func (s *Synchronizer) apply(ctx context.Context, lib *Library, root string, asset LibraryAsset, prior *ProjectAssetRecord, write bool, opts SyncOptions) error {
	if opts.DryRun {
		return nil
	}
	if opts.Snapshot != nil {
		if err := opts.Snapshot.Capture(root, asset.Path, prior); err != nil {
			return err
		}
	}

	if write {
		src := filepath.Join(lib.Root, filepath.FromSlash(asset.Path))
		data, err := os.ReadFile(src)
		if err != nil {
			return fmt.Errorf("reading library file: %w", err)
		}
		// The library may have changed since it was scanned.
		if Checksum(data) != asset.Checksum {
			return engine.NewTransientError("library file changed during sync", nil).
				WithCode(engine.ErrCodeChecksumMismatch).WithResource(asset.Path)
		}
		mode := os.FileMode(0o644)
		if info, err := os.Stat(src); err == nil {
			mode = info.Mode().Perm()
		}
		if err := WriteFile(root, asset.Path, data, mode); err != nil {
			return err
		}
	}

	return s.records.PutProjectAsset(ctx, &ProjectAssetRecord{
		ProjectPath:    root,
		Path:           asset.Path,
		LibraryID:      lib.ID,
		SyncedChecksum: asset.Checksum,
		SyncedAt:       time.Now().UTC(),
	})
}

func (s *Synchronizer) putRecord(ctx context.Context, root string, rec, prior *ProjectAssetRecord, opts SyncOptions) error {
	if opts.Snapshot != nil {
		if err := opts.Snapshot.Capture(root, rec.Path, prior); err != nil {
			return err
		}
	}
	return s.records.PutProjectAsset(ctx, rec)
}

// Status reports the decision Sync would make for every asset without writing anything.
func (s *Synchronizer) Status(ctx context.Context, libraryID, targetPath string) ([]SyncResult, error) {
	return s.Sync(ctx, libraryID, targetPath, SyncOptions{DryRun: true})
}

// Summarize counts results by action.
func Summarize(results []SyncResult) map[SyncAction]int {
	counts := make(map[SyncAction]int)
	for _, r := range results {
		counts[r.Action]++
	}
	return counts
}

func conflictPaths(results []SyncResult) []string {
	var paths []string
	for _, r := range results {
		if r.Action == ActionConflict {
			paths = append(paths, r.Path)
		}
	}
	return paths
}
