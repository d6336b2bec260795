package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sif-factory/sif/pkg/assets"
	"github.com/sif-factory/sif/pkg/composition"
	"github.com/sif-factory/sif/pkg/engine"
)

// settingContentRoot is the catalog_settings key holding the content root.
const settingContentRoot = "content_root"

// GetProjectAsset implements assets.RecordStore.
func (s *SQLiteStore) GetProjectAsset(ctx context.Context, projectPath, path string) (*assets.ProjectAssetRecord, bool, error) {
	query := `
		SELECT project_path, path, library_id, synced_checksum, local_modified, synced_at
		FROM project_assets
		WHERE project_path = ? AND path = ?
	`

	rec := &assets.ProjectAssetRecord{}
	err := s.db.QueryRowContext(ctx, query, projectPath, path).Scan(
		&rec.ProjectPath,
		&rec.Path,
		&rec.LibraryID,
		&rec.SyncedChecksum,
		&rec.LocalModified,
		&rec.SyncedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get project asset: %w", err)
	}
	return rec, true, nil
}

// PutProjectAsset implements assets.RecordStore.
func (s *SQLiteStore) PutProjectAsset(ctx context.Context, rec *assets.ProjectAssetRecord) error {
	query := `
		INSERT INTO project_assets (project_path, path, library_id, synced_checksum, local_modified, synced_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_path, path) DO UPDATE SET
			library_id = excluded.library_id,
			synced_checksum = excluded.synced_checksum,
			local_modified = excluded.local_modified,
			synced_at = excluded.synced_at
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ProjectPath,
		rec.Path,
		rec.LibraryID,
		rec.SyncedChecksum,
		rec.LocalModified,
		rec.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put project asset: %w", err)
	}
	return nil
}

// DeleteProjectAsset implements assets.RecordStore.
func (s *SQLiteStore) DeleteProjectAsset(ctx context.Context, projectPath, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM project_assets WHERE project_path = ? AND path = ?`, projectPath, path)
	if err != nil {
		return fmt.Errorf("failed to delete project asset: %w", err)
	}
	return nil
}

// ListProjectAssets implements assets.RecordStore. An empty libraryID lists
// every record of the project.
func (s *SQLiteStore) ListProjectAssets(ctx context.Context, projectPath, libraryID string) ([]*assets.ProjectAssetRecord, error) {
	query := `
		SELECT project_path, path, library_id, synced_checksum, local_modified, synced_at
		FROM project_assets
		WHERE project_path = ?
		  AND (? = '' OR library_id = ?)
		ORDER BY path
	`

	rows, err := s.db.QueryContext(ctx, query, projectPath, libraryID, libraryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list project assets: %w", err)
	}
	defer rows.Close()

	records := []*assets.ProjectAssetRecord{}
	for rows.Next() {
		rec := &assets.ProjectAssetRecord{}
		err := rows.Scan(
			&rec.ProjectPath,
			&rec.Path,
			&rec.LibraryID,
			&rec.SyncedChecksum,
			&rec.LocalModified,
			&rec.SyncedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project asset: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project assets: %w", err)
	}

	return records, nil
}

// SaveLibrary inserts or updates a reuse library.
func (s *SQLiteStore) SaveLibrary(ctx context.Context, lib *assets.Library) error {
	include, err := encodeList(lib.Include)
	if err != nil {
		return fmt.Errorf("failed to encode library include patterns: %w", err)
	}

	query := `
		INSERT INTO reuse_libraries (id, name, root, version, include, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			root = excluded.root,
			version = excluded.version,
			include = excluded.include,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query, lib.ID, lib.Name, lib.Root, lib.Version, include, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save library: %w", err)
	}
	return nil
}

// Library implements assets.LibraryResolver.
func (s *SQLiteStore) Library(ctx context.Context, id string) (*assets.Library, error) {
	query := `SELECT id, name, root, version, include FROM reuse_libraries WHERE id = ?`

	lib, err := scanLibrary(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", assets.ErrLibraryNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get library: %w", err)
	}
	return lib, nil
}

// ListLibraries lists reuse libraries by ID.
func (s *SQLiteStore) ListLibraries(ctx context.Context) ([]*assets.Library, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, root, version, include FROM reuse_libraries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list libraries: %w", err)
	}
	defer rows.Close()

	libs := []*assets.Library{}
	for rows.Next() {
		lib, err := scanLibrary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan library: %w", err)
		}
		libs = append(libs, lib)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating libraries: %w", err)
	}

	return libs, nil
}

func scanLibrary(row scanner) (*assets.Library, error) {
	lib := &assets.Library{}
	var include string
	if err := row.Scan(&lib.ID, &lib.Name, &lib.Root, &lib.Version, &include); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(include), &lib.Include); err != nil {
		return nil, fmt.Errorf("decoding include patterns of library %s: %w", lib.ID, err)
	}
	if len(lib.Include) == 0 {
		lib.Include = nil
	}
	return lib, nil
}

// ReplaceLibraryAssets replaces the scanned asset index of a library.
func (s *SQLiteStore) ReplaceLibraryAssets(ctx context.Context, libraryID string, libAssets []assets.LibraryAsset) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM library_assets WHERE library_id = ?`, libraryID); err != nil {
			return fmt.Errorf("failed to clear library assets: %w", err)
		}

		for _, a := range libAssets {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO library_assets (library_id, path, checksum, version, size, scanned_at)
				VALUES (?, ?, ?, ?, ?, ?)
			`, libraryID, a.Path, a.Checksum, a.Version, a.Size, a.ScannedAt)
			if err != nil {
				return fmt.Errorf("failed to insert library asset %s: %w", a.Path, err)
			}
		}
		return nil
	})
}

// ListLibraryAssets returns a library's last scanned assets by path.
func (s *SQLiteStore) ListLibraryAssets(ctx context.Context, libraryID string) ([]assets.LibraryAsset, error) {
	query := `
		SELECT library_id, path, checksum, version, size, scanned_at
		FROM library_assets
		WHERE library_id = ?
		ORDER BY path
	`

	rows, err := s.db.QueryContext(ctx, query, libraryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list library assets: %w", err)
	}
	defer rows.Close()

	out := []assets.LibraryAsset{}
	for rows.Next() {
		var a assets.LibraryAsset
		if err := rows.Scan(&a.LibraryID, &a.Path, &a.Checksum, &a.Version, &a.Size, &a.ScannedAt); err != nil {
			return nil, fmt.Errorf("failed to scan library asset: %w", err)
		}
		out = append(out, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating library assets: %w", err)
	}

	return out, nil
}

// SaveComponents replaces the stored component catalog.
func (s *SQLiteStore) SaveComponents(ctx context.Context, components []engine.Component) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM components`); err != nil {
			return fmt.Errorf("failed to clear components: %w", err)
		}

		now := time.Now()
		for _, c := range components {
			config, err := encodeJSON(c.Config)
			if err != nil {
				return fmt.Errorf("failed to encode config of component %s: %w", c.ID, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO components (id, type, description, config, enabled, skip, library_id, composition_id, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, c.ID, c.Type, c.Description, config, c.Enabled, c.Skip, c.Library, c.Composition, now)
			if err != nil {
				return fmt.Errorf("failed to insert component %s: %w", c.ID, err)
			}
		}

		// Dependencies reference components, so they go in once every row exists.
		for _, c := range components {
			for i, dep := range c.Dependencies {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO component_dependencies (component_id, depends_on, position)
					VALUES (?, ?, ?)
				`, c.ID, dep, i)
				if err != nil {
					return fmt.Errorf("failed to insert dependency %s -> %s: %w", c.ID, dep, err)
				}
			}
		}
		return nil
	})
}

// ListComponents returns the stored component catalog by ID.
func (s *SQLiteStore) ListComponents(ctx context.Context) ([]engine.Component, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, description, config, enabled, skip, library_id, composition_id
		FROM components
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list components: %w", err)
	}

	components := []engine.Component{}
	index := make(map[string]int)
	for rows.Next() {
		var c engine.Component
		var config sql.NullString
		if err := rows.Scan(&c.ID, &c.Type, &c.Description, &config, &c.Enabled, &c.Skip, &c.Library, &c.Composition); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan component: %w", err)
		}
		if err := decodeJSON(config, &c.Config); err != nil {
			rows.Close()
			return nil, fmt.Errorf("decoding config of component %s: %w", c.ID, err)
		}
		index[c.ID] = len(components)
		components = append(components, c)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("error iterating components: %w", err)
	}

	deps, err := s.db.QueryContext(ctx, `
		SELECT component_id, depends_on
		FROM component_dependencies
		ORDER BY component_id, position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list component dependencies: %w", err)
	}
	defer deps.Close()

	for deps.Next() {
		var id, dep string
		if err := deps.Scan(&id, &dep); err != nil {
			return nil, fmt.Errorf("failed to scan component dependency: %w", err)
		}
		if i, ok := index[id]; ok {
			components[i].Dependencies = append(components[i].Dependencies, dep)
		}
	}

	if err := deps.Err(); err != nil {
		return nil, fmt.Errorf("error iterating component dependencies: %w", err)
	}

	return components, nil
}

// SaveContent replaces the stored segments, compositions and catalog entries.
func (s *SQLiteStore) SaveContent(ctx context.Context, catalog *composition.Catalog) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"composition_items", "segment_compositions", "prompt_segments", "catalog_entries", "catalog_settings"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		for _, id := range sortedIDs(catalog.Segments) {
			seg := catalog.Segments[id]
			tags, err := encodeList(seg.Tags)
			if err != nil {
				return fmt.Errorf("failed to encode tags of segment %s: %w", seg.ID, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO prompt_segments (id, name, description, content, variant, section, category, version, tags, required, condition)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, seg.ID, seg.Name, seg.Description, seg.Content, seg.Variant, seg.Section, seg.Category, seg.Version, tags, seg.Required, seg.Condition)
			if err != nil {
				return fmt.Errorf("failed to insert segment %s: %w", seg.ID, err)
			}
		}

		for _, id := range sortedIDs(catalog.Compositions) {
			comp := catalog.Compositions[id]
			_, err := tx.ExecContext(ctx, `
				INSERT INTO segment_compositions (id, name, description, variant, target_file)
				VALUES (?, ?, ?, ?, ?)
			`, comp.ID, comp.Name, comp.Description, comp.Variant, comp.TargetFile)
			if err != nil {
				return fmt.Errorf("failed to insert composition %s: %w", comp.ID, err)
			}
			for _, item := range comp.Items {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO composition_items (composition_id, segment_id, position, enabled, override)
					VALUES (?, ?, ?, ?, ?)
				`, comp.ID, item.SegmentID, item.Position, item.Enabled, item.Override)
				if err != nil {
					return fmt.Errorf("failed to insert item %s of composition %s: %w", item.SegmentID, comp.ID, err)
				}
			}
		}

		for _, entry := range catalog.Entries {
			deps, err := encodeList(entry.Dependencies)
			if err != nil {
				return fmt.Errorf("failed to encode dependencies of %s: %w", entry.Path, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO catalog_entries (path, required, dependencies, checksum)
				VALUES (?, ?, ?, ?)
			`, entry.Path, entry.Required, deps, entry.Checksum)
			if err != nil {
				return fmt.Errorf("failed to insert catalog entry %s: %w", entry.Path, err)
			}
		}

		if catalog.ContentRoot != "" {
			_, err := tx.ExecContext(ctx, `INSERT INTO catalog_settings (key, value) VALUES (?, ?)`, settingContentRoot, catalog.ContentRoot)
			if err != nil {
				return fmt.Errorf("failed to save content root: %w", err)
			}
		}
		return nil
	})
}

// LoadCatalog implements composition.Source over the stored content.
func (s *SQLiteStore) LoadCatalog(ctx context.Context) (*composition.Catalog, error) {
	catalog := composition.NewCatalog()

	if err := s.loadSegments(ctx, catalog); err != nil {
		return nil, err
	}
	if err := s.loadCompositions(ctx, catalog); err != nil {
		return nil, err
	}
	if err := s.loadEntries(ctx, catalog); err != nil {
		return nil, err
	}

	err := s.db.QueryRowContext(ctx, `SELECT value FROM catalog_settings WHERE key = ?`, settingContentRoot).Scan(&catalog.ContentRoot)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load content root: %w", err)
	}

	return catalog, nil
}

func (s *SQLiteStore) loadSegments(ctx context.Context, catalog *composition.Catalog) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, content, variant, section, category, version, tags, required, condition
		FROM prompt_segments
	`)
	if err != nil {
		return fmt.Errorf("failed to load segments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		seg := &composition.Segment{}
		var tags string
		err := rows.Scan(&seg.ID, &seg.Name, &seg.Description, &seg.Content, &seg.Variant,
			&seg.Section, &seg.Category, &seg.Version, &tags, &seg.Required, &seg.Condition)
		if err != nil {
			return fmt.Errorf("failed to scan segment: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &seg.Tags); err != nil {
			return fmt.Errorf("decoding tags of segment %s: %w", seg.ID, err)
		}
		if len(seg.Tags) == 0 {
			seg.Tags = nil
		}
		catalog.AddSegment(seg)
	}
	return rows.Err()
}

func (s *SQLiteStore) loadCompositions(ctx context.Context, catalog *composition.Catalog) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, variant, target_file FROM segment_compositions`)
	if err != nil {
		return fmt.Errorf("failed to load compositions: %w", err)
	}
	for rows.Next() {
		comp := &composition.Composition{}
		if err := rows.Scan(&comp.ID, &comp.Name, &comp.Description, &comp.Variant, &comp.TargetFile); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan composition: %w", err)
		}
		catalog.AddComposition(comp)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return fmt.Errorf("error iterating compositions: %w", err)
	}

	items, err := s.db.QueryContext(ctx, `
		SELECT composition_id, segment_id, position, enabled, override
		FROM composition_items
		ORDER BY composition_id, position
	`)
	if err != nil {
		return fmt.Errorf("failed to load composition items: %w", err)
	}
	defer items.Close()

	for items.Next() {
		var compID string
		var item composition.Item
		if err := items.Scan(&compID, &item.SegmentID, &item.Position, &item.Enabled, &item.Override); err != nil {
			return fmt.Errorf("failed to scan composition item: %w", err)
		}
		if comp, ok := catalog.Compositions[compID]; ok {
			comp.Items = append(comp.Items, item)
		}
	}
	return items.Err()
}

func (s *SQLiteStore) loadEntries(ctx context.Context, catalog *composition.Catalog) error {
	rows, err := s.db.QueryContext(ctx, `SELECT path, required, dependencies, checksum FROM catalog_entries ORDER BY path`)
	if err != nil {
		return fmt.Errorf("failed to load catalog entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry composition.CatalogEntry
		var deps string
		if err := rows.Scan(&entry.Path, &entry.Required, &deps, &entry.Checksum); err != nil {
			return fmt.Errorf("failed to scan catalog entry: %w", err)
		}
		if err := json.Unmarshal([]byte(deps), &entry.Dependencies); err != nil {
			return fmt.Errorf("decoding dependencies of %s: %w", entry.Path, err)
		}
		if len(entry.Dependencies) == 0 {
			entry.Dependencies = nil
		}
		catalog.Entries = append(catalog.Entries, entry)
	}
	return rows.Err()
}

func sortedIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
