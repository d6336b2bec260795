package assets

import (
	"context"
	"sort"
	"sync"
)

// MemoryRecordStore is an in-process RecordStore.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]map[string]*ProjectAssetRecord
}

// NewMemoryRecordStore creates an empty record store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]map[string]*ProjectAssetRecord)}
}

// GetProjectAsset implements RecordStore.
func (m *MemoryRecordStore) GetProjectAsset(_ context.Context, projectPath, path string) (*ProjectAssetRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[projectPath][path]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

// PutProjectAsset implements RecordStore.
func (m *MemoryRecordStore) PutProjectAsset(_ context.Context, rec *ProjectAssetRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	project := m.records[rec.ProjectPath]
	if project == nil {
		project = make(map[string]*ProjectAssetRecord)
		m.records[rec.ProjectPath] = project
	}
	cp := *rec
	project[rec.Path] = &cp
	return nil
}

// DeleteProjectAsset implements RecordStore.
func (m *MemoryRecordStore) DeleteProjectAsset(_ context.Context, projectPath, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records[projectPath], path)
	return nil
}

// ListProjectAssets implements RecordStore.
func (m *MemoryRecordStore) ListProjectAssets(_ context.Context, projectPath, libraryID string) ([]*ProjectAssetRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ProjectAssetRecord
	for _, rec := range m.records[projectPath] {
		if libraryID != "" && rec.LibraryID != libraryID {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
