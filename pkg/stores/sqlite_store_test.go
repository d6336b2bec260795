package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sif-factory/sif/pkg/assets"
	"github.com/sif-factory/sif/pkg/composition"
	"github.com/sif-factory/sif/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

// testJob builds a two-step job: install a, then sync a.
func testJob(id string) *engine.Job {
	return &engine.Job{
		ID:         id,
		TargetPath: "/projects/demo",
		Components: []string{"a"},
		Config:     map[string]interface{}{"user_name": "Ada"},
		Policy:     engine.FailurePolicyAbort,
		Status:     engine.JobStatusPending,
		CreatedAt:  time.Now(),
		Steps: []*engine.Step{
			{
				ID:          id + ":a:install",
				ComponentID: "a",
				Kind:        engine.StepKindInstall,
				Sequence:    0,
				Forward:     engine.ActionDescriptor{Type: "command", Reference: "echo hi"},
				Compensate:  engine.ActionDescriptor{Type: "command"},
				Config:      map[string]interface{}{"command": "echo hi"},
				Status:      engine.StepStatusPending,
			},
			{
				ID:           id + ":a:sync",
				ComponentID:  "a",
				Kind:         engine.StepKindSync,
				Sequence:     1,
				Dependencies: []string{id + ":a:install"},
				Forward:      engine.ActionDescriptor{Type: "sync", Reference: "lib"},
				Compensate:   engine.ActionDescriptor{Type: "sync", Reference: "lib"},
				Status:       engine.StepStatusPending,
			},
		},
	}
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{
		"components", "component_dependencies", "provisioning_jobs", "provisioning_steps",
		"journal", "fingerprints", "reuse_libraries", "library_assets", "project_assets",
		"prompt_segments", "segment_compositions", "composition_items", "catalog_entries", "audit",
	}
	for _, table := range tables {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	status, err := store.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("failed to read migration status: %v", err)
	}
	if status.Version != 1 || status.Dirty {
		t.Errorf("expected clean version 1, got %+v", status)
	}

	// Running again is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}

	if err := store.MigrateDown(ctx); err != nil {
		t.Fatalf("failed to migrate down: %v", err)
	}
	status, err = store.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("failed to read migration status: %v", err)
	}
	if status.Version != 0 {
		t.Errorf("expected version 0 after down, got %d", status.Version)
	}
	var count int
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM provisioning_jobs").Scan(&count); err == nil {
		t.Error("expected provisioning_jobs to be dropped")
	}
}

func TestJobCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	job := testJob("job-1")
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	retrieved, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	if retrieved.TargetPath != job.TargetPath {
		t.Errorf("expected target %s, got %s", job.TargetPath, retrieved.TargetPath)
	}
	if retrieved.Config["user_name"] != "Ada" {
		t.Errorf("expected config to round-trip, got %v", retrieved.Config)
	}
	if len(retrieved.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(retrieved.Steps))
	}
	sync := retrieved.Steps[1]
	if sync.Kind != engine.StepKindSync || sync.Forward.Reference != "lib" {
		t.Errorf("unexpected sync step: %+v", sync)
	}
	if len(sync.Dependencies) != 1 || sync.Dependencies[0] != job.Steps[0].ID {
		t.Errorf("expected dependency on install step, got %v", sync.Dependencies)
	}
	if retrieved.Compensation != nil {
		t.Errorf("expected no compensation report, got %+v", retrieved.Compensation)
	}

	// Update
	now := time.Now()
	job.Status = engine.JobStatusFailed
	job.Error = "step failed"
	job.StartedAt = &now
	job.CompletedAt = &now
	job.Compensation = &engine.CompensationReport{Trigger: job.Steps[1].ID, Compensated: []string{job.Steps[0].ID}}
	job.Steps[0].Status = engine.StepStatusCompensated
	job.Steps[0].Fingerprint = "fp-1"
	job.Steps[1].Status = engine.StepStatusFailed
	job.Steps[1].Error = "boom"
	if err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("failed to update job: %v", err)
	}

	updated, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("failed to get updated job: %v", err)
	}
	if updated.Status != engine.JobStatusFailed || updated.Error != "step failed" {
		t.Errorf("unexpected job status %s (%q)", updated.Status, updated.Error)
	}
	if updated.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if updated.Compensation == nil || len(updated.Compensation.Compensated) != 1 {
		t.Errorf("expected compensation report, got %+v", updated.Compensation)
	}
	if updated.Steps[0].Fingerprint != "fp-1" || updated.Steps[1].Error != "boom" {
		t.Errorf("expected step state to be persisted, got %+v / %+v", updated.Steps[0], updated.Steps[1])
	}

	// List
	if err := store.CreateJob(ctx, testJob("job-2")); err != nil {
		t.Fatalf("failed to create second job: %v", err)
	}
	jobs, err := store.ListJobs(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("expected 2 jobs, got %d", len(jobs))
	}

	failed := engine.JobStatusFailed
	byTarget, err := store.ListJobsByTarget(ctx, "/projects/demo", &failed)
	if err != nil {
		t.Fatalf("failed to list jobs by target: %v", err)
	}
	if len(byTarget) != 1 || byTarget[0].ID != "job-1" {
		t.Errorf("expected only job-1, got %d jobs", len(byTarget))
	}

	// Delete
	if err := store.DeleteJob(ctx, job.ID); err != nil {
		t.Fatalf("failed to delete job: %v", err)
	}
	if _, err := store.GetJob(ctx, job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.DeleteJob(ctx, job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestUpdateMissingJob(t *testing.T) {
	store := setupTestStore(t)

	err := store.UpdateJob(context.Background(), testJob("ghost"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestJournalAppendUpdatesStep(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	job := testJob("job-j")
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}
	install := job.Steps[0].ID

	entries := []*engine.JournalEntry{
		{JobID: job.ID, StepID: install, From: engine.StepStatusPending, To: engine.StepStatusRunning},
		{JobID: job.ID, StepID: install, From: engine.StepStatusRunning, To: engine.StepStatusSucceeded,
			Output: map[string]interface{}{"exit_code": 0}},
		{JobID: job.ID, StepID: install, From: engine.StepStatusSucceeded, To: engine.StepStatusCompensating},
	}
	for i, e := range entries {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("failed to append entry %d: %v", i, err)
		}
		if e.Sequence == 0 {
			t.Errorf("entry %d: expected sequence to be assigned", i)
		}
		if i > 0 && e.Sequence <= entries[i-1].Sequence {
			t.Errorf("entry %d: sequence %d not increasing", i, e.Sequence)
		}
	}

	read, err := store.Entries(ctx, job.ID)
	if err != nil {
		t.Fatalf("failed to read entries: %v", err)
	}
	if len(read) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(read))
	}
	if read[1].To != engine.StepStatusSucceeded || read[1].Output["exit_code"] != float64(0) {
		t.Errorf("unexpected second entry: %+v", read[1])
	}

	stored, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	step := stored.Steps[0]
	if step.Status != engine.StepStatusCompensating {
		t.Errorf("expected step row to follow the journal, got %s", step.Status)
	}
	if step.StartedAt == nil || step.CompletedAt == nil {
		t.Error("expected step timestamps to be set")
	}
	if step.Output["exit_code"] != float64(0) {
		t.Errorf("expected output to be persisted, got %v", step.Output)
	}

	// Replaying the stored journal matches the stored step rows.
	states := engine.Replay(read)
	if states[install].Status != step.Status {
		t.Errorf("replay gives %s, row has %s", states[install].Status, step.Status)
	}
}

func TestJournalAppendUnknownStep(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	job := testJob("job-u")
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	err := store.Append(ctx, &engine.JournalEntry{JobID: job.ID, StepID: "nope", From: engine.StepStatusPending, To: engine.StepStatusRunning})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// The failed append left nothing behind.
	entries, err := store.Entries(ctx, job.ID)
	if err != nil {
		t.Fatalf("failed to read entries: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestFingerprints(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, found, err := store.GetFingerprint(ctx, "fp"); err != nil || found {
		t.Fatalf("expected absent fingerprint, got found=%v err=%v", found, err)
	}

	rec := &engine.FingerprintRecord{
		Fingerprint: "fp",
		StepKind:    engine.StepKindInstall,
		ComponentID: "a",
		TargetPath:  "/projects/demo",
		Result:      map[string]interface{}{"mode": "install"},
	}
	if err := store.PutFingerprint(ctx, rec); err != nil {
		t.Fatalf("failed to put fingerprint: %v", err)
	}

	got, found, err := store.GetFingerprint(ctx, "fp")
	if err != nil || !found {
		t.Fatalf("expected fingerprint, got found=%v err=%v", found, err)
	}
	if got.Result["mode"] != "install" || got.LastRunAt.IsZero() {
		t.Errorf("unexpected record: %+v", got)
	}

	// Put replaces.
	rec.Result = map[string]interface{}{"mode": "update"}
	if err := store.PutFingerprint(ctx, rec); err != nil {
		t.Fatalf("failed to replace fingerprint: %v", err)
	}
	list, err := store.ListFingerprints(ctx, "/projects/demo")
	if err != nil {
		t.Fatalf("failed to list fingerprints: %v", err)
	}
	if len(list) != 1 || list[0].Result["mode"] != "update" {
		t.Errorf("expected one replaced record, got %+v", list)
	}

	if err := store.DeleteFingerprint(ctx, "fp"); err != nil {
		t.Fatalf("failed to delete fingerprint: %v", err)
	}
	if err := store.DeleteFingerprint(ctx, "fp"); err != nil {
		t.Errorf("deleting an absent fingerprint should succeed: %v", err)
	}
	if _, found, _ := store.GetFingerprint(ctx, "fp"); found {
		t.Error("expected fingerprint to be gone")
	}
}

func TestExecutorWithSQLiteStore(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	job := testJob("job-e")
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	noop := engine.ActionProviderFunc(func(*engine.Step) (engine.Action, error) { return noopAction{}, nil })
	exec := engine.NewExecutor(engine.ExecutorConfig{MaxParallel: 2}, noop, store, store)
	if err := exec.Run(ctx, job); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("failed to update job: %v", err)
	}

	stored, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	if stored.Status != engine.JobStatusSucceeded {
		t.Errorf("expected succeeded, got %s", stored.Status)
	}
	for _, s := range stored.Steps {
		if s.Status != engine.StepStatusSucceeded {
			t.Errorf("step %s: expected succeeded, got %s", s.ID, s.Status)
		}
	}

	// A second job with the same plan reuses every fingerprint.
	again := testJob("job-f")
	if err := store.CreateJob(ctx, again); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}
	if err := exec.Run(ctx, again); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if summary := again.Summary(); summary.Reused != 2 {
		t.Errorf("expected 2 reused steps, got %+v", summary)
	}
}

type noopAction struct{}

func (noopAction) Execute(context.Context, *engine.StepContext) (*engine.Result, error) {
	return &engine.Result{Message: "ok"}, nil
}

func (noopAction) Compensate(context.Context, *engine.StepContext) (*engine.Result, error) {
	return &engine.Result{}, nil
}

func TestProjectAssets(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	recs := []*assets.ProjectAssetRecord{
		{ProjectPath: "/p", Path: "b.md", LibraryID: "lib1", SyncedChecksum: "b1", SyncedAt: time.Now()},
		{ProjectPath: "/p", Path: "a.md", LibraryID: "lib1", SyncedChecksum: "a1", SyncedAt: time.Now()},
		{ProjectPath: "/p", Path: "c.md", LibraryID: "lib2", SyncedChecksum: "c1", SyncedAt: time.Now()},
	}
	for _, r := range recs {
		if err := store.PutProjectAsset(ctx, r); err != nil {
			t.Fatalf("failed to put record: %v", err)
		}
	}

	recs[1].LocalModified = true
	if err := store.PutProjectAsset(ctx, recs[1]); err != nil {
		t.Fatalf("failed to update record: %v", err)
	}

	got, found, err := store.GetProjectAsset(ctx, "/p", "a.md")
	if err != nil || !found {
		t.Fatalf("expected record, got found=%v err=%v", found, err)
	}
	if !got.LocalModified {
		t.Error("expected local_modified to be updated")
	}

	lib1, err := store.ListProjectAssets(ctx, "/p", "lib1")
	if err != nil {
		t.Fatalf("failed to list records: %v", err)
	}
	if len(lib1) != 2 || lib1[0].Path != "a.md" {
		t.Errorf("expected a.md and b.md sorted, got %d records", len(lib1))
	}
	all, err := store.ListProjectAssets(ctx, "/p", "")
	if err != nil {
		t.Fatalf("failed to list records: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 records, got %d", len(all))
	}

	if err := store.DeleteProjectAsset(ctx, "/p", "a.md"); err != nil {
		t.Fatalf("failed to delete record: %v", err)
	}
	if _, found, _ := store.GetProjectAsset(ctx, "/p", "a.md"); found {
		t.Error("expected record to be gone")
	}
}

func TestLibraries(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	lib := &assets.Library{ID: "agents", Name: "Agents", Root: "/libs/agents", Version: "1.2.0", Include: []string{"**/*.md"}}
	if err := store.SaveLibrary(ctx, lib); err != nil {
		t.Fatalf("failed to save library: %v", err)
	}

	got, err := store.Library(ctx, "agents")
	if err != nil {
		t.Fatalf("failed to get library: %v", err)
	}
	if got.Root != lib.Root || len(got.Include) != 1 {
		t.Errorf("unexpected library: %+v", got)
	}
	if _, err := store.Library(ctx, "missing"); !errors.Is(err, assets.ErrLibraryNotFound) {
		t.Errorf("expected ErrLibraryNotFound, got %v", err)
	}

	scanned := []assets.LibraryAsset{
		{LibraryID: "agents", Path: "dev.md", Checksum: "x", Size: 3, ScannedAt: time.Now()},
		{LibraryID: "agents", Path: "arch.md", Checksum: "y", Size: 4, ScannedAt: time.Now()},
	}
	if err := store.ReplaceLibraryAssets(ctx, "agents", scanned); err != nil {
		t.Fatalf("failed to replace assets: %v", err)
	}
	if err := store.ReplaceLibraryAssets(ctx, "agents", scanned[:1]); err != nil {
		t.Fatalf("failed to replace assets again: %v", err)
	}
	listed, err := store.ListLibraryAssets(ctx, "agents")
	if err != nil {
		t.Fatalf("failed to list assets: %v", err)
	}
	if len(listed) != 1 || listed[0].Path != "dev.md" {
		t.Errorf("expected only dev.md, got %+v", listed)
	}

	libs, err := store.ListLibraries(ctx)
	if err != nil {
		t.Fatalf("failed to list libraries: %v", err)
	}
	if len(libs) != 1 {
		t.Errorf("expected 1 library, got %d", len(libs))
	}
}

func TestComponents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	components := []engine.Component{
		{ID: "base", Type: "noop", Enabled: true},
		{ID: "docs", Type: "file", Enabled: true, Dependencies: []string{"base"}, Library: "templates",
			Config: map[string]interface{}{"path": "README.md"}},
		{ID: "extra", Type: "noop", Enabled: false, Skip: true, Dependencies: []string{"docs", "base"}},
	}
	if err := store.SaveComponents(ctx, components); err != nil {
		t.Fatalf("failed to save components: %v", err)
	}

	got, err := store.ListComponents(ctx)
	if err != nil {
		t.Fatalf("failed to list components: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 components, got %d", len(got))
	}
	extra := got[2]
	if extra.ID != "extra" || extra.Enabled || !extra.Skip {
		t.Errorf("unexpected component: %+v", extra)
	}
	if len(extra.Dependencies) != 2 || extra.Dependencies[0] != "docs" {
		t.Errorf("expected dependency order to be kept, got %v", extra.Dependencies)
	}
	if got[1].Config["path"] != "README.md" {
		t.Errorf("expected config to round-trip, got %v", got[1].Config)
	}

	order, err := engine.Resolve(got)
	if err != nil {
		t.Fatalf("stored catalog does not resolve: %v", err)
	}
	if order[0] != "base" {
		t.Errorf("expected base first, got %v", order)
	}

	// Saving replaces the catalog.
	if err := store.SaveComponents(ctx, components[:1]); err != nil {
		t.Fatalf("failed to replace components: %v", err)
	}
	got, err = store.ListComponents(ctx)
	if err != nil {
		t.Fatalf("failed to list components: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 component after replace, got %d", len(got))
	}

	// A dependency on an unknown component violates the foreign key.
	bad := []engine.Component{{ID: "x", Type: "noop", Enabled: true, Dependencies: []string{"ghost"}}}
	if err := store.SaveComponents(ctx, bad); err == nil {
		t.Error("expected foreign key violation")
	}
}

func TestContentRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	catalog := composition.NewCatalog()
	catalog.AddSegment(&composition.Segment{ID: "header", Name: "Header", Content: "# Project", Tags: []string{"core"}})
	catalog.AddSegment(&composition.Segment{ID: "rules", Content: "Rules", Required: true, Condition: "tier == 'x'"})
	catalog.AddComposition(&composition.Composition{
		ID:         "claude-md",
		Variant:    "default",
		TargetFile: "CLAUDE.md",
		Items: []composition.Item{
			{SegmentID: "rules", Position: 2, Enabled: true, Override: "Project rules"},
			{SegmentID: "header", Position: 1, Enabled: true},
		},
	})
	catalog.Entries = []composition.CatalogEntry{
		{Path: "header"},
		{Path: "rules", Dependencies: []string{"header"}, Required: true},
	}
	catalog.ContentRoot = "/content"

	if err := store.SaveContent(ctx, catalog); err != nil {
		t.Fatalf("failed to save content: %v", err)
	}

	loaded, err := store.LoadCatalog(ctx)
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}
	if len(loaded.Segments) != 2 || !loaded.Segments["rules"].Required {
		t.Errorf("unexpected segments: %+v", loaded.Segments)
	}
	comp, err := loaded.Composition("claude-md")
	if err != nil {
		t.Fatalf("composition missing: %v", err)
	}
	if len(comp.Items) != 2 || comp.Items[0].SegmentID != "header" || comp.Items[1].Override != "Project rules" {
		t.Errorf("unexpected items: %+v", comp.Items)
	}
	if len(loaded.Entries) != 2 || loaded.ContentRoot != "/content" {
		t.Errorf("unexpected entries or root: %+v %q", loaded.Entries, loaded.ContentRoot)
	}

	if err := composition.ValidateComposition(comp, loaded.Segments); err != nil {
		t.Errorf("loaded composition should validate: %v", err)
	}

	// Positions are unique per composition.
	comp.Items[1].Position = 1
	if err := store.SaveContent(ctx, loaded); err == nil {
		t.Error("expected duplicate position to be rejected")
	}
}

func TestAuditEntries(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	target := "job-1"
	entries := []*AuditEntry{
		{Action: "job.submitted", Actor: "cli", TargetID: &target},
		{Action: "job.completed", Actor: "orchestrator", TargetID: &target},
		{Action: "job.submitted", Actor: "cli"},
	}
	for _, e := range entries {
		if err := store.CreateAuditEntry(ctx, e); err != nil {
			t.Fatalf("failed to create audit entry: %v", err)
		}
		if e.ID == 0 {
			t.Error("expected ID to be assigned")
		}
	}

	action := "job.submitted"
	submitted, err := store.ListAuditEntries(ctx, &action, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(submitted) != 2 {
		t.Errorf("expected 2 submitted entries, got %d", len(submitted))
	}

	all, err := store.ListAuditEntries(ctx, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 entries, got %d", len(all))
	}
}
