package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sif-factory/sif/pkg/engine"
	"github.com/sif-factory/sif/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            ":memory:", // Use in-memory database for example
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	// Initialize the database connection
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_Append demonstrates journaling a step transition.
func ExampleSQLiteStore_Append() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	job := &engine.Job{
		ID:         "job-001",
		TargetPath: "/projects/demo",
		Status:     engine.JobStatusRunning,
		Policy:     engine.FailurePolicyAbort,
		CreatedAt:  time.Now(),
		Steps: []*engine.Step{{
			ID:          "job-001:core:install",
			ComponentID: "core",
			Kind:        engine.StepKindInstall,
			Forward:     engine.ActionDescriptor{Type: "noop"},
			Status:      engine.StepStatusPending,
		}},
	}
	if err := store.CreateJob(ctx, job); err != nil {
		log.Fatal(err)
	}

	entry := &engine.JournalEntry{
		JobID:  job.ID,
		StepID: job.Steps[0].ID,
		From:   engine.StepStatusPending,
		To:     engine.StepStatusRunning,
	}
	if err := store.Append(ctx, entry); err != nil {
		log.Fatal(err)
	}

	stored, err := store.GetJob(ctx, job.ID)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Sequence: %d, Step status: %s\n", entry.Sequence, stored.Steps[0].Status)
	// Output: Sequence: 1, Step status: running
}

// ExampleSQLiteStore_PutFingerprint demonstrates recording a step result.
func ExampleSQLiteStore_PutFingerprint() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	err := store.PutFingerprint(ctx, &engine.FingerprintRecord{
		Fingerprint: "3f2a",
		StepKind:    engine.StepKindInstall,
		ComponentID: "core",
		TargetPath:  "/projects/demo",
		Result:      map[string]interface{}{"mode": "install"},
	})
	if err != nil {
		log.Fatal(err)
	}

	rec, found, err := store.GetFingerprint(ctx, "3f2a")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Found: %v, Component: %s, Mode: %s\n", found, rec.ComponentID, rec.Result["mode"])
	// Output: Found: true, Component: core, Mode: install
}
