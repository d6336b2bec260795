package engine

import (
	"context"
	"testing"
	"time"
)

func TestReplay(t *testing.T) {
	now := time.Now()
	entries := []*JournalEntry{
		{StepID: "a", From: StepStatusPending, To: StepStatusRunning, Timestamp: now},
		{StepID: "a", From: StepStatusRunning, To: StepStatusSucceeded, Attempt: 2,
			Output: map[string]interface{}{"k": "v"}, Timestamp: now},
		{StepID: "b", From: StepStatusPending, To: StepStatusSucceeded, Reused: true, Timestamp: now},
		{StepID: "c", From: StepStatusPending, To: StepStatusRunning, Timestamp: now},
		{StepID: "c", From: StepStatusRunning, To: StepStatusFailed, Error: "boom", Timestamp: now},
	}

	states := Replay(entries)

	if st := states["a"]; st.Status != StepStatusSucceeded || st.Attempt != 2 || st.Output["k"] != "v" {
		t.Errorf("a = %+v", st)
	}
	if st := states["b"]; !st.Reused {
		t.Errorf("b should be reused, got %+v", st)
	}
	if st := states["c"]; st.Status != StepStatusFailed || st.Error != "boom" {
		t.Errorf("c = %+v", st)
	}
}

func TestRecoverJob(t *testing.T) {
	job := chainJob("job-1", "/tmp/target", "a", "b", "c")
	entries := []*JournalEntry{
		{StepID: "a", From: StepStatusPending, To: StepStatusRunning},
		{StepID: "a", From: StepStatusRunning, To: StepStatusSucceeded},
		{StepID: "b", From: StepStatusPending, To: StepStatusRunning, Attempt: 1},
	}

	rec := RecoverJob(job, entries)

	if rec.NeedsCompensation {
		t.Error("NeedsCompensation should be false")
	}
	if len(rec.Interrupted) != 1 || rec.Interrupted[0] != "b" {
		t.Errorf("Interrupted = %v, want [b]", rec.Interrupted)
	}
	if job.Step("a").Status != StepStatusSucceeded {
		t.Errorf("a status = %s", job.Step("a").Status)
	}
	if job.Step("b").Status != StepStatusPending || job.Step("b").Retries != 1 {
		t.Errorf("b = %s/%d, want pending/1", job.Step("b").Status, job.Step("b").Retries)
	}
	if job.Step("c").Status != StepStatusPending {
		t.Errorf("c status = %s", job.Step("c").Status)
	}
}

func TestRecoverJobDuringCompensation(t *testing.T) {
	job := chainJob("job-1", "/tmp/target", "a", "b")
	entries := []*JournalEntry{
		{StepID: "a", From: StepStatusRunning, To: StepStatusSucceeded},
		{StepID: "b", From: StepStatusRunning, To: StepStatusFailed},
		{StepID: "a", From: StepStatusSucceeded, To: StepStatusCompensating},
	}

	rec := RecoverJob(job, entries)

	if !rec.NeedsCompensation {
		t.Error("NeedsCompensation should be true")
	}
	if job.Step("a").Status != StepStatusCompensating {
		t.Errorf("a status = %s, want compensating", job.Step("a").Status)
	}
}

func TestMemoryJournalSequences(t *testing.T) {
	j := NewMemoryJournal()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := j.Append(ctx, &JournalEntry{JobID: "job-1", StepID: "a"}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	_ = j.Append(ctx, &JournalEntry{JobID: "job-2", StepID: "a"})

	entries, err := j.Entries(ctx, "job-1")
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Sequence <= entries[i-1].Sequence {
			t.Errorf("sequence not increasing: %d then %d", entries[i-1].Sequence, entries[i].Sequence)
		}
	}
}
