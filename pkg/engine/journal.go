package engine

import (
	"context"
	"sync"
	"time"
)

// StepState is the state of a step reconstructed from the journal.
type StepState struct {
	Status  StepStatus
	Attempt int
	Reused  bool
	Error   string
	Output  map[string]interface{}
	At      time.Time
}

// Replay folds journal entries into the last known state of each step.
// Entries must be in append order.
func Replay(entries []*JournalEntry) map[string]StepState {
	states := make(map[string]StepState)
	for _, e := range entries {
		st := states[e.StepID]
		st.Status = e.To
		st.Attempt = e.Attempt
		st.At = e.Timestamp
		if e.Reused {
			st.Reused = true
		}
		if e.Error != "" {
			st.Error = e.Error
		}
		if e.Output != nil {
			st.Output = e.Output
		}
		states[e.StepID] = st
	}
	return states
}

// Recovery describes what RecoverJob changed.
type Recovery struct {
	// Interrupted lists steps that were running when the process stopped.
	Interrupted []string

	// NeedsCompensation is true when a step failed or compensation was underway.
	NeedsCompensation bool
}

// RecoverJob applies journal state to a job's steps. Steps found running are
// reset to pending so they are retried; their outcome is unknown. Steps without
// journal entries keep their stored status.
func RecoverJob(job *Job, entries []*JournalEntry) Recovery {
	var rec Recovery
	states := Replay(entries)

	for _, step := range job.Steps {
		st, ok := states[step.ID]
		if !ok {
			continue
		}
		step.Status = st.Status
		step.Retries = st.Attempt
		step.Reused = st.Reused
		step.Error = st.Error
		if st.Output != nil {
			step.Output = st.Output
		}

		switch st.Status {
		case StepStatusRunning:
			step.Status = StepStatusPending
			rec.Interrupted = append(rec.Interrupted, step.ID)
		case StepStatusFailed, StepStatusCompensating, StepStatusCompensated:
			rec.NeedsCompensation = true
		}
	}
	return rec
}

// MemoryJournal is an in-process Journal.
type MemoryJournal struct {
	mu      sync.Mutex
	seq     int64
	entries map[string][]*JournalEntry
}

// NewMemoryJournal creates an empty in-process journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[string][]*JournalEntry)}
}

// Append implements Journal.
func (m *MemoryJournal) Append(_ context.Context, entry *JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	entry.Sequence = m.seq
	cp := *entry
	m.entries[entry.JobID] = append(m.entries[entry.JobID], &cp)
	return nil
}

// Entries implements Journal.
func (m *MemoryJournal) Entries(_ context.Context, jobID string) ([]*JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*JournalEntry, len(m.entries[jobID]))
	copy(out, m.entries[jobID])
	return out, nil
}
