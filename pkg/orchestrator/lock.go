package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/sif-factory/sif/pkg/assets"
	"github.com/sif-factory/sif/pkg/engine"
)

const (
	lockFileName   = "lock"
	holderFileName = "lock.json"
)

// LockHolder describes who holds a target lock.
type LockHolder struct {
	JobID      string    `json:"job_id"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// TargetLocker allows one active job per target path. Within a process it
// keeps a map of held targets; across processes it takes an advisory file
// lock on <target>/.sif/lock, which the OS releases if the holder dies.
type TargetLocker struct {
	mu   sync.Mutex
	held map[string]*targetLock
}

type targetLock struct {
	holder LockHolder
	file   *flock.Flock
}

// NewTargetLocker creates an empty locker.
func NewTargetLocker() *TargetLocker {
	return &TargetLocker{held: make(map[string]*targetLock)}
}

// Acquire locks target for jobID. It fails fast with a busy error when the
// target is held, naming the holder when it is known.
func (l *TargetLocker) Acquire(target, jobID string) (release func(), err error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("resolving target path: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.held[abs]; ok {
		return nil, busyError(abs, &cur.holder)
	}

	dir := filepath.Join(abs, assets.StateDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, engine.NewPermanentError("cannot create target state directory", err).WithResource(abs)
	}

	fl := flock.New(filepath.Join(dir, lockFileName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, engine.NewPermanentError("cannot lock target", err).WithResource(abs)
	}
	if !ok {
		return nil, busyError(abs, readHolder(dir))
	}

	holder := LockHolder{JobID: jobID, PID: os.Getpid(), AcquiredAt: time.Now().UTC()}
	if data, err := json.Marshal(holder); err == nil {
		_ = os.WriteFile(filepath.Join(dir, holderFileName), data, 0o644)
	}
	l.held[abs] = &targetLock{holder: holder, file: fl}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(abs) })
	}, nil
}

// Holder returns the in-process holder of target, if any.
func (l *TargetLocker) Holder(target string) (LockHolder, bool) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return LockHolder{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.held[abs]
	if !ok {
		return LockHolder{}, false
	}
	return cur.holder, true
}

func (l *TargetLocker) release(abs string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.held[abs]
	if !ok {
		return
	}
	delete(l.held, abs)
	_ = os.Remove(filepath.Join(abs, assets.StateDir, holderFileName))
	_ = cur.file.Unlock()
}

func readHolder(dir string) *LockHolder {
	data, err := os.ReadFile(filepath.Join(dir, holderFileName))
	if err != nil {
		return nil
	}
	var h LockHolder
	if err := json.Unmarshal(data, &h); err != nil {
		return nil
	}
	return &h
}

func busyError(target string, holder *LockHolder) error {
	msg := fmt.Sprintf("target %s is locked by another job", target)
	e := engine.NewBusyError(msg, nil).WithCode(engine.ErrCodeTargetBusy).WithResource(target)
	if holder != nil {
		e = engine.NewBusyError(fmt.Sprintf("target %s is locked by job %s (pid %d)", target, holder.JobID, holder.PID), nil).
			WithCode(engine.ErrCodeTargetBusy).WithResource(target).
			WithDetail("job_id", holder.JobID).WithDetail("pid", holder.PID)
	}
	return e
}
