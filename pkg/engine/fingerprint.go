package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"sync"
)

// fingerprintInput is the canonical material hashed into a fingerprint.
// encoding/json sorts map keys, which keeps the encoding stable.
type fingerprintInput struct {
	Kind      StepKind               `json:"kind"`
	Action    string                 `json:"action"`
	Reference string                 `json:"reference,omitempty"`
	Component string                 `json:"component"`
	Target    string                 `json:"target"`
	Config    map[string]interface{} `json:"config,omitempty"`
}

// Fingerprint derives a step's idempotency key from its kind, action, target and
// effective configuration.
func Fingerprint(step *Step, targetPath string) (string, error) {
	target := targetPath
	if abs, err := filepath.Abs(targetPath); err == nil {
		target = abs
	}

	data, err := json.Marshal(fingerprintInput{
		Kind:      step.Kind,
		Action:    step.Forward.Type,
		Reference: step.Forward.Reference,
		Component: step.ComponentID,
		Target:    target,
		Config:    step.Config,
	})
	if err != nil {
		return "", NewPermanentError("failed to encode fingerprint input", err).
			WithCode(ErrCodeValidation).
			WithResource(step.ID)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// MemoryFingerprintStore is an in-process FingerprintStore.
type MemoryFingerprintStore struct {
	mu      sync.RWMutex
	records map[string]*FingerprintRecord
}

// NewMemoryFingerprintStore creates an empty in-process fingerprint store.
func NewMemoryFingerprintStore() *MemoryFingerprintStore {
	return &MemoryFingerprintStore{records: make(map[string]*FingerprintRecord)}
}

// GetFingerprint implements FingerprintStore.
func (m *MemoryFingerprintStore) GetFingerprint(_ context.Context, fingerprint string) (*FingerprintRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[fingerprint]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

// PutFingerprint implements FingerprintStore.
func (m *MemoryFingerprintStore) PutFingerprint(_ context.Context, record *FingerprintRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *record
	m.records[record.Fingerprint] = &cp
	return nil
}

// DeleteFingerprint implements FingerprintStore.
func (m *MemoryFingerprintStore) DeleteFingerprint(_ context.Context, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, fingerprint)
	return nil
}

// Len returns the number of stored records.
func (m *MemoryFingerprintStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
