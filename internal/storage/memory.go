package storage

import (
	"context"
	"sync"

	"github.com/navid-fn/tickrelay/internal/models"
)

// MemoryStore keeps rules in process memory. Used by tests and ephemeral
// runs.
type MemoryStore struct {
	mu       sync.Mutex
	rules    []models.AlertRule
	failSave error
	saves    int
}

func NewMemoryStore(initial ...models.AlertRule) *MemoryStore {
	return &MemoryStore{rules: append([]models.AlertRule(nil), initial...)}
}

func (m *MemoryStore) LoadRules(ctx context.Context) ([]models.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AlertRule, len(m.rules))
	copy(out, m.rules)
	return out, nil
}

func (m *MemoryStore) SaveRules(ctx context.Context, rules []models.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return m.failSave
	}
	m.rules = append(m.rules[:0:0], rules...)
	m.saves++
	return nil
}

// Saves is the number of successful SaveRules calls.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// SetFailSave makes every later SaveRules return err until reset with nil.
func (m *MemoryStore) SetFailSave(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSave = err
}

func (m *MemoryStore) Close() error {
	return nil
}
