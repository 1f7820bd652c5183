package storage

import (
	"context"
	"sort"
	"sync"

	"edudesk/internal/domain/action"
)

// MemoryStorage - in-memory хранилище, используется когда SQLite недоступен
type MemoryStorage struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	actions []*action.PendingAction
	failed  []*action.FailedAction
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		entries: make(map[string]*Entry),
	}
}

func (m *MemoryStorage) GetEntry(_ context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEntry(e), nil
}

func (m *MemoryStorage) PutEntry(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[e.Key] = copyEntry(e)
	return nil
}

func (m *MemoryStorage) DeleteEntry(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

func (m *MemoryStorage) ListEntries(_ context.Context) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, copyEntry(e))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (m *MemoryStorage) AppendAction(_ context.Context, a *action.PendingAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.actions = append(m.actions, a.Clone())
	return nil
}

func (m *MemoryStorage) ListActions(_ context.Context) ([]*action.PendingAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	actions := make([]*action.PendingAction, 0, len(m.actions))
	for _, a := range m.actions {
		actions = append(actions, a.Clone())
	}
	return actions, nil
}

func (m *MemoryStorage) UpdateAction(_ context.Context, a *action.PendingAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.actions {
		if existing.ID == a.ID {
			m.actions[i].Attempts = a.Attempts
			m.actions[i].NextAttemptAt = a.NextAttemptAt
			m.actions[i].LastError = a.LastError
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStorage) DeleteAction(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.actions = removeAction(m.actions, id)
	return nil
}

func (m *MemoryStorage) MoveToFailed(_ context.Context, f *action.FailedAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.actions = removeAction(m.actions, f.ID)
	failed := *f
	failed.PendingAction = *f.PendingAction.Clone()
	m.failed = append(m.failed, &failed)
	return nil
}

func (m *MemoryStorage) ListFailedActions(_ context.Context) ([]*action.FailedAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	failed := make([]*action.FailedAction, 0, len(m.failed))
	for _, f := range m.failed {
		c := *f
		failed = append(failed, &c)
	}
	return failed, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func removeAction(actions []*action.PendingAction, id string) []*action.PendingAction {
	for i, a := range actions {
		if a.ID == id {
			return append(actions[:i:i], actions[i+1:]...)
		}
	}
	return actions
}

func copyEntry(e *Entry) *Entry {
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	return &c
}
