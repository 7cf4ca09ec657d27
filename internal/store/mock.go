// ABOUTME: In-memory Store implementation for tests
// ABOUTME: Mirrors SQLiteStore semantics including ErrNotFound and deep copies

package store

import (
	"context"
	"sync"
)

// MockStore is an in-memory Store for tests.
type MockStore struct {
	mu        sync.RWMutex
	sessions  map[string]*SessionRecord
	baselines map[string]map[string]string

	// SaveErr, when set, is returned from all write methods.
	SaveErr error
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		sessions:  make(map[string]*SessionRecord),
		baselines: make(map[string]map[string]string),
	}
}

func (m *MockStore) SaveSession(ctx context.Context, rec *SessionRecord) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[rec.SessionID] = copyRecord(rec)
	return nil
}

func (m *MockStore) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

func (m *MockStore) ListUserSessions(ctx context.Context, userID string, activeOnly bool) ([]*SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var recs []*SessionRecord
	for _, rec := range m.sessions {
		if rec.UserID != userID {
			continue
		}
		if activeOnly && !rec.Active {
			continue
		}
		recs = append(recs, copyRecord(rec))
	}
	return recs, nil
}

func (m *MockStore) SaveSyncBaseline(ctx context.Context, userID, channel string, fields map[string]string) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	m.baselines[userID+"|"+channel] = cp
	return nil
}

func (m *MockStore) GetSyncBaseline(ctx context.Context, userID, channel string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fields, ok := m.baselines[userID+"|"+channel]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return cp, nil
}

func (m *MockStore) Close() error { return nil }

func copyRecord(rec *SessionRecord) *SessionRecord {
	cp := *rec
	if rec.ChannelStates != nil {
		cp.ChannelStates = make(map[string][]byte, len(rec.ChannelStates))
		for k, v := range rec.ChannelStates {
			b := make([]byte, len(v))
			copy(b, v)
			cp.ChannelStates[k] = b
		}
	}
	return &cp
}
