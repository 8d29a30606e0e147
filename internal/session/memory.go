package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory and drops them after the
// idle timeout.
type MemoryStore struct {
	mu   sync.Mutex
	idle time.Duration
	now  func() time.Time
	data map[int64]Session
}

func NewMemoryStore(idle time.Duration) *MemoryStore {
	return &MemoryStore{idle: idle, now: time.Now, data: map[int64]Session{}}
}

func (m *MemoryStore) Load(_ context.Context, accountID int64) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[accountID]
	if !ok {
		return New(accountID), nil
	}
	if m.expired(s) {
		delete(m.data, accountID)
		return New(accountID), nil
	}
	return s.clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.UpdatedAt = m.now()
	m.data[s.AccountID] = s.clone()
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, accountID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, accountID)
	return nil
}

// Sweep drops expired sessions and returns how many it removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.data {
		if m.expired(s) {
			delete(m.data, id)
			n++
		}
	}
	return n
}

// RunJanitor sweeps every interval until ctx is done.
func (m *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *MemoryStore) expired(s Session) bool {
	return m.idle > 0 && m.now().Sub(s.UpdatedAt) > m.idle
}
