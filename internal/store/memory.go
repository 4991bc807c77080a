package store

import (
	"context"
	"sort"
	"sync"

	"alerttrader/internal/domain"
)

// MemoryStore keeps credentials and attempts in process memory. It is used
// when no database path is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	services map[string][]domain.ServiceCredential // by user, creation order
	attempts []domain.OrderAttempt
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{services: make(map[string][]domain.ServiceCredential)}
}

// CreateService validates and adds a credential.
func (m *MemoryStore) CreateService(_ context.Context, cred domain.ServiceCredential) (domain.ServiceCredential, error) {
	cred, err := PrepareService(cred)
	if err != nil {
		return cred, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.services[cred.UserID] {
		if c.ID == cred.ID {
			return cred, domain.Validationf("service %s already exists", cred.ID)
		}
	}
	m.services[cred.UserID] = append(m.services[cred.UserID], cred)
	return cred, nil
}

func (m *MemoryStore) Get(_ context.Context, userID, serviceID string) (domain.ServiceCredential, error) {
	if err := requireIDs(userID, serviceID); err != nil {
		return domain.ServiceCredential{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.services[userID] {
		if c.ID == serviceID {
			return c, nil
		}
	}
	return domain.ServiceCredential{}, domain.NotFoundf("service %s not found", serviceID)
}

func (m *MemoryStore) ListByMarket(_ context.Context, userID string, market domain.Market) ([]domain.ServiceCredential, error) {
	if userID == "" || market == "" {
		return nil, domain.Validationf("invalid credentials")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ServiceCredential
	for _, c := range m.services[userID] {
		if c.Market == market {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStore) WriteSession(_ context.Context, userID, serviceID string, s *domain.Session) error {
	if err := requireIDs(userID, serviceID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.services[userID] {
		if c.ID == serviceID {
			m.services[userID][i].Session = s
			return nil
		}
	}
	return domain.NotFoundf("service %s not found", serviceID)
}

// Record appends the attempt; a repeated ID is ignored.
func (m *MemoryStore) Record(_ context.Context, a domain.OrderAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, prev := range m.attempts {
		if prev.ID == a.ID {
			return nil
		}
	}
	m.attempts = append(m.attempts, a)
	return nil
}

// ListAttempts returns the user's attempts newest first, up to limit.
func (m *MemoryStore) ListAttempts(_ context.Context, userID string, limit int) ([]domain.OrderAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	var out []domain.OrderAttempt
	for _, a := range m.attempts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].Seq > out[j].Seq
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
