package credentials

import (
	"context"
	"sync"
	"time"

	"github.com/fisioflow/calsync/internal/calendar"
)

// MemoryStore is an in-process Store used in tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]Credential)}
}

func (s *MemoryStore) Get(ctx context.Context, ownerID string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[ownerID]
	if !ok {
		return nil, calendar.ErrCredentialMissing
	}
	out := cred
	return &out, nil
}

func (s *MemoryStore) Save(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *cred
	now := time.Now()
	if existing, ok := s.creds[cred.OwnerID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.creds[cred.OwnerID] = stored
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, ownerID)
	return nil
}
