package enroll

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/your-org/attend/internal/models"
)

// Store persists enrolled identities. Implementations must be safe for
// concurrent readers; ListIdentities returns a point-in-time snapshot.
type Store interface {
	ListIdentities(ctx context.Context) ([]models.Identity, error)
	GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error)
	AddIdentity(ctx context.Context, identity *models.Identity) error
	UpdateIdentity(ctx context.Context, identity *models.Identity) error
	DeleteIdentity(ctx context.Context, id uuid.UUID) error
	ClearIdentities(ctx context.Context) error
}

// MemoryStore keeps identities in enrollment order.
type MemoryStore struct {
	mu    sync.RWMutex
	order []uuid.UUID
	byID  map[uuid.UUID]models.Identity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[uuid.UUID]models.Identity)}
}

func (s *MemoryStore) ListIdentities(_ context.Context) ([]models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Identity, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, clone(s.byID[id]))
	}
	return out, nil
}

func (s *MemoryStore) GetIdentity(_ context.Context, id uuid.UUID) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("identity %s: %w", id, models.ErrUnknownIdentity)
	}
	c := clone(identity)
	return &c, nil
}

func (s *MemoryStore) AddIdentity(_ context.Context, identity *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[identity.ID]; ok {
		return fmt.Errorf("identity %s already enrolled", identity.ID)
	}
	s.order = append(s.order, identity.ID)
	s.byID[identity.ID] = clone(*identity)
	return nil
}

func (s *MemoryStore) UpdateIdentity(_ context.Context, identity *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[identity.ID]; !ok {
		return fmt.Errorf("identity %s: %w", identity.ID, models.ErrUnknownIdentity)
	}
	s.byID[identity.ID] = clone(*identity)
	return nil
}

func (s *MemoryStore) DeleteIdentity(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return fmt.Errorf("identity %s: %w", id, models.ErrUnknownIdentity)
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) ClearIdentities(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.byID = make(map[uuid.UUID]models.Identity)
	return nil
}

// clone copies the encoding so callers never share backing arrays with the store.
func clone(identity models.Identity) models.Identity {
	identity.Encoding = append(models.Encoding(nil), identity.Encoding...)
	if identity.ClassID != nil {
		v := *identity.ClassID
		identity.ClassID = &v
	}
	return identity
}
