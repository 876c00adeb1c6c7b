// Package enroll manages the set of enrolled identities and their encodings.
package enroll

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/internal/vision"
)

// LedgerClearer drops check-in records. Records are derived from
// enrollment and are wiped together with it.
type LedgerClearer interface {
	ClearAll(ctx context.Context) error
	ForgetIdentity(ctx context.Context, id uuid.UUID) error
}

// Patch changes identity metadata. The encoding is never touched.
type Patch struct {
	DisplayName *string
	ClassID     *uint16
	ClearClass  bool
}

// Service is the only writer of identity encodings.
type Service struct {
	store   Store
	adapter vision.Adapter
	ledger  LedgerClearer
	dim     int
	now     func() time.Time
	logger  *slog.Logger
}

// NewService builds the enrollment service. dim is the encoding length every
// identity must carry; 0 accepts whatever the adapter produces.
func NewService(store Store, adapter vision.Adapter, ledger LedgerClearer, dim int) *Service {
	return &Service{
		store:   store,
		adapter: adapter,
		ledger:  ledger,
		dim:     dim,
		now:     time.Now,
		logger:  slog.Default().With("component", "enroll"),
	}
}

// Snapshot returns the current enrolled set.
func (s *Service) Snapshot(ctx context.Context) ([]models.Identity, error) {
	ids, err := s.store.ListIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	return ids, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Identity, error) {
	return s.store.GetIdentity(ctx, id)
}

// Enroll encodes the largest face in img and stores a new identity.
func (s *Service) Enroll(ctx context.Context, name string, classID *uint16, img image.Image) (*models.Identity, error) {
	enc, err := vision.EncodeLargest(s.adapter, img)
	if err != nil {
		return nil, fmt.Errorf("enroll %q: %w", name, err)
	}
	return s.Add(ctx, name, classID, enc)
}

// Add stores a new identity with a precomputed encoding.
func (s *Service) Add(ctx context.Context, name string, classID *uint16, enc models.Encoding) (*models.Identity, error) {
	if err := s.checkDim(enc); err != nil {
		return nil, err
	}
	now := s.now()
	identity := &models.Identity{
		ID:          uuid.New(),
		DisplayName: name,
		ClassID:     classID,
		Encoding:    enc,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.AddIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("add identity: %w", err)
	}
	s.logger.Info("identity enrolled", "identity_id", identity.ID, "name", name)
	return identity, nil
}

// ReEnroll replaces the whole encoding of an existing identity.
func (s *Service) ReEnroll(ctx context.Context, id uuid.UUID, img image.Image) (*models.Identity, error) {
	identity, err := s.store.GetIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	enc, err := vision.EncodeLargest(s.adapter, img)
	if err != nil {
		return nil, fmt.Errorf("re-enroll %s: %w", id, err)
	}
	if err := s.checkDim(enc); err != nil {
		return nil, err
	}
	identity.Encoding = enc
	identity.UpdatedAt = s.now()
	if err := s.store.UpdateIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("update identity: %w", err)
	}
	s.logger.Info("identity re-enrolled", "identity_id", id)
	return identity, nil
}

// Update applies p to the identity's metadata.
func (s *Service) Update(ctx context.Context, id uuid.UUID, p Patch) (*models.Identity, error) {
	identity, err := s.store.GetIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.DisplayName != nil {
		identity.DisplayName = *p.DisplayName
	}
	switch {
	case p.ClearClass:
		identity.ClassID = nil
	case p.ClassID != nil:
		v := *p.ClassID
		identity.ClassID = &v
	}
	identity.UpdatedAt = s.now()
	if err := s.store.UpdateIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("update identity: %w", err)
	}
	return identity, nil
}

func (s *Service) Remove(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteIdentity(ctx, id); err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	if s.ledger != nil {
		if err := s.ledger.ForgetIdentity(ctx, id); err != nil {
			return fmt.Errorf("forget check-ins: %w", err)
		}
	}
	s.logger.Info("identity removed", "identity_id", id)
	return nil
}

// ClearAll wipes every identity and then the ledger.
func (s *Service) ClearAll(ctx context.Context) error {
	if err := s.store.ClearIdentities(ctx); err != nil {
		return fmt.Errorf("clear identities: %w", err)
	}
	if s.ledger != nil {
		if err := s.ledger.ClearAll(ctx); err != nil {
			return fmt.Errorf("clear ledger: %w", err)
		}
	}
	s.logger.Warn("enrollment data cleared")
	return nil
}

func (s *Service) checkDim(enc models.Encoding) error {
	if len(enc) == 0 {
		return fmt.Errorf("empty encoding: %w", models.ErrEncodingFailed)
	}
	if s.dim > 0 && len(enc) != s.dim {
		return fmt.Errorf("encoding has %d values, want %d: %w", len(enc), s.dim, models.ErrDimensionMismatch)
	}
	return nil
}
