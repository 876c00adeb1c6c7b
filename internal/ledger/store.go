package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/attend/internal/models"
)

// Store persists check-in records. MarkCheckedIn must be atomic per
// (date, identity, part): of two concurrent calls for the same key exactly
// one reports changed=true.
type Store interface {
	MarkCheckedIn(ctx context.Context, date time.Time, identityID uuid.UUID, part models.DayPart, at time.Time) (models.CheckInRecord, bool, error)
	RecordsByDate(ctx context.Context, date time.Time) ([]models.CheckInRecord, error)
	ClearRecords(ctx context.Context) error
	DeleteRecords(ctx context.Context, identityID uuid.UUID) error
}

type recordKey struct {
	date string
	id   uuid.UUID
}

// MemoryStore is a Store guarded by a single mutex.
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]*models.CheckInRecord
	byDate  map[string][]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[recordKey]*models.CheckInRecord),
		byDate:  make(map[string][]uuid.UUID),
	}
}

func dateKey(date time.Time) string { return date.Format(time.DateOnly) }

func (s *MemoryStore) MarkCheckedIn(_ context.Context, date time.Time, identityID uuid.UUID, part models.DayPart, at time.Time) (models.CheckInRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := recordKey{date: dateKey(date), id: identityID}
	rec, ok := s.records[k]
	if !ok {
		rec = &models.CheckInRecord{Date: date, IdentityID: identityID}
		s.records[k] = rec
		s.byDate[k.date] = append(s.byDate[k.date], identityID)
	}

	changed := false
	if !rec.Slots[part].CheckedIn {
		t := at
		rec.Slots[part] = models.Slot{CheckedIn: true, Time: &t}
		changed = true
	}
	return copyRecord(*rec), changed, nil
}

func (s *MemoryStore) RecordsByDate(_ context.Context, date time.Time) ([]models.CheckInRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := dateKey(date)
	out := make([]models.CheckInRecord, 0, len(s.byDate[d]))
	for _, id := range s.byDate[d] {
		out = append(out, copyRecord(*s.records[recordKey{date: d, id: id}]))
	}
	return out, nil
}

func (s *MemoryStore) ClearRecords(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[recordKey]*models.CheckInRecord)
	s.byDate = make(map[string][]uuid.UUID)
	return nil
}

func (s *MemoryStore) DeleteRecords(_ context.Context, identityID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for d, ids := range s.byDate {
		kept := ids[:0]
		for _, id := range ids {
			if id != identityID {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			delete(s.byDate, d)
		} else {
			s.byDate[d] = kept
		}
		delete(s.records, recordKey{date: d, id: identityID})
	}
	return nil
}

func copyRecord(r models.CheckInRecord) models.CheckInRecord {
	for i, slot := range r.Slots {
		if slot.Time != nil {
			t := *slot.Time
			r.Slots[i].Time = &t
		}
	}
	return r
}
