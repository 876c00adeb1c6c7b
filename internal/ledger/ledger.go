// Package ledger records per-date, per-day-part check-ins.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/internal/observability"
)

// IdentitySource resolves enrolled identities.
type IdentitySource interface {
	ListIdentities(ctx context.Context) ([]models.Identity, error)
	GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error)
}

// Result describes one check-in attempt.
type Result struct {
	IdentityID  uuid.UUID            `json:"identity_id"`
	Identity    *models.Identity     `json:"identity,omitempty"`
	Date        time.Time            `json:"date"`
	Part        models.DayPart       `json:"day_part"`
	Changed     bool                 `json:"changed"`
	Record      models.CheckInRecord `json:"record"`
	SnapshotKey string               `json:"snapshot_key,omitempty"`
	Err         error                `json:"-"`
}

// ExportKind selects which subset ExportSubset returns.
type ExportKind int

const (
	ExportCheckedIn ExportKind = iota
	ExportUnchecked
)

func (k ExportKind) String() string {
	if k == ExportUnchecked {
		return "unchecked"
	}
	return "checked_in"
}

func ParseExportKind(s string) (ExportKind, error) {
	switch strings.ToLower(s) {
	case "", "checked_in", "checkedin":
		return ExportCheckedIn, nil
	case "unchecked":
		return ExportUnchecked, nil
	}
	return 0, fmt.Errorf("unknown export kind %q", s)
}

// ExportRow pairs an identity with its record for the requested date.
// Record slots are all empty for identities that never checked in.
type ExportRow struct {
	Identity models.Identity
	Record   models.CheckInRecord
}

// Ledger is the check-in state machine. Each slot moves from not checked in
// to checked in at most once per date and only ClearAll reverts it.
type Ledger struct {
	store      Store
	identities IdentitySource
	schedule   models.DaySchedule
	now        func() time.Time
	logger     *slog.Logger
}

func New(store Store, identities IdentitySource, schedule models.DaySchedule) *Ledger {
	return &Ledger{
		store:      store,
		identities: identities,
		schedule:   schedule,
		now:        time.Now,
		logger:     slog.Default().With("component", "ledger"),
	}
}

// Schedule returns the day-part boundaries in use.
func (l *Ledger) Schedule() models.DaySchedule { return l.schedule }

// Today returns the current calendar date in the schedule location.
func (l *Ledger) Today() time.Time {
	_, date := l.schedule.At(l.now())
	return date
}

// CheckIn marks the day-part slot containing at. Repeating it for a slot
// that is already checked in succeeds with Changed=false and keeps the
// original time.
func (l *Ledger) CheckIn(ctx context.Context, at time.Time, identityID uuid.UUID) (Result, error) {
	return l.CheckInWith(ctx, l.schedule, at, identityID)
}

// CheckInWith is CheckIn with the slot chosen by schedule instead of the
// ledger's own boundaries.
func (l *Ledger) CheckInWith(ctx context.Context, schedule models.DaySchedule, at time.Time, identityID uuid.UUID) (Result, error) {
	identity, err := l.identities.GetIdentity(ctx, identityID)
	if err != nil {
		return Result{IdentityID: identityID}, fmt.Errorf("check in %s: %w", identityID, err)
	}

	part, date := schedule.At(at)
	rec, changed, err := l.store.MarkCheckedIn(ctx, date, identityID, part, at)
	if err != nil {
		return Result{IdentityID: identityID}, fmt.Errorf("mark checked in: %w", err)
	}

	observability.CheckIns.WithLabelValues(part.String(), strconv.FormatBool(changed)).Inc()
	if changed {
		l.logger.Info("checked in", "identity_id", identityID, "name", identity.DisplayName,
			"date", date.Format(time.DateOnly), "day_part", part)
	} else {
		l.logger.Debug("already checked in", "identity_id", identityID, "day_part", part)
	}

	return Result{
		IdentityID: identityID,
		Identity:   identity,
		Date:       date,
		Part:       part,
		Changed:    changed,
		Record:     rec,
	}, nil
}

func (l *Ledger) QueryToday(ctx context.Context) ([]models.CheckInRecord, error) {
	return l.QueryByDate(ctx, l.Today())
}

func (l *Ledger) QueryByDate(ctx context.Context, date time.Time) ([]models.CheckInRecord, error) {
	recs, err := l.store.RecordsByDate(ctx, models.DateOf(date))
	if err != nil {
		return nil, fmt.Errorf("records by date: %w", err)
	}
	return recs, nil
}

// Report returns one row per enrolled identity for date, checked in or not.
func (l *Ledger) Report(ctx context.Context, date time.Time) ([]ExportRow, error) {
	return l.rows(ctx, models.DateOf(date))
}

// QueryUnchecked returns identities without a checked-in slot for part today.
// With part nil it returns identities missing at least one slot.
func (l *Ledger) QueryUnchecked(ctx context.Context, part *models.DayPart) ([]models.Identity, error) {
	rows, err := l.rows(ctx, l.Today())
	if err != nil {
		return nil, err
	}
	var out []models.Identity
	for _, row := range rows {
		if !checked(row.Record, part, true) {
			out = append(out, row.Identity)
		}
	}
	return out, nil
}

// ExportSubset returns today's rows of the requested kind.
func (l *Ledger) ExportSubset(ctx context.Context, kind ExportKind, part *models.DayPart) ([]ExportRow, error) {
	rows, err := l.rows(ctx, l.Today())
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, row := range rows {
		var keep bool
		if kind == ExportCheckedIn {
			keep = checked(row.Record, part, false)
		} else {
			keep = !checked(row.Record, part, true)
		}
		if keep {
			out = append(out, row)
		}
	}
	return out, nil
}

// ClearAll drops every record.
func (l *Ledger) ClearAll(ctx context.Context) error {
	if err := l.store.ClearRecords(ctx); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	l.logger.Warn("ledger cleared")
	return nil
}

// ForgetIdentity drops every record of a removed identity.
func (l *Ledger) ForgetIdentity(ctx context.Context, id uuid.UUID) error {
	if err := l.store.DeleteRecords(ctx, id); err != nil {
		return fmt.Errorf("delete records of %s: %w", id, err)
	}
	return nil
}

// rows joins the enrolled set with the records of date, in enrollment order.
func (l *Ledger) rows(ctx context.Context, date time.Time) ([]ExportRow, error) {
	identities, err := l.identities.ListIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	recs, err := l.QueryByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]models.CheckInRecord, len(recs))
	for _, r := range recs {
		byID[r.IdentityID] = r
	}

	rows := make([]ExportRow, 0, len(identities))
	for _, id := range identities {
		rec, ok := byID[id.ID]
		if !ok {
			rec = models.CheckInRecord{Date: date, IdentityID: id.ID}
		}
		rows = append(rows, ExportRow{Identity: id, Record: rec})
	}
	return rows, nil
}

// checked tests one slot, or with part nil either all slots (all=true) or any.
func checked(r models.CheckInRecord, part *models.DayPart, all bool) bool {
	if part != nil {
		return r.Slot(*part).CheckedIn
	}
	if all {
		return r.AllCheckedIn()
	}
	return r.AnyCheckedIn()
}
