package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/attend/internal/config"
	"github.com/your-org/attend/internal/models"
)

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS identities (
	id           UUID PRIMARY KEY,
	seq          BIGSERIAL,
	display_name TEXT NOT NULL DEFAULT '',
	class_id     INTEGER,
	encoding     vector NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS checkin_records (
	date         DATE NOT NULL,
	identity_id  UUID NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
	morning_at   TIMESTAMPTZ,
	afternoon_at TIMESTAMPTZ,
	evening_at   TIMESTAMPTZ,
	PRIMARY KEY (date, identity_id)
);
`

// PostgresStore keeps identities and check-in records in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema creates the tables when they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Identities ---

const identityColumns = `id, display_name, class_id, encoding, created_at, updated_at`

func scanIdentity(row pgx.Row) (*models.Identity, error) {
	var (
		id    models.Identity
		class *int32
		vec   pgvector.Vector
	)
	if err := row.Scan(&id.ID, &id.DisplayName, &class, &vec, &id.CreatedAt, &id.UpdatedAt); err != nil {
		return nil, err
	}
	if class != nil {
		v := uint16(*class)
		id.ClassID = &v
	}
	id.Encoding = vec.Slice()
	return &id, nil
}

func classArg(c *uint16) *int32 {
	if c == nil {
		return nil
	}
	v := int32(*c)
	return &v
}

func (s *PostgresStore) ListIdentities(ctx context.Context) ([]models.Identity, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+identityColumns+` FROM identities ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []models.Identity
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, *id)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error) {
	identity, err := scanIdentity(s.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("identity %s: %w", id, models.ErrUnknownIdentity)
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return identity, nil
}

func (s *PostgresStore) AddIdentity(ctx context.Context, identity *models.Identity) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO identities (id, display_name, class_id, encoding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		identity.ID, identity.DisplayName, classArg(identity.ClassID),
		pgvector.NewVector(identity.Encoding), identity.CreatedAt, identity.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateIdentity(ctx context.Context, identity *models.Identity) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE identities SET display_name = $2, class_id = $3, encoding = $4, updated_at = $5 WHERE id = $1`,
		identity.ID, identity.DisplayName, classArg(identity.ClassID),
		pgvector.NewVector(identity.Encoding), identity.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("identity %s: %w", identity.ID, models.ErrUnknownIdentity)
	}
	return nil
}

func (s *PostgresStore) DeleteIdentity(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("identity %s: %w", id, models.ErrUnknownIdentity)
	}
	return nil
}

func (s *PostgresStore) ClearIdentities(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE identities CASCADE`); err != nil {
		return fmt.Errorf("clear identities: %w", err)
	}
	return nil
}

// --- Check-in records ---

func partColumn(part models.DayPart) (string, error) {
	switch part {
	case models.Morning:
		return "morning_at", nil
	case models.Afternoon:
		return "afternoon_at", nil
	case models.Evening:
		return "evening_at", nil
	}
	return "", fmt.Errorf("invalid day part %d", int(part))
}

const recordColumns = `date, identity_id, morning_at, afternoon_at, evening_at`

func scanRecord(row pgx.Row) (models.CheckInRecord, error) {
	var (
		r     models.CheckInRecord
		times [3]*time.Time
	)
	if err := row.Scan(&r.Date, &r.IdentityID, &times[0], &times[1], &times[2]); err != nil {
		return r, err
	}
	for i, t := range times {
		if t != nil {
			r.Slots[i] = models.Slot{CheckedIn: true, Time: t}
		}
	}
	return r, nil
}

// MarkCheckedIn sets the slot only while it is still NULL, so concurrent
// writers for the same key see exactly one change.
func (s *PostgresStore) MarkCheckedIn(ctx context.Context, date time.Time, identityID uuid.UUID, part models.DayPart, at time.Time) (models.CheckInRecord, bool, error) {
	col, err := partColumn(part)
	if err != nil {
		return models.CheckInRecord{}, false, err
	}

	var (
		rec     models.CheckInRecord
		changed bool
	)
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO checkin_records (date, identity_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			date, identityID); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		tag, err := tx.Exec(ctx,
			`UPDATE checkin_records SET `+col+` = $3 WHERE date = $1 AND identity_id = $2 AND `+col+` IS NULL`,
			date, identityID, at)
		if err != nil {
			return fmt.Errorf("update slot: %w", err)
		}
		changed = tag.RowsAffected() == 1

		rec, err = scanRecord(tx.QueryRow(ctx,
			`SELECT `+recordColumns+` FROM checkin_records WHERE date = $1 AND identity_id = $2`,
			date, identityID))
		if err != nil {
			return fmt.Errorf("read record: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.CheckInRecord{}, false, fmt.Errorf("mark checked in: %w", err)
	}
	return rec, changed, nil
}

func (s *PostgresStore) RecordsByDate(ctx context.Context, date time.Time) ([]models.CheckInRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM checkin_records WHERE date = $1
		 ORDER BY LEAST(morning_at, afternoon_at, evening_at)`, date)
	if err != nil {
		return nil, fmt.Errorf("records by date: %w", err)
	}
	defer rows.Close()

	var out []models.CheckInRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRecords removes every record of identityID. After DeleteIdentity the
// foreign key cascade has already done so.
func (s *PostgresStore) DeleteRecords(ctx context.Context, identityID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM checkin_records WHERE identity_id = $1`, identityID); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearRecords(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM checkin_records`); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	return nil
}
