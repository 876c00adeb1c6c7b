package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/your-org/attend/internal/config"
	"github.com/your-org/attend/internal/enroll"
	"github.com/your-org/attend/internal/ledger"
	"github.com/your-org/attend/internal/storage"
)

// stores holds the persistence chosen by database.driver.
type stores struct {
	identities enroll.Store
	ledger     *ledger.Ledger
	pg         *storage.PostgresStore
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	schedule, err := cfg.DayParts.Schedule()
	if err != nil {
		return nil, fmt.Errorf("day parts: %w", err)
	}

	s := &stores{}
	var records ledger.Store
	switch cfg.Database.Driver {
	case "postgres":
		db, err := storage.NewPostgresStore(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		s.pg = db
		s.identities = db
		records = db
	default:
		slog.Warn("using in-memory storage; enrollments and check-ins are lost on restart")
		s.identities = enroll.NewMemoryStore()
		records = ledger.NewMemoryStore()
	}

	s.ledger = ledger.New(records, s.identities, schedule)
	slog.Info("storage ready", "driver", cfg.Database.Driver, "timezone", schedule.Location.String())
	return s, nil
}

func (s *stores) Close() {
	if s.pg != nil {
		s.pg.Close()
	}
}
