package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"mindcal/internal/config"
	"mindcal/internal/db"
	"mindcal/internal/domain"
	"mindcal/internal/engine"
	"mindcal/internal/gcal"
	"mindcal/internal/journal"
	"mindcal/internal/migrate"
	"mindcal/internal/mongostore"
	"mindcal/internal/repo"
)

// Backend bundles the storage side of the engine for the configured driver.
type Backend struct {
	Store   engine.Store
	Journal engine.Journal
	Keys    engine.KeyStore
	Close   func() error
}

// OpenBackend opens the configured store. SQLite databases are migrated on open.
func OpenBackend(ctx context.Context, cfg *config.Config, workspace string) (Backend, error) {
	switch cfg.Store.Driver {
	case config.DriverMongo:
		s, err := mongostore.Open(ctx, mongostore.Config{URI: cfg.Store.Mongo.URI, Database: cfg.Store.Mongo.Database})
		if err != nil {
			return Backend{}, err
		}
		return Backend{
			Store:   s,
			Journal: s,
			Keys:    s,
			Close:   func() error { return s.Close(context.Background()) },
		}, nil
	case config.DriverSQLite, "":
		if workspace == "" {
			workspace = cfg.Store.Workspace
		}
		conn, err := db.Open(db.Config{Workspace: workspace})
		if err != nil {
			return Backend{}, err
		}
		if err := migrate.MigrateContext(ctx, conn); err != nil {
			conn.Close()
			return Backend{}, fmt.Errorf("migrate: %w", err)
		}
		r := repo.Repo{DB: conn}
		return Backend{
			Store:   r,
			Journal: journal.Writer{DB: conn},
			Keys:    r,
			Close:   conn.Close,
		}, nil
	default:
		return Backend{}, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// CalendarFactory opens Google Calendar clients with the configured client.
func CalendarFactory(cfg *config.Config) engine.CalendarFactory {
	gc := gcal.Config{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		CalendarID:   cfg.Google.CalendarID,
		TimeZone:     cfg.Google.TimeZone,
		Endpoint:     cfg.Google.Endpoint,
	}
	return func(ctx context.Context, cred domain.Credential) (engine.Calendar, error) {
		c, err := gcal.New(ctx, gc, cred)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// NewEngine wires an engine over the backend.
func NewEngine(b Backend, cfg *config.Config, log *logrus.Entry) engine.Engine {
	eng := engine.New(b.Store, b.Journal, b.Keys, log)
	eng.Calendars = CalendarFactory(cfg)
	eng.Now = time.Now
	return eng
}
