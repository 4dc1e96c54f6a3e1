package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bissquit/incident-desk/internal/changefeed"
	"github.com/bissquit/incident-desk/internal/config"
	incidentspostgres "github.com/bissquit/incident-desk/internal/incidents/postgres"
	"github.com/bissquit/incident-desk/internal/pkg/postgres"
	"github.com/bissquit/incident-desk/internal/pkg/reltime"
	"github.com/bissquit/incident-desk/internal/seed"
	"github.com/bissquit/incident-desk/migrations"
)

// Migrate applies pending schema migrations and exits.
func Migrate(cfg *config.Config) error {
	slog.SetDefault(initLogger(cfg.Log))
	if err := postgres.Migrate(migrations.FS, cfg.Database.URL); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}

// Seed inserts demo incidents into an empty database. Under the postgres
// change feed backend running servers are notified so open streams refresh.
func Seed(ctx context.Context, cfg *config.Config) (seed.Result, error) {
	slog.SetDefault(initLogger(cfg.Log))
	db, err := connect(cfg)
	if err != nil {
		return seed.Result{}, err
	}
	defer db.Close()

	var publisher changefeed.Publisher
	if cfg.ChangeFeed.Backend == config.ChangeFeedPostgres {
		publisher = changefeed.NewPGPublisher(db, cfg.ChangeFeed.Channel)
	}

	seeder := seed.NewSeeder(incidentspostgres.NewRepository(db), publisher, reltime.SystemClock{})
	return seeder.Run(ctx)
}
