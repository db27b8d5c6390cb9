package commands

import (
	"database/sql"

	"github.com/ardelis/postqueue/config"
	"github.com/ardelis/postqueue/db"
	"github.com/ardelis/postqueue/errors"
	"github.com/ardelis/postqueue/logger"
	"github.com/ardelis/postqueue/queue/policy"
	"github.com/ardelis/postqueue/queue/post"
)

// openDatabase opens and migrates the database. An empty dbPath falls back
// to the configured path.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load config")
		}
		dbPath = cfg.Database.Path
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}

	return database, nil
}

// openStore is the common setup for operator commands: validated config,
// migrated database, post store, and policy table.
func openStore() (*post.Store, *policy.Table, *config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, nil, errors.Wrap(err, "invalid config")
	}

	table, err := policy.NewTable(cfg.Policy)
	if err != nil {
		return nil, nil, nil, nil, errors.Wrap(err, "invalid policy config")
	}

	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	cleanup := func() { database.Close() }
	return post.NewStore(database), table, cfg, cleanup, nil
}
