package commands

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/dipdup-net/indexer/internal/config"
	"github.com/dipdup-net/indexer/internal/database"
	dipdup_errors "github.com/dipdup-net/indexer/internal/errors"
	"github.com/dipdup-net/indexer/internal/logger"
)

// project bundles the handles every subcommand needs after loading a config
// file, mirroring the teacher's cli.OpenDB(cfg) helper shape.
type project struct {
	cfg *config.Config
	log *zap.SugaredLogger
	db  *sqlx.DB
	repo *database.StateRepository
}

func loadProject() (*project, error) {
	if len(configPaths) == 0 {
		return nil, dipdup_errors.NewConfigurationError("no -c/--config given")
	}

	log, err := logger.New(&logger.Config{Level: logLevel})
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(configPaths...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Initialize(); err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	repo := database.NewStateRepository()

	return &project{cfg: cfg, log: log, db: db, repo: repo}, nil
}

func (p *project) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}
