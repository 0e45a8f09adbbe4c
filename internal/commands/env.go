package commands

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/unibook-dev/unibook/internal/classify"
	"github.com/unibook-dev/unibook/internal/config"
	"github.com/unibook-dev/unibook/internal/db"
	"github.com/unibook-dev/unibook/internal/ledger"
	"github.com/unibook-dev/unibook/internal/linker"
	"github.com/unibook-dev/unibook/internal/logger"
	"github.com/unibook-dev/unibook/internal/policy"
	"github.com/unibook-dev/unibook/internal/rebuild"
	"github.com/unibook-dev/unibook/internal/refdata"
	"github.com/unibook-dev/unibook/internal/source"
)

// configFile is the project configuration file name.
const configFile = "unibook.yaml"

// env is the shared wiring every database-touching command needs.
type env struct {
	root string
	cfg  *config.Config
	conn *sql.DB
	log  zerolog.Logger
}

// newEnv loads unibook.yaml from dir and opens the database.
func newEnv(ctx context.Context, dir string) (*env, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	cfg, err := config.Load(filepath.Join(root, configFile))
	if err != nil {
		return nil, err
	}

	envFile := cfg.Database.EnvFile
	if envFile != "" && !filepath.IsAbs(envFile) {
		envFile = filepath.Join(root, envFile)
	}
	conn, err := db.Open(ctx, cfg.Database.DSNEnv, envFile)
	if err != nil {
		return nil, err
	}

	return &env{
		root: root,
		cfg:  cfg,
		conn: conn,
		log:  logger.New(cfg.Log.Level),
	}, nil
}

func (e *env) Close() error { return e.conn.Close() }

func (e *env) store() *ledger.Store {
	return ledger.NewStore(e.conn, e.cfg.Ledger.Table)
}

func (e *env) exclusionPolicy() *policy.Policy {
	if feeds := e.cfg.ExcludedFeeds(); feeds != nil {
		return policy.New(feeds)
	}
	return policy.Default()
}

func (e *env) tolerance() (decimal.Decimal, error) {
	raw := e.cfg.Verification.Tolerance
	if raw == "" {
		return decimal.Zero, nil
	}
	tol, err := decimal.NewFromString(raw)
	if err != nil || tol.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid verification tolerance %q", raw)
	}
	return tol, nil
}

// orchestrator loads reference data and assembles the rebuild engine.
func (e *env) orchestrator(ctx context.Context, batchID string) (*rebuild.Orchestrator, error) {
	ref, err := refdata.Load(ctx, e.conn)
	if err != nil {
		return nil, fmt.Errorf("loading reference data: %w", err)
	}

	tol, err := e.tolerance()
	if err != nil {
		return nil, err
	}

	return rebuild.New(
		e.store(),
		source.NewHistoricalAdapter(e.conn),
		source.NewProcessorAdapter(e.conn),
		classify.NewDefault(),
		linker.New(ref),
		e.exclusionPolicy(),
		rebuild.Options{
			BatchID:   batchID,
			Tolerance: tol,
			Log:       e.log,
		},
	), nil
}
