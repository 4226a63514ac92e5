package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const (
	commandTimeout = time.Minute
	pingTimeout    = 5 * time.Second
)

// Runner drives the provisioning task schema in PostgreSQL. Each command
// builds its own goose provider, so nothing here touches goose's package
// level dialect or filesystem.
type Runner struct {
	pool *pgxpool.Pool
	dsn  string
	dir  string
	fsys fs.FS
	log  *slog.Logger
}

// New checks its inputs and returns a Runner reading migrations from dir.
func New(pool *pgxpool.Pool, dsn, dir string, log *slog.Logger) (*Runner, error) {
	if pool == nil {
		return nil, errors.New("migrate: pool is required")
	}
	if dsn == "" {
		return nil, errors.New("migrate: database dsn is required")
	}
	if dir == "" {
		return nil, errors.New("migrate: migrations directory is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("migrate: %s is not a directory", dir)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{pool: pool, dsn: dsn, dir: dir, fsys: os.DirFS(dir), log: log.With("component", "migrate", "dir", dir)}, nil
}

// Ensure applies every pending migration.
func (r *Runner) Ensure(ctx context.Context) error {
	return r.run(ctx, func(ctx context.Context, p *goose.Provider) error {
		results, err := p.Up(ctx)
		logResults(r.log, results)
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		r.log.Info("schema up to date", "applied", len(results))
		return nil
	})
}

// Status logs one line per known migration.
func (r *Runner) Status(ctx context.Context) error {
	return r.run(ctx, func(ctx context.Context, p *goose.Provider) error {
		statuses, err := p.Status(ctx)
		if err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		for _, st := range statuses {
			attrs := []any{"version", st.Source.Version, "file", st.Source.Path, "state", string(st.State)}
			if st.State == goose.StateApplied {
				attrs = append(attrs, "applied_at", st.AppliedAt)
			}
			r.log.Info("migration", attrs...)
		}
		return nil
	})
}

// Down undoes the newest migration. A positive target rolls back every
// migration above that version instead.
func (r *Runner) Down(ctx context.Context, target int64) error {
	return r.run(ctx, func(ctx context.Context, p *goose.Provider) error {
		if target <= 0 {
			result, err := p.Down(ctx)
			if result != nil {
				logResults(r.log, []*goose.MigrationResult{result})
			}
			if err != nil {
				return fmt.Errorf("roll back newest migration: %w", err)
			}
			return nil
		}
		results, err := p.DownTo(ctx, target)
		logResults(r.log, results)
		if err != nil {
			return fmt.Errorf("roll back to version %d: %w", target, err)
		}
		return nil
	})
}

// Ping checks the pool can still reach the database.
func (r *Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases the pool.
func (r *Runner) Close() {
	r.pool.Close()
}

func (r *Runner) run(ctx context.Context, fn func(context.Context, *goose.Provider) error) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	db, err := sql.Open("pgx", r.dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("reach database: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, r.fsys)
	if err != nil {
		db.Close()
		return fmt.Errorf("load migrations: %w", err)
	}
	// Closing the provider closes db.
	defer provider.Close()
	return fn(ctx, provider)
}

func logResults(log *slog.Logger, results []*goose.MigrationResult) {
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		attrs := []any{"version", res.Source.Version, "direction", res.Direction, "took", res.Duration}
		if res.Error != nil {
			log.Error("migration failed", append(attrs, "error", res.Error)...)
			continue
		}
		log.Info("migration done", attrs...)
	}
}
