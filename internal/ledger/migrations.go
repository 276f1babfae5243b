package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrSchemaTooNew is returned by Open for a ledger migrated by a newer
// mega-go. Writing to it could corrupt columns this build does not know.
var ErrSchemaTooNew = errors.New("ledger: database schema is newer than this build")

// migrate brings the ledger schema up to the newest embedded migration and
// returns the resulting version.
func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) (int64, error) {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("ledger: opening embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return 0, fmt.Errorf("ledger: creating migration provider: %w", err)
	}

	current, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: reading schema version: %w", err)
	}

	latest := latestVersion(provider.ListSources())

	switch {
	case current > latest:
		return 0, fmt.Errorf("%w: database at version %d, newest known is %d", ErrSchemaTooNew, current, latest)
	case current == latest:
		return current, nil
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: upgrading schema from version %d: %w", current, err)
	}

	for _, r := range results {
		logger.Debug("applied ledger migration",
			slog.Int64("version", r.Source.Version),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	logger.Info("ledger schema upgraded",
		slog.Int64("from", current),
		slog.Int64("to", latest),
	)

	return latest, nil
}

func latestVersion(sources []*goose.Source) int64 {
	var v int64
	for _, s := range sources {
		v = max(v, s.Version)
	}

	return v
}
