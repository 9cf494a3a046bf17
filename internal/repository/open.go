package repository

import (
	"context"
	"strings"

	"signserver/internal/repository/postgres"
	"signserver/internal/repository/sqlite"
)

// IsPostgresURL reports whether url names a PostgreSQL database rather than a SQLite file.
func IsPostgresURL(url string) bool {
	return strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://")
}

// Open returns the snapshot store for url: PostgreSQL for postgres:// URLs,
// otherwise a SQLite file at that path.
func Open(ctx context.Context, url string) (SnapshotRepository, error) {
	if IsPostgresURL(url) {
		repo, err := postgres.New(ctx, url)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}
	db, err := sqlite.New(strings.TrimPrefix(url, "sqlite://"))
	if err != nil {
		return nil, err
	}
	return sqlite.NewSnapshotRepository(db), nil
}
