package buildpg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/k11v/buildbox/internal/build"
	"github.com/k11v/buildbox/internal/postgresutil"
)

var _ build.Database = (*Database)(nil)

// Database journals builds in the builds table.
type Database struct {
	db postgresutil.Querier // required
}

func NewDatabase(db postgresutil.Querier) *Database {
	return &Database{db: db}
}

// CreateBuild implements build.Database.
func (d *Database) CreateBuild(ctx context.Context, params *build.DatabaseCreateBuildParams) (*build.Build, error) {
	query := `
		INSERT INTO builds (id, identifier, image, config, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + buildColumns
	args := []any{params.ID, params.Identifier, params.Image, params.Config, string(build.StatusBuilding)}

	rows, _ := d.db.Query(ctx, query, args...)
	b, err := pgx.CollectExactlyOneRow(rows, rowToBuild)
	if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return nil, fmt.Errorf("buildpg.Database: %w", build.ErrDatabaseAlreadyExists)
	} else if err != nil {
		return nil, fmt.Errorf("buildpg.Database: create build: %w", err)
	}

	return b, nil
}

// FinishBuild implements build.Database.
func (d *Database) FinishBuild(ctx context.Context, params *build.DatabaseFinishBuildParams) (*build.Build, error) {
	query := `
		UPDATE builds
		SET status = $2, logs = $3, finished_at = now()
		WHERE id = $1
		RETURNING ` + buildColumns
	args := []any{params.ID, string(params.Status), params.Logs}

	rows, _ := d.db.Query(ctx, query, args...)
	b, err := pgx.CollectExactlyOneRow(rows, rowToBuild)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("buildpg.Database: %w", build.ErrDatabaseNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("buildpg.Database: finish build: %w", err)
	}

	return b, nil
}

// DeleteBuild implements build.Database.
// The row is kept with status deleted; a build that is already deleted is not found.
func (d *Database) DeleteBuild(ctx context.Context, params *build.DatabaseDeleteBuildParams) (*build.Build, error) {
	query := `
		UPDATE builds
		SET status = $2, deleted_at = now()
		WHERE identifier = $1 AND deleted_at IS NULL
		RETURNING ` + buildColumns
	args := []any{params.Identifier, string(build.StatusDeleted)}

	rows, _ := d.db.Query(ctx, query, args...)
	b, err := pgx.CollectExactlyOneRow(rows, rowToBuild)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("buildpg.Database: %w", build.ErrDatabaseNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("buildpg.Database: delete build: %w", err)
	}

	return b, nil
}
