package buildpg

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/k11v/buildbox/internal/build"
)

const buildColumns = `id, identifier, image, config, status, logs, created_at, finished_at, deleted_at`

type row struct {
	ID         uuid.UUID  `db:"id"`
	Identifier string     `db:"identifier"`
	Image      string     `db:"image"`
	Config     string     `db:"config"`
	Status     string     `db:"status"`
	Logs       string     `db:"logs"`
	CreatedAt  time.Time  `db:"created_at"`
	FinishedAt *time.Time `db:"finished_at"`
	DeletedAt  *time.Time `db:"deleted_at"`
}

func rowToBuild(collectableRow pgx.CollectableRow) (*build.Build, error) {
	collectedRow, err := pgx.RowToStructByName[row](collectableRow)
	if err != nil {
		return nil, fmt.Errorf("row to build: %w", err)
	}

	status, known := build.ParseStatus(collectedRow.Status)
	if !known {
		slog.Default().Warn(
			"unknown status encountered while reading build",
			"status", collectedRow.Status,
			"build_id", collectedRow.ID,
		)
	}

	b := &build.Build{
		ID:         collectedRow.ID,
		Identifier: collectedRow.Identifier,
		Image:      collectedRow.Image,
		Config:     collectedRow.Config,
		Status:     status,
		Logs:       collectedRow.Logs,
		CreatedAt:  collectedRow.CreatedAt.UTC(),
		FinishedAt: utc(collectedRow.FinishedAt),
		DeletedAt:  utc(collectedRow.DeletedAt),
	}
	return b, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
