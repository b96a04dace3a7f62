package build

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusBuilding    Status = "building"
	StatusBuilt       Status = "built"
	StatusBuildFailed Status = "build_failed"
	StatusDeleted     Status = "deleted"
)

func ParseStatus(s string) (status Status, known bool) {
	status = Status(s)
	switch status {
	case StatusBuilding, StatusBuilt, StatusBuildFailed, StatusDeleted:
		return status, true
	default:
		return status, false
	}
}

// Build is the outcome of one submit request.
type Build struct {
	ID         uuid.UUID
	Identifier string // workspace identifier handed to the caller
	Image      string
	Config     string
	Status     Status
	Logs       string
	CreatedAt  time.Time
	FinishedAt *time.Time
	DeletedAt  *time.Time
}
