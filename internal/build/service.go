package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/k11v/buildbox/internal/image"
	"github.com/k11v/buildbox/internal/workspace"
)

var (
	ErrDatabaseNotFound      = errors.New("database: not found")
	ErrDatabaseAlreadyExists = errors.New("database: already exists")
)

// Resolver makes an image available for container creation.
type Resolver interface {
	EnsureAvailable(ctx context.Context, ref image.Ref) error
}

// Database journals builds. It is optional; see NopDatabase.
type Database interface {
	CreateBuild(ctx context.Context, params *DatabaseCreateBuildParams) (*Build, error)
	FinishBuild(ctx context.Context, params *DatabaseFinishBuildParams) (*Build, error)
	DeleteBuild(ctx context.Context, params *DatabaseDeleteBuildParams) (*Build, error)
}

type DatabaseCreateBuildParams struct {
	ID         uuid.UUID
	Identifier string
	Image      string
	Config     string
}

type DatabaseFinishBuildParams struct {
	ID     uuid.UUID
	Status Status // StatusBuilt or StatusBuildFailed
	Logs   string
}

type DatabaseDeleteBuildParams struct {
	Identifier string
}

// Storage mirrors build directories to object storage. It is optional; see NopStorage.
type Storage interface {
	UploadDir(ctx context.Context, prefix string, dir string) error
	DeleteDir(ctx context.Context, prefix string) error
}

// Broker publishes build lifecycle events. It is optional; see NopBroker.
type Broker interface {
	Publish(ctx context.Context, event *Event) error
}

type EventType string

const (
	EventBuildSucceeded   EventType = "build.succeeded"
	EventBuildFailed      EventType = "build.failed"
	EventWorkspaceDeleted EventType = "workspace.deleted"
	EventWorkspaceSwept   EventType = "workspace.swept"
)

type Event struct {
	Type       EventType `json:"type"`
	BuildID    uuid.UUID `json:"build_id"`
	Identifier string    `json:"id"`
	Time       time.Time `json:"time"`
}

type Service struct {
	resolver Resolver         // required
	store    *workspace.Store // required
	pipeline *Pipeline        // required
	database Database         // required
	storage  Storage          // required
	broker   Broker           // required
}

func NewService(resolver Resolver, store *workspace.Store, pipeline *Pipeline, database Database, storage Storage, broker Broker) *Service {
	return &Service{
		resolver: resolver,
		store:    store,
		pipeline: pipeline,
		database: database,
		storage:  storage,
		broker:   broker,
	}
}

type SubmitParams struct {
	Image   image.Ref
	Sources []*workspace.Source
	Config  string
}

// Submit resolves the image, materializes a workspace and runs the pipeline in it.
// When the pipeline fails, the returned error is a *StepError and the
// returned Build carries the logs; the workspace is kept for inspection.
func (s *Service) Submit(ctx context.Context, params *SubmitParams) (*Build, error) {
	ref := params.Image
	if err := s.resolver.EnsureAvailable(ctx, ref); err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}

	w, err := s.store.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}
	if err = s.store.WriteSources(ctx, w.Root, params.Sources); err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}

	b := &Build{
		ID:         uuid.New(),
		Identifier: w.Identifier,
		Image:      ref.String(),
		Config:     params.Config,
		Status:     StatusBuilding,
		CreatedAt:  time.Now().UTC(),
	}
	log := slog.With("component", "service", "build_id", b.ID, "workspace", w.Root)

	_, err = s.database.CreateBuild(ctx, &DatabaseCreateBuildParams{
		ID:         b.ID,
		Identifier: b.Identifier,
		Image:      b.Image,
		Config:     b.Config,
	})
	if err != nil {
		log.ErrorContext(ctx, "didn't journal build", "err", err)
	}

	result, runErr := s.pipeline.Run(ctx, &PipelineRunParams{
		Image:     b.Image,
		Workspace: w,
		Config:    params.Config,
	})
	finishedAt := time.Now().UTC()
	b.FinishedAt = &finishedAt

	if runErr != nil {
		b.Status = StatusBuildFailed
		if stepErr := (*StepError)(nil); errors.As(runErr, &stepErr) {
			b.Logs = stepErr.Logs
		}
		s.finish(ctx, log, b, EventBuildFailed)
		return b, fmt.Errorf("build.Service: %w", runErr)
	}

	b.Status = StatusBuilt
	b.Logs = result.Logs
	if err = s.storage.UploadDir(ctx, b.Identifier, w.BuildDir()); err != nil {
		log.ErrorContext(ctx, "didn't mirror build directory", "err", err)
	}
	s.finish(ctx, log, b, EventBuildSucceeded)
	return b, nil
}

func (s *Service) finish(ctx context.Context, log *slog.Logger, b *Build, eventType EventType) {
	_, err := s.database.FinishBuild(ctx, &DatabaseFinishBuildParams{
		ID:     b.ID,
		Status: b.Status,
		Logs:   b.Logs,
	})
	if err != nil {
		log.ErrorContext(ctx, "didn't journal build finish", "err", err)
	}

	err = s.broker.Publish(ctx, &Event{
		Type:       eventType,
		BuildID:    b.ID,
		Identifier: b.Identifier,
		Time:       *b.FinishedAt,
	})
	if err != nil {
		log.ErrorContext(ctx, "didn't publish event", "type", eventType, "err", err)
	}
}

type OpenParams struct {
	Identifier string
	Filename   string
}

// Open opens a file from the build directory of a workspace.
func (s *Service) Open(ctx context.Context, params *OpenParams) (*os.File, error) {
	f, err := s.store.Open(params.Identifier, params.Filename)
	if err != nil {
		return nil, err
	}
	return f, nil
}

type DeleteParams struct {
	Identifier string
}

// Delete removes a workspace. Deleting a workspace twice returns workspace.ErrNotFound.
func (s *Service) Delete(ctx context.Context, params *DeleteParams) error {
	w, err := s.store.Delete(ctx, params.Identifier)
	if err != nil {
		return fmt.Errorf("build.Service: %w", err)
	}
	s.forget(ctx, w, EventWorkspaceDeleted)
	return nil
}

// Forget updates the journal, the mirror and subscribers about a workspace
// removed behind the service's back, e.g. by workspace.Janitor.
func (s *Service) Forget(ctx context.Context, w *workspace.Workspace) {
	s.forget(ctx, w, EventWorkspaceSwept)
}

func (s *Service) forget(ctx context.Context, w *workspace.Workspace, eventType EventType) {
	log := slog.With("component", "service", "workspace", w.Root)

	var buildID uuid.UUID
	b, err := s.database.DeleteBuild(ctx, &DatabaseDeleteBuildParams{Identifier: w.Identifier})
	if err == nil {
		buildID = b.ID
	} else if !errors.Is(err, ErrDatabaseNotFound) {
		log.ErrorContext(ctx, "didn't journal workspace deletion", "err", err)
	}

	if err = s.storage.DeleteDir(ctx, w.Identifier); err != nil {
		log.ErrorContext(ctx, "didn't delete mirrored build directory", "err", err)
	}

	err = s.broker.Publish(ctx, &Event{
		Type:       eventType,
		BuildID:    buildID,
		Identifier: w.Identifier,
		Time:       time.Now().UTC(),
	})
	if err != nil {
		log.ErrorContext(ctx, "didn't publish event", "type", eventType, "err", err)
	}
}
