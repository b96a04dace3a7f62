package build

import (
	"context"
)

var (
	_ Database = NopDatabase{}
	_ Storage  = NopStorage{}
	_ Broker   = NopBroker{}
)

// NopDatabase journals nothing.
type NopDatabase struct{}

func (NopDatabase) CreateBuild(ctx context.Context, params *DatabaseCreateBuildParams) (*Build, error) {
	return &Build{ID: params.ID, Identifier: params.Identifier, Image: params.Image, Config: params.Config, Status: StatusBuilding}, nil
}

func (NopDatabase) FinishBuild(ctx context.Context, params *DatabaseFinishBuildParams) (*Build, error) {
	return &Build{ID: params.ID, Status: params.Status, Logs: params.Logs}, nil
}

func (NopDatabase) DeleteBuild(ctx context.Context, params *DatabaseDeleteBuildParams) (*Build, error) {
	return nil, ErrDatabaseNotFound
}

// NopStorage mirrors nothing.
type NopStorage struct{}

func (NopStorage) UploadDir(ctx context.Context, prefix string, dir string) error {
	return nil
}

func (NopStorage) DeleteDir(ctx context.Context, prefix string) error {
	return nil
}

// NopBroker publishes nothing.
type NopBroker struct{}

func (NopBroker) Publish(ctx context.Context, event *Event) error {
	return nil
}
