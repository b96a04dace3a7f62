package main

import (
	"log/slog"

	"github.com/caarlos0/env/v11"

	"github.com/k11v/buildbox/internal/amqputil"
	"github.com/k11v/buildbox/internal/build"
	"github.com/k11v/buildbox/internal/container"
	"github.com/k11v/buildbox/internal/postgresutil"
	"github.com/k11v/buildbox/internal/s3util"
	"github.com/k11v/buildbox/internal/server"
	"github.com/k11v/buildbox/internal/workspace"
)

// config holds the application configuration.
type config struct {
	Development bool       `env:"BUILDBOX_DEVELOPMENT"`
	LogLevel    slog.Level `env:"BUILDBOX_LOG_LEVEL"` // default: INFO

	Server    server.Config        `envPrefix:"BUILDBOX_SERVER_"`
	Workspace workspace.Config     `envPrefix:"BUILDBOX_WORKSPACE_"`
	Pipeline  build.PipelineConfig `envPrefix:"BUILDBOX_PIPELINE_"`
	Container container.Config     `envPrefix:"BUILDBOX_PIPELINE_"`

	Postgres postgresutil.Config `envPrefix:"BUILDBOX_POSTGRES_"`
	S3       s3util.Config       `envPrefix:"BUILDBOX_S3_"`
	AMQP     amqputil.Config     `envPrefix:"BUILDBOX_AMQP_"`
}

// parseConfig parses the application configuration from the environment variables.
func parseConfig(environ []string) (*config, error) {
	var cfg config

	err := env.ParseWithOptions(&cfg, env.Options{
		Environment: env.ToMap(environ),
	})
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
