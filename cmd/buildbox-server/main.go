//	@title			buildbox
//	@version		1.0
//	@description	Builds caller-supplied sources in disposable containers.
//	@BasePath		/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/k11v/buildbox/docs"
	"github.com/k11v/buildbox/internal/build"
	"github.com/k11v/buildbox/internal/build/buildamqp"
	"github.com/k11v/buildbox/internal/build/buildpg"
	"github.com/k11v/buildbox/internal/build/builds3"
	"github.com/k11v/buildbox/internal/buildhttp"
	"github.com/k11v/buildbox/internal/container"
	"github.com/k11v/buildbox/internal/image"
	"github.com/k11v/buildbox/internal/postgresutil"
	"github.com/k11v/buildbox/internal/s3util"
	"github.com/k11v/buildbox/internal/server"
	"github.com/k11v/buildbox/internal/workspace"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(os.Environ(), os.Stderr); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func run(environ []string, stderr io.Writer) error {
	cfg, err := parseConfig(environ)
	if err != nil {
		return err
	}

	log := newLogger(stderr, cfg.LogLevel, cfg.Development)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dockerClient, err := container.NewDockerClient()
	if err != nil {
		return err
	}
	defer closeWithLog(dockerClient)

	store, err := workspace.NewStore(&cfg.Workspace, workspace.Base64Codec{})
	if err != nil {
		return err
	}

	var database build.Database = build.NopDatabase{}
	if cfg.Postgres.DSN != "" {
		pool, err := postgresutil.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		database = buildpg.NewDatabase(pool)
	}

	var storage build.Storage = build.NopStorage{}
	if cfg.S3.DSN != "" {
		s3Client, err := s3util.NewClient(cfg.S3.DSN)
		if err != nil {
			return err
		}
		storage = builds3.NewStorage(s3Client)
	}

	var broker build.Broker = build.NopBroker{}
	if cfg.AMQP.DSN != "" {
		broker = buildamqp.NewBroker(cfg.AMQP.DSN)
	}

	service := build.NewService(
		image.NewResolver(dockerClient),
		store,
		build.NewPipeline(&cfg.Pipeline, container.NewDockerRunner(&cfg.Container, dockerClient)),
		database,
		storage,
		broker,
	)
	janitor := workspace.NewJanitor(&cfg.Workspace, store, service.Forget)
	srv := server.New(&cfg.Server, log, buildhttp.NewHandler(service), cfg.Development)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return janitor.Run(ctx)
	})
	g.Go(func() error {
		log.Info("starting server", "addr", srv.Addr, "development", cfg.Development)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err = g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newLogger(w io.Writer, level slog.Level, development bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if development {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func closeWithLog(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Default().Error("failed to close", "error", err)
	}
}
