package main

import (
	"context"
	"fmt"
	"os"

	"github.com/k11v/buildbox/internal/postgresprovision"
	"github.com/k11v/buildbox/internal/s3util"
)

func main() {
	if err := run(context.Background(), os.Environ()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

// run migrates the journal and creates the mirror bucket.
// Stores without a DSN are skipped.
func run(ctx context.Context, environ []string) error {
	cfg, err := parseConfig(environ)
	if err != nil {
		return err
	}

	if cfg.Postgres.DSN != "" {
		if err = postgresprovision.Setup(cfg.Postgres.DSN); err != nil {
			return err
		}
	}

	if cfg.S3.DSN != "" {
		client, err := s3util.NewClient(cfg.S3.DSN)
		if err != nil {
			return err
		}
		if err = s3util.Setup(ctx, client); err != nil {
			return err
		}
	}

	return nil
}
