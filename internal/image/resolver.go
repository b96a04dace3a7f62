package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/jsonmessage"
)

var ErrUnavailable = errors.New("image unavailable")

// API is the part of the Docker client the resolver uses.
// *github.com/docker/docker/client.Client implements it.
type API interface {
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

type Ref struct {
	Repository string
	Tag        string
}

func (r Ref) String() string {
	if r.Tag == "" {
		return r.Repository
	}
	return r.Repository + ":" + r.Tag
}

type Resolver struct {
	api API // required
}

func NewResolver(api API) *Resolver {
	return &Resolver{api: api}
}

// EnsureAvailable makes ref usable for container creation.
// An image already present locally is used as is even if the remote tag moved.
// A missing image is pulled once; a failed pull isn't retried.
func (r *Resolver) EnsureAvailable(ctx context.Context, ref Ref) error {
	log := slog.With("component", "image", "image", ref.String())

	_, _, err := r.api.ImageInspectWithRaw(ctx, ref.String())
	if err == nil {
		log.DebugContext(ctx, "image present")
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("image.Resolver: %w", err)
	}

	log.InfoContext(ctx, "pulling image")
	if err = r.pull(ctx, ref); err != nil {
		log.WarnContext(ctx, "didn't pull image", "err", err)
		return fmt.Errorf("image.Resolver: %w: %s: %w", ErrUnavailable, ref, err)
	}
	log.InfoContext(ctx, "pulled image")

	return nil
}

func (r *Resolver) pull(ctx context.Context, ref Ref) error {
	rc, err := r.api.ImagePull(ctx, ref.String(), image.PullOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = rc.Close()
	}()

	// The pull only completes once the progress stream is consumed.
	// Errors that happen mid-pull arrive inside the stream.
	return jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, nil)
}
