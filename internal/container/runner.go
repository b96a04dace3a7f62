package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Runner runs a command to completion in an ephemeral container.
// When Run fails after the container started, the returned result holds
// the output captured so far.
type Runner interface {
	Run(ctx context.Context, params *RunParams) (*RunResult, error)
}

type Mount struct {
	Source   string // host path
	Target   string // container path
	ReadOnly bool
}

type RunParams struct {
	Image      string
	Cmd        []string
	Mounts     []Mount
	WorkingDir string
}

type RunResult struct {
	Output   []byte // stdout and stderr interleaved
	ExitCode int
}

type Config struct {
	NetworkMode string `env:"NETWORK_MODE"` // default: "none"
	User        string `env:"USER"`         // default: image user
}

func (cfg *Config) networkMode() string {
	m := cfg.NetworkMode
	if m == "" {
		m = "none"
	}
	return m
}

var _ Runner = (*DockerRunner)(nil)

// DockerRunner runs containers through the Docker Engine API.
type DockerRunner struct {
	client      *client.Client // required
	networkMode string
	user        string
}

func NewDockerRunner(cfg *Config, cli *client.Client) *DockerRunner {
	return &DockerRunner{
		client:      cli,
		networkMode: cfg.networkMode(),
		user:        cfg.User,
	}
}

// NewDockerClient connects to the daemon configured by DOCKER_HOST and related variables.
func NewDockerClient() (*client.Client, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

// https://github.com/moby/moby/blob/master/oci/caps/defaults.go#L6-L19
var defaultCaps = strslice.StrSlice{
	"CAP_CHOWN",
	"CAP_DAC_OVERRIDE",
	"CAP_FSETID",
	"CAP_FOWNER",
	"CAP_MKNOD",
	"CAP_NET_RAW",
	"CAP_SETGID",
	"CAP_SETUID",
	"CAP_SETFCAP",
	"CAP_SETPCAP",
	"CAP_NET_BIND_SERVICE",
	"CAP_SYS_CHROOT",
	"CAP_KILL",
	"CAP_AUDIT_WRITE",
}

// Run creates a container, streams its output until it exits and removes it.
// A non-zero exit code is reported in RunResult, not as an error.
func (r *DockerRunner) Run(ctx context.Context, params *RunParams) (*RunResult, error) {
	mounts := make([]mount.Mount, 0, len(params.Mounts))
	for _, m := range params.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	cont, err := r.client.ContainerCreate(
		ctx,
		&container.Config{
			Image:        params.Image,
			Cmd:          strslice.StrSlice(params.Cmd),
			WorkingDir:   params.WorkingDir,
			User:         r.user,
			AttachStdout: true,
			AttachStderr: true,
		},
		&container.HostConfig{
			NetworkMode: container.NetworkMode(r.networkMode),
			CapDrop:     strslice.StrSlice{"ALL"},
			CapAdd:      defaultCaps,
			Mounts:      mounts,
		},
		nil,
		nil,
		"",
	)
	if err != nil {
		return nil, fmt.Errorf("container.DockerRunner: %w", err)
	}
	log := slog.With("component", "container", "container_id", cont.ID)
	if len(cont.Warnings) > 0 {
		log.WarnContext(ctx, "container created with warnings", "warnings", cont.Warnings)
	}
	defer func() {
		// The container is removed even if ctx was canceled.
		removeCtx := context.WithoutCancel(ctx)
		err := r.client.ContainerRemove(removeCtx, cont.ID, container.RemoveOptions{Force: true})
		if err != nil {
			log.ErrorContext(removeCtx, "didn't remove container", "err", err)
		}
	}()

	conn, err := r.client.ContainerAttach(ctx, cont.ID, container.AttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("container.DockerRunner: %w", err)
	}
	defer conn.Close()
	// Closing the hijacked connection unblocks StdCopy when ctx is done.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	// Waiting is registered before start so a fast exit isn't missed.
	waitRespCh, waitErrCh := r.client.ContainerWait(ctx, cont.ID, container.WaitConditionNextExit)

	if err = r.client.ContainerStart(ctx, cont.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("container.DockerRunner: %w", err)
	}
	log.DebugContext(ctx, "container started", "cmd", params.Cmd)

	output := new(bytes.Buffer)
	if _, err = stdcopy.StdCopy(output, output, conn.Reader); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &RunResult{Output: output.Bytes()}, fmt.Errorf("container.DockerRunner: %w", err)
	}

	var waitResp container.WaitResponse
	select {
	case err = <-waitErrCh:
		return &RunResult{Output: output.Bytes()}, fmt.Errorf("container.DockerRunner: %w", err)
	case waitResp = <-waitRespCh:
	case <-ctx.Done():
		return &RunResult{Output: output.Bytes()}, fmt.Errorf("container.DockerRunner: %w", ctx.Err())
	}
	if waitResp.Error != nil {
		return &RunResult{Output: output.Bytes()}, fmt.Errorf("container.DockerRunner: %w", errors.New(waitResp.Error.Message))
	}
	log.DebugContext(ctx, "container exited", "exit_code", waitResp.StatusCode)

	return &RunResult{
		Output:   output.Bytes(),
		ExitCode: int(waitResp.StatusCode),
	}, nil
}
