package build

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"runtime"
	"strings"
	"time"

	"github.com/k11v/buildbox/internal/container"
	"github.com/k11v/buildbox/internal/workspace"
)

const (
	StepConfigure = "configure"
	StepBuild     = "build"
)

type ExitError struct {
	ExitCode int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code is %d", e.ExitCode)
}

// StepError reports the step that stopped a pipeline run.
// Logs holds everything captured up to and including the failed step.
type StepError struct {
	Step string
	Logs string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

type PipelineConfig struct {
	Workers          int           `env:"WORKERS"`                               // default: runtime.NumCPU()
	Timeout          time.Duration `env:"TIMEOUT"`                               // zero means no timeout
	ToolchainWrapper string        `env:"TOOLCHAIN_WRAPPER" envDefault:"emcmake"` // empty runs cmake directly
	InstallRoot      string        `env:"INSTALL_ROOT"`                          // default: "/VTK-install"
}

func (cfg *PipelineConfig) workers() int {
	w := cfg.Workers
	if w <= 0 {
		w = runtime.NumCPU()
	}
	return w
}

func (cfg *PipelineConfig) installRoot() string {
	r := cfg.InstallRoot
	if r == "" {
		r = "/VTK-install"
	}
	return r
}

// Pipeline configures and builds a workspace in two ephemeral containers.
type Pipeline struct {
	runner           container.Runner // required
	pool             *Pool            // required
	timeout          time.Duration
	toolchainWrapper string
	installRoot      string
}

func NewPipeline(cfg *PipelineConfig, runner container.Runner) *Pipeline {
	return &Pipeline{
		runner:           runner,
		pool:             NewPool(cfg.workers()),
		timeout:          cfg.Timeout,
		toolchainWrapper: cfg.ToolchainWrapper,
		installRoot:      cfg.installRoot(),
	}
}

type Step struct {
	Name string
	Cmd  []string
}

// CommandLine returns the command as it is written to the logs.
func (s *Step) CommandLine() string {
	return strings.Join(s.Cmd, " ")
}

type PipelineRunParams struct {
	Image     string
	Workspace *workspace.Workspace
	Config    string // build type, e.g. Release
}

type PipelineRunResult struct {
	Logs string
}

// Steps returns the configure and build steps for a workspace mounted at /<workspace name>.
func (p *Pipeline) Steps(params *PipelineRunParams) []*Step {
	sourceDir := "/" + params.Workspace.Name()
	buildDir := path.Join(sourceDir, workspace.BuildDirName)

	configure := make([]string, 0, 8)
	if p.toolchainWrapper != "" {
		configure = append(configure, p.toolchainWrapper)
	}
	configure = append(configure,
		"cmake",
		"-S", sourceDir,
		"-B", buildDir,
		"-DCMAKE_BUILD_TYPE="+params.Config,
		"-DVTK_DIR="+path.Join(p.installRoot, params.Config, "lib", "cmake", "vtk"),
	)

	return []*Step{
		{Name: StepConfigure, Cmd: configure},
		{Name: StepBuild, Cmd: []string{"cmake", "--build", buildDir}},
	}
}

// Run executes the steps in order and stops at the first failure.
// Nothing is cleaned up on failure; partial outputs stay in the workspace.
func (p *Pipeline) Run(ctx context.Context, params *PipelineRunParams) (*PipelineRunResult, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	mounts := []container.Mount{{
		Source: params.Workspace.Root,
		Target: "/" + params.Workspace.Name(),
	}}

	logs := new(strings.Builder)
	for _, step := range p.Steps(params) {
		log := slog.With("component", "pipeline", "step", step.Name, "workspace", params.Workspace.Root)
		log.InfoContext(ctx, "running step", "cmd", step.CommandLine())

		var result *container.RunResult
		err := <-p.pool.Submit(ctx, func(ctx context.Context) error {
			var err error
			result, err = p.runner.Run(ctx, &container.RunParams{
				Image:  params.Image,
				Cmd:    step.Cmd,
				Mounts: mounts,
			})
			return err
		})

		logs.WriteString(step.CommandLine())
		logs.WriteString("\n")
		if err != nil {
			if result != nil {
				logs.Write(result.Output)
			}
			log.ErrorContext(ctx, "didn't run step", "err", err)
			return nil, &StepError{Step: step.Name, Logs: logs.String(), Err: err}
		}
		logs.Write(result.Output)

		if result.ExitCode != 0 {
			log.WarnContext(ctx, "step failed", "exit_code", result.ExitCode)
			return nil, &StepError{Step: step.Name, Logs: logs.String(), Err: &ExitError{ExitCode: result.ExitCode}}
		}
		log.InfoContext(ctx, "step succeeded")
	}

	return &PipelineRunResult{Logs: logs.String()}, nil
}
