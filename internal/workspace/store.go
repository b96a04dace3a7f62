package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/google/uuid"
)

// BuildDirName is the directory under a workspace root where build outputs land.
const BuildDirName = "build"

const namePrefix = "buildbox-"

var (
	ErrNotFound    = errors.New("not found")
	ErrUnsafePath  = errors.New("unsafe path")
	ErrWriteSource = errors.New("can't write source")
)

// Workspace is an exclusively owned directory holding one build's inputs and outputs.
type Workspace struct {
	Root       string
	Identifier string
}

// Name returns the base name of the workspace root.
func (w *Workspace) Name() string {
	return filepath.Base(w.Root)
}

// BuildDir returns the directory where build outputs land.
func (w *Workspace) BuildDir() string {
	return filepath.Join(w.Root, BuildDirName)
}

type Source struct {
	Name    string
	Content string
}

type Config struct {
	BaseDir       string        `env:"BASE_DIR"`       // default: os.TempDir()
	MaxAge        time.Duration `env:"MAX_AGE"`        // zero keeps workspaces until deleted
	SweepInterval time.Duration `env:"SWEEP_INTERVAL"` // default: 10m
}

func (cfg *Config) baseDir() string {
	d := cfg.BaseDir
	if d == "" {
		d = os.TempDir()
	}
	return d
}

func (cfg *Config) sweepInterval() time.Duration {
	i := cfg.SweepInterval
	if i == 0 {
		i = 10 * time.Minute
	}
	return i
}

// Store creates, populates, serves and removes workspaces under a base directory.
type Store struct {
	baseDir string // required
	codec   Codec  // required
}

func NewStore(cfg *Config, codec Codec) (*Store, error) {
	baseDir, err := filepath.Abs(cfg.baseDir())
	if err != nil {
		return nil, fmt.Errorf("workspace.NewStore: %w", err)
	}
	if err = os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("workspace.NewStore: %w", err)
	}
	// Symlinked temp dirs (macOS /var -> /private/var) would make
	// decoded identifiers fail the ownership check in Resolve.
	baseDir, err = filepath.EvalSymlinks(baseDir)
	if err != nil {
		return nil, fmt.Errorf("workspace.NewStore: %w", err)
	}
	return &Store{baseDir: baseDir, codec: codec}, nil
}

func (s *Store) Create(ctx context.Context) (*Workspace, error) {
	root, err := os.MkdirTemp(s.baseDir, namePrefix+uuid.NewString()+"-")
	if err != nil {
		return nil, fmt.Errorf("workspace.Store: %w", err)
	}
	w := &Workspace{Root: root, Identifier: s.codec.Encode(root)}
	slog.DebugContext(ctx, "created workspace", "root", root)
	return w, nil
}

// WriteSources writes every source under root, creating parent directories.
// Existing files are overwritten.
// Names that are absolute, escape root or name root itself are rejected with
// ErrUnsafePath. Other write failures are reported as ErrWriteSource.
func (s *Store) WriteSources(ctx context.Context, root string, sources []*Source) error {
	for _, src := range sources {
		name, err := cleanName(src.Name)
		if err != nil {
			return fmt.Errorf("workspace.Store: %w", err)
		}

		// SecureJoin resolves symlinks that already exist under root without leaving it.
		path, err := securejoin.SecureJoin(root, name)
		if err != nil {
			return fmt.Errorf("workspace.Store: %w %s: %w", ErrWriteSource, src.Name, err)
		}

		// Conflicting names like "a" and "a/b" fail here.
		if err = os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
			return fmt.Errorf("workspace.Store: %w %s: %w", ErrWriteSource, src.Name, err)
		}
		if err = os.WriteFile(path, []byte(src.Content), 0o666); err != nil {
			return fmt.Errorf("workspace.Store: %w %s: %w", ErrWriteSource, src.Name, err)
		}
		slog.DebugContext(ctx, "wrote source", "path", path)
	}
	return nil
}

// ValidateName reports whether a source name can be written by WriteSources.
func ValidateName(name string) error {
	_, err := cleanName(name)
	return err
}

// cleanName returns the name in host form if it stays inside the directory it is joined to.
func cleanName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrUnsafePath)
	}
	n := filepath.FromSlash(name)
	if !filepath.IsLocal(n) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	n = filepath.Clean(n)
	if n == "." {
		return "", fmt.Errorf("%w: %q names the directory itself", ErrUnsafePath, name)
	}
	return n, nil
}

// Resolve decodes identifier and checks that it names a workspace of this store.
// The workspace doesn't have to exist.
func (s *Store) Resolve(identifier string) (*Workspace, error) {
	root, err := s.codec.Decode(identifier)
	if err != nil {
		return nil, fmt.Errorf("workspace.Store: %w", err)
	}
	if !filepath.IsAbs(root) || filepath.Clean(root) != root {
		return nil, fmt.Errorf("workspace.Store: %w: %q is not a clean absolute path", ErrInvalidIdentifier, root)
	}
	if filepath.Dir(root) != s.baseDir || !strings.HasPrefix(filepath.Base(root), namePrefix) {
		return nil, fmt.Errorf("workspace.Store: %w: %q is outside %s", ErrInvalidIdentifier, root, s.baseDir)
	}
	return &Workspace{Root: root, Identifier: identifier}, nil
}

// NotFoundError reports a file missing from a workspace build directory.
type NotFoundError struct {
	Filename string
	Dir      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("File %s does not exist in %s", e.Filename, e.Dir)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// Open opens filename in the build directory of the workspace named by identifier.
// The caller closes the returned file.
func (s *Store) Open(identifier string, filename string) (*os.File, error) {
	w, err := s.Resolve(identifier)
	if err != nil {
		return nil, err
	}

	name, err := cleanName(filename)
	if err != nil {
		return nil, fmt.Errorf("workspace.Store: %w", err)
	}
	path, err := securejoin.SecureJoin(w.BuildDir(), name)
	if err != nil {
		return nil, fmt.Errorf("workspace.Store: %w", err)
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{Filename: filename, Dir: w.Root}
	} else if err != nil {
		return nil, fmt.Errorf("workspace.Store: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("workspace.Store: %w", err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, &NotFoundError{Filename: filename, Dir: w.Root}
	}

	return f, nil
}

// Delete removes the workspace named by identifier with everything in it.
// Deleting a workspace that doesn't exist, including one that was already
// deleted, returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, identifier string) (*Workspace, error) {
	w, err := s.Resolve(identifier)
	if err != nil {
		return nil, err
	}

	if _, err = os.Lstat(w.Root); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("workspace.Store: %w: %s", ErrNotFound, w.Root)
	} else if err != nil {
		return nil, fmt.Errorf("workspace.Store: %w", err)
	}

	if err = os.RemoveAll(w.Root); err != nil {
		return nil, fmt.Errorf("workspace.Store: %w", err)
	}
	slog.DebugContext(ctx, "deleted workspace", "root", w.Root)
	return w, nil
}

// Sweep removes workspaces last modified before now minus maxAge
// and returns the removed ones.
func (s *Store) Sweep(ctx context.Context, maxAge time.Duration) ([]*Workspace, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("workspace.Store: %w", err)
	}

	deadline := time.Now().Add(-maxAge)
	removed := make([]*Workspace, 0)
	var errs error
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), namePrefix) {
			continue
		}
		info, err := entry.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if !info.ModTime().Before(deadline) {
			continue
		}

		root := filepath.Join(s.baseDir, entry.Name())
		if err = os.RemoveAll(root); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		slog.InfoContext(ctx, "swept workspace", "root", root, "modified_at", info.ModTime())
		removed = append(removed, &Workspace{Root: root, Identifier: s.codec.Encode(root)})
	}
	if errs != nil {
		return removed, fmt.Errorf("workspace.Store: %w", errs)
	}
	return removed, nil
}
