package buildhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/k11v/buildbox/internal/build"
	"github.com/k11v/buildbox/internal/container"
	"github.com/k11v/buildbox/internal/image"
	"github.com/k11v/buildbox/internal/workspace"
)

// StubResolver fails for the repositories in Missing.
type StubResolver struct {
	Missing map[string]bool
}

func (r *StubResolver) EnsureAvailable(ctx context.Context, ref image.Ref) error {
	if r.Missing[ref.Repository] {
		return fmt.Errorf("%w: %s: pull access denied for %s", image.ErrUnavailable, ref, ref.Repository)
	}
	return nil
}

// StubRunner writes app.wasm on cmake --build and fails it when
// the sources contain a file named FAIL_BUILD.
type StubRunner struct{}

func (StubRunner) Run(ctx context.Context, params *container.RunParams) (*container.RunResult, error) {
	root := params.Mounts[0].Source
	if params.Cmd[len(params.Cmd)-2] != "--build" {
		return &container.RunResult{Output: []byte("-- Configuring done\n")}, nil
	}
	if _, err := os.Stat(filepath.Join(root, "FAIL_BUILD")); err == nil {
		return &container.RunResult{Output: []byte("main.cxx:1: error\n"), ExitCode: 2}, nil
	}
	buildDir := filepath.Join(root, workspace.BuildDirName)
	if err := os.MkdirAll(buildDir, 0o777); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(buildDir, "app.wasm"), []byte("\x00asm"), 0o666); err != nil {
		return nil, err
	}
	return &container.RunResult{Output: []byte("[100%] Built target app\n")}, nil
}

type testServer struct {
	*httptest.Server
	BaseDir string
}

func newTestServer(tb testing.TB) *testServer {
	tb.Helper()

	baseDir := tb.TempDir()
	store, err := workspace.NewStore(&workspace.Config{BaseDir: baseDir}, workspace.Base64Codec{})
	if err != nil {
		tb.Fatalf("didn't want %q", err)
	}
	pipeline := build.NewPipeline(&build.PipelineConfig{ToolchainWrapper: "emcmake", Workers: 2}, StubRunner{})
	resolver := &StubResolver{Missing: map[string]bool{"x": true}}
	service := build.NewService(resolver, store, pipeline, build.NopDatabase{}, build.NopStorage{}, build.NopBroker{})

	mux := http.NewServeMux()
	NewHandler(service).Register(mux)
	server := httptest.NewServer(mux)
	tb.Cleanup(server.Close)

	return &testServer{Server: server, BaseDir: baseDir}
}

func (s *testServer) do(tb testing.TB, method, target string, body string) (int, string) {
	tb.Helper()

	req, err := http.NewRequest(method, s.URL+target, strings.NewReader(body))
	if err != nil {
		tb.Fatalf("didn't want %q", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.Client().Do(req)
	if err != nil {
		tb.Fatalf("didn't want %q", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		tb.Fatalf("didn't want %q", err)
	}
	return resp.StatusCode, string(respBody)
}

func (s *testServer) submit(tb testing.TB, body string) buildResponse {
	tb.Helper()

	status, respBody := s.do(tb, http.MethodPost, "/build", body)
	if got, want := status, http.StatusOK; got != want {
		tb.Fatalf("got %d, want %d: %s", got, want, respBody)
	}
	var resp buildResponse
	if err := json.Unmarshal([]byte(respBody), &resp); err != nil {
		tb.Fatalf("didn't want %q", err)
	}
	return resp
}

const validBody = `{"image":{"repository":"vtk-wasm-sdk","tag":"latest"},"sources":[{"name":"CMakeLists.txt","content":"project(app)"},{"name":"src/main.cxx","content":"int main() {}"}],"config":"Release"}`

func TestHandlerBuild(t *testing.T) {
	t.Run("builds and returns the identifier and logs", func(t *testing.T) {
		server := newTestServer(t)

		resp := server.submit(t, validBody)

		if resp.ID == "" {
			t.Fatal("got empty id, want non-empty")
		}
		for _, want := range []string{"emcmake cmake -S /buildbox-", "-- Configuring done", "cmake --build /buildbox-", "Built target app"} {
			if !strings.Contains(resp.Logs, want) {
				t.Errorf("got %q logs, want them to contain %q", resp.Logs, want)
			}
		}
	})

	t.Run("reports an unavailable image without creating a workspace", func(t *testing.T) {
		server := newTestServer(t)
		body := `{"image":{"repository":"x","tag":"y"},"sources":[{"name":"CMakeLists.txt","content":"..."}],"config":"Release"}`

		status, respBody := server.do(t, http.MethodPost, "/build", body)

		if got, want := status, http.StatusBadRequest; got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
		var resp map[string]any
		if err := json.Unmarshal([]byte(respBody), &resp); err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if msg, _ := resp["error"].(string); !strings.Contains(msg, "pull access denied") {
			t.Fatalf("got %q error, want it to reference the pull failure", msg)
		}
		if _, ok := resp["id"]; ok {
			t.Fatal("got id, want none")
		}
		entries, err := os.ReadDir(server.BaseDir)
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got := len(entries); got != 0 {
			t.Fatalf("got %d workspaces, want 0", got)
		}
	})

	t.Run("returns logs of both steps when the build step fails", func(t *testing.T) {
		server := newTestServer(t)
		body := `{"image":{"repository":"vtk-wasm-sdk","tag":"latest"},"sources":[{"name":"CMakeLists.txt","content":"..."},{"name":"FAIL_BUILD","content":""}],"config":"Release"}`

		status, respBody := server.do(t, http.MethodPost, "/build", body)

		if got, want := status, http.StatusBadRequest; got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
		var resp errorResponse
		if err := json.Unmarshal([]byte(respBody), &resp); err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if resp.Logs == nil {
			t.Fatal("got no logs, want logs")
		}
		for _, want := range []string{"-- Configuring done", "main.cxx:1: error"} {
			if !strings.Contains(*resp.Logs, want) {
				t.Errorf("got %q logs, want them to contain %q", *resp.Logs, want)
			}
		}
		entries, err := os.ReadDir(server.BaseDir)
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got, want := len(entries), 1; got != want {
			t.Fatalf("got %d workspaces, want %d", got, want)
		}
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		server := newTestServer(t)

		status, respBody := server.do(t, http.MethodPost, "/build", `{"image":`)

		if got, want := status, http.StatusBadRequest; got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
		if got, want := strings.TrimSpace(respBody), "Invalid JSON"; got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	})

	t.Run("reports sources that can't be written together", func(t *testing.T) {
		server := newTestServer(t)
		body := `{"image":{"repository":"vtk-wasm-sdk","tag":"latest"},"sources":[{"name":"a","content":"x"},{"name":"a/b","content":"y"}],"config":"Release"}`

		status, respBody := server.do(t, http.MethodPost, "/build", body)

		if got, want := status, http.StatusBadRequest; got != want {
			t.Fatalf("got %d, want %d: %s", got, want, respBody)
		}
		var resp errorResponse
		if err := json.Unmarshal([]byte(respBody), &resp); err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got, want := resp.Error, "a/b"; !strings.Contains(got, want) {
			t.Fatalf("got %q error, want it to contain %q", got, want)
		}
	})

	t.Run("rejects a source naming the workspace itself", func(t *testing.T) {
		server := newTestServer(t)
		body := `{"image":{"repository":"vtk-wasm-sdk","tag":"latest"},"sources":[{"name":".","content":"x"}],"config":"Release"}`

		status, respBody := server.do(t, http.MethodPost, "/build", body)

		if got, want := status, http.StatusBadRequest; got != want {
			t.Fatalf("got %d, want %d: %s", got, want, respBody)
		}
		var resp []ValidationError
		if err := json.Unmarshal([]byte(respBody), &resp); err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if len(resp) != 1 || resp[0].Type != "value_error" {
			t.Fatalf("got %+v, want one value_error", resp)
		}
	})

	t.Run("lists every invalid field", func(t *testing.T) {
		server := newTestServer(t)
		body := `{"image":{"repository":"vtk-wasm-sdk"},"sources":[{"name":"../escape.txt","content":"x"},{"content":1}]}`

		status, respBody := server.do(t, http.MethodPost, "/build", body)

		if got, want := status, http.StatusBadRequest; got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
		var resp []ValidationError
		if err := json.Unmarshal([]byte(respBody), &resp); err != nil {
			t.Fatalf("didn't want %q", err)
		}
		got := make([]string, 0, len(resp))
		for _, e := range resp {
			loc, _ := json.Marshal(e.Loc)
			got = append(got, string(loc)+" "+e.Type)
		}
		want := []string{
			`["image","tag"] missing`,
			`["sources",0,"name"] value_error`,
			`["sources",1,"name"] missing`,
			`["sources",1,"content"] string_type`,
			`["config"] missing`,
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("got %q, want %q", got, want)
		}

		entries, err := os.ReadDir(server.BaseDir)
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got := len(entries); got != 0 {
			t.Fatalf("got %d workspaces, want 0", got)
		}
	})
}

func TestHandlerFile(t *testing.T) {
	t.Run("serves a built file", func(t *testing.T) {
		server := newTestServer(t)
		resp := server.submit(t, validBody)

		status, body := server.do(t, http.MethodGet, "/app.wasm?id="+url.QueryEscape(resp.ID), "")

		if got, want := status, http.StatusOK; got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
		if got, want := body, "\x00asm"; got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	})

	t.Run("names the file and the directory when the file is missing", func(t *testing.T) {
		server := newTestServer(t)
		resp := server.submit(t, validBody)
		root, err := workspace.Base64Codec{}.Decode(resp.ID)
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}

		status, body := server.do(t, http.MethodGet, "/missing.txt?id="+url.QueryEscape(resp.ID), "")

		if got, want := status, http.StatusBadRequest; got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
		if got, want := strings.TrimSpace(body), "File missing.txt does not exist in "+root; got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	})

	t.Run("rejects an empty id", func(t *testing.T) {
		server := newTestServer(t)

		status, body := server.do(t, http.MethodGet, "/app.wasm", "")

		if got, want := status, http.StatusBadRequest; got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
		if got, want := strings.TrimSpace(body), "Invalid directory name for id="; got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	})

	t.Run("rejects an id outside the workspace directory", func(t *testing.T) {
		server := newTestServer(t)
		id := workspace.Base64Codec{}.Encode("/etc")

		status, _ := server.do(t, http.MethodGet, "/passwd?id="+url.QueryEscape(id), "")

		if got, want := status, http.StatusBadRequest; got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
	})
}

func TestHandlerDelete(t *testing.T) {
	t.Run("deletes once and reports the second delete as not found", func(t *testing.T) {
		server := newTestServer(t)
		resp := server.submit(t, validBody)
		target := "/delete?id=" + url.QueryEscape(resp.ID)

		status, body := server.do(t, http.MethodDelete, target, "")
		if got, want := status, http.StatusOK; got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
		if got, want := body, "Ok"; got != want {
			t.Fatalf("got %q, want %q", got, want)
		}

		status, _ = server.do(t, http.MethodGet, "/app.wasm?id="+url.QueryEscape(resp.ID), "")
		if got, want := status, http.StatusBadRequest; got != want {
			t.Fatalf("got %d, want %d", got, want)
		}

		status, _ = server.do(t, http.MethodDelete, target, "")
		if got, want := status, http.StatusNotFound; got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
	})

	t.Run("doesn't delete outside the workspace directory", func(t *testing.T) {
		server := newTestServer(t)
		outside := t.TempDir()
		id := workspace.Base64Codec{}.Encode(outside)

		status, _ := server.do(t, http.MethodDelete, "/delete?id="+url.QueryEscape(id), "")

		if got, want := status, http.StatusBadRequest; got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
		if _, err := os.Stat(outside); err != nil {
			t.Fatalf("didn't want %q", err)
		}
	})
}

func TestHandlerHealth(t *testing.T) {
	t.Run("reports ok", func(t *testing.T) {
		server := newTestServer(t)

		status, body := server.do(t, http.MethodGet, "/health", "")

		if got, want := status, http.StatusOK; got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
		if got, want := strings.TrimSpace(body), `{"status":"ok"}`; got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	})

	t.Run("serves a built file named health when an id is given", func(t *testing.T) {
		server := newTestServer(t)
		resp := server.submit(t, validBody)
		root, err := workspace.Base64Codec{}.Decode(resp.ID)
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if err = os.WriteFile(filepath.Join(root, workspace.BuildDirName, "health"), []byte("artifact"), 0o666); err != nil {
			t.Fatalf("didn't want %q", err)
		}

		status, body := server.do(t, http.MethodGet, "/health?id="+url.QueryEscape(resp.ID), "")

		if got, want := status, http.StatusOK; got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
		if got, want := body, "artifact"; got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	})
}

// ErrorService fails every call with Err.
type ErrorService struct {
	Err error
}

func (s *ErrorService) Submit(ctx context.Context, params *build.SubmitParams) (*build.Build, error) {
	return nil, s.Err
}

func (s *ErrorService) Open(ctx context.Context, params *build.OpenParams) (*os.File, error) {
	return nil, s.Err
}

func (s *ErrorService) Delete(ctx context.Context, params *build.DeleteParams) error {
	return s.Err
}

func TestHandlerServerError(t *testing.T) {
	mux := http.NewServeMux()
	NewHandler(&ErrorService{Err: errors.New("disk on fire")}).Register(mux)

	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{"build", http.MethodPost, "/build", validBody},
		{"file", http.MethodGet, "/app.wasm?id=abc", ""},
		{"delete", http.MethodDelete, "/delete?id=abc", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))

			mux.ServeHTTP(rec, req)

			if got, want := rec.Code, http.StatusInternalServerError; got != want {
				t.Fatalf("got %d, want %d", got, want)
			}
			if got, want := strings.TrimSpace(rec.Body.String()), "internal server error"; got != want {
				t.Fatalf("got %q, want %q", got, want)
			}
		})
	}
}
