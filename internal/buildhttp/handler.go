package buildhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/k11v/buildbox/internal/build"
	"github.com/k11v/buildbox/internal/image"
	"github.com/k11v/buildbox/internal/workspace"
)

const (
	queryID = "id"

	// maxRequestBodySize limits POST /build bodies; sources are sent inline.
	maxRequestBodySize = 32 << 20
)

// Service is implemented by *build.Service.
type Service interface {
	Submit(ctx context.Context, params *build.SubmitParams) (*build.Build, error)
	Open(ctx context.Context, params *build.OpenParams) (*os.File, error)
	Delete(ctx context.Context, params *build.DeleteParams) error
}

var _ Service = (*build.Service)(nil)

type Handler struct {
	service Service // required
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Register adds the handler's routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /build", h.Build)
	mux.HandleFunc("DELETE /delete", h.Delete)
	mux.HandleFunc("GET /{filename}", h.File)
}

// Health godoc
//
//	@Summary		Report that the server is up
//	@Description	With an id, serves the built file named health instead.
//	@Produce		json
//	@Param			id	query		string	false	"Workspace identifier"
//	@Success		200	{object}	healthResponse
//	@Router			/health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Has(queryID) {
		h.serveFile(w, r, "health")
		return
	}
	writeJSON(w, r, http.StatusOK, healthResponse{Status: "ok"})
}

type healthResponse struct {
	Status string `json:"status"`
}

type buildRequest struct {
	Image struct {
		Repository string `json:"repository"`
		Tag        string `json:"tag"`
	} `json:"image"`
	Sources []struct {
		Name    string `json:"name"`
		Content string `json:"content"`
	} `json:"sources"`
	Config string `json:"config"`
}

type buildResponse struct {
	ID   string `json:"id"`
	Logs string `json:"logs"`
}

type errorResponse struct {
	Error string  `json:"error"`
	Logs  *string `json:"logs,omitempty"`
}

// Build godoc
//
//	@Summary	Build sources in a new workspace
//	@Accept		json
//	@Produce	json
//	@Param		request	body		buildRequest	true	"Image, sources and build type"
//	@Success	200		{object}	buildResponse
//	@Failure	400		{object}	errorResponse
//	@Router		/build [post]
func (h *Handler) Build(w http.ResponseWriter, r *http.Request) {
	var body any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err := dec.Decode(&body); err != nil {
		serveClientError(w, r, fmt.Errorf("invalid request body: %w", err), "Invalid JSON")
		return
	}
	if dec.More() {
		serveClientError(w, r, errors.New("invalid request body: multiple top-level values"), "Invalid JSON")
		return
	}

	params, err := validateBuildRequest(body)
	if validationErrs := ValidationErrors(nil); errors.As(err, &validationErrs) {
		logClientError(r, err)
		writeJSON(w, r, http.StatusBadRequest, validationErrs)
		return
	}

	// Builds run to completion even if the caller disconnects.
	ctx := context.WithoutCancel(r.Context())
	b, err := h.service.Submit(ctx, params)
	if err != nil {
		stepErr := (*build.StepError)(nil)
		switch {
		case errors.As(err, &stepErr):
			logClientError(r, err)
			logs := stepErr.Logs
			writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: stepErr.Error(), Logs: &logs})
		case errors.Is(err, image.ErrUnavailable),
			errors.Is(err, workspace.ErrUnsafePath),
			errors.Is(err, workspace.ErrWriteSource):
			logClientError(r, err)
			writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: err.Error()})
		default:
			serveServerError(w, r, err)
		}
		return
	}

	writeJSON(w, r, http.StatusOK, buildResponse{ID: b.Identifier, Logs: b.Logs})
}

// File godoc
//
//	@Summary	Download a file from a workspace build directory
//	@Produce	octet-stream
//	@Param		filename	path		string	true	"File name relative to the build directory"
//	@Param		id			query		string	true	"Workspace identifier"
//	@Success	200			{file}		file
//	@Failure	400			{string}	string
//	@Router		/{filename} [get]
func (h *Handler) File(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, r, r.PathValue("filename"))
}

func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request, filename string) {
	id := r.URL.Query().Get(queryID)
	if id == "" {
		serveClientError(w, r, workspace.ErrInvalidIdentifier, "Invalid directory name for id="+id)
		return
	}

	f, err := h.service.Open(r.Context(), &build.OpenParams{Identifier: id, Filename: filename})
	if err != nil {
		notFoundErr := (*workspace.NotFoundError)(nil)
		switch {
		case errors.As(err, &notFoundErr):
			serveClientError(w, r, err, notFoundErr.Error())
		case errors.Is(err, workspace.ErrInvalidIdentifier):
			serveClientError(w, r, err, "Invalid directory name for id="+id)
		case errors.Is(err, workspace.ErrUnsafePath):
			serveClientError(w, r, err, "Invalid file name "+filename)
		default:
			serveServerError(w, r, err)
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		serveServerError(w, r, err)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// Delete godoc
//
//	@Summary	Delete a workspace
//	@Produce	plain
//	@Param		id	query		string	true	"Workspace identifier"
//	@Success	200	{string}	string	"Ok"
//	@Failure	400	{string}	string
//	@Failure	404	{string}	string
//	@Router		/delete [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get(queryID)
	if id == "" {
		serveClientError(w, r, workspace.ErrInvalidIdentifier, "Invalid directory name for id="+id)
		return
	}

	err := h.service.Delete(r.Context(), &build.DeleteParams{Identifier: id})
	switch {
	case errors.Is(err, workspace.ErrInvalidIdentifier):
		serveClientError(w, r, err, "Invalid directory name for id="+id)
		return
	case errors.Is(err, workspace.ErrNotFound):
		logClientError(r, err)
		http.Error(w, "Workspace does not exist for id="+id, http.StatusNotFound)
		return
	case err != nil:
		serveServerError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ok"))
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "didn't write response", "component", "buildhttp", "err", err)
	}
}

func logClientError(r *http.Request, err error) {
	slog.WarnContext(r.Context(), "client error", "component", "buildhttp", "method", r.Method, "path", r.URL.Path, "err", err)
}

func serveClientError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	logClientError(r, err)
	http.Error(w, msg, http.StatusBadRequest)
}

func serveServerError(w http.ResponseWriter, r *http.Request, err error) {
	slog.ErrorContext(r.Context(), "server error", "component", "buildhttp", "method", r.Method, "path", r.URL.Path, "err", err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}
