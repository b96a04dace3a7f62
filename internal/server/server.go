package server

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/k11v/buildbox/internal/buildhttp"
)

// New returns a new HTTP server serving the build handler.
// It should be started with http.Server's ListenAndServe.
func New(cfg *Config, log *slog.Logger, h *buildhttp.Handler, development bool) *http.Server {
	addr := net.JoinHostPort(cfg.host(), strconv.Itoa(cfg.port()))

	subLogger := log.With("component", "server")
	subLogLogger := slog.NewLogLogger(subLogger.Handler(), slog.LevelError)

	mux := http.NewServeMux()
	if development {
		mux.Handle("GET /swagger/", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
	}
	h.Register(mux)

	return &http.Server{
		Addr:              addr,
		ErrorLog:          subLogLogger,
		Handler:           withCORS(mux),
		ReadHeaderTimeout: cfg.readHeaderTimeout(),
	}
}

// withCORS allows every origin, method and header, with credentials.
// The origin is echoed back because browsers reject "*" with credentials.
func withCORS(h http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		AllowOriginFunc:  func(origin string) bool { return true },
	})
	return c.Handler(h)
}
