// Package api exposes an optional local status server for a running cast
// session: session state, version info, and Prometheus metrics.
package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deskcast/deskcast/internal/logging"
	"github.com/deskcast/deskcast/internal/version"
)

// StatusSource reports the live state of the running session.
type StatusSource interface {
	Status() Status
}

// Status is the session snapshot served by the status endpoint.
type Status struct {
	State     string `json:"state" doc:"Current session state"`
	Device    string `json:"device,omitempty" doc:"Resolved receiver device"`
	StreamURL string `json:"stream_url,omitempty" doc:"URL the receiver pulls from"`
	Backend   string `json:"backend,omitempty" doc:"Active encoder backend"`
}

// StatusResponse wraps Status for huma.
type StatusResponse struct {
	Body Status
}

// VersionResponse wraps version info for huma.
type VersionResponse struct {
	Body version.Info
}

// Server is the local HTTP status server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	source     StatusSource
	logger     logging.Logger
}

// NewServer creates a status server backed by the given source.
func NewServer(source StatusSource) *Server {
	mux := http.NewServeMux()

	config := huma.DefaultConfig("Deskcast Status API", version.String())
	config.Info.Description = "Local status API for a running desktop cast session"
	config.Servers = []*huma.Server{}

	s := &Server{
		api:    humago.New(mux, config),
		mux:    mux,
		source: source,
		logger: logging.GetLogger("api"),
	}

	mux.Handle("GET /metrics", promhttp.Handler())
	s.registerRoutes()
	return s
}

// Start serves on addr until Stop is called. Blocks.
func (s *Server) Start(addr string) error {
	s.logger.Info("Status server listening", "addr", addr, "docs", "http://"+addr+"/docs")
	s.httpServer = &http.Server{Addr: addr, Handler: s.mux}
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down immediately. The process is exiting; there is
// nothing to drain.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/status",
		Summary:     "Session status",
		Description: "Get the current cast session state",
		Tags:        []string{"session"},
	}, func(ctx context.Context, input *struct{}) (*StatusResponse, error) {
		return &StatusResponse{Body: s.source.Status()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
	}, func(ctx context.Context, input *struct{}) (*VersionResponse, error) {
		return &VersionResponse{Body: version.Get()}, nil
	})
}
