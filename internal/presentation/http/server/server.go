// Package server runs the telemetry agent's HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/application/container"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/presentation/http/routes"
	"github.com/AtRiskMedia/tractstack-telemetry/pkg/config"
)

const readHeaderTimeout = 5 * time.Second

type Server struct {
	http *http.Server
	app  *container.Container
}

// New builds the router for app and binds it to port.
func New(port string, app *container.Container) *Server {
	return &Server{
		app: app,
		http: &http.Server{
			Addr:              ":" + port,
			Handler:           routes.SetupRoutes(app),
			ReadHeaderTimeout: readHeaderTimeout,
			ReadTimeout:       config.ServerReadTimeout,
			// Zero keeps SSE and websocket streams open.
			WriteTimeout: config.ServerWriteTimeout,
			IdleTimeout:  config.ServerIdleTimeout,
		},
	}
}

// Addr is the listen address.
func (s *Server) Addr() string { return s.http.Addr }

// Start blocks serving requests. It returns nil once Stop has been called.
func (s *Server) Start() error {
	s.app.Logger.System().Info("Telemetry API listening",
		"address", s.http.Addr,
		"namespace", s.app.Config.Namespace)

	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("telemetry API on %s: %w", s.http.Addr, err)
}

// Stop drains open requests until ctx expires. Streaming clients are cut off
// when ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	s.app.Logger.Shutdown().Info("Stopping telemetry API", "address", s.http.Addr)
	return s.http.Shutdown(ctx)
}
