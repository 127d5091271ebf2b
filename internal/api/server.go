// Package api provides the HTTP control surface for the proxy.
//
// It exposes read access to every known outlet's authoritative state,
// relay control and telemetry requests via message injection, stored
// energy history, a nightlight convenience endpoint, and a
// natural-language command endpoint driven by configured regex patterns.
//
// The server follows the same lifecycle pattern as the other
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/nerrad567/voltson-proxy/internal/infrastructure/config"
	"github.com/nerrad567/voltson-proxy/internal/infrastructure/logging"
	"github.com/nerrad567/voltson-proxy/internal/outlet"
	"github.com/nerrad567/voltson-proxy/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Outlets  config.OutletsConfig
	Logger   *logging.Logger
	Registry *outlet.Registry

	// Store serves the history endpoints; nil disables them.
	Store *telemetry.Store

	Version string
}

// commandPattern is one compiled natural-language command rule.
type commandPattern struct {
	re     *regexp.Regexp
	action outlet.Relay
}

// Server is the HTTP control surface.
//
// It is created with New() and started with Start(); all handlers are
// safe for concurrent use.
type Server struct {
	cfg      config.APIConfig
	outlets  config.OutletsConfig
	logger   *logging.Logger
	registry *outlet.Registry
	store    *telemetry.Store
	version  string

	commands []commandPattern

	server *http.Server

	// now is replaceable in tests of the nightlight window.
	now func() time.Time
}

// New creates a new API server with the given dependencies. The server
// is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("api: logger is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("api: outlet registry is required")
	}

	s := &Server{
		cfg:      deps.Config,
		outlets:  deps.Outlets,
		logger:   deps.Logger.With("component", "api"),
		registry: deps.Registry,
		store:    deps.Store,
		version:  deps.Version,
		now:      time.Now,
	}

	// Patterns are validated by config.Validate; a compile failure here
	// means the config was never validated.
	for _, p := range deps.Outlets.Commands {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("api: compiling command pattern %q: %w", p.Pattern, err)
		}
		s.commands = append(s.commands, commandPattern{
			re:     re,
			action: outlet.Relay(p.Action),
		})
	}

	return s, nil
}

// Start begins listening for HTTP connections. It does not block; the
// server is stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", s.server.Addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting for in-flight
// requests up to gracefulShutdownTimeout.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

// resolveID maps a path segment onto a device id: a configured friendly
// name wins, anything else is taken as a raw device id.
func (s *Server) resolveID(segment string) string {
	if id, ok := s.outlets.FriendlyNames[segment]; ok {
		return id
	}
	return segment
}

// friendlyName reverse-maps a device id to its configured name, empty
// when unnamed.
func (s *Server) friendlyName(deviceID string) string {
	for name, id := range s.outlets.FriendlyNames {
		if id == deviceID {
			return name
		}
	}
	return ""
}
