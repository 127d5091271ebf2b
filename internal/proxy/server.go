package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/voltson-proxy/internal/infrastructure/config"
	"github.com/nerrad567/voltson-proxy/internal/infrastructure/logging"
	"github.com/nerrad567/voltson-proxy/internal/outlet"
	"github.com/nerrad567/voltson-proxy/internal/protocol"
)

// shutdownTimeout bounds the wait for the listener to drain on Close.
const shutdownTimeout = 5 * time.Second

// upgrader accepts the device's WebSocket handshake. The firmware sends no
// Origin header worth checking.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// Server accepts outlet connections on the firmware's WebSocket path and
// spawns one Session per connection.
type Server struct {
	cfg      config.ProxyConfig
	logger   *logging.Logger
	registry *outlet.Registry
	server   *http.Server
	sessCfg  SessionConfig
	dial     Dialer
}

// Deps holds the dependencies required by the proxy server.
type Deps struct {
	Config   config.ProxyConfig
	Logger   *logging.Logger
	Registry *outlet.Registry

	// Dial overrides the cloud dialer; nil uses the gorilla dialer
	// against Config.RemoteURL.
	Dial Dialer
}

// New creates a proxy server. Start must be called to begin listening.
func New(deps Deps) (*Server, error) {
	if deps.Registry == nil {
		return nil, errors.New("proxy: registry is required")
	}
	if deps.Logger == nil {
		return nil, errors.New("proxy: logger is required")
	}

	var decoder protocol.LoginDecoder
	switch deps.Config.LoginEncoding {
	case "plain":
		decoder = protocol.PlainLoginDecoder{}
	default:
		decoder = protocol.Base64LoginDecoder{}
	}

	s := &Server{
		cfg:      deps.Config,
		logger:   deps.Logger.With("component", "proxy"),
		registry: deps.Registry,
		sessCfg: SessionConfig{
			LoginDeadline: time.Duration(deps.Config.LoginDeadlineMS) * time.Millisecond,
			BufferLimit:   deps.Config.BufferLimit,
			LoginDecoder:  decoder,
		},
	}

	s.dial = deps.Dial
	if s.dial == nil {
		dialer := &websocket.Dialer{
			HandshakeTimeout: time.Duration(deps.Config.DialTimeoutMS) * time.Millisecond,
		}
		remote := deps.Config.RemoteURL
		s.dial = func() (Conn, error) {
			conn, _, err := dialer.Dial(remote, nil)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCloudUnavailable, err)
			}
			return conn, nil
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc(deps.Config.Path, s.handleDeviceConnect)
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", deps.Config.Host, deps.Config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Start begins accepting device connections. It does not block; listener
// errors after startup are logged.
func (s *Server) Start() {
	s.logger.Info("proxy listening",
		"addr", s.server.Addr,
		"path", s.cfg.Path,
		"remote", s.cfg.RemoteURL,
	)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("proxy listener failed", "error", err)
		}
	}()
}

// Close shuts the listener down. Live sessions are not interrupted: their
// device sockets belong to hijacked connections that close with the
// process.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("proxy: shutdown: %w", err)
	}
	return nil
}

// handleDeviceConnect upgrades a device connection and runs its session.
func (s *Server) handleDeviceConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	sess := NewSession(conn, s.registry, s.dial, s.sessCfg, s.logger)
	go sess.Run()
}
