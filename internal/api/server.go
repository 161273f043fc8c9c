package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/SunshadeCorp/relay-service/internal/infrastructure/config"
	"github.com/SunshadeCorp/relay-service/internal/infrastructure/logging"
	"github.com/SunshadeCorp/relay-service/internal/journal"
	"github.com/SunshadeCorp/relay-service/internal/metrics"
	"github.com/SunshadeCorp/relay-service/internal/process"
	"github.com/SunshadeCorp/relay-service/internal/relay"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// KillSwitch exposes the kill-switch monitor's view of the line.
type KillSwitch interface {
	State() string
	Unsafe() bool
	LineActive() bool
}

// Precharge reports whether a precharge sequence is in progress.
type Precharge interface {
	Running() bool
}

// ConnectionStatus reports broker connectivity.
type ConnectionStatus interface {
	IsConnected() bool
}

// EventReader queries the event journal.
type EventReader interface {
	Recent(ctx context.Context, q journal.Query) ([]journal.Entry, error)
}

// HealthChecker is implemented by optional backing stores.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ProcessStatus reports a supervised child process, such as the managed
// broker.
type ProcessStatus interface {
	Stats() process.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Logger     *logging.Logger
	Registry   *relay.Registry
	KillSwitch KillSwitch
	Precharge  Precharge
	MQTT       ConnectionStatus

	// Optional.
	Journal    EventReader
	Database   HealthChecker
	TimeSeries HealthChecker
	Broker     ProcessStatus
	Metrics    *metrics.Metrics
	Hub        *Hub // created by New when nil

	Version string
}

// Server is the HTTP status API.
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	registry   *relay.Registry
	killSwitch KillSwitch
	precharge  Precharge
	mqtt       ConnectionStatus
	journal    EventReader
	db         HealthChecker
	timeSeries HealthChecker
	broker     ProcessStatus
	metrics    *metrics.Metrics
	hub        *Hub
	version    string
	startTime  time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("relay registry is required")
	}
	if deps.KillSwitch == nil {
		return nil, fmt.Errorf("kill switch is required")
	}
	if deps.Precharge == nil {
		return nil, fmt.Errorf("precharge sequencer is required")
	}
	if deps.MQTT == nil {
		return nil, fmt.Errorf("mqtt status is required")
	}

	s := &Server{
		cfg:        deps.Config,
		logger:     deps.Logger.Component("api"),
		registry:   deps.Registry,
		killSwitch: deps.KillSwitch,
		precharge:  deps.Precharge,
		mqtt:       deps.MQTT,
		journal:    deps.Journal,
		db:         deps.Database,
		timeSeries: deps.TimeSeries,
		broker:     deps.Broker,
		metrics:    deps.Metrics,
		hub:        deps.Hub,
		version:    deps.Version,
		startTime:  time.Now(),
	}
	if s.hub == nil {
		s.hub = NewHub(deps.Config.WebSocket, s.logger)
	}
	return s, nil
}

// Handler returns the routed HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in a background goroutine.
// Bind errors are returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.New("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the server, waiting up to ten seconds for
// in-flight requests. WebSocket clients are disconnected.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.server = nil
	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}
