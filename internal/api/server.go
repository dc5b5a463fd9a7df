package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/portacool-apex/internal/bridge"
	"github.com/nerrad567/portacool-apex/internal/history"
	"github.com/nerrad567/portacool-apex/internal/infrastructure/config"
	"github.com/nerrad567/portacool-apex/internal/infrastructure/logging"
	"github.com/nerrad567/portacool-apex/internal/portacool/coordinator"
	"github.com/nerrad567/portacool-apex/internal/portacool/entity"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// StateSource renders the current entity state. *entity.View implements it.
type StateSource interface {
	State() entity.State
}

// CredentialStore is the part of *cloud.Credentials the options and
// diagnostics endpoints use.
type CredentialStore interface {
	SetIdentityAPIKey(key string) bool
	Expiry() (session, identity time.Time)
}

// HistoryStore reads the command and snapshot logs. *history.Repository
// implements it.
type HistoryStore interface {
	ListCommands(ctx context.Context, limit int) ([]history.CommandEntry, error)
	ListSnapshots(ctx context.Context, limit int) ([]history.SnapshotEntry, error)
}

// ConnectionStatus reports broker connectivity. *mqtt.Client implements it.
type ConnectionStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Logger      *logging.Logger
	Coordinator *coordinator.Coordinator
	State       StateSource
	Dispatcher  *bridge.Dispatcher

	// Optional.
	Credentials CredentialStore
	History     HistoryStore
	MQTT        ConnectionStatus

	// AppConfig is reported, redacted, by the diagnostics endpoint.
	AppConfig *config.Config

	Version string
}

// Server is the HTTP API server for the bridge.
//
// It manages the HTTP listener, routes, middleware, the WebSocket hub and
// the Prometheus collectors. The server is created with New() and started
// with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	coord       *coordinator.Coordinator
	state       StateSource
	dispatcher  *bridge.Dispatcher
	creds       CredentialStore
	history     HistoryStore
	mqtt        ConnectionStatus
	appCfg      *config.Config
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	metrics     *Metrics
	unsubscribe func()
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, coordinator, state, dispatcher)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if deps.State == nil {
		return nil, fmt.Errorf("state source is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("command dispatcher is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		coord:      deps.Coordinator,
		state:      deps.State,
		dispatcher: deps.Dispatcher,
		creds:      deps.Credentials,
		history:    deps.History,
		mqtt:       deps.MQTT,
		appCfg:     deps.AppConfig,
		version:    deps.Version,
		startTime:  time.Now(),
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	s.metrics = NewMetrics(s.coord)
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, registers the coordinator listener that
// feeds WebSocket clients and metrics, and launches the HTTP listener in
// a background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.unsubscribe = s.coord.AddListener(s.onUpdate)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// onUpdate runs on the coordinator's goroutine for every update.
func (s *Server) onUpdate(u coordinator.Update) {
	s.metrics.Observe(u, s.state.State())
	if u.Err != nil {
		return
	}
	s.hub.Broadcast(ChannelState, s.state.State())
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// Handler returns the router without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}
