package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"geoattend/internal/api"
	"geoattend/internal/attendance"
	"geoattend/internal/config"
	"geoattend/internal/database"
	"geoattend/internal/hub"
	"geoattend/internal/metrics"
	"geoattend/internal/session"
	"geoattend/internal/websocket"
	pkgdatabase "geoattend/pkg/database"
	"geoattend/pkg/interfaces"
)

const limiterCleanupInterval = time.Minute

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	dbManager  *database.Manager
	sessions   *session.Manager
	engine     *attendance.Engine
	registry   *websocket.Registry
	eventHub   *hub.Hub
	collector  *metrics.Collector
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	serveErr chan error
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Registry → Hub → Metrics → Session/Attendance → WebSocket → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: database and schema
	dbConfig := cfg.StoreConfig()
	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	migrations := pkgdatabase.NewMigrationManager(dbManager.GetDB(), dbConfig.MigrationsPath)
	if err := migrations.ApplyMigrations(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("database schema validation failed: %w", err)
	}
	log.Printf("Database ready at %s", dbConfig.DatabasePath)

	// STEP 2: live feed plumbing
	registry := websocket.NewRegistry()
	eventHub := hub.NewHub(registry)

	publishers := interfaces.Publishers{eventHub}
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		publishers = append(publishers, collector)
	}

	// STEP 3: core
	sessions := session.NewManager(dbManager, publishers)
	engine := attendance.NewEngine(dbManager, publishers)

	// STEP 4: transport
	wsHandler := websocket.NewHandler(registry, sessions, engine, websocket.HandlerConfig{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
	})

	deps := api.Dependencies{
		Sessions:  sessions,
		Engine:    engine,
		Health:    dbManager,
		Registry:  registry,
		WebSocket: http.HandlerFunc(wsHandler.HandleWebSocket),
	}
	if collector != nil {
		deps.Metrics = collector
		deps.MetricsHandler = collector.Handler()
		gauges := []struct {
			name, help string
			sample     func() float64
		}{
			{"dashboard_connections", "Open teacher dashboard connections.",
				func() float64 { return float64(registry.GetStats()["total_connections"]) }},
			{"watched_sessions", "Sessions with at least one open dashboard.",
				func() float64 { return float64(registry.GetStats()["watched_sessions"]) }},
			{"hub_events_dropped", "Live feed events dropped because the hub was stopped or full.",
				func() float64 { return float64(eventHub.Stats()["dropped"]) }},
		}
		for _, g := range gauges {
			if err := collector.RegisterGauge(g.name, g.help, g.sample); err != nil {
				_ = dbManager.Close()
				return nil, fmt.Errorf("failed to register metric %s: %w", g.name, err)
			}
		}
	}

	apiServer := api.NewServer(deps, api.Config{
		JoinRateLimit:  cfg.Attendance.JoinRateLimit,
		JoinRateWindow: cfg.Attendance.JoinRateWindow,
	})

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		dbManager:  dbManager,
		sessions:   sessions,
		engine:     engine,
		registry:   registry,
		eventHub:   eventHub,
		collector:  collector,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start launches the hub and the limiter cleanup loop, then begins serving.
// It returns once the listener is bound; serve errors surface on Err.
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.listener != nil {
		return errors.New("application already started")
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := app.eventHub.Start(runCtx); err != nil {
		cancel()
		_ = listener.Close()
		return fmt.Errorf("failed to start event hub: %w", err)
	}
	go app.apiServer.JoinLimiter().Run(runCtx, limiterCleanupInterval)

	app.listener = listener
	app.cancel = cancel
	app.serveErr = make(chan error, 1)

	go func(serveErr chan<- error) {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(serveErr)
	}(app.serveErr)

	log.Printf("geoattend listening on %s", listener.Addr())
	return nil
}

// Err delivers a fatal serve error, or is closed after a clean shutdown
func (app *Application) Err() <-chan error {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.serveErr
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Hub → Dashboards → Database
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down geoattend")

	var errs []error

	app.mu.Lock()
	started := app.listener != nil
	cancel := app.cancel
	app.mu.Unlock()

	if started {
		if err := app.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
		}
		if err := app.eventHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
			errs = append(errs, fmt.Errorf("event hub shutdown: %w", err))
		}
		cancel()
	}

	// hijacked WebSocket connections are not tracked by Shutdown
	app.registry.CloseAll()

	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database shutdown: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		log.Printf("Shutdown finished with errors: %v", err)
		return err
	}
	log.Printf("geoattend shutdown complete")
	return nil
}

// GetAddr returns the bound address once started, the configured one before
func (app *Application) GetAddr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the full HTTP surface, for in-process tests
func (app *Application) Handler() http.Handler {
	return app.apiServer
}
