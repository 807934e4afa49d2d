package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/sift/internal/api"
	"github.com/jackzampolin/sift/internal/cache"
	"github.com/jackzampolin/sift/internal/config"
	"github.com/jackzampolin/sift/internal/extraction"
	"github.com/jackzampolin/sift/internal/home"
	"github.com/jackzampolin/sift/internal/ledger"
	"github.com/jackzampolin/sift/internal/providers"
	"github.com/jackzampolin/sift/internal/schema"
	"github.com/jackzampolin/sift/internal/server/endpoints"
	"github.com/jackzampolin/sift/internal/store"
	"github.com/jackzampolin/sift/internal/svcctx"
)

// Server is the sift HTTP server.
// It owns the usage ledger and result cache connections for its lifetime.
type Server struct {
	httpServer *http.Server
	registry   *providers.Registry
	configMgr  *config.Manager
	home       *home.Dir
	logger     *slog.Logger

	// db is opened by Init unless the caller supplied one.
	db      *store.Store
	ownsDB  bool
	ledger  *ledger.Ledger
	cache   *cache.Redis
	schemas *schema.Catalog

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Home locates the default ledger and the schema catalog
	Home *home.Dir
	// Logger is the structured logger to use
	Logger *slog.Logger
	// Store is used as the ledger database instead of the configured one.
	// The caller keeps ownership.
	Store *store.Store
	// Registry replaces the registry built from ConfigManager.
	Registry *providers.Registry
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = providers.NewRegistry()
		registry.SetLogger(cfg.Logger)

		// If config manager provided, set up providers and hot reload
		if cfg.ConfigManager != nil {
			registry.Reload(cfg.ConfigManager.Get().ToProviderRegistryConfig())

			cfg.ConfigManager.OnChange(func(c *config.Config) {
				registry.Reload(c.ToProviderRegistryConfig())
				cfg.Logger.Info("provider registry reloaded from config", "providers", registry.Names())
			})
		}
	}

	schemas := schema.NewCatalog()
	if cfg.Home != nil {
		loaded, err := schema.LoadCatalog(cfg.Home.SchemasPath())
		if err != nil {
			return nil, fmt.Errorf("failed to load schema catalog: %w", err)
		}
		schemas = loaded
	}

	s := &Server{
		registry:  registry,
		configMgr: cfg.ConfigManager,
		home:      cfg.Home,
		logger:    cfg.Logger,
		db:        cfg.Store,
		schemas:   schemas,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = endpoints.Registry()

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No write timeout: a response waits for the whole extraction.
		IdleTimeout: 120 * time.Second,
	}

	return s, nil
}

// Init opens the usage ledger and result cache and builds the extractor.
// Start calls it; tests call it directly and serve Handler themselves.
func (s *Server) Init(ctx context.Context) error {
	cfg := s.config()

	if s.db == nil {
		driver, dsn := cfg.Ledger.Driver, cfg.LedgerDSN()
		if dsn == "" && (driver == "" || driver == store.DriverSQLite) {
			if s.home == nil {
				return errors.New("no ledger dsn configured and no home directory")
			}
			if err := s.home.EnsureExists(); err != nil {
				return err
			}
			dsn = s.home.LedgerPath()
		}
		s.logger.Info("opening usage ledger", "driver", driver)
		db, err := store.Open(ctx, driver, dsn, s.logger)
		if err != nil {
			return fmt.Errorf("failed to open ledger: %w", err)
		}
		s.db = db
		s.ownsDB = true
	}

	l, err := ledger.Open(ctx, s.db, s.logger)
	if err != nil {
		s.closeDB()
		return fmt.Errorf("failed to initialize ledger: %w", err)
	}
	s.ledger = l

	opts := []extraction.Option{
		extraction.WithLogger(s.logger),
		extraction.WithDefaultProvider(cfg.Defaults.Provider),
		extraction.WithObserver(l),
	}
	if url := cfg.RedisURL(); url != "" {
		c, err := cache.New(url, cfg.Cache.TTLDuration())
		if err != nil {
			s.logger.Warn("result cache disabled", "error", err)
		} else if err := c.Ping(ctx); err != nil {
			s.logger.Warn("result cache unreachable, continuing without it", "error", err)
			_ = c.Close()
		} else {
			s.cache = c
			opts = append(opts, extraction.WithCache(c))
			s.logger.Info("result cache enabled", "ttl", c.TTL())
		}
	}

	services := &svcctx.Services{
		Registry:      s.registry,
		Extractor:     extraction.New(s.registry, opts...),
		Ledger:        l,
		Cache:         s.cache,
		Schemas:       s.schemas,
		ConfigManager: s.configMgr,
		Logger:        s.logger,
		Home:          s.home,
	}

	s.mu.Lock()
	s.services = services
	s.mu.Unlock()

	s.logger.Info("server initialized",
		"providers", s.registry.Names(),
		"schemas", len(s.schemas.All()))
	return nil
}

// Start initializes the server and serves HTTP.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.Init(ctx); err != nil {
		s.setNotRunning()
		return err
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown stops the HTTP server, then flushes the ledger.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	// Shutdown HTTP server with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.Close()
	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

// Close flushes the ledger and releases the connections Init opened.
func (s *Server) Close() {
	if s.ledger != nil {
		s.ledger.Close()
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("result cache close error", "error", err)
		}
	}
	s.closeDB()
}

func (s *Server) closeDB() {
	if s.ownsDB && s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("ledger close error", "error", err)
		}
		s.db = nil
		s.ownsDB = false
	}
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Server) config() *config.Config {
	if s.configMgr != nil {
		return s.configMgr.Get()
	}
	return config.DefaultConfig()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Ledger returns the usage ledger.
// Returns nil if the server hasn't been initialized yet.
func (s *Server) Ledger() *ledger.Ledger {
	return s.ledger
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}
