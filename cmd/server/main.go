/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the access request server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, -config file, flags)
  2. Open the store (memory or SQLite)
  3. Seed the module catalog and user directory
  4. Create the engine, sessions and API handler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config             YAML config file
  -port               HTTP server port (default: 8080)
  -store              memory | sqlite (default: sqlite)
  -db                 SQLite database path (default: access.db)
                      Use ":memory:" for an in-memory database
  -seed               Seed file (default: built-in development catalog)
  -session-ttl        Login session lifetime (default: 15m)
  -protocol-sequence  global | daily (default: global)
  -cors-origins       Comma-separated allowed origins
  -demo-scenarios     Expose demo scenario loaders (default: false)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Drop all sessions
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/access.db" -seed="./data/seed.yaml"

  # Run fully in memory with demo scenarios
  ./server -store=memory -demo-scenarios

SEE ALSO:
  - config/config.go: Configuration
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/access-engine/access"
	memstore "github.com/warp/access-engine/access/store"
	"github.com/warp/access-engine/api"
	"github.com/warp/access-engine/auth"
	"github.com/warp/access-engine/config"
	"github.com/warp/access-engine/seed"
	"github.com/warp/access-engine/store/sqlite"
)

// backend is a store that can also be seeded.
type backend interface {
	access.Store
	seed.CatalogWriter
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize store
	store, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer closeStore()

	// Seed catalog and users
	catalog, err := loadCatalog(cfg.SeedPath)
	if err != nil {
		log.Fatalf("Failed to load seed: %v", err)
	}
	if err := catalog.Apply(context.Background(), store); err != nil {
		log.Fatalf("Failed to seed store: %v", err)
	}
	log.Printf("Seeded %d modules and %d users", len(catalog.Modules), len(catalog.Users))

	// Initialize engine
	protocols, err := access.ProtocolGeneratorFor(cfg.ProtocolSequence)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	engine := access.NewEngine(store)
	engine.Protocols = protocols
	engine.Logger = log.Default()

	// Sessions
	sessions := auth.NewSessions(cfg.SessionTTL)
	sweeper := auth.NewSweeper(sessions, log.Default())
	sweeper.Start()

	// Create router
	handler := api.NewHandler(engine, store, sessions)
	if cfg.DemoScenarios {
		handler.Catalog = store
		log.Println("Demo scenarios enabled")
	}
	router := api.NewRouter(handler, cfg.CORS.AllowedOrigins)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d (store: %s)", cfg.Port, cfg.Store)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	sweeper.Stop()
	sessions.Clear()

	log.Println("Server stopped")
}

func openStore(cfg *config.Config) (backend, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memstore.NewMemory(), func() {}, nil
	default:
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
}

func loadCatalog(path string) (*seed.Catalog, error) {
	if path == "" {
		return seed.Default()
	}
	return seed.LoadFile(path)
}
