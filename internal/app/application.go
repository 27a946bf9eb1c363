// Package app wires the relay's components together and owns their
// lifecycles.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"chatrelay/internal/api"
	"chatrelay/internal/config"
	"chatrelay/internal/directory"
	"chatrelay/internal/store"
	"chatrelay/internal/websocket"
	"chatrelay/pkg/database"
)

// Application coordinates the relay's components. Construction follows
// dependency order: store, then directory, registry, handlers, HTTP server.
type Application struct {
	config     *config.Config
	store      *store.Manager
	directory  *directory.Directory
	registry   *websocket.Registry
	apiServer  *api.Server
	httpServer *http.Server
}

// New builds an application from configuration.
func New(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := &database.Config{
		Path:            cfg.DatabasePath,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.DatabaseTimeout,
		ConnMaxIdleTime: cfg.DatabaseTimeout / 3,
	}

	storeManager, err := store.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	if err := database.ValidateSchema(storeManager.DB()); err != nil {
		_ = storeManager.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	userDirectory := directory.New(storeManager)
	registry := websocket.NewRegistry()

	wsHandler := websocket.NewHandler(registry, userDirectory, storeManager, websocket.Options{
		PingInterval: cfg.WSPingInterval,
		ReadTimeout:  cfg.WSReadTimeout,
		WriteTimeout: cfg.WSWriteTimeout,
		SendBuffer:   cfg.WSSendBuffer,
		HistoryScope: cfg.HistoryScope,
	})

	apiServer := api.NewServer(storeManager, storeManager, registry)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws/chat", wsHandler.HandleChat)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      storeManager,
		directory:  userDirectory,
		registry:   registry,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start begins serving. It returns once the HTTP listener is up or startup
// has failed.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting chatrelay on %s", app.httpServer.Addr)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("chatrelay started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts the application down in reverse dependency order: HTTP listener
// first, then the store.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down chatrelay")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := app.store.Close(); err != nil {
		log.Printf("Store shutdown error: %v", err)
	}

	log.Printf("chatrelay shutdown complete")
	return nil
}

// Addr returns the server address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
