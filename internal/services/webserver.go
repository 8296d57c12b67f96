package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"splynx-collector/internal/common"
	"splynx-collector/internal/handlers"
	"splynx-collector/internal/interfaces"
	"splynx-collector/internal/middleware"
)

// webServer exposes the command and status endpoints plus the websocket
// progress stream.
type webServer struct {
	config    *common.Config
	server    *http.Server
	logger    arbor.ILogger
	wsHub     *handlers.WebSocketHub
	running   bool
	startTime time.Time
}

// NewWebServer wires the API handlers and websocket hub onto a mux.
func NewWebServer(cfg *common.Config, storage interfaces.Storage, session interfaces.Session, wsHub *handlers.WebSocketHub, logger arbor.ILogger) (interfaces.WebService, error) {
	mux := http.NewServeMux()

	apiHandlers := handlers.NewAPIHandlers(cfg, storage, session, logger)

	ws := &webServer{
		config: cfg,
		logger: logger,
		wsHub:  wsHub,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Collector.Port),
			Handler: mux,
		},
	}

	logMiddleware := middleware.Logging(logger)
	corsMiddleware := middleware.CORS

	mux.HandleFunc("/health", logMiddleware(corsMiddleware(apiHandlers.HealthHandler)))
	mux.HandleFunc("/version", logMiddleware(corsMiddleware(apiHandlers.VersionHandler)))
	mux.HandleFunc("/status", logMiddleware(corsMiddleware(apiHandlers.StatusHandler)))
	mux.HandleFunc("/runs", logMiddleware(corsMiddleware(apiHandlers.RunsHandler)))

	mux.HandleFunc("/api/open", logMiddleware(corsMiddleware(apiHandlers.OpenHandler)))
	mux.HandleFunc("/api/extract", logMiddleware(corsMiddleware(apiHandlers.ExtractHandler)))
	mux.HandleFunc("/api/enrich", logMiddleware(corsMiddleware(apiHandlers.EnrichHandler)))
	mux.HandleFunc("/api/collect-dates", logMiddleware(corsMiddleware(apiHandlers.CollectDatesHandler)))
	mux.HandleFunc("/api/shutdown", logMiddleware(corsMiddleware(apiHandlers.ShutdownHandler)))

	mux.HandleFunc("/ws", corsMiddleware(wsHub.WebSocketHandler))

	return ws, nil
}

// Start starts the web server
func (ws *webServer) Start(ctx context.Context) error {
	ws.running = true
	ws.startTime = time.Now()

	go func() {
		ws.logger.Info().Int("port", ws.config.Collector.Port).Msg("Starting web server")
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error().Err(err).Msg("Web server error")
		}
	}()
	return nil
}

// Stop stops the web server
func (ws *webServer) Stop() error {
	ws.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws.logger.Info().Msg("Shutting down web server")
	return ws.server.Shutdown(ctx)
}

// IsRunning returns true if the web server is running
func (ws *webServer) IsRunning() bool {
	return ws.running
}
