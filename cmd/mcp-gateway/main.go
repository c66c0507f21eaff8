// main wires the gateway's components together: EndpointStore, SessionLedger,
// UpstreamDispatcher, McpCore and the SSE/Streamable transports behind one
// public listener, and the admin CRUD surface behind a second one.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/swagger-mcp/gateway/internal/admin"
	"github.com/swagger-mcp/gateway/internal/config"
	"github.com/swagger-mcp/gateway/internal/mcpcore"
	"github.com/swagger-mcp/gateway/internal/session"
	"github.com/swagger-mcp/gateway/internal/store"
	"github.com/swagger-mcp/gateway/internal/transport/sse"
	"github.com/swagger-mcp/gateway/internal/transport/streamable"
	"github.com/swagger-mcp/gateway/internal/upstream"
)

func main() {
	configFile := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger := cfg.Logger()

	var sessionStore session.Store
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		sessionStore, err = session.NewRedisStore(ctx, cfg.RedisURL, cfg.SessionTTL)
		cancel()
		if err != nil {
			log.Fatalf("connecting to redis: %v", err)
		}
	}

	endpointStore := store.New()
	dispatcher := upstream.NewDispatcher(cfg.UpstreamTimeout)
	ledger := session.NewLedger(logger, sessionStore)
	core := mcpcore.New(endpointStore, dispatcher, logger)

	sseTransport := sse.New(endpointStore, core, ledger, logger)
	streamableTransport := streamable.New(endpointStore, core, ledger, logger)
	adminHandler := admin.New(endpointStore, cfg.AdminToken, logger)
	statusHandler := admin.NewStatusHandler(endpointStore, ledger, logger)

	gatewayMux := http.NewServeMux()
	gatewayMux.HandleFunc("GET /{endpoint_id}/sse", sseTransport.HandleStream)
	gatewayMux.HandleFunc("POST /messages/", sseTransport.HandleMessage)
	gatewayMux.HandleFunc("POST /message", sseTransport.HandleLegacyMessage)
	gatewayMux.HandleFunc("POST /stream/{endpoint_id}", streamableTransport.HandlePost)
	gatewayMux.HandleFunc("GET /stream/{endpoint_id}", streamableTransport.HandleGet)
	gatewayMux.HandleFunc("DELETE /stream/{endpoint_id}", streamableTransport.HandleDelete)
	gatewayMux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	adminMux := http.NewServeMux()
	adminMux.HandleFunc("POST /api/endpoint", adminHandler.Create)
	adminMux.HandleFunc("GET /api/endpoints", adminHandler.List)
	adminMux.HandleFunc("GET /api/endpoint/{id}", adminHandler.Get)
	adminMux.HandleFunc("PUT /api/endpoint/{id}", adminHandler.Update)
	adminMux.HandleFunc("DELETE /api/endpoint/{id}", adminHandler.Delete)
	adminMux.Handle("GET /api/status", statusHandler)
	adminMux.Handle("GET /api/status/{name}", statusHandler)

	gatewaySrv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      gatewayMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // streaming responses must not be cut off
	}
	adminSrv := &http.Server{
		Addr:         cfg.AdminListenAddr,
		Handler:      adminMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting gateway listener", "addr", cfg.ListenAddr)
		if err := gatewaySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("gateway listener: %v", err)
		}
	}()
	go func() {
		logger.Info("starting admin listener", "addr", cfg.AdminListenAddr)
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("admin listener: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gatewaySrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown error", "error", err)
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin shutdown error", "error", err)
	}
	if sessionStore != nil {
		_ = sessionStore.Close()
	}
}
