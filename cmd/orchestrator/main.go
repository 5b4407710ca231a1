// Command orchestrator runs the RPA orchestration engine: job queue,
// dispatcher, scheduler, claim store, realtime bus, and HTTP/WebSocket
// control plane (spec.md §4.7/§6).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/yungbote/rpa-orchestrator/internal/config"
	"github.com/yungbote/rpa-orchestrator/internal/engine"
	"github.com/yungbote/rpa-orchestrator/internal/httpapi"
	"github.com/yungbote/rpa-orchestrator/internal/logger"
	"github.com/yungbote/rpa-orchestrator/internal/wire/ws"
)

func main() {
	cfg, err := config.LoadOrchestrator()
	if err != nil {
		fmt.Printf("failed to load orchestrator config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Printf("failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	eng, err := engine.New(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize engine", "error", err)
	}
	defer eng.Close()

	wireSrv := ws.NewServer(log, robotAuth(cfg), eng.HandleWireConn)
	eng.AttachWireServer(wireSrv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	eng.Start(ctx)

	handlers := httpapi.NewHandlers(eng, log)
	auth := httpapi.NewAuthMiddleware(os.Getenv("API_KEY"), cfg.APIKeyRequired)
	router := httpapi.NewRouter(httpapi.RouterConfig{
		Handlers:   handlers,
		Auth:       auth,
		WireServer: wireSrv,
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdown)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("orchestrator listening", "addr", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("orchestrator http server failed", "error", err)
	}
}

// robotAuth builds the wire server's AuthFunc: mTLS client-cert identity if
// configured, otherwise a pre-shared API key checked against POSTGRES-backed
// robot rows is out of scope for the transport layer, so this falls back to
// accepting any X-Robot-Id/Authorization pair (the claim store is the real
// authority on whether a robot_id may claim work).
func robotAuth(cfg *config.Orchestrator) ws.AuthFunc {
	if cfg.CACertPath != "" {
		return ws.MTLSAuth()
	}
	return ws.APIKeyAuth(func(robotID, apiKey string) bool {
		return robotID != "" && apiKey != ""
	})
}
