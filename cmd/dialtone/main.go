package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/brightdesk/dialtone/internal/calllog"
	"github.com/brightdesk/dialtone/internal/config"
	"github.com/brightdesk/dialtone/internal/dialer"
	"github.com/brightdesk/dialtone/internal/httpapi"
	"github.com/brightdesk/dialtone/internal/observability"
	"github.com/brightdesk/dialtone/internal/presence"
	"github.com/brightdesk/dialtone/internal/provider"
	"github.com/brightdesk/dialtone/internal/token"
	"github.com/brightdesk/dialtone/internal/video"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	tokens, err := token.NewService(cfg.TokenSigningSecret, cfg.TokenIssuer, cfg.TokenAudience, cfg.TokenTTL)
	if err != nil {
		log.Fatalf("token service init failed: %v", err)
	}

	ctx := context.Background()

	var recorder calllog.Recorder
	if cfg.DatabaseURL != "" {
		pg, err := calllog.NewPostgresRecorder(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("call log store init failed: %v", err)
		}
		recorder = pg
		log.Printf("call log store: postgres")
	} else {
		recorder = calllog.NewMemoryRecorder()
		log.Printf("call log store: in-memory (DATABASE_URL not set)")
	}
	defer recorder.Close()

	var guard presence.Guard
	if cfg.RedisAddr != "" {
		rg, err := presence.NewRedisGuard(ctx, cfg.RedisAddr, cfg.WorkspaceEndpointCap, 0)
		if err != nil {
			log.Fatalf("presence guard init failed: %v", err)
		}
		defer rg.Close()
		guard = rg
		log.Printf("presence guard: redis (%s)", cfg.RedisAddr)
	} else {
		guard = presence.NewLocalGuard(cfg.WorkspaceEndpointCap)
		log.Printf("presence guard: local (REDIS_ADDR not set)")
	}

	var prov provider.Provider
	switch cfg.ProviderMode {
	case "gateway":
		gp, err := provider.NewGatewayProvider(provider.GatewayConfig{WSURL: cfg.GatewayWSURL})
		if err != nil {
			log.Fatalf("gateway provider init failed: %v", err)
		}
		prov = gp
		log.Printf("signaling provider: gateway (%s)", cfg.GatewayWSURL)
	default:
		prov = provider.NewMockProvider()
		log.Printf("signaling provider: mock")
	}

	registry := dialer.NewRegistry(prov, tokens, recorder, guard, metrics, dialer.Config{
		RenewInterval:       cfg.RenewInterval,
		HealthCheckInterval: cfg.HealthCheckInterval,
		MaxTokenAge:         cfg.MaxTokenAge,
		ReinitDelay:         cfg.ReinitDelay,
	})
	rooms := video.NewManager(video.NewMockRoomProvider(), tokens)

	api := httpapi.New(cfg, registry, rooms, recorder, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	rooms.DisconnectAll()
	registry.DestroyAll()
	log.Printf("shutdown complete")
}
