package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/tillu/branchbus/pkg/busrpc"
	"github.com/tillu/branchbus/server/internal/alerts"
	"github.com/tillu/branchbus/server/internal/api"
	"github.com/tillu/branchbus/server/internal/auth"
	"github.com/tillu/branchbus/server/internal/bus"
	"github.com/tillu/branchbus/server/internal/config"
	"github.com/tillu/branchbus/server/internal/metrics"
	"github.com/tillu/branchbus/server/internal/receiver"
	"github.com/tillu/branchbus/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("branchbus-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Warn("config file not found, using defaults", "config", *configPath)
		cfg = config.Defaults()
	case err != nil:
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Server.Level())

	slog.Info("config loaded",
		"grpc_port", cfg.Server.GRPCPort,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"presence_debounce", cfg.Server.Presence.Debounce,
		"reconnect_window", cfg.Server.Reconnect.Window,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b := bus.New(bus.Config{
		PresenceDebounce: cfg.Server.Presence.Debounce,
		ReconnectWindow:  cfg.Server.Reconnect.Window,
		CompactInterval:  cfg.Server.Rooms.CompactInterval,
	})
	b.Start(ctx)

	// Inventory alerts publish through the bus like any producer.
	alertEngine := alerts.New(cfg.Server.Alerts, b)

	go func() {
		err := config.Watch(ctx, *configPath, func(next *config.Config) {
			level.Set(next.Server.Level())
			b.SetPresenceDebounce(next.Server.Presence.Debounce)
			alertEngine.Reconfigure(next.Server.Alerts)
			slog.Info("config reloaded",
				"log_level", next.Server.LogLevel,
				"presence_debounce", next.Server.Presence.Debounce,
				"webhooks", len(next.Server.Alerts.Webhooks),
			)
		})
		if err != nil {
			slog.Warn("config watch disabled", "err", err)
		}
	}()

	checker := auth.Checker{
		Mode:   cfg.Server.Auth.Mode,
		Header: cfg.Server.Auth.EffectiveHeader(),
		Key:    cfg.Server.Auth.Key(),
	}
	if cfg.Server.Auth.Mode == "apikey" && !checker.Enabled() {
		slog.Warn("auth mode is apikey but no key is set, producer ingress is open",
			"key_env", cfg.Server.Auth.KeyEnv)
	}

	// gRPC ingress for producers.
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(checker.UnaryInterceptor()))
	busrpc.RegisterEventBusServer(grpcSrv, receiver.New(b))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		slog.Error("failed to listen on gRPC port",
			"port", cfg.Server.GRPCPort, "err", err)
		os.Exit(1)
	}

	go func() {
		slog.Info("gRPC receiver listening", "port", cfg.Server.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()

	wsCfg := cfg.Server.WebSocket
	gateway := ws.New(b, ws.Options{
		SendBuffer:     wsCfg.SendBuffer,
		WriteTimeout:   wsCfg.WriteTimeout,
		PongWait:       wsCfg.PongWait,
		MaxMessageSize: wsCfg.MaxMessageSize,
		AllowedOrigins: wsCfg.AllowedOrigins,
	})
	go gateway.Run(ctx)

	// Combined HTTP server: REST API, metrics and the WebSocket gateway.
	apiHandler := api.New(b, alertEngine)
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", apiHandler)
	httpMux.Handle("/api/v1/events", checker.Middleware(apiHandler))
	httpMux.Handle("/api/v1/inventory/", checker.Middleware(apiHandler))
	httpMux.Handle("/metrics", metrics.Handler(b))
	httpMux.Handle("/ws", gateway)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("branchbus-server shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	grpcSrv.GracefulStop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	b.Stop()
}
