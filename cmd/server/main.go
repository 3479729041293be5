package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/modulelabs/signal-relay/internal/clock"
	"github.com/modulelabs/signal-relay/internal/config"
	"github.com/modulelabs/signal-relay/internal/control"
	"github.com/modulelabs/signal-relay/internal/liveness"
	"github.com/modulelabs/signal-relay/internal/logs"
	"github.com/modulelabs/signal-relay/internal/metrics"
	"github.com/modulelabs/signal-relay/internal/middleware"
	"github.com/modulelabs/signal-relay/internal/peers"
	"github.com/modulelabs/signal-relay/internal/rendezvous"
	"github.com/modulelabs/signal-relay/internal/rooms"
	"github.com/modulelabs/signal-relay/internal/router"
	"github.com/modulelabs/signal-relay/internal/signaling"
	"github.com/modulelabs/signal-relay/internal/transport"
	"github.com/modulelabs/signal-relay/internal/wire"
)

func main() {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	logger := logs.New(cfg.LogLevel)
	defer logger.Sync()

	metrics.Init()

	roomStore := rooms.NewStore(cfg.MaxPeersPerRoom, cfg.MaxRooms)
	registry := peers.NewRegistry(roomStore)
	rendezvousStore := rendezvous.NewStore(cfg.RendezvousTTL)

	wsLimiter := newLimiter(cfg.WSRatePerMin)
	httpLimiter := newLimiter(cfg.HTTPRatePerMin)

	rtr := router.New(registry, logger)
	signaling.New(registry, clock.Real{}, logger).Register(rtr)

	mux := http.NewServeMux()
	mux.Handle(cfg.WSPath, transport.NewHandler(cfg, logger, registry, rtr, wsLimiter))
	mux.Handle("/", control.NewMux(cfg, logger, roomStore, registry, rendezvousStore, httpLimiter))

	srv := &http.Server{
		Addr:              cfg.BindAddr(),
		Handler:           logs.RequestLogger(logger, mux),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	ctx, cancelBackground := context.WithCancel(context.Background())
	rendezvousStore.StartJanitor(ctx)

	supervisor := liveness.New(registry, clock.Real{}, logger, cfg.HeartbeatInterval, cfg.PeerTimeout, cfg.CleanupInterval)
	go supervisor.Run(ctx)

	go func() {
		logger.Info("listening", logs.F("addr", cfg.BindAddr()))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-sigCtx.Done()
	stop()
	logger.Info("shutdown signal received")

	supervisor.Shutdown(wire.ReasonNormal)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful http shutdown failed", logs.F("err", err))
	}
	supervisor.CloseAll(1001, "server shutting down")
	cancelBackground()

	logger.Info("bye")
}

func newLimiter(perMin int) *middleware.Limiter {
	if perMin <= 0 {
		return nil
	}
	return middleware.New(perMin)
}
