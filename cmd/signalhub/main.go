package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/roverlink/signalhub/internal/auth"
	"github.com/roverlink/signalhub/internal/capture"
	"github.com/roverlink/signalhub/internal/config"
	"github.com/roverlink/signalhub/internal/eventbus"
	"github.com/roverlink/signalhub/internal/logging"
	"github.com/roverlink/signalhub/internal/peers"
	"github.com/roverlink/signalhub/internal/protocol"
	"github.com/roverlink/signalhub/internal/queue"
	"github.com/roverlink/signalhub/internal/relay"
	"github.com/roverlink/signalhub/internal/rtc"
	ws "github.com/roverlink/signalhub/internal/transport/websocket"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "signalhub: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments set the environment directly.
	godotenv.Load()

	cfg, err := config.Load(config.LoadOptions{Path: os.Getenv("SIGNALHUB_CONFIG")})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Logging)
	logger.Info("starting signalhub",
		"relay_mode", cfg.Relay.Mode,
		"queue_enabled", cfg.Queue.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := eventbus.NewInMemoryBus(64)
	defer bus.Close()

	registry := peers.NewRegistry(logger)

	var q *queue.Queue
	if cfg.Queue.Enabled {
		q = queue.New(queue.Options{
			MaxSessionDuration: cfg.Queue.MaxSessionDuration,
			MaxIdleTime:        cfg.Queue.MaxIdleTime,
			Estimator:          queue.ConstantSlotEstimator(cfg.Queue.SlotEstimate),
			Bus:                bus,
			Logger:             logger,
		})
	}

	sink := capture.NewFileSink(cfg.Capture.Dir, logger)

	// In engine mode the server answers offers itself; collaborator
	// initialization failure is fatal at startup.
	var engine *rtc.Engine
	if cfg.Relay.Mode == config.RelayModeEngine {
		engine, err = rtc.NewEngine(rtc.Options{
			ICEServers: cfg.WebRTC.ICEServers,
			Logger:     logger,
			Pipeline:   rtc.NewLogPipeline(logger),
			OnCandidate: func(peerID string, c protocol.Candidate) {
				payload, err := protocol.NewCandidate(c.Candidate, c.SDPMid, c.SDPMLineIndex).Encode()
				if err != nil {
					logger.Error("failed to encode candidate", "peer_id", peerID, "error", err)
					return
				}
				sendCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := registry.SendTo(sendCtx, peerID, payload); err != nil {
					logger.Warn("failed to push candidate", "peer_id", peerID, "error", err)
				}
			},
		})
		if err != nil {
			return fmt.Errorf("init negotiation engine: %w", err)
		}
		defer engine.Close()
	}

	relayOpts := relay.Options{
		Mode:    cfg.Relay.Mode,
		Peers:   registry,
		Pairing: relay.TwoPartyPairing(registry.IDs),
		Sink:    sink,
		Trigger: func(ctx context.Context, senderID string) {
			logger.Info("capture trigger received", "sender_id", senderID)
		},
		Logger: logger,
	}
	if engine != nil {
		relayOpts.Engine = engine
	}
	rl := relay.New(relayOpts)

	wsOpts := []ws.ServerOption{
		ws.WithRegistry(registry),
		ws.WithRelay(rl),
		ws.WithBus(bus),
		ws.WithLogger(logger),
	}
	if q != nil {
		wsOpts = append(wsOpts, ws.WithQueue(q))
	}
	if engine != nil {
		wsOpts = append(wsOpts, ws.WithOnDisconnect(engine.ClosePeer))
	}
	wsServer := ws.NewServer(wsOpts...)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", ws.HealthHandler())
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth.JWTSecret))
		r.Get("/signaling", wsServer.ServeHTTP)
		r.Get("/queue", ws.QueueStateHandler(q))
		r.Post("/capture/{peerID}", ws.TriggerCaptureHandler(rl, logger))
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		wsServer.Run(ctx)
		return nil
	})

	if q != nil {
		g.Go(func() error {
			q.Run(ctx, cfg.Queue.ReapInterval)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}

		registry.CloseAll()
		return nil
	})

	return g.Wait()
}
