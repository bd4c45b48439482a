package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"parley/internal/app/registry"
	"parley/internal/app/server"
	"parley/internal/app/worker"
	"parley/internal/config"
	"parley/internal/core/events"
	"parley/internal/core/services"
	"parley/internal/platform/logger"
	"parley/internal/platform/telemetry"
	"parley/internal/plugins/postgres"
	redisPlugin "parley/internal/plugins/redis"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
)

func main() {
	mintFor := flag.Int64("mint-token", 0, "print a signed token for the given user id and exit")
	flag.Parse()

	// Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Config
	cfg := config.Load()

	// Logger
	log := logger.NewLogger(*cfg)

	if cfg.Auth.Secret == "" {
		log.Error("JWT_SECRET is not set")
		os.Exit(1)
	}
	tokenSvc := services.NewTokenService(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if *mintFor > 0 {
		token, err := tokenSvc.GenerateToken(*mintFor, "")
		if err != nil {
			log.Error("token generation failed", "err", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}
	log.Info("starting application", "service", cfg.Service.Name, "env", cfg.Service.Env)

	otelShutdown, err := telemetry.InitTelemetry(ctx, *cfg)
	if err != nil {
		log.Error("failed to initialize telemetry", "err", err)
	}
	defer func() {
		if otelShutdown == nil {
			return
		}
		log.Info("flushing telemetry...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", "err", err)
		}
	}()

	// Infra
	var pdb *sql.DB
	if pdb, err = postgres.New(ctx, *cfg.Postgres); err != nil {
		log.Error("postgres connection failed", "err", err)
		return
	}
	defer pdb.Close()
	log.Info("postgres connected")
	var rdb *redis.Client
	if rdb, err = redisPlugin.NewRedisClient(ctx, *cfg.Redis); err != nil {
		log.Error("redis connection failed", "url", cfg.Redis.URL, "err", err)
		return
	}
	defer rdb.Close()
	log.Info("redis connected")

	// Adapters
	userRepo := postgres.NewUserRepository(pdb)
	convRepo := postgres.NewConversationRepo(pdb)
	partRepo := postgres.NewParticipantRepo(pdb)
	msgRepo := postgres.NewMessageRepo(pdb)
	relRepo := postgres.NewRelationshipRepo(pdb)
	txManager := postgres.NewTxManager(pdb)
	presStore := redisPlugin.NewRedisPresenceStore(rdb)
	notifyQueue := redisPlugin.NewRedisNotificationQueue(log, rdb)

	// Core Services
	hub := registry.NewRegistry(log)
	dispatcher := events.NewDispatcher(log)
	chatSvc := services.NewChatService(log, partRepo, msgRepo, convRepo, userRepo, hub, txManager)
	chatSvc.Bind(dispatcher)
	callSvc := services.NewCallService(log, relRepo, userRepo, hub, cfg.Call.StrictLedger, cfg.Call.RingTimeout)
	callSvc.Bind(dispatcher)
	heartbeat := services.NewHeartbeatMonitor(log, hub, presStore, cfg.WS.HeartbeatInterval, cfg.WS.PresenceTTL)
	connSvc := services.NewConnectionService(log, tokenSvc, hub, presStore, dispatcher, heartbeat, cfg.WS.PresenceTTL)
	connSvc.OnUserOffline(callSvc.EndCallsFor)

	wrkr := worker.NewNotificationWorker(log, notifyQueue, hub, cfg.Worker.NotifyGroup)
	if err := wrkr.Run(ctx); err != nil {
		log.Error("notification worker failed to start", "err", err)
		return
	}

	// Server
	srv := server.NewServer(log, *cfg.Service, *cfg.WS, tokenSvc, connSvc, hub)
	if err := srv.Start(ctx); err != nil {
		log.Error("server stopped", "err", err)
	}
	closed := hub.CloseAll()
	log.Info("application stopped", "closed_connections", closed)
}
