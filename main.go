package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"conversation-service/internal/auth"
	"conversation-service/internal/config"
	"conversation-service/internal/db"
	"conversation-service/internal/directory"
	"conversation-service/internal/handlers"
	"conversation-service/internal/middleware"
	"conversation-service/internal/observability"
	"conversation-service/internal/rabbitmq"
	"conversation-service/internal/ratelimit"
	"conversation-service/internal/store"
	"conversation-service/internal/telemetry"
	"conversation-service/internal/ws"
)

func main() {
	cfg := config.Load()
	logger := telemetry.NewLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OTLPEndpoint, cfg.Env)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	redisClient, err := store.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()

	audit := telemetry.NewAuditEmitter(publisher, "audit.conversations", "conversation-service", cfg.Env, logger)

	messageStore := store.NewRedisMessageStore(redisClient, cfg.MessageRetention, cfg.MaxContentLength)
	presence := store.NewRedisPresence(redisClient, cfg.TypingTTL, cfg.MessageRetention)
	limiter := ratelimit.NewRedisLimiter(redisClient, logger)

	authenticator := auth.NewPostgresAuthenticator(database)
	dir := directory.NewPostgresDirectory(database)

	hub := ws.NewHub()
	var broadcaster ws.Broadcaster = hub
	if cfg.BroadcastMode == "redis" {
		redisBroadcaster := ws.NewRedisBroadcaster(redisClient, hub, logger)
		go redisBroadcaster.Run(ctx)
		broadcaster = redisBroadcaster
	}

	messageHandler := handlers.NewMessageHandler(messageStore, presence, dir, limiter, logger)
	conversationHandler := handlers.NewConversationHandler(messageStore, presence, dir, logger)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"redis":    handlers.PingerFunc(messageStore.Ping),
		"postgres": handlers.PingerFunc(database.PingContext),
	})
	wsHandler := ws.NewConversationWebSocketHandler(broadcaster, messageStore, presence, limiter, authenticator, dir, publisher, logger)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("conversation-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/health", healthHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.AuthMiddleware(authenticator)
	rateLimitMiddleware := middleware.RateLimitMiddleware(limiter, logger)

	router.GET("/conversations/:conversation_id", authMiddleware, rateLimitMiddleware, conversationHandler.GetConversation)
	router.GET("/conversations/:conversation_id/messages", authMiddleware, rateLimitMiddleware, messageHandler.GetConversationMessages)

	router.GET("/ws/conversations/:conversation_id", wsHandler.Handle)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("broadcast_mode", cfg.BroadcastMode).Msg("conversation service listening")
		audit.Emit(ctx, "info", "service started", "", nil)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	audit.Emit(shutdownCtx, "info", "service stopped", "", nil)
}
