package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/chat"
	"chat-realtime/internal/config"
	"chat-realtime/internal/db"
	"chat-realtime/internal/fanout"
	grpcserver "chat-realtime/internal/grpc"
	"chat-realtime/internal/handlers"
	"chat-realtime/internal/logging"
	"chat-realtime/internal/middleware"
	"chat-realtime/internal/notify"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/rabbitmq"
	"chat-realtime/internal/realtime"
	"chat-realtime/internal/registry"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/roomindex"
	"chat-realtime/internal/rooms"
	"chat-realtime/internal/status"
	"chat-realtime/internal/telemetry"
	"chat-realtime/internal/ws"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.LogLevel, cfg.ServiceName, cfg.InstanceID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.InstanceID)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	database, err := db.Connect(ctx, cfg.DBDSN, logging.Component(logger, "db"))
	if err != nil {
		return err
	}
	defer database.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logging.Component(logger, "amqp"))
	defer publisher.Close()
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, "audit.chat", cfg.ServiceName, cfg.Environment, logging.Component(logger, "audit"))

	roomRepo := repositories.NewRoomRepo(database)
	userRepo := repositories.NewUserRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	deviceRepo := repositories.NewDeviceTokenRepo(database)

	reg := registry.New(cfg.DeliveryTimeout)
	router := fanout.NewRouter(rdb, fanout.Config{InstanceID: cfg.InstanceID}, reg, logging.Component(logger, "fanout"))
	index := roomindex.New(router)
	manager := realtime.NewManager(reg, index, presence.NewDirectory(rdb, cfg.PresenceKey), router, logging.Component(logger, "realtime"))

	healthSrv := grpcserver.NewHealthServer(logging.Component(logger, "grpc"))
	router.OnHealthChange(healthSrv.SetServing)
	manager.Start(ctx)

	roomSvc := rooms.NewService(roomRepo, userRepo, logging.Component(logger, "rooms"))
	engine := status.NewEngine(messageRepo, manager, logging.Component(logger, "status"))
	pusher := notify.NewPushNotifier(deviceRepo, publisher, logging.Component(logger, "push"))
	chatSvc := chat.NewService(roomSvc, messageRepo, userRepo, manager, engine, pusher, logging.Component(logger, "chat"))

	verifier := auth.NewVerifier(cfg.JWTSecret)
	roomHandler := handlers.NewRoomHandler(roomSvc, audit)
	messageHandler := handlers.NewMessageHandler(chatSvc, audit)
	deviceHandler := handlers.NewDeviceHandler(pusher, audit)
	wsHandler := ws.NewHandler(manager, chatSvc, verifier, logging.Component(logger, "ws"))

	gin.SetMode(gin.ReleaseMode)
	api := gin.New()
	api.Use(gin.Recovery())
	api.Use(otelgin.Middleware(cfg.ServiceName))
	api.Use(observability.HTTPMetricsMiddleware())

	authed := api.Group("/", middleware.AuthMiddleware(verifier))
	authed.GET("/rooms", roomHandler.ListRooms)
	authed.POST("/rooms", roomHandler.CreateRoom)
	authed.POST("/rooms/private", roomHandler.ResolvePrivate)
	authed.POST("/rooms/:room_id/join", roomHandler.JoinRoom)
	authed.GET("/rooms/:room_id/messages", messageHandler.ListMessages)
	authed.POST("/rooms/:room_id/messages", messageHandler.PostRoomMessage)
	authed.POST("/messages/private", messageHandler.PostPrivateMessage)
	authed.POST("/messages/delivered", messageHandler.MarkDelivered)
	authed.POST("/messages/seen", messageHandler.MarkSeen)
	authed.POST("/devices", deviceHandler.Register)

	api.GET("/ws", wsHandler.Handle)
	api.GET("/metrics", gin.WrapH(promhttp.Handler()))
	api.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil || !manager.Healthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "fanout": manager.Healthy()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": manager.LocalConnections()})
	})
	handlers.RegisterDebugRoutes(api, audit, publisher, cfg.DebugRoutes)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", httpSrv.Addr).Str("publisher_mode", rabbitmq.PublisherMode(publisher)).Msg("http listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.GRPCAddr).Msg("grpc listening")
		return healthSrv.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown")
		}
		healthSrv.Shutdown(shutdownCtx)
		if err := manager.Close(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("fanout shutdown")
		}
		return nil
	})
	return g.Wait()
}
