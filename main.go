package main

import (
	"context"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-node/internal/config"
	"chat-node/internal/db"
	"chat-node/internal/delivery"
	"chat-node/internal/handlers"
	"chat-node/internal/node"
	"chat-node/internal/observability"
	"chat-node/internal/peer"
	"chat-node/internal/presence"
	"chat-node/internal/rabbitmq"
	"chat-node/internal/repositories"
	"chat-node/internal/telemetry"
	"chat-node/internal/ws"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown, err := telemetry.Setup(ctx, cfg.OTELEnabled, cfg.OTELEndpoint, "chat-node")
	if err != nil {
		log.Fatal().Err(err).Msg("telemetry setup failed")
	}
	defer func() { _ = shutdown(context.Background()) }()

	database, err := db.Connect(cfg.DBDSN, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	chatRepo := repositories.NewChatRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	events := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	defer events.Close()

	tracker := presence.NewTracker(log)
	sender := peer.NewChannelSender(tracker)

	queue := delivery.NewQueue(sender, tracker, nil, cfg.QueueTick, log)

	hub := ws.NewHub(events, log)
	engine := node.NewEngine(cfg.NodeID, chatRepo, messageRepo, queue, tracker, hub, events, log)

	resolver := peer.NewStaticResolver(cfg.Peers, cfg.PeerPort)
	manager := peer.NewManager(cfg.NodeID, resolver, tracker, engine, cfg.ReconnectMaxRetries, log)
	queue.SetDialer(manager)

	// A peer coming online flushes everything queued for it.
	tracker.OnOnline(queue.OnPresenceOnline)

	go queue.Run(ctx)

	chatHandler := handlers.NewChatHandler(engine)
	clientWS := ws.NewClientWebSocketHandler(hub, engine)
	peerWS := ws.NewPeerWebSocketHandler(tracker, engine)

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("chat-node"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/chats", chatHandler.ListChats)
	router.POST("/chats", chatHandler.CreateChat)
	router.GET("/chats/:chat_id", chatHandler.GetChat)
	router.DELETE("/chats/:chat_id", chatHandler.DeleteChat)
	router.POST("/chats/:chat_id/messages", chatHandler.SendMessage)
	router.POST("/chats/:chat_id/read", chatHandler.MarkRead)
	router.POST("/chats/:chat_id/block", chatHandler.Block)
	router.DELETE("/chats/:chat_id/block", chatHandler.Unblock)
	router.PUT("/chats/:chat_id/notify", chatHandler.SetNotify)
	router.PUT("/messages/:message_id", chatHandler.EditMessage)
	router.DELETE("/messages/:message_id", chatHandler.DeleteMessage)
	router.POST("/messages/:message_id/reactions", chatHandler.AddReaction)
	router.DELETE("/messages/:message_id/reactions/:emoji", chatHandler.RemoveReaction)
	router.POST("/messages/:message_id/forward", chatHandler.ForwardMessage)
	router.GET("/sync/hashes", chatHandler.SyncHashes)

	router.GET("/ws", clientWS.Handle)
	router.GET("/peer/ws", peerWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", chatHandler.Healthz)

	log.Info().Str("node", cfg.NodeID).Str("port", cfg.Port).Msg("chat node listening")
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("node", cfg.NodeID).Logger()
	if cfg.LogPretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger
}
