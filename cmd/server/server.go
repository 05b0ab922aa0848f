package main

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/thereayou/pairchat/internal/broker"
	"github.com/thereayou/pairchat/internal/config"
	"github.com/thereayou/pairchat/internal/database"
	"github.com/thereayou/pairchat/internal/handlers"
	"github.com/thereayou/pairchat/internal/presence"
	"github.com/thereayou/pairchat/internal/upload"
	ws "github.com/thereayou/pairchat/internal/websocket"
	"go.uber.org/zap"
)

type Server struct {
	Router *gin.Engine
	DB     *database.Database
	Redis  *redis.Client
	Hub    *ws.Hub
	Log    *zap.Logger

	cfg *config.Config
}

func NewServer() *Server {
	logger, _ := zap.NewProduction()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	dbConn := &database.Database{}
	if err := dbConn.Connect(cfg.DatabaseURL); err != nil {
		logger.Fatal("postgres connect failed", zap.Error(err))
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("invalid REDIS_URL", zap.Error(err))
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("redis connect failed", zap.Error(err))
	}

	tracker := presence.NewTracker(rdb, logger)

	hub := ws.NewHub(logger, tracker)
	go hub.Run()

	brk := broker.New(dbConn, hub, tracker, logger)

	processor, err := upload.NewProcessor(cfg.UploadDir, cfg.MaxUploadSize, logger)
	if err != nil {
		logger.Fatal("upload processor init failed", zap.Error(err))
	}

	wsH := handlers.NewWebSocketHandler(hub, brk, logger)
	msgH := handlers.NewHTTPMessageHandler(dbConn, logger)
	uploadH := handlers.NewUploadHandler(processor, logger)
	presenceH := handlers.NewPresenceHandler(tracker, logger)

	router := gin.Default()
	APIEndpoints(router, cfg, wsH, msgH, uploadH, presenceH)

	return &Server{
		Router: router,
		DB:     dbConn,
		Redis:  rdb,
		Hub:    hub,
		Log:    logger,
		cfg:    cfg,
	}
}

func (s *Server) Run() {
	s.Log.Info("server starting", zap.String("port", s.cfg.Port))
	if err := s.Router.Run(":" + s.cfg.Port); err != nil {
		s.Log.Fatal("server run error", zap.Error(err))
	}
}
