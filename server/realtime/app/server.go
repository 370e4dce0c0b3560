package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	commonauth "chat_sync/server/common/auth"
	"chat_sync/server/common/infra/cache"
	"chat_sync/server/common/infra/db"
	"chat_sync/server/common/infra/mq"
	commonlog "chat_sync/server/common/log"
	"chat_sync/server/common/metrics"
	"chat_sync/server/realtime/api"
	"chat_sync/server/realtime/repository"
	"chat_sync/server/realtime/service"
)

type publisher interface {
	Publish(ctx context.Context, key string, payload any) error
}

type Server struct {
	HTTPServer *http.Server
	DB         *pgxpool.Pool
	Redis      *redis.Client
	MQConn     *amqp.Connection
	Publisher  *mq.Publisher

	registry *service.Registry
	hub      *service.Hub
	presence *service.PresenceTracker
	typing   *service.TypingService
}

func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(initCtx, db.PoolOptions{DSN: cfg.DatabaseURL})
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	redisClient := cache.NewClient(cfg.RedisAddr)
	if err := cache.Ping(initCtx, redisClient); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	s := &Server{DB: pool, Redis: redisClient}

	var bus publisher
	if cfg.AMQPURL != "" {
		s.MQConn, err = mq.NewConnection(cfg.AMQPURL)
		if err != nil {
			s.closeStores()
			return nil, fmt.Errorf("initialize amqp: %w", err)
		}
		s.Publisher, err = mq.NewPublisher(s.MQConn)
		if err != nil {
			s.closeStores()
			return nil, fmt.Errorf("initialize amqp publisher: %w", err)
		}
		bus = s.Publisher
	}

	m := metrics.New()
	dir := repository.NewDirectoryRepository(pool)

	s.presence = service.NewPresenceTracker(repository.NewPresenceRepository(redisClient))
	s.registry = service.NewRegistry(s.presence.OnTransition, m)
	s.hub = service.NewHub(s.registry, m)
	s.typing = service.NewTypingService(cfg.TypingTTL, s.hub, dir, m)

	notifications := service.NewNotificationService(repository.NewNotificationRepository(pool), s.hub, bus, m)
	messages := service.NewMessageService(
		repository.NewMessageRepository(pool),
		dir,
		s.hub,
		s.typing,
		notifications,
		repository.NewIdempotencyRepository(redisClient),
		bus,
		service.MessageOptions{Policy: cfg.NotifyPolicy, IdempotencyTTL: cfg.IdempotencyTTL},
	)
	conversations := service.NewConversationService(repository.NewConversationRepository(pool), dir)
	friends := service.NewFriendService(repository.NewFriendRepository(pool), dir, s.hub, notifications, bus)
	gateway := service.NewGateway(s.registry, s.hub, s.presence, s.typing)

	auth := commonauth.NewService(cfg.JWTSecret, cfg.JWTTTLMinutes)
	h := api.NewHandler(api.Services{
		Gateway:       gateway,
		Registry:      s.registry,
		Presence:      s.presence,
		Typing:        s.typing,
		Messages:      messages,
		Conversations: conversations,
		Friends:       friends,
		Notifications: notifications,
	}, auth, m, api.WSConfig{Conn: cfg.WS, AllowedOrigins: cfg.AllowedOrigins})

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger())
	h.RegisterRoutes(r)

	// Websocket handlers outlive WriteTimeout, so only the header read is bounded.
	s.HTTPServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Run serves HTTP and dispatches presence deltas until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	go s.presence.Run(ctx, s.hub)

	errCh := make(chan error, 1)
	go func() {
		commonlog.Infof("start realtime http server on %s", s.HTTPServer.Addr)
		if err := s.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.HTTPServer.Shutdown(ctx)
	s.registry.CloseAll()
	s.typing.Stop()
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.MQConn != nil {
		_ = s.MQConn.Close()
	}
	s.closeStores()
	return err
}

func (s *Server) closeStores() {
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
