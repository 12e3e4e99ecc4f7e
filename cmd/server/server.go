package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/thereayou/voxus/internal/config"
	"github.com/thereayou/voxus/internal/database"
	"github.com/thereayou/voxus/internal/handlers"
	"github.com/thereayou/voxus/internal/services"
	ws "github.com/thereayou/voxus/internal/websocket"
	"github.com/thereayou/voxus/pkg/auth"
)

type Server struct {
	cfg    *config.Config
	log    zerolog.Logger
	DB     *database.Database
	Redis  *redis.Client
	Hub    *ws.Hub
	Router *gin.Engine
}

func NewServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	db := &database.Database{}
	if err := db.Connect(cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)
	verifier := auth.NewVerifier(jwtMgr, auth.NewRedisBlacklist(rdb))

	hub := ws.NewHub(hubConfig(cfg), ws.NewRegistry(cfg.Policy()), logger)

	membership := services.NewMembershipService(db, db, logger)
	presence := services.NewPresenceService(db, hub, logger)
	calls := services.NewCallService(db, callConfig(cfg), logger)
	signaling := services.NewSignalingRelay(hub, logger)

	events := handlers.NewEventHandler(hub, membership, presence, calls, signaling, eventConfig(cfg), logger)
	wsH := handlers.NewWebSocketHandler(hub, membership, presence, calls, events, cfg.AllowedOrigins, logger)
	authH := handlers.NewAuthHandler(db, jwtMgr, verifier, logger)

	router := newRouter(routes{
		auth:     authH,
		ws:       wsH,
		verifier: verifier,
		checks: map[string]Pinger{
			"postgres": db,
			"redis":    redisPinger{rdb},
		},
	}, logger)

	return &Server{
		cfg:    cfg,
		log:    logger.With().Str("module", "server").Logger(),
		DB:     db,
		Redis:  rdb,
		Hub:    hub,
		Router: router,
	}, nil
}

// Run обслуживает HTTP и hub до отмены ctx, затем останавливает всё
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.Hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		s.log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Hub.Stop()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	// очистка отключений пишет в хранилища, их закрываем после неё
	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if werr := s.Hub.Wait(waitCtx); werr != nil {
		s.log.Warn().Err(werr).Msg("disconnect cleanup did not finish")
	}

	if cerr := s.DB.Close(); cerr != nil {
		s.log.Warn().Err(cerr).Msg("close postgres")
	}
	if cerr := s.Redis.Close(); cerr != nil {
		s.log.Warn().Err(cerr).Msg("close redis")
	}
	return err
}

func hubConfig(cfg *config.Config) ws.Config {
	return ws.Config{
		WriteWait:      cfg.WriteWait,
		PongWait:       cfg.PongWait,
		PingPeriod:     cfg.PingPeriod,
		MaxMessageSize: cfg.ReadLimit,
		SendBuffer:     cfg.SendBuffer,
	}
}

func callConfig(cfg *config.Config) services.CallConfig {
	c := services.DefaultCallConfig()
	c.MaxChannelParticipants = cfg.MaxChannelCallParticipants
	c.MaxDMParticipants = cfg.MaxDMCallParticipants
	return c
}

func eventConfig(cfg *config.Config) handlers.EventHandlerConfig {
	c := handlers.DefaultEventHandlerConfig()
	c.CleanupRetryDelay = cfg.CleanupRetryDelay
	return c
}

type redisPinger struct {
	rdb *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}
