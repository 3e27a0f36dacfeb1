package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/xo/internal/api"
	"github.com/victornm/xo/internal/event"
	"github.com/victornm/xo/internal/game"
	"github.com/victornm/xo/internal/leaderboard"
	"github.com/victornm/xo/internal/score"
	"github.com/victornm/xo/internal/session"
	"github.com/victornm/xo/internal/store"
	"github.com/victornm/xo/internal/store/memory"
	"github.com/victornm/xo/internal/store/postgres"
	"github.com/victornm/xo/internal/telemetry"
	"github.com/victornm/xo/internal/user"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Log struct {
		Level string
	}

	Event struct {
		PoolSize int
		Timeout  time.Duration
	}

	Store struct {
		Driver string

		Postgres struct {
			Addr     string
			User     string
			Pass     string
			Name     string
			MaxConns int32
		}
	}

	Redis struct {
		Pubsub struct {
			Enabled        bool
			Addrs          []string
			Pass           string
			Prefix         string
			ThrottleWindow time.Duration
		}
	}

	Session struct {
		MaxAttempts int
	}

	Scoring struct {
		BaseScore      int64
		WinBonus       int64
		MinDuration    time.Duration
		MaxDuration    time.Duration
		MaxSpeedBonus  int64
		StreakStep     int64
		MaxStreakBonus int64
	}
}

// DefaultConfig is the configuration a config file is merged onto.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 8081
	c.Log.Level = "info"
	c.Store.Driver = DriverMemory
	c.Redis.Pubsub.Prefix = "xo"

	t := score.DefaultTable
	c.Scoring.BaseScore = t.BaseScore
	c.Scoring.WinBonus = t.WinBonus
	c.Scoring.MinDuration = t.MinDuration
	c.Scoring.MaxDuration = t.MaxDuration
	c.Scoring.MaxSpeedBonus = t.MaxSpeedBonus
	c.Scoring.StreakStep = t.StreakStep
	c.Scoring.MaxStreakBonus = t.MaxStreakBonus

	return c
}

func (c Config) table() score.Table {
	return score.Table{
		BaseScore:      c.Scoring.BaseScore,
		WinBonus:       c.Scoring.WinBonus,
		MinDuration:    c.Scoring.MinDuration,
		MaxDuration:    c.Scoring.MaxDuration,
		MaxSpeedBonus:  c.Scoring.MaxSpeedBonus,
		StreakStep:     c.Scoring.StreakStep,
		MaxStreakBonus: c.Scoring.MaxStreakBonus,
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		store  store.Store
		pubsub redis.UniversalClient
	}

	service struct {
		game *game.Service
	}

	health *health.Server
	http   *http.Server
	grpc   *grpc.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus(
		event.WithPoolSize(c.Event.PoolSize),
		event.WithTimeout(c.Event.Timeout),
	)

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initStore(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	return nil
}

func (s *Server) initStore() error {
	switch s.c.Store.Driver {
	case "", DriverMemory:
		s.infra.store = memory.New()
		return nil

	case DriverPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		pc := s.c.Store.Postgres
		pg, err := postgres.Connect(ctx, postgres.Config{
			Addr:     pc.Addr,
			User:     pc.User,
			Pass:     pc.Pass,
			Name:     pc.Name,
			MaxConns: pc.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}

		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return fmt.Errorf("postgres: %w", err)
		}

		s.infra.store = pg
		return nil

	default:
		return fmt.Errorf("unknown driver %q", s.c.Store.Driver)
	}
}

func (s *Server) initRedis() error {
	rc := s.c.Redis.Pubsub
	if !rc.Enabled {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    rc.Addrs,
		Password: rc.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	s.infra.pubsub = r
	return nil
}

func (s *Server) initService() {
	st := s.infra.store

	lb := leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Store:    st,
	})

	s.service.game = game.NewService(game.Config{
		EventBus: s.eb,
		Metrics:  telemetry.NewMetrics(prometheus.DefaultRegisterer),
		Users:    user.NewService(user.Config{Store: st}),
		Sessions: session.NewService(session.Config{
			Store:       st,
			MaxAttempts: s.c.Session.MaxAttempts,
		}),
		Scores: score.NewService(score.Config{
			EventBus: s.eb,
			Store:    st,
			Recorder: lb,
			Table:    s.c.table(),
		}),
		Leaderboard: lb,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor()...)
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)

	c := api.Config{
		Router:         e,
		EventBus:       s.eb,
		Game:           s.service.game,
		PubsubPrefix:   s.c.Redis.Pubsub.Prefix,
		ThrottleWindow: s.c.Redis.Pubsub.ThrottleWindow,
	}
	if s.infra.pubsub != nil {
		c.Redis = s.infra.pubsub
	}
	api.New(c)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port),
			"store", s.c.Store.Driver,
			"pubsub", s.infra.pubsub != nil,
		)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	if s.infra.pubsub != nil {
		if err := s.infra.pubsub.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}
	if err := s.infra.store.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close store failed", "error", err)
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
