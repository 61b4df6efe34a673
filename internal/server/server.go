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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/victornm/triviapot/internal/api"
	"github.com/victornm/triviapot/internal/auth"
	"github.com/victornm/triviapot/internal/entrylimit"
	"github.com/victornm/triviapot/internal/event"
	"github.com/victornm/triviapot/internal/leaderboard"
	"github.com/victornm/triviapot/internal/migrate"
	"github.com/victornm/triviapot/internal/question"
	"github.com/victornm/triviapot/internal/round"
	"github.com/victornm/triviapot/internal/session"
	"github.com/victornm/triviapot/internal/settlement"
	"github.com/victornm/triviapot/internal/telemetry"
	"github.com/victornm/triviapot/internal/vault"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		// Limits holds entry limits and settlement locks.
		Limits struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		// Ledger holds the vault accounts of the local ledger.
		Ledger struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
		// Migrations is a directory of *.sql files; the embedded migrations are used when it does not exist.
		Migrations string
	}

	Auth struct {
		Secret string
		TTL    time.Duration
	}

	Game struct {
		EntryFee         int64
		SettleGrace      time.Duration
		SettleInterval   time.Duration
		EntriesPerRound  int
		EntriesPerDay    int
		LeaderboardLimit int
	}

	// Event bounds the in-process event bus.
	Event struct {
		PoolSize int
		Timeout  time.Duration
	}

	Vault struct {
		Authority string
		// Localnet exposes the faucet and wallet-signing routes.
		Localnet bool
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
			limits      redis.UniversalClient
			ledger      redis.UniversalClient
		}

		postgres *pgxpool.Pool
	}

	vault struct {
		program   *vault.Program
		authority *vault.Authority
		// entryFee is the fee the program charges, which may differ from Game.EntryFee.
		entryFee int64
	}

	service struct {
		auth        *auth.Authenticator
		round       *round.Service
		session     *session.Service
		leaderboard *leaderboard.Service
		settlement  *settlement.Service
		closer      *settlement.Closer
	}

	http *http.Server
	grpc *grpc.Server

	stop context.CancelFunc
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

	if err := s.initVault(); err != nil {
		return nil, fmt.Errorf("server: init vault: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(name string, addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r, name); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect("leaderboard", s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
	if err != nil {
		return err
	}

	s.infra.redis.pubsub, err = connect("pubsub", s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return err
	}

	s.infra.redis.limits, err = connect("limits", s.c.Redis.Limits.Addrs, s.c.Redis.Limits.Pass)
	if err != nil {
		return err
	}

	s.infra.redis.ledger, err = connect("ledger", s.c.Redis.Ledger.Addrs, s.c.Redis.Ledger.Pass)
	if err != nil {
		return err
	}

	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pc := s.c.Postgres
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", pc.User, pc.Pass, pc.Addr, pc.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	if err := migrate.Run(ctx, db, pc.Migrations); err != nil {
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initVault() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.vault.program = vault.NewProgram(vault.Config{
		Ledger: vault.NewRedisLedger(s.infra.redis.ledger, s.c.Redis.Ledger.Prefix),
	})
	s.vault.authority = vault.NewAuthority(s.vault.program, vault.Address(s.c.Vault.Authority))

	fee, err := s.vault.authority.Bootstrap(ctx, uint64(s.c.Game.EntryFee))
	if err != nil {
		return fmt.Errorf("bootstrap vault: %w", err)
	}

	s.vault.entryFee = int64(fee)
	return nil
}

func (s *Server) initService() error {
	var err error
	s.service.auth, err = auth.New(auth.Config{
		Secret: s.c.Auth.Secret,
		TTL:    s.c.Auth.TTL,
	})
	if err != nil {
		return err
	}

	db := s.infra.postgres
	rounds := round.NewPostgresRepository(db)

	s.service.round = round.NewService(round.Config{
		Repository: rounds,
		Escrow:     s.vault.authority,
		EntryFee:   s.vault.entryFee,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
		History:  leaderboard.NewPostgresHistory(db),
		Rounds:   s.service.round,
		Limit:    s.c.Game.LeaderboardLimit,
	})

	s.service.session = session.NewService(session.Config{
		Repository: session.NewPostgresRepository(db),
		Questions:  question.NewBank(question.Config{DB: db}),
		Rounds:     s.service.round,
		Payments:   s.vault.authority,
		Limiter: entrylimit.NewLimiter(entrylimit.Config{
			Redis:    s.infra.redis.limits,
			Prefix:   s.c.Redis.Limits.Prefix,
			PerRound: s.c.Game.EntriesPerRound,
			PerDay:   s.c.Game.EntriesPerDay,
		}),
		Ranker:   s.service.leaderboard,
		EventBus: s.eb,
		EntryFee: s.vault.entryFee,
	})

	sc := settlement.Config{
		Repository: settlement.NewPostgresRepository(db),
		Rounds:     rounds,
		Escrow:     s.vault.authority,
		EventBus:   s.eb,
		Grace:      s.c.Game.SettleGrace,
	}
	if s.c.Vault.Localnet {
		sc.Claimer = s.vault.program
	}
	s.service.settlement = settlement.NewService(sc)

	s.service.closer = settlement.NewCloser(settlement.CloserConfig{
		Service:  s.service.settlement,
		Rounds:   rounds,
		Redis:    s.infra.redis.limits,
		Prefix:   s.c.Redis.Limits.Prefix,
		Interval: s.c.Game.SettleInterval,
	})

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor(
		api.UnaryErrorInterceptor,
		s.service.auth.UnaryServerInterceptor(api.PublicMethods...),
	))

	c := api.Config{
		GRPC:         s.grpc,
		EventBus:     s.eb,
		Auth:         s.service.auth,
		Session:      s.service.session,
		Round:        s.service.round,
		Leaderboard:  s.service.leaderboard,
		Settlement:   s.service.settlement,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	}
	if s.c.Vault.Localnet {
		c.Localnet = s.vault.program
	}

	api.New(c).RegisterRoutes(e)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx, stop := context.WithCancel(context.Background())
	s.stop = stop

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, "server: round closer started")
		return s.service.closer.Run(ctx)
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.stop != nil {
		s.stop()
	}

	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()
	s.infra.postgres.Close()

	slog.InfoContext(ctx, "server: shutdown completed")
}
