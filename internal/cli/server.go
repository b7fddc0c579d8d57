package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"

	"trivia-service/internal/app"
	"trivia-service/internal/config"
	"trivia-service/internal/infra/file"
	"trivia-service/internal/infra/llm"
	"trivia-service/internal/infra/memory"
	"trivia-service/internal/infra/opentdb"
	pgstore "trivia-service/internal/infra/postgres"
	redisstore "trivia-service/internal/infra/redis"
	"trivia-service/internal/metrics"
	transport "trivia-service/internal/transport/http"
)

const shutdownTimeout = 5 * time.Second

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the trivia server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func newLogger(cfg config.Config, cli bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	var out io.Writer = os.Stdout
	if cli || cfg.Log.Format == "text" {
		if cli {
			out = os.Stderr
		}
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, false)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	var (
		pool *pgxpool.Pool
		db   *bun.DB
	)
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		db = openBunDB(cfg.Postgres.URL)
		defer db.Close()
	}

	questions, err := questionSource(cfg, pool, redisClient, logger)
	if err != nil {
		return err
	}

	var sessions app.SessionRepository = memory.NewSessionStore()
	if redisClient != nil {
		sessions = redisstore.NewSessionStore(redisClient, config.TTLDuration(cfg.Redis.TTL, 2*time.Hour))
	}

	board, err := file.OpenLeaderboardStore(leaderboardPath(cfg), logger)
	if err != nil {
		return err
	}
	if err := board.Corrupt(); err != nil {
		logger.Error("leaderboard snapshot was unreadable and has been set aside; starting empty", slog.Any("error", err))
	}

	hub := transport.NewHub(logger)
	publishers := app.Publishers{hub}
	if redisClient != nil {
		prefix := cfg.Redis.EventPrefix
		if prefix == "" {
			prefix = "trivia"
		}
		publishers = append(publishers, redisstore.NewEventPublisher(redisClient, prefix))
	}

	gameCfg := app.Config{
		Sessions:    sessions,
		Questions:   questions,
		Leaderboard: board,
		Publisher:   publishers,
		Metrics:     metrics.New(prometheus.DefaultRegisterer),
		Logger:      logger,
		Timing: app.Timing{
			QuestionTimeout: config.TTLDuration(cfg.Game.QuestionTimeout, 60*time.Second),
			SettleDelay:     config.TTLDuration(cfg.Game.SettleDelay, 30*time.Second),
			LeadIn:          config.TTLDuration(cfg.Game.LeadIn, 10*time.Second),
		},
		QuestionCount:  cfg.Game.Questions,
		Category:       cfg.Game.Category,
		TickInterval:   config.TTLDuration(cfg.Game.TickInterval, 500*time.Millisecond),
		RetryInterval:  config.TTLDuration(cfg.Provider.RetryInterval, time.Second),
		ExplainTimeout: config.TTLDuration(cfg.Explain.Timeout, 20*time.Second),
	}
	if cfg.Provider.Retries > 0 {
		gameCfg.FetchRetries = uint64(cfg.Provider.Retries)
	}
	if cfg.Explain.Enabled && cfg.Explain.BaseURL != "" {
		gameCfg.Explainer = llm.NewExplainer(cfg.Explain.BaseURL, cfg.Explain.Model, gameCfg.ExplainTimeout, cfg.Explain.RatePerMinute)
	}

	routerCfg := transport.RouterConfig{
		Logger:  logger,
		Metrics: promhttp.Handler(),
	}
	if db != nil {
		archive := pgstore.NewResultArchive(db)
		gameCfg.Archive = archive
		routerCfg.History = archive
	}

	scheduler := app.NewScheduler(gameCfg)
	// runs before the redis and postgres clients close, so queued events and results still land
	defer scheduler.Close()
	routerCfg.Game = scheduler
	routerCfg.WS = transport.NewWSHandler(scheduler, hub, cfg.Server.AdminToken, logger)
	if cfg.Server.AdminToken == "" {
		logger.Warn("no admin token configured; admin commands are disabled")
	}

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.NewRouter(routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("starting trivia service", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// questionSource builds the configured provider behind a cache that draws
// questions in batches.
func questionSource(cfg config.Config, pool *pgxpool.Pool, redisClient *redis.Client, logger *slog.Logger) (app.QuestionSource, error) {
	var source app.QuestionSource
	switch cfg.Provider.Kind {
	case "static":
		source = memory.NewSampleQuestionSource()
	case "postgres":
		if pool == nil {
			return nil, errors.New("provider kind postgres needs postgres.url")
		}
		source = pgstore.NewQuestionLoader(pool)
	case "", "opentdb":
		baseURL := cfg.Provider.BaseURL
		if baseURL == "" {
			baseURL = opentdb.DefaultBaseURL
		}
		source = opentdb.NewClient(baseURL, config.TTLDuration(cfg.Provider.Timeout, 10*time.Second), opentdb.WithLogger(logger))
	default:
		return nil, errors.New("unknown provider kind " + cfg.Provider.Kind)
	}

	if cfg.Provider.PoolSize <= 0 {
		return source, nil
	}
	ttl := config.TTLDuration(cfg.Provider.PoolTTL, 30*time.Minute)
	if redisClient != nil {
		return redisstore.NewQuestionPool(redisClient, source, cfg.Provider.PoolSize, ttl, logger), nil
	}
	return memory.NewQuestionPool(source, cfg.Provider.PoolSize, ttl), nil
}
