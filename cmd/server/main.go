package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-listsync/internal/api"
	"github.com/npezzotti/go-listsync/internal/auth"
	"github.com/npezzotti/go-listsync/internal/chat"
	"github.com/npezzotti/go-listsync/internal/config"
	"github.com/npezzotti/go-listsync/internal/database"
	"github.com/npezzotti/go-listsync/internal/events"
	"github.com/npezzotti/go-listsync/internal/ratelimit"
	"github.com/npezzotti/go-listsync/internal/server"
	"github.com/npezzotti/go-listsync/internal/stats"
	"github.com/npezzotti/go-listsync/internal/telemetry"
	"github.com/npezzotti/go-listsync/internal/votes"
	"github.com/rs/zerolog"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, config.SplitList(value)...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	allowedOrigins stringSliceFlag
	logLevel       string
	migrateDB      bool
	redisAddr      string
	sendLimit      int
	sendWindow     time.Duration
	kafkaBrokers   string
	chatTopic      string
	listTopic      string
	kafkaGroup     string
	otlpEndpoint   string
	traceRatio     float64
)

func main() {
	// a missing .env is fine; the environment and flags still apply
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("load .env")
	}

	flag.StringVar(&addr, "addr", config.Env("LISTSYNC_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", config.Env("LISTSYNC_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), `database connection string, or "memory" for a seeded in-memory store`)
	flag.StringVar(&signingKey, "signing-key", config.Env("LISTSYNC_SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.StringVar(&logLevel, "log-level", config.Env("LOG_LEVEL", "info"), "log level")
	flag.BoolVar(&migrateDB, "migrate", false, "apply database migrations on startup")
	flag.StringVar(&redisAddr, "redis-addr", config.Env("LISTSYNC_REDIS_ADDR", ""), "redis address for send throttling and idempotency keys")
	flag.IntVar(&sendLimit, "send-limit", config.EnvInt("LISTSYNC_SEND_LIMIT", 20), "messages a user may send per window")
	flag.DurationVar(&sendWindow, "send-window", config.EnvDuration("LISTSYNC_SEND_WINDOW", time.Minute), "send throttling window")
	flag.StringVar(&kafkaBrokers, "kafka-brokers", config.Env("LISTSYNC_KAFKA_BROKERS", ""), "comma-separated kafka brokers")
	flag.StringVar(&chatTopic, "chat-topic", config.Env("LISTSYNC_CHAT_TOPIC", "listsync.room-events"), "topic room events are published to")
	flag.StringVar(&listTopic, "list-topic", config.Env("LISTSYNC_LIST_TOPIC", "listsync.list-events"), "topic list changes are consumed from")
	flag.StringVar(&kafkaGroup, "kafka-group", config.Env("LISTSYNC_KAFKA_GROUP", "listsync"), "kafka consumer group")
	flag.StringVar(&otlpEndpoint, "otlp-endpoint", config.Env("OTEL_EXPORTER_OTLP_ENDPOINT", ""), "OTLP/HTTP collector host:port")
	flag.Float64Var(&traceRatio, "trace-ratio", config.EnvFloat("OTEL_TRACES_SAMPLER_ARG", 1), "trace sampling ratio")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		allowedOrigins = config.SplitList(config.Env("LISTSYNC_ALLOWED_ORIGINS", ""))
	}

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins,
		config.WithLogLevel(logLevel),
		config.WithRedis(redisAddr, sendLimit, sendWindow),
		config.WithKafka(config.SplitList(kafkaBrokers), chatTopic, listTopic, kafkaGroup),
		config.WithTracing(otlpEndpoint, traceRatio),
	)
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("config")
	}

	logger := zerolog.New(os.Stderr).Level(cfg.LogLevel).With().Timestamp().Str("service", telemetry.ServiceName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.OTLPEndpoint, cfg.TraceSampleRatio)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing")
	}

	repo, closeRepo, err := openRepository(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("db open")
	}
	defer func() {
		if err := closeRepo(); err != nil {
			logger.Error().Err(err).Msg("db close")
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	hub := server.NewHub(logger, repo, statsUpdater)
	controller := chat.NewController(logger, repo, hub)
	counter := chat.NewCounter(repo)
	tally := votes.NewTally(repo, hub)
	notifier := server.NewNotifier(hub, repo)

	var opts []api.Option
	if cfg.RedisAddr != "" {
		rdb, err := ratelimit.Dial(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer rdb.Close()

		store := ratelimit.NewRedisStore(rdb)
		opts = append(opts,
			api.WithRateLimit(ratelimit.NewLimiter(store, cfg.SendLimit, cfg.SendWindow)),
			api.WithIdempotency(ratelimit.NewIdempotency(store, ratelimit.DefaultIdempotencyTTL)),
		)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("send throttling enabled")
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewPublisher(logger, cfg.KafkaBrokers, cfg.ChatEventsTopic)
		defer publisher.Close()
		hub.AddSink(publisher)

		consumer := events.NewConsumer(logger, cfg.KafkaBrokers, cfg.KafkaGroupId, cfg.ListEventsTopic, notifier)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("list event consumer stopped")
			}
		}()
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Msg("kafka bridge enabled")
	}

	srv := api.NewApp(mux, logger, repo, hub, controller, counter, tally, auth.NewJWT(cfg.SigningKey), cfg, opts...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server")
		}
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown")
	}

	if err := hub.Shutdown(shutDownCtx); err != nil {
		logger.Error().Err(err).Msg("hub shutdown")
	}

	if err := shutdownTracing(shutDownCtx); err != nil {
		logger.Error().Err(err).Msg("tracing shutdown")
	}

	logger.Info().Msg("shutdown complete")
}

func openRepository(cfg *config.Config, logger zerolog.Logger) (database.ChatRepository, func() error, error) {
	if cfg.DatabaseDSN == "memory" {
		repo := database.NewMemoryChatRepository()
		database.SeedDemo(repo)
		logger.Warn().Msg("using in-memory store with demo data")
		return repo, func() error { return nil }, nil
	}

	repo, err := database.NewPgChatRepository(cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}

	if migrateDB {
		if err := repo.Migrate(); err != nil {
			repo.Close()
			return nil, nil, err
		}
		logger.Info().Msg("migrations applied")
	}

	return repo, repo.Close, nil
}
