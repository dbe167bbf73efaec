package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"course-chat/internal/config"
	"course-chat/internal/db"
	"course-chat/internal/domain"
	apihttp "course-chat/internal/http"
	"course-chat/internal/llm"
	"course-chat/internal/logging"
	"course-chat/internal/observability"
	"course-chat/internal/repository"
	"course-chat/internal/service"
	"course-chat/internal/tracer"
)

const (
	chatRateWindow  = time.Minute
	shutdownTimeout = 15 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	if cfg.JWTSecret == "" {
		logger.Fatal("jwt secret not configured")
	}

	shutdownTracing := tracer.Init(ctx, cfg.OTelEnabled, cfg.OTelEndpoint, cfg.ServiceName, logger)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer closePool(logger, pool)

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
		logger.Info("schema applied")
	}

	userRepo := repository.NewPgUserRepository(pool)
	courseRepo := repository.NewPgCourseRepository(pool)
	sessionRepo := repository.NewPgSessionRepository(pool)
	messageRepo := repository.NewPgMessageRepository(pool)

	courseSvc := service.NewCourseService(courseRepo, cfg.CourseCacheTTL)
	sessionSvc := service.NewSessionService(logger, sessionRepo, courseSvc)
	messageSvc := service.NewMessageService(logger, messageRepo, sessionRepo)
	userSvc := service.NewUserService(logger, userRepo)

	limiter := newChatLimiter(ctx, cfg, logger)

	jwtSvc := service.NewJWTService(cfg.JWTSecret, cfg.JWTIssuer, 0)

	gateway := llm.NewOpenAIGateway(llm.Config{
		APIKey:            cfg.LLMAPIKey,
		BaseURL:           cfg.LLMBaseURL,
		Model:             cfg.LLMModel,
		SystemPrompt:      cfg.SystemPrompt,
		Timeout:           cfg.LLMTimeout,
		MaxQuestionLength: domain.MaxQuestionLength,
	}, logger)

	metrics := observability.NewStreamingMetrics(prometheus.DefaultRegisterer)

	router := apihttp.NewRouter(logger, cfg.ServiceName, jwtSvc, apihttp.Handlers{
		Chat:     apihttp.NewChatHandler(logger, gateway, limiter, metrics),
		Sessions: apihttp.NewSessionHandler(logger, sessionSvc),
		Messages: apihttp.NewMessageHandler(logger, sessionSvc, messageSvc),
		Courses:  apihttp.NewCourseHandler(logger, courseSvc),
		Users:    apihttp.NewUserHandler(logger, userSvc),
		Health: apihttp.NewHealthHandler(logger, func(ctx context.Context) error {
			return db.Ping(ctx, pool)
		}),
		Metrics: promhttp.Handler(),
	})

	// Sin WriteTimeout: las respuestas en streaming duran lo que tarde el modelo.
	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
	}
}

// newChatLimiter usa Redis si está disponible y cae a un limitador en memoria.
func newChatLimiter(ctx context.Context, cfg *config.Config, logger *zap.Logger) service.ChatRateLimiter {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis ping failed, using in-memory chat limiter", zap.Error(err))
			_ = client.Close()
		} else {
			return service.NewRedisChatRateLimiter(client, chatRateWindow, cfg.ChatRateLimit)
		}
	}
	return service.NewMemoryChatRateLimiter(chatRateWindow, cfg.ChatRateLimit)
}

// closePool registra las estadísticas finales del pool y lo cierra.
func closePool(logger *zap.Logger, pool *pgxpool.Pool) {
	stat := pool.Stat()
	pool.Close()
	logger.Info("db pool closed",
		zap.Int32("total_conns", stat.TotalConns()),
		zap.Int64("acquire_count", stat.AcquireCount()),
	)
}
