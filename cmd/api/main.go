package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	mongoadapter "github.com/mkravets/studyroom-reservations/internal/adapters/mongo"
	"github.com/mkravets/studyroom-reservations/internal/adapters/postgres"
	"github.com/mkravets/studyroom-reservations/internal/adapters/rabbit"
	redisadapter "github.com/mkravets/studyroom-reservations/internal/adapters/redis"
	"github.com/mkravets/studyroom-reservations/internal/availability"
	"github.com/mkravets/studyroom-reservations/internal/clock"
	"github.com/mkravets/studyroom-reservations/internal/config"
	"github.com/mkravets/studyroom-reservations/internal/domain"
	"github.com/mkravets/studyroom-reservations/internal/engine"
	httphandler "github.com/mkravets/studyroom-reservations/internal/http"
	"github.com/mkravets/studyroom-reservations/internal/idempotency"
	"github.com/mkravets/studyroom-reservations/internal/observability"
	"github.com/mkravets/studyroom-reservations/internal/rateLimit"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	if err := postgres.Migrate(context.Background(), pool); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}
	repo := postgres.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database("studyroom")
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)
	redisIdemp := redisadapter.NewIdempotency(redisClient)
	idemp := idempotency.NewIdempotency(redisIdemp, time.Hour)
	rl := rateLimit.NewRateLimiter(redisCache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	clk := clock.NewSystem()
	pol := engine.Policies{
		SignInGrace:  cfg.SignInGrace,
		NoShowGrace:  cfg.NoShowGrace,
		CancelCutoff: cfg.CancelCutoff,
		MaxLeave:     cfg.MaxLeave,
		Rates:        domain.RateSchedule{HourlyRate: cfg.HourlyRate, BillingUnit: cfg.BillingUnit},
		Credit:       domain.DefaultCreditPolicy(),
	}
	svc := engine.NewService(repo, availability.NewIndex(), catalog, rabbitPub, clk, logger, pol)
	if err := svc.LoadIndex(context.Background()); err != nil {
		log.Fatalf("failed to load availability index: %v", err)
	}

	handlers := httphandler.NewHandlers(cfg, svc, redisCache, idemp, audit, clk)
	r := httphandler.SetupRouter(handlers, logger, rl, idemp)

	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
