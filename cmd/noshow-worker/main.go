package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	mongoadapter "github.com/mkravets/studyroom-reservations/internal/adapters/mongo"
	"github.com/mkravets/studyroom-reservations/internal/adapters/postgres"
	"github.com/mkravets/studyroom-reservations/internal/adapters/rabbit"
	"github.com/mkravets/studyroom-reservations/internal/availability"
	"github.com/mkravets/studyroom-reservations/internal/clock"
	"github.com/mkravets/studyroom-reservations/internal/config"
	"github.com/mkravets/studyroom-reservations/internal/domain"
	"github.com/mkravets/studyroom-reservations/internal/engine"
	"github.com/mkravets/studyroom-reservations/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// The engine owns no scheduler; this worker is the external tick that drives
// no-show expiry.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	repo := postgres.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database("studyroom")
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

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

	worker := NewNoShowWorker(svc, audit, clk, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(ctx, time.Minute)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown no-show worker")
}

type NoShowWorker struct {
	svc    *engine.Service
	audit  *mongoadapter.AuditLogger
	clock  clock.Clock
	logger observability.Logger
}

func NewNoShowWorker(svc *engine.Service, audit *mongoadapter.AuditLogger, clk clock.Clock, logger observability.Logger) *NoShowWorker {
	return &NoShowWorker{svc: svc, audit: audit, clock: clk, logger: logger}
}

func (w *NoShowWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweepWithRetry(ctx)
		}
	}
}

func (w *NoShowWorker) sweepWithRetry(ctx context.Context) {
	maxRetries := 3
	for i := 0; i < maxRetries; i++ {
		now := w.clock.Now()
		expired, err := w.svc.SweepNoShows(ctx, now, 4)
		if err == nil {
			if expired > 0 {
				w.logger.WithField("expired", expired).Info("no-show sweep done")
				w.audit.LogEvent(ctx, "noshow.sweep", uuid.Nil, map[string]interface{}{
					"expired": expired,
					"at":      now.Format(time.RFC3339),
				})
			}
			return
		}
		w.logger.WithError(err).Warn("no-show sweep failed, retrying")
		backoff := time.Duration(1<<i) * time.Second
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
	w.logger.Error("no-show sweep failed after retries")
}
