package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	mongoadapter "github.com/mkravets/studyroom-reservations/internal/adapters/mongo"
	"github.com/mkravets/studyroom-reservations/internal/adapters/postgres"
	"github.com/mkravets/studyroom-reservations/internal/adapters/rabbit"
	redisadapter "github.com/mkravets/studyroom-reservations/internal/adapters/redis"
	"github.com/mkravets/studyroom-reservations/internal/availability"
	"github.com/mkravets/studyroom-reservations/internal/clock"
	"github.com/mkravets/studyroom-reservations/internal/config"
	"github.com/mkravets/studyroom-reservations/internal/engine"
	httphandler "github.com/mkravets/studyroom-reservations/internal/http"
	"github.com/mkravets/studyroom-reservations/internal/idempotency"
	"github.com/mkravets/studyroom-reservations/internal/observability"
	"github.com/mkravets/studyroom-reservations/internal/rateLimit"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestIntegration_ReserveCheckinCheckout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "srs",
				"POSTGRES_PASSWORD": "srs",
				"POSTGRES_DB":       "srs",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer pgContainer.Terminate(ctx)

	mongoContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForExec([]string{"mongosh", "--eval", "db.runCommand('ping').ok"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer mongoContainer.Terminate(ctx)

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer redisContainer.Terminate(ctx)

	rabbitContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-management",
			ExposedPorts: []string{"5672/tcp", "15672/tcp"},
			WaitingFor:   wait.ForHTTP("/api/health").WithPort("15672"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitContainer.Terminate(ctx)

	pgHost, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatal(err)
	}
	mongoHost, err := mongoContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mongoPort, err := mongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		t.Fatal(err)
	}
	redisHost, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatal(err)
	}
	rabbitHost, err := rabbitContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rabbitPort, err := rabbitContainer.MappedPort(ctx, "5672")
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		PostgresDSN:  "postgresql://srs:srs@" + pgHost + ":" + pgPort.Port() + "/srs?sslmode=disable",
		MongoURI:     "mongodb://" + mongoHost + ":" + mongoPort.Port(),
		RedisAddr:    redisHost + ":" + redisPort.Port(),
		RabbitURL:    "amqp://guest:guest@" + rabbitHost + ":" + rabbitPort.Port() + "/",
		SignInGrace:  10 * time.Minute,
		NoShowGrace:  15 * time.Minute,
		CancelCutoff: 30 * time.Minute,
		MaxLeave:     30 * time.Minute,
		HourlyRate:   1.0,
		BillingUnit:  15 * time.Minute,
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}
	repo := postgres.NewRepository(pool)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		t.Fatal(err)
	}
	defer mongoClient.Disconnect(ctx)
	mongoDB := mongoClient.Database("studyroom")
	logger := observability.NewLogger()
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)
	redisIdemp := redisadapter.NewIdempotency(redisClient)
	idemp := idempotency.NewIdempotency(redisIdemp, time.Hour)
	rl := rateLimit.NewRateLimiter(redisCache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		t.Fatal(err)
	}
	creditConsumer, err := rabbit.NewConsumer(rabbitConn, "credit-apply", "credit.adjusted")
	if err != nil {
		t.Fatal(err)
	}
	creditEvents, err := creditConsumer.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}

	clk := clock.NewSystem()
	pol := engine.Policies{
		SignInGrace:  cfg.SignInGrace,
		NoShowGrace:  cfg.NoShowGrace,
		CancelCutoff: cfg.CancelCutoff,
		MaxLeave:     cfg.MaxLeave,
		Rates:        engine.DefaultPolicies().Rates,
		Credit:       engine.DefaultPolicies().Credit,
	}
	svc := engine.NewService(repo, availability.NewIndex(), catalog, rabbitPub, clk, logger, pol)
	if err := svc.LoadIndex(ctx); err != nil {
		t.Fatal(err)
	}

	handlers := httphandler.NewHandlers(cfg, svc, redisCache, idemp, audit, clk)
	r := httphandler.SetupRouter(handlers, logger, rl, idemp)

	srv := &http.Server{Addr: ":8080", Handler: r}
	go srv.ListenAndServe()
	defer srv.Shutdown(ctx)
	time.Sleep(100 * time.Millisecond)

	userID := uuid.New()
	roomID := uuid.New()
	seatID := uuid.New()

	room := mongoadapter.RoomDoc{
		ID:       roomID,
		Name:     "Quiet Study 1",
		Building: "Main Library",
		Floor:    3,
		OpenFrom: "08:00",
		OpenTo:   "22:00",
		Seats: []mongoadapter.SeatDoc{
			{ID: seatID, Number: "A1", Type: "standard", Status: "available"},
		},
	}
	if err := catalog.CreateRoom(ctx, room); err != nil {
		t.Fatal(err)
	}

	do := func(method, path string, body interface{}) *http.Response {
		t.Helper()
		var reader *bytes.Reader
		if body != nil {
			data, _ := json.Marshal(body)
			reader = bytes.NewReader(data)
		} else {
			reader = bytes.NewReader(nil)
		}
		req, err := http.NewRequest(method, "http://localhost:8080"+path, reader)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-ID", userID.String())
		if method == http.MethodPost {
			req.Header.Set("Idempotency-Key", uuid.New().String())
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	start := time.Now().UTC().Add(time.Minute).Truncate(time.Second)
	end := start.Add(2 * time.Hour)

	// reserve
	resp := do(http.MethodPost, "/v1/reservations", map[string]interface{}{
		"user_id": userID.String(),
		"room_id": roomID.String(),
		"seat_id": seatID.String(),
		"start":   start.Format(time.RFC3339),
		"end":     end.Format(time.RFC3339),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create reservation: status %d", resp.StatusCode)
	}
	var created struct {
		ID     uuid.UUID `json:"id"`
		Status string    `json:"status"`
	}
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if created.Status != "confirmed" {
		t.Fatalf("status = %s, want confirmed", created.Status)
	}

	// the slot is now taken
	resp = do(http.MethodGet, "/v1/availability?room_id="+roomID.String()+
		"&seat_id="+seatID.String()+
		"&start="+start.Format(time.RFC3339)+
		"&end="+end.Format(time.RFC3339), nil)
	var avail struct {
		Available bool `json:"available"`
	}
	json.NewDecoder(resp.Body).Decode(&avail)
	resp.Body.Close()
	if avail.Available {
		t.Fatal("booked slot reported available")
	}

	// an overlapping booking for another slot of the same seat conflicts
	resp = do(http.MethodPost, "/v1/reservations", map[string]interface{}{
		"user_id": userID.String(),
		"room_id": roomID.String(),
		"seat_id": seatID.String(),
		"start":   start.Add(30 * time.Minute).Format(time.RFC3339),
		"end":     end.Add(30 * time.Minute).Format(time.RFC3339),
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("overlap: status %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()

	// check in (within the early grace window)
	resID := created.ID.String()
	resp = do(http.MethodPost, "/v1/reservations/"+resID+"/checkin", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("checkin: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	// leave and return
	resp = do(http.MethodPost, "/v1/reservations/"+resID+"/leave", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("leave: status %d", resp.StatusCode)
	}
	resp.Body.Close()
	time.Sleep(time.Second)
	resp = do(http.MethodPost, "/v1/reservations/"+resID+"/return", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("return: status %d", resp.StatusCode)
	}
	var returned struct {
		State      string `json:"state"`
		LeaveTotal string `json:"leave_total"`
	}
	json.NewDecoder(resp.Body).Decode(&returned)
	resp.Body.Close()
	if returned.State != "checked_in" {
		t.Fatalf("state after return = %s", returned.State)
	}

	// check out: a seconds-long stay bills zero units and scores as an
	// early departure
	resp = do(http.MethodPost, "/v1/reservations/"+resID+"/checkout", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("checkout: status %d", resp.StatusCode)
	}
	var checkout struct {
		Fee         float64 `json:"fee"`
		CreditDelta int     `json:"credit_delta"`
		Session     struct {
			State string `json:"state"`
		} `json:"session"`
	}
	json.NewDecoder(resp.Body).Decode(&checkout)
	resp.Body.Close()
	if checkout.Session.State != "checked_out" {
		t.Fatalf("session state = %s, want checked_out", checkout.Session.State)
	}
	if checkout.Fee != 0 {
		t.Fatalf("fee = %v, want 0 for a sub-unit stay", checkout.Fee)
	}
	if checkout.CreditDelta != -1 {
		t.Fatalf("credit_delta = %d, want -1", checkout.CreditDelta)
	}

	// the adjustment reached the broker for the downstream credit consumer
	select {
	case msg := <-creditEvents:
		var evt struct {
			Delta  int    `json:"delta"`
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			t.Fatalf("decode credit event: %v", err)
		}
		if evt.Delta != -1 || evt.Reason != "early_departure" {
			t.Fatalf("credit event = %+v", evt)
		}
		msg.Ack(false)
	case <-time.After(10 * time.Second):
		t.Fatal("no credit.adjusted event delivered")
	}

	// reservation is completed and the seat free again
	resp = do(http.MethodGet, "/v1/reservations/"+resID, nil)
	var final struct {
		Status string `json:"status"`
	}
	json.NewDecoder(resp.Body).Decode(&final)
	resp.Body.Close()
	if final.Status != "completed" {
		t.Fatalf("final status = %s, want completed", final.Status)
	}

	resp = do(http.MethodGet, "/v1/availability?room_id="+roomID.String()+
		"&seat_id="+seatID.String()+
		"&start="+start.Format(time.RFC3339)+
		"&end="+end.Format(time.RFC3339), nil)
	json.NewDecoder(resp.Body).Decode(&avail)
	resp.Body.Close()
	if !avail.Available {
		t.Fatal("slot should be free after checkout")
	}
}
