package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mkravets/studyroom-reservations/internal/domain"
	"github.com/mkravets/studyroom-reservations/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// AuditLogger records lifecycle side effects for the admin console.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	UserID    uuid.UUID `bson:"user_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error {
	entry := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		UserID:    userID,
		Timestamp: time.Now(),
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, entry)
	if err != nil {
		a.logger.WithError(err).Error("failed to insert audit log")
		return err
	}
	return nil
}

func (a *AuditLogger) LogCreditAdjustment(ctx context.Context, adj domain.CreditAdjustment) error {
	data := map[string]interface{}{
		"reservation_id": adj.ReservationID,
		"delta":          adj.Delta,
		"reason":         adj.Reason,
		"at":             adj.At.Format(time.RFC3339),
	}
	return a.LogEvent(ctx, "credit.adjusted", adj.UserID, data)
}

func (a *AuditLogger) LogReservation(ctx context.Context, res domain.Reservation, action string) error {
	data := map[string]interface{}{
		"reservation_id": res.ID,
		"room_id":        res.RoomID,
		"seat_id":        res.SeatID,
		"start":          res.Interval.Start.Format(time.RFC3339),
		"end":            res.Interval.End.Format(time.RFC3339),
		"status":         string(res.Status),
	}
	return a.LogEvent(ctx, action, res.UserID, data)
}
