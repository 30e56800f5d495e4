package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/mkravets/studyroom-reservations/internal/domain"
	"github.com/mkravets/studyroom-reservations/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// CatalogRepository reads the room/seat catalog the facility service owns.
// The engine only resolves seat identity and flips seat status; all other
// catalog writes belong to that service.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("rooms"),
		logger: logger,
	}
}

type RoomDoc struct {
	ID        uuid.UUID `bson:"_id"`
	Name      string    `bson:"name"`
	Building  string    `bson:"building"`
	Floor     int       `bson:"floor"`
	OpenFrom  string    `bson:"open_from"`
	OpenTo    string    `bson:"open_to"`
	Seats     []SeatDoc `bson:"seats"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type SeatDoc struct {
	ID     uuid.UUID `bson:"id"`
	Number string    `bson:"number"`
	Type   string    `bson:"type"`
	Status string    `bson:"status"`
}

func (c *CatalogRepository) GetRoom(ctx context.Context, id uuid.UUID) (*RoomDoc, error) {
	var room RoomDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&room)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(domain.ErrNotFound, "room %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// GetSeat satisfies engine.Catalog.
func (c *CatalogRepository) GetSeat(ctx context.Context, roomID, seatID uuid.UUID) (domain.SeatInfo, error) {
	room, err := c.GetRoom(ctx, roomID)
	if err != nil {
		return domain.SeatInfo{}, err
	}
	for _, seat := range room.Seats {
		if seat.ID == seatID {
			return domain.SeatInfo{
				ID:     seat.ID,
				RoomID: room.ID,
				Number: seat.Number,
				Status: domain.SeatStatus(seat.Status),
			}, nil
		}
	}
	return domain.SeatInfo{}, errors.Wrapf(domain.ErrNotFound, "seat %s in room %s", seatID, roomID)
}

// SetSeatStatus flips a seat between available and occupied as a session side
// effect.
func (c *CatalogRepository) SetSeatStatus(ctx context.Context, seatID uuid.UUID, status domain.SeatStatus) error {
	result, err := c.coll.UpdateOne(
		ctx,
		bson.M{"seats.id": seatID},
		bson.M{"$set": bson.M{"seats.$.status": string(status), "updated_at": time.Now()}},
	)
	if err != nil {
		c.logger.WithError(err).Error("failed to update seat status")
		return err
	}
	if result.MatchedCount == 0 {
		return errors.Wrapf(domain.ErrNotFound, "seat %s", seatID)
	}
	return nil
}

// CreateRoom exists for test seeding; production catalog writes go through
// the facility service.
func (c *CatalogRepository) CreateRoom(ctx context.Context, room RoomDoc) error {
	room.CreatedAt = time.Now()
	room.UpdatedAt = time.Now()
	_, err := c.coll.InsertOne(ctx, room)
	if err != nil {
		c.logger.WithError(err).Error("failed to create room")
		return err
	}
	return nil
}
