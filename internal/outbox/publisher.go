package outbox

import (
	"context"
	"time"

	"github.com/mkravets/studyroom-reservations/internal/adapters/postgres"
	"github.com/mkravets/studyroom-reservations/internal/adapters/rabbit"
	"github.com/mkravets/studyroom-reservations/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher drains the transactional outbox: events written alongside
// terminal transitions reach the broker at least once, deduped downstream by
// MessageId.
type Publisher struct {
	repo      *postgres.Repository
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
}

func NewPublisher(repo *postgres.Repository, rabbitPub *rabbit.Publisher, logger observability.Logger) *Publisher {
	return &Publisher{repo: repo, rabbitPub: rabbitPub, logger: logger}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration, batch int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx, batch)
		}
	}
}

func (p *Publisher) drain(ctx context.Context, batch int) {
	records, err := p.repo.GetUnpublishedOutbox(ctx, batch)
	if err != nil {
		p.logger.WithError(err).Error("outbox fetch failed")
		return
	}
	for _, rec := range records {
		msg := amqp.Publishing{
			MessageId:   rec.DedupeKey,
			ContentType: "application/json",
			Body:        rec.Payload,
		}
		if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
			p.logger.WithError(err).WithField("event", rec.EventType).Error("outbox publish failed")
			continue
		}
		if err := p.repo.MarkPublished(ctx, rec.ID, time.Now()); err != nil {
			p.logger.WithError(err).Error("outbox mark failed")
		}
	}
}
