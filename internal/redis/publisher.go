package redis

import (
	"context"
	"time"

	"live-timing/internal/common/logging"
	"live-timing/internal/models"
)

const publishTimeout = 2 * time.Second

// Publisher forwards canonical updates to Redis from its own goroutine so a
// slow Redis never holds up an engine. Failures are logged and dropped.
type Publisher struct {
	client  *Client
	channel string
	ttl     time.Duration
	logger  logging.Logger
	queue   chan models.CanonicalUpdate
}

// NewPublisher creates a publisher for channel. The latest update is also
// stored under "<channel>:latest" for ttl.
func NewPublisher(client *Client, channel string, ttl time.Duration, logger logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Publisher{
		client:  client,
		channel: channel,
		ttl:     ttl,
		logger: logger.WithFields(
			logging.String("component", "redis_publisher"),
			logging.String("channel", channel),
		),
		queue: make(chan models.CanonicalUpdate, 32),
	}
}

// LatestKey is where the most recent update is stored
func (p *Publisher) LatestKey() string {
	return p.channel + ":latest"
}

// Enqueue hands update to the publishing goroutine. When the queue is full
// the update is dropped; the next one supersedes it anyway.
func (p *Publisher) Enqueue(update models.CanonicalUpdate) {
	select {
	case p.queue <- update:
	default:
		p.logger.Warn("Publish queue full, dropping update",
			logging.String("session_id", update.SessionID),
		)
	}
}

// Run publishes queued updates until ctx is done
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("Redis publisher started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Redis publisher stopped")
			return nil
		case update := <-p.queue:
			p.publish(ctx, update)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, update models.CanonicalUpdate) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.channel, update); err != nil {
		p.logger.Error("Failed to publish update", err, logging.String("session_id", update.SessionID))
		return
	}
	if err := p.client.Set(ctx, p.LatestKey(), update, p.ttl); err != nil {
		p.logger.Error("Failed to store latest update", err, logging.String("session_id", update.SessionID))
	}
}

// Latest reads back the stored latest update
func (p *Publisher) Latest(ctx context.Context) (models.CanonicalUpdate, error) {
	var update models.CanonicalUpdate
	err := p.client.GetJSON(ctx, p.LatestKey(), &update)
	return update, err
}
