package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/trainflow-renewal/internal/models"
)

const defaultEventChannel = "trainflow:renewal-events"

// EventStreamRepository publishes renewal events on per-tenant Redis channels
// for downstream subscribers such as the notification scheduler.
type EventStreamRepository struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewEventStreamRepository constructs the repository. A nil client turns Publish into a no-op.
func NewEventStreamRepository(client *redis.Client, channel string, logger *zap.Logger) *EventStreamRepository {
	if channel == "" {
		channel = defaultEventChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventStreamRepository{client: client, channel: channel, logger: logger}
}

// Channel returns the channel carrying events of a tenant.
func (r *EventStreamRepository) Channel(tenantID string) string {
	return r.channel + ":" + tenantID
}

// Publish marshals the event and publishes it on the tenant channel.
func (r *EventStreamRepository) Publish(ctx context.Context, event models.RenewalEvent) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal renewal event %s: %w", event.ID, err)
	}

	channel := r.Channel(event.TenantID)
	receivers, err := r.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	r.logger.Debug("renewal event published",
		zap.String("channel", channel),
		zap.String("kind", string(event.Kind)),
		zap.Int64("receivers", receivers),
	)
	return nil
}

// Close releases the underlying Redis connection if present.
func (r *EventStreamRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
