package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/pedeee/ticketwatch/internal/pipeline"
	"github.com/pedeee/ticketwatch/internal/status"
)

// PubSubPublisher emits run outcomes to a Google Cloud Pub/Sub topic
// for downstream consumers.
type PubSubPublisher struct {
	topic *pubsub.Topic
	log   *zap.Logger
}

// NewPubSubPublisher builds a publisher for the named topic.
func NewPubSubPublisher(client *pubsub.Client, topicName string, log *zap.Logger) (*PubSubPublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if topicName == "" {
		return nil, fmt.Errorf("topic name is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PubSubPublisher{topic: client.Topic(topicName), log: log}, nil
}

// Publish marshals the run outcome to JSON and publishes it.
func (p *PubSubPublisher) Publish(ctx context.Context, sum pipeline.RunSummary, changes []status.Change, failedURLs []string) error {
	if p.topic == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(NewOutcome(sum, changes, failedURLs))
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"run_id": sum.RunID.String()},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish outcome: %w", err)
	}
	p.log.Debug("run outcome published", zap.String("message_id", id))
	return nil
}

// Stop flushes pending publishes.
func (p *PubSubPublisher) Stop() {
	if p.topic != nil {
		p.topic.Stop()
	}
}
