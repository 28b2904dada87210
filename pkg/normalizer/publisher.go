package normalizer

import (
	"context"

	"github.com/epiwatch-io/platform/pkg/common/kafka"
	"github.com/epiwatch-io/platform/pkg/common/logger"
	"github.com/epiwatch-io/platform/pkg/common/models"
)

const publisherSource = "normalizer-service"

// Publisher pushes batch outcomes onto the event bus: normalized rows for
// downstream consumers and an unresolved summary for the review tooling. A
// failed publish lands on the dead letter topic instead of being dropped.
type Publisher struct {
	normalized *kafka.Producer
	unresolved *kafka.Producer
	deadLetter *kafka.Producer
}

func NewPublisher(normalized, unresolved, deadLetter *kafka.Producer) *Publisher {
	return &Publisher{
		normalized: normalized,
		unresolved: unresolved,
		deadLetter: deadLetter,
	}
}

func (p *Publisher) Publish(ctx context.Context, result *models.BatchResult) {
	p.publish(ctx, p.normalized, "normalize", map[string]interface{}{
		"batch_id":       result.BatchID,
		"country_code":   result.CountryCode,
		"rows":           result.Rows,
		"distinct_names": result.DistinctNames,
		"resolved_names": result.ResolvedNames,
		"errored":        result.Errored,
		"started_at":     result.StartedAt,
		"completed_at":   result.CompletedAt,
	})

	if len(result.Unresolved) == 0 {
		return
	}
	p.publish(ctx, p.unresolved, "unresolved", map[string]interface{}{
		"batch_id":     result.BatchID,
		"country_code": result.CountryCode,
		"names":        result.Unresolved,
	})
}

func (p *Publisher) publish(ctx context.Context, producer *kafka.Producer, eventType string, data map[string]interface{}) {
	if producer == nil {
		return
	}
	err := producer.PublishEvent(ctx, eventType, publisherSource, data)
	if err == nil {
		return
	}
	logger.Log.WithError(err).WithField("event_type", eventType).
		Error("publish failed, routing to dead letter topic")
	if p.deadLetter == nil {
		return
	}
	if dlqErr := p.deadLetter.PublishEvent(ctx, eventType, publisherSource, data); dlqErr != nil {
		logger.Log.WithError(dlqErr).WithField("event_type", eventType).
			Error("dead letter publish failed, event lost")
	}
}

func (p *Publisher) Close() {
	for _, producer := range []*kafka.Producer{p.normalized, p.unresolved, p.deadLetter} {
		if producer != nil {
			producer.Close()
		}
	}
}
