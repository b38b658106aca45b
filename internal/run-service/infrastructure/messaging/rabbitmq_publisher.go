package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"run-route/internal/run-service/domain"
	"run-route/pkg/logger"
	"run-route/pkg/rabbitmq"
)

// Publisher is satisfied by *rabbitmq.Connection.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// RabbitMQEventPublisher implements domain.EventPublisher
type RabbitMQEventPublisher struct {
	rabbit Publisher
	logger logger.Logger
}

func NewRabbitMQEventPublisher(rabbit Publisher, logger logger.Logger) *RabbitMQEventPublisher {
	return &RabbitMQEventPublisher{
		rabbit: rabbit,
		logger: logger,
	}
}

// Publish sends event to the run exchange under its event type.
func (p *RabbitMQEventPublisher) Publish(ctx context.Context, event domain.DomainEvent) error {
	message := eventToMessage(event)
	if message == nil {
		return fmt.Errorf("unsupported event type: %s", event.EventType())
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.rabbit.Publish(ctx, rabbitmq.RunExchange, event.EventType(), body); err != nil {
		return fmt.Errorf("publish to rabbitmq: %w", err)
	}

	p.logger.WithFields(logger.LogFields{
		"event_type": event.EventType(),
	}).Debug("event_published", "Domain event published to RabbitMQ")

	return nil
}

func eventToMessage(event domain.DomainEvent) map[string]interface{} {
	switch e := event.(type) {
	case domain.RouteSelectedEvent:
		return map[string]interface{}{
			"runner_id":   e.RunnerID,
			"option_id":   e.OptionID,
			"strategy":    e.Strategy,
			"distance_m":  e.DistanceM,
			"selected_at": e.SelectedAt,
		}

	case domain.NavigationStartedEvent:
		return map[string]interface{}{
			"runner_id":      e.RunnerID,
			"waypoint_count": e.WaypointCount,
			"target_pace":    e.TargetPace,
			"started_at":     e.StartedAt,
		}

	case domain.NavigationArrivedEvent:
		return map[string]interface{}{
			"runner_id":  e.RunnerID,
			"distance_m": e.DistanceM,
			"arrived_at": e.ArrivedAt,
		}

	case domain.RunCompletedEvent:
		return map[string]interface{}{
			"run_id":       e.RunID,
			"runner_id":    e.RunnerID,
			"distance_m":   e.DistanceM,
			"duration_s":   e.Duration.Seconds(),
			"average_pace": e.AveragePace,
			"completed_at": e.CompletedAt,
		}

	default:
		return nil
	}
}
