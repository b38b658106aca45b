package companion

import (
	"context"
	"encoding/json"
	"fmt"

	"run-route/pkg/logger"
	"run-route/pkg/rabbitmq"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is satisfied by *rabbitmq.Connection.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// Consumer is satisfied by *rabbitmq.Connection.
type Consumer interface {
	Consume(queueName string, handler func(amqp.Delivery))
}

type hapticMessage struct {
	RunnerID string `json:"runner_id"`
	Haptic   Haptic `json:"haptic"`
}

// AMQPChannel publishes watch updates on the run exchange under
// companion.<runner_id> and consumes watch commands from the actions queue.
type AMQPChannel struct {
	lifecycle
	pub      Publisher
	consumer Consumer
	onAction ActionHandler
	log      logger.Logger
	ctx      context.Context
}

// NewAMQPChannel wires a channel. consumer and onAction may be nil when
// watch commands are not needed.
func NewAMQPChannel(pub Publisher, consumer Consumer, onAction ActionHandler, log logger.Logger) *AMQPChannel {
	return &AMQPChannel{pub: pub, consumer: consumer, onAction: onAction, log: log}
}

// Open starts consuming watch commands. ctx bounds command handling.
func (c *AMQPChannel) Open(ctx context.Context) error {
	if err := c.markOpen(); err != nil {
		return err
	}
	c.ctx = ctx
	if c.consumer != nil && c.onAction != nil {
		c.consumer.Consume(rabbitmq.CompanionActionsQueue, c.handleDelivery)
	}
	c.log.Info("companion_open", "Companion channel opened")
	return nil
}

func (c *AMQPChannel) SendRunState(ctx context.Context, state RunState) error {
	return c.publish(ctx, state.RunnerID, state)
}

func (c *AMQPChannel) SendHaptic(ctx context.Context, runnerID string, kind Haptic) error {
	return c.publish(ctx, runnerID, hapticMessage{RunnerID: runnerID, Haptic: kind})
}

func (c *AMQPChannel) publish(ctx context.Context, runnerID string, v interface{}) error {
	if !c.isOpen() {
		return ErrChannelClosed
	}
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal companion message: %w", err)
	}
	if err := c.pub.Publish(ctx, rabbitmq.RunExchange, "companion."+runnerID, body); err != nil {
		return fmt.Errorf("failed to publish companion message: %w", err)
	}
	return nil
}

func (c *AMQPChannel) handleDelivery(d amqp.Delivery) {
	if !c.isOpen() {
		d.Nack(false, true)
		return
	}

	var action Action
	if err := json.Unmarshal(d.Body, &action); err != nil {
		c.log.Error("companion_action_decode", err)
		d.Nack(false, false)
		return
	}
	if err := action.Validate(); err != nil {
		c.log.WithFields(logger.LogFields{"action": string(action.Action)}).Error("companion_action_invalid", err)
		d.Nack(false, false)
		return
	}

	log := c.log.WithFields(logger.LogFields{"runner_id": action.RunnerID, "action": string(action.Action)})
	if err := c.onAction(c.ctx, action); err != nil {
		log.Error("companion_action_failed", err)
		d.Nack(false, false)
		return
	}
	log.Info("companion_action", "Handled watch command")
	d.Ack(false)
}

func (c *AMQPChannel) Close() error {
	c.markClosed()
	c.log.Info("companion_close", "Companion channel closed")
	return nil
}
