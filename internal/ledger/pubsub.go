package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/constants"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Publisher fans finished executions out over Redis pub/sub.
type Publisher struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewPublisher(client *redis.Client, logger *logrus.Logger) *Publisher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Publisher{client: client, logger: logger}
}

// PublishExecution sends the execution to the live channel and each leg to its
// status channel (executions:leg:succeeded, executions:leg:failed, ...).
func (p *Publisher) PublishExecution(ctx context.Context, e *Execution) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, constants.PubSubChannelExecutions, data)
	for _, l := range e.Legs {
		legData, err := json.Marshal(struct {
			ExecutionID string `json:"execution_id"`
			Leg
		}{e.ID, l})
		if err != nil {
			return err
		}
		pipe.Publish(ctx, constants.PubSubChannelLegPrefix+l.Status, legData)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish execution %s: %w", e.ID, err)
	}
	return nil
}

// Subscribe delivers executions from the live channel until ctx is done.
func (p *Publisher) Subscribe(ctx context.Context, handler func(*Execution)) error {
	pubsub := p.client.Subscribe(ctx, constants.PubSubChannelExecutions)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before reading.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	p.logger.WithField("channel", constants.PubSubChannelExecutions).Info("subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e Execution
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				p.logger.WithError(err).Warn("skipping malformed execution message")
				continue
			}
			handler(&e)
		}
	}
}
