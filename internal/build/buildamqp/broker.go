package buildamqp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"

	"github.com/k11v/buildbox/internal/amqputil"
	"github.com/k11v/buildbox/internal/build"
)

// QueueEvents is the queue build lifecycle events are published to.
const QueueEvents = "buildbox.events"

var _ build.Broker = (*Broker)(nil)

type Broker struct {
	client *amqputil.Client // required
}

func NewBroker(connectionString string) *Broker {
	return &Broker{
		client: amqputil.NewClient(connectionString, &amqputil.QueueDeclareParams{
			Name:    QueueEvents,
			Durable: true,
		}),
	}
}

// Publish implements build.Broker.
func (b *Broker) Publish(ctx context.Context, event *build.Event) error {
	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(event); err != nil {
		return fmt.Errorf("buildamqp.Broker: %w", err)
	}

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Type:         string(event.Type),
		Timestamp:    event.Time,
		Body:         body.Bytes(),
	}
	if err := b.client.Publish(ctx, msg); err != nil {
		return fmt.Errorf("buildamqp.Broker: %w", err)
	}

	return nil
}
