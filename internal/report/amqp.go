// SPDX-License-Identifier: MPL-2.0

package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/streadway/amqp"
)

// ErrNoQueue is returned when an AMQP publisher has no queue name.
var ErrNoQueue = errors.New("amqp queue name is required")

type (
	// Publisher ships an encoded report somewhere.
	Publisher interface {
		Publish(ctx context.Context, r Report) error
	}

	// AMQPPublisher publishes JSON reports to a durable AMQP queue.
	AMQPPublisher struct {
		URL   string
		Queue string
	}
)

// NewAMQPPublisher creates an AMQPPublisher.
func NewAMQPPublisher(url, queue string) (*AMQPPublisher, error) {
	if queue == "" {
		return nil, ErrNoQueue
	}
	if _, err := amqp.ParseURI(url); err != nil {
		return nil, fmt.Errorf("invalid amqp url: %w", err)
	}
	return &AMQPPublisher{URL: url, Queue: queue}, nil
}

// Publish sends the report as one persistent JSON message. The connection is
// opened and closed per call.
func (p *AMQPPublisher) Publish(ctx context.Context, r Report) (err error) {
	if err = ctx.Err(); err != nil {
		return err
	}

	body, err := r.Encode(FormatJSON)
	if err != nil {
		return err
	}

	var conn *amqp.Connection
	var ch *amqp.Channel
	var q amqp.Queue

	if conn, err = amqp.Dial(p.URL); err != nil {
		return fmt.Errorf("failed to connect to amqp broker: %w", err)
	}
	defer conn.Close()

	if ch, err = conn.Channel(); err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	defer ch.Close()

	if q, err = ch.QueueDeclare(p.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare a queue: %w", err)
	}

	err = ch.Publish("", q.Name, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Type:         "nodefleet.deployment",
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish a message: %w", err)
	}
	return nil
}
