package queue

import (
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
)

// AMQPPublisher publishes dispatch jobs to a durable queue. Consumption
// lives in the worker binary.
type AMQPPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewAMQPPublisher(url string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return &AMQPPublisher{conn: conn, channel: ch}, nil
}

func (p *AMQPPublisher) Publish(topic string, job DispatchJob) error {
	q, err := p.channel.QueueDeclare(
		topic,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return p.channel.Publish(
		"",
		q.Name,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

func (p *AMQPPublisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

var _ Publisher = (*AMQPPublisher)(nil)
